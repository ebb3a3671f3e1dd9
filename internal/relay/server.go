package relay

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	ptransport "github.com/pion/transport/v4"
	"github.com/pkg/errors"

	"github.com/1ureka/camlink/internal/config"
	"github.com/1ureka/camlink/internal/protocol"
	"github.com/1ureka/camlink/internal/util"
)

const inboxSize = 64

// Server runs a Relay over a UDP socket and, optionally, an HTTP listener
// serving the WebSocket fallback and metrics.
type Server struct {
	cfg   config.Server
	nw    ptransport.Net
	conn  ptransport.UDPConn
	relay *Relay
	stats *util.Stats
	now   func() time.Time

	inbox chan Datagram
	errCh chan error

	httpLn net.Listener
	mux    *http.ServeMux

	wsMu    sync.Mutex
	wsPeers map[*wsPeer]struct{} // nil once closed

	done      chan struct{}
	closeOnce sync.Once
}

// Listen binds the relay's UDP socket on every address of nw at cfg.Port.
func Listen(nw ptransport.Net, cfg config.Server) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := nw.ListenUDP("udp", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, errors.Wrapf(err, "bind udp port %d", cfg.Port)
	}

	stats := util.NewStats()
	s := &Server{
		cfg:   cfg,
		nw:    nw,
		conn:  conn,
		relay: New(cfg.IdleTimeout, stats),
		stats: stats,
		now:   time.Now,
		inbox: make(chan Datagram, inboxSize),
		errCh: make(chan error, 1),
		mux:   http.NewServeMux(),
		done:  make(chan struct{}),

		wsPeers: make(map[*wsPeer]struct{}),
	}
	s.mux.HandleFunc("/relay", s.handleWS)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	return s, nil
}

// Addr is the bound UDP address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Handler serves /relay (WebSocket fallback) and /metrics.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Stats returns the server's traffic counters.
func (s *Server) Stats() *util.Stats {
	return s.stats
}

// Relay returns the underlying state machine.
func (s *Server) Relay() *Relay {
	return s.relay
}

// Serve runs the relay loop until ctx is cancelled or the socket fails.
// Each cycle waits at most cfg.Wait for one datagram, handles it, and then
// evicts idle peers.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.WSListen != "" {
		if err := s.startHTTP(); err != nil {
			return err
		}
	}

	go s.readLoop()
	s.stats.StartReporter(ctx, s.cfg.StatsInterval)

	util.LogInfo("server started; waiting for connections ... (udp %s)", s.Addr())

	timer := time.NewTimer(s.cfg.Wait)
	defer timer.Stop()

	for {
		select {
		case d := <-s.inbox:
			if err := s.relay.HandleDatagram(d, s.now()); err != nil {
				util.LogWarning("%v", err)
			}
		case <-timer.C:
		case err := <-s.errCh:
			return err
		case <-ctx.Done():
			return nil
		}

		s.relay.SweepTimeouts(s.now())
		timer.Reset(s.cfg.Wait)
	}
}

// Close releases the socket, the HTTP listener and every WebSocket peer.
// Safe to call multiple times.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.httpLn != nil {
			s.httpLn.Close()
		}
		s.closeWS()
		err = s.conn.Close()
	})
	return err
}

// startHTTP listens on cfg.WSListen through the same network stack as the
// UDP socket.
func (s *Server) startHTTP() error {
	addr, err := s.nw.ResolveTCPAddr("tcp", s.cfg.WSListen)
	if err != nil {
		return errors.Wrapf(err, "resolve ws listen address %s", s.cfg.WSListen)
	}

	ln, err := s.nw.ListenTCP("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.WSListen)
	}
	s.httpLn = ln

	go func() {
		_ = http.Serve(ln, s.mux)
	}()

	util.LogInfo("websocket fallback on ws://%s/relay", ln.Addr())
	return nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = s.stats.WriteMetrics(w)
}

// readLoop is the single reader of the UDP socket. Oversized datagrams are
// dropped; a single bad read is logged and skipped.
func (s *Server) readLoop() {
	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, from, err := s.conn.ReadFrom(buf)

		select {
		case <-s.done:
			return
		default:
		}

		if err != nil && !errors.Is(err, io.ErrShortBuffer) {
			if isClosed(err) {
				s.errCh <- errors.Wrap(err, "udp socket closed")
				return
			}
			util.LogWarning("recvfrom: %v", err)
			continue
		}

		addr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		if n > protocol.MaxDatagramSize || err != nil {
			s.stats.Dropped.Add(1)
			util.LogDebug("dropping oversized datagram from %s", addr)
			continue
		}
		s.stats.AddIn(n)

		data := make([]byte, n)
		copy(data, buf[:n])
		peer := newUDPPeer(s.conn, addr, s.cfg.MatchPort)

		select {
		case s.inbox <- Datagram{Data: data, From: peer}:
		case <-s.done:
			return
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
