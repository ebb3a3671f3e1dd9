package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/camlink/internal/protocol"
	"github.com/1ureka/camlink/internal/util"
)

// maxWSMessage bounds what a WebSocket peer may send before the connection is
// dropped. Messages between this and MaxDatagramSize are discarded.
const maxWSMessage = 64 << 10

const closeGrace = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPeer is a client connected over the WebSocket fallback. Each binary
// message is one datagram.
type wsPeer struct {
	conn *websocket.Conn
	key  string

	mu sync.Mutex // serializes writes
}

func (p *wsPeer) Key() string    { return p.key }
func (p *wsPeer) String() string { return p.key }

func (p *wsPeer) Send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

// close may run concurrently with Send and with itself.
func (p *wsPeer) close() {
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(closeGrace))
	p.conn.Close()
}

// handleWS upgrades the request and feeds the connection's messages into the
// relay loop until either side goes away. The slot it occupies is released by
// the idle sweep like any UDP peer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxWSMessage)

	// Every WebSocket connection is its own endpoint, so the port is always
	// part of the key.
	peer := &wsPeer{conn: conn, key: "ws:" + r.RemoteAddr}
	defer peer.close()
	if !s.trackWS(peer) {
		return
	}
	defer s.untrackWS(peer)

	util.LogDebug("[%08x] websocket peer %s attached", util.PeerTag(peer.key), peer.key)

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			util.LogDebug("[%08x] websocket peer %s detached: %v", util.PeerTag(peer.key), peer.key, err)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) > protocol.MaxDatagramSize {
			s.stats.Dropped.Add(1)
			continue
		}
		s.stats.AddIn(len(msg))

		if !s.enqueue(r.Context(), Datagram{Data: msg, From: peer}) {
			return
		}
	}
}

// enqueue hands d to the relay loop. It returns false once the server or
// the request is shutting down.
func (s *Server) enqueue(ctx context.Context, d Datagram) bool {
	select {
	case s.inbox <- d:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// trackWS registers a live WebSocket peer so Close can shut it down. It
// returns false once the server is closed.
func (s *Server) trackWS(p *wsPeer) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsPeers == nil {
		return false
	}
	s.wsPeers[p] = struct{}{}
	return true
}

func (s *Server) untrackWS(p *wsPeer) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	delete(s.wsPeers, p)
}

// closeWS closes every live WebSocket peer and refuses new ones.
func (s *Server) closeWS() {
	s.wsMu.Lock()
	peers := s.wsPeers
	s.wsPeers = nil
	s.wsMu.Unlock()

	for p := range peers {
		p.close()
	}
}
