package relay

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/camlink/internal/config"
	"github.com/1ureka/camlink/internal/protocol"
	"github.com/1ureka/camlink/internal/transport"
)

const relayIP = "10.0.0.1"

// testNet is a virtual LAN with the relay on relayIP and one host per
// client address.
type testNet struct {
	router *vnet.Router
	relay  *vnet.Net
	hosts  map[string]*vnet.Net
}

func newTestNet(t *testing.T, clientIPs ...string) *testNet {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	tn := &testNet{router: router, hosts: make(map[string]*vnet.Net)}
	tn.relay = tn.addNet(t, relayIP)
	for _, ip := range clientIPs {
		tn.hosts[ip] = tn.addNet(t, ip)
	}

	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })
	return tn
}

func (tn *testNet) addNet(t *testing.T, ip string) *vnet.Net {
	t.Helper()
	nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
	require.NoError(t, err)
	require.NoError(t, tn.router.AddNet(nw))
	return nw
}

func testServerConfig() config.Server {
	cfg := config.Default().Server
	cfg.IdleTimeout = 400 * time.Millisecond
	cfg.Wait = 50 * time.Millisecond
	cfg.StatsInterval = 0
	return cfg
}

// startServer runs a relay on the test network until the test ends.
func startServer(t *testing.T, nw *vnet.Net, cfg config.Server) *Server {
	t.Helper()
	srv, err := Listen(nw, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		_ = srv.Close()
	})
	return srv
}

// newClient dials the relay from nw.
func newClient(t *testing.T, nw *vnet.Net, port int) *transport.Transport {
	t.Helper()
	conn, err := transport.DialUDP(nw, relayIP, port)
	require.NoError(t, err)
	tr := transport.New(conn)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// exchange sends a frame from each client every few milliseconds until each
// has received the other's frame.
func exchange(t *testing.T, a, b *transport.Transport, fromA, fromB []byte) {
	t.Helper()
	var gotA, gotB []byte
	require.Eventually(t, func() bool {
		_ = a.Send(fromA)
		_ = b.Send(fromB)
		if f, _ := a.Poll(); f != nil {
			gotA = f
		}
		if f, _ := b.Poll(); f != nil {
			gotB = f
		}
		return gotA != nil && gotB != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, fromB, gotA)
	assert.Equal(t, fromA, gotB)
}

func waitStatus(t *testing.T, tr *transport.Transport, want transport.Status, send []byte) {
	t.Helper()
	require.Eventually(t, func() bool {
		if send != nil {
			_ = tr.Send(send)
		}
		_, status := tr.Poll()
		return status == want
	}, 3*time.Second, 10*time.Millisecond)
}

func frameOf(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestServerPairsAndRelays(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2", "10.0.0.3")
	aNet := tn.hosts["10.0.0.2"]
	bNet := tn.hosts["10.0.0.3"]
	cfg := testServerConfig()
	srv := startServer(t, tn.relay, cfg)

	a := newClient(t, aNet, cfg.Port)
	waitStatus(t, a, transport.StatusPending, []byte("hello"))

	b := newClient(t, bNet, cfg.Port)
	exchange(t, a, b, frameOf(0xAA, 3000), frameOf(0xBB, 1200))

	assert.Equal(t, int64(2), srv.Stats().Connects.Load())
	assert.Positive(t, srv.Stats().Forwarded.Load())
}

func TestServerRefusesThirdPeer(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2", "10.0.0.3", "10.0.0.4")
	aNet := tn.hosts["10.0.0.2"]
	bNet := tn.hosts["10.0.0.3"]
	cNet := tn.hosts["10.0.0.4"]
	cfg := testServerConfig()
	cfg.IdleTimeout = 5 * time.Second
	srv := startServer(t, tn.relay, cfg)

	a := newClient(t, aNet, cfg.Port)
	b := newClient(t, bNet, cfg.Port)
	exchange(t, a, b, []byte("a"), []byte("b"))

	c := newClient(t, cNet, cfg.Port)
	waitStatus(t, c, transport.StatusRefused, []byte("c"))
	assert.Positive(t, srv.Stats().Refusals.Load())
	assert.Equal(t, int64(2), srv.Stats().Connects.Load())
}

func TestServerEvictsIdlePeer(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2", "10.0.0.3", "10.0.0.4")
	aNet := tn.hosts["10.0.0.2"]
	bNet := tn.hosts["10.0.0.3"]
	cNet := tn.hosts["10.0.0.4"]
	cfg := testServerConfig()
	srv := startServer(t, tn.relay, cfg)

	a := newClient(t, aNet, cfg.Port)
	b := newClient(t, bNet, cfg.Port)
	exchange(t, a, b, []byte("a"), []byte("b"))

	// A goes quiet; B keeps talking until A's slot is swept.
	require.Eventually(t, func() bool {
		_ = b.Send([]byte("b"))
		b.Poll()
		return srv.Stats().Timeouts.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	// B must see Waiting on its own before C shows up. Otherwise B keeps A's
	// last chain and drops C's frames as stale until C's ids catch up.
	waitStatus(t, b, transport.StatusPending, []byte("b"))

	c := newClient(t, cNet, cfg.Port)
	exchange(t, b, c, []byte("b2"), []byte("c"))
	assert.Equal(t, int64(3), srv.Stats().Connects.Load())
}

func TestServerSurvivesLoss(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2", "10.0.0.3")
	aNet := tn.hosts["10.0.0.2"]
	bNet := tn.hosts["10.0.0.3"]

	// Lose fragment 1 of every even frame on its way out of A.
	tn.router.AddChunkFilter(func(c vnet.Chunk) bool {
		src, ok := c.SourceAddr().(*net.UDPAddr)
		if !ok || !src.IP.Equal(net.ParseIP("10.0.0.2")) {
			return true
		}
		d := c.UserData()
		if len(d) < protocol.HeaderSize || d[0] != byte(protocol.TypeFrame) {
			return true
		}
		frameID := binary.LittleEndian.Uint32(d[1:5])
		seq := binary.LittleEndian.Uint32(d[5:9])
		return !(frameID%2 == 0 && seq == 1)
	})

	cfg := testServerConfig()
	startServer(t, tn.relay, cfg)

	a := newClient(t, aNet, cfg.Port)
	b := newClient(t, bNet, cfg.Port)
	payload := frameOf(0x42, 2000)
	exchange(t, a, b, payload, []byte("ack"))
}

func TestServerDropsOversizedDatagram(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2")
	aNet := tn.hosts["10.0.0.2"]
	cfg := testServerConfig()
	srv := startServer(t, tn.relay, cfg)

	conn, err := aNet.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP(relayIP), Port: cfg.Port})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(make([]byte, protocol.MaxDatagramSize+50))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.Stats().Dropped.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), srv.Stats().Connects.Load())
}

func TestServerWebSocketPeer(t *testing.T) {
	tn := newTestNet(t, "10.0.0.3")
	bNet := tn.hosts["10.0.0.3"]
	cfg := testServerConfig()
	srv := startServer(t, tn.relay, cfg)

	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	wsConn, err := transport.DialWebSocket(t.Context(), "ws"+strings.TrimPrefix(hs.URL, "http")+"/relay")
	require.NoError(t, err)
	a := transport.New(wsConn)
	defer a.Close()

	waitStatus(t, a, transport.StatusPending, []byte("hi"))

	b := newClient(t, bNet, cfg.Port)
	exchange(t, a, b, frameOf(0x01, 1500), frameOf(0x02, 700))
}

func (s *Server) liveWS() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsPeers)
}

func TestServerCloseDropsWebSocketPeers(t *testing.T) {
	tn := newTestNet(t)
	srv, err := Listen(tn.relay, testServerConfig())
	require.NoError(t, err)
	defer srv.Close()

	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/relay", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return srv.liveWS() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Close())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, srv.liveWS())

	// Connections arriving after Close are turned away.
	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/relay", nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}

func TestServerMetrics(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2")
	aNet := tn.hosts["10.0.0.2"]
	cfg := testServerConfig()
	srv := startServer(t, tn.relay, cfg)

	a := newClient(t, aNet, cfg.Port)
	waitStatus(t, a, transport.StatusPending, []byte("x"))

	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "camlink_relay_connects_total 1\n")
}

func TestListenRejectsInvalidConfig(t *testing.T) {
	tn := newTestNet(t)
	cfg := testServerConfig()
	cfg.Port = 0
	_, err := Listen(tn.relay, cfg)
	assert.Error(t, err)
}

func TestListenPortInUse(t *testing.T) {
	tn := newTestNet(t)
	cfg := testServerConfig()
	srv, err := Listen(tn.relay, cfg)
	require.NoError(t, err)
	defer srv.Close()

	_, err = Listen(tn.relay, cfg)
	assert.Error(t, err)
}

func TestDialUnresolvable(t *testing.T) {
	tn := newTestNet(t, "10.0.0.2")
	aNet := tn.hosts["10.0.0.2"]
	_, err := transport.DialUDP(aNet, "no-such-relay.invalid", 1234)
	assert.ErrorIs(t, err, transport.ErrResolve)
}
