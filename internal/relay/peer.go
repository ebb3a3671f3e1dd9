package relay

import (
	"net"
	"net/netip"

	ptransport "github.com/pion/transport/v4"
	"github.com/pkg/errors"
)

// udpPeer is a client reached through the relay's UDP socket.
type udpPeer struct {
	conn ptransport.UDPConn
	addr *net.UDPAddr
	key  string
}

func newUDPPeer(conn ptransport.UDPConn, addr *net.UDPAddr, matchPort bool) *udpPeer {
	return &udpPeer{conn: conn, addr: addr, key: udpKey(addr, matchPort)}
}

func (p *udpPeer) Key() string    { return p.key }
func (p *udpPeer) String() string { return p.key }

func (p *udpPeer) Send(b []byte) error {
	n, err := p.conn.WriteTo(b, p.addr)
	if err != nil {
		return err
	}
	if n < len(b) {
		return errors.Errorf("short write to %s: %d of %d bytes", p.addr, n, len(b))
	}
	return nil
}

// udpKey is the textual address of a sender. IPv4-mapped IPv6 addresses are
// unmapped so a dual-stack socket reports IPv4 clients as plain IPv4. Unless
// matchPort is set, the source port is ignored, so two clients behind one NAT
// address share a key.
func udpKey(addr *net.UDPAddr, matchPort bool) string {
	ap := addr.AddrPort()
	ip := ap.Addr().Unmap()
	if matchPort {
		return netip.AddrPortFrom(ip, ap.Port()).String()
	}
	return ip.String()
}
