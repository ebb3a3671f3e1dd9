package transport

import (
	"io"
	"net"
	"strconv"
	"strings"

	ptransport "github.com/pion/transport/v4"
	"github.com/pkg/errors"
)

var (
	ErrResolve    = errors.New("cannot resolve relay address")
	ErrDial       = errors.New("cannot connect to relay")
	ErrClosed     = errors.New("connection closed")
	ErrShortWrite = errors.New("short write")
)

// Conn is a connected datagram socket: every Write is one datagram to the
// relay and every Read returns one datagram from it.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// DialUDP resolves host and connects a UDP socket to it through nw.
// Production code passes stdnet.NewNet(); tests pass a vnet.Net.
func DialUDP(nw ptransport.Net, host string, port int) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	raddr, err := nw.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrResolve, "%s: %v", addr, err)
	}

	conn, err := nw.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(ErrDial, "%s: %v", raddr, err)
	}
	return conn, nil
}

// isClosed reports whether err means the socket will never deliver again.
func isClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
		return true
	}
	// Not every transport.Net implementation wraps net.ErrClosed.
	return strings.Contains(err.Error(), "use of closed network connection")
}
