package transport

import (
	"math/rand/v2"

	"github.com/1ureka/camlink/internal/util"
)

// LossyConn drops outgoing datagrams following a two-state Markov chain
// (Gilbert-Elliott model): after a delivered datagram the next one is lost
// with probability P, after a lost one the next is lost with probability Q.
// Dropped writes report success, as the network would.
type LossyConn struct {
	Conn
	P float64
	Q float64

	rnd         *rand.Rand
	stats       *util.Stats
	lastDropped bool
}

// NewLossyConn wraps conn. rnd may be nil to use a randomly seeded source;
// stats may be nil.
func NewLossyConn(conn Conn, p, q float64, rnd *rand.Rand, stats *util.Stats) *LossyConn {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &LossyConn{Conn: conn, P: p, Q: q, rnd: rnd, stats: stats}
}

func (lc *LossyConn) Write(p []byte) (int, error) {
	threshold := lc.P
	if lc.lastDropped {
		threshold = lc.Q
	}

	if lc.rnd.Float64() < threshold {
		lc.lastDropped = true
		if lc.stats != nil {
			lc.stats.Dropped.Add(1)
		}
		return len(p), nil
	}

	lc.lastDropped = false
	return lc.Conn.Write(p)
}
