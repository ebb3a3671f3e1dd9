// Package relay pairs two camlink clients and forwards datagrams between them
// without looking inside.
package relay

import (
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/camlink/internal/protocol"
	"github.com/1ureka/camlink/internal/util"
)

// Peer is where a datagram came from and where replies for it go.
type Peer interface {
	// Key identifies the peer for slot matching.
	Key() string
	String() string
	Send(b []byte) error
}

// Datagram is one inbound message and its sender.
type Datagram struct {
	Data []byte
	From Peer
}

// Relay is the slot state machine. It is driven by one goroutine (Server.Serve
// or a test) and needs no locking.
type Relay struct {
	table       *Table
	idleTimeout time.Duration
	stats       *util.Stats
}

// New creates a relay with an empty table. stats may be nil.
func New(idleTimeout time.Duration, stats *util.Stats) *Relay {
	if stats == nil {
		stats = util.NewStats()
	}
	return &Relay{
		table:       NewTable(),
		idleTimeout: idleTimeout,
		stats:       stats,
	}
}

// Table exposes the slot table for inspection.
func (r *Relay) Table() *Table {
	return r.table
}

// HandleDatagram admits the sender to a slot if needed, then forwards d.Data
// verbatim to the other active peer. A sender with no peer gets a Waiting
// signal; a sender that finds the table full gets a Refused signal and the
// table is left untouched.
//
// The returned error is a failed reply or forward; the table has already been
// updated and the caller should carry on.
func (r *Relay) HandleDatagram(d Datagram, now time.Time) error {
	i := r.table.Lookup(d.From.Key())
	if i < 0 {
		if i = r.table.Free(); i < 0 {
			util.LogInfo("%s: connection refused", d.From)
			r.stats.Refusals.Add(1)
			return r.send(d.From, protocol.Signal(protocol.TypeRefused))
		}

		r.table.Activate(i, d.From, now)
		r.stats.Connects.Add(1)
		util.LogInfo("%s: connected", d.From)
		if r.table.Free() < 0 {
			util.LogInfo("session started")
		}
	}
	r.table.Touch(i, now)

	j := r.table.Other(i)
	if j < 0 {
		r.stats.WaitReplies.Add(1)
		return r.send(d.From, protocol.Signal(protocol.TypeWaiting))
	}

	to := r.table.Slot(j).Peer
	if err := r.send(to, d.Data); err != nil {
		return err
	}
	r.stats.Forwarded.Add(1)
	util.LogDebug("[%08x] -> [%08x] %d bytes", util.PeerTag(d.From.Key()), util.PeerTag(to.Key()), len(d.Data))
	return nil
}

// SweepTimeouts evicts peers idle for longer than the idle timeout and
// returns them.
func (r *Relay) SweepTimeouts(now time.Time) []Peer {
	evicted := r.table.Expire(now, r.idleTimeout)
	for _, p := range evicted {
		util.LogInfo("%s: timed out", p)
		r.stats.Timeouts.Add(1)
	}
	return evicted
}

func (r *Relay) send(p Peer, b []byte) error {
	if err := p.Send(b); err != nil {
		return errors.Wrapf(err, "send to %s", p)
	}
	r.stats.AddOut(len(b))
	return nil
}
