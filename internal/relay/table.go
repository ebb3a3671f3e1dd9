package relay

import "time"

// Slots is the fixed capacity of the connection table: one session, two peers.
const Slots = 2

// Slot is one peer-connection record.
type Slot struct {
	Peer     Peer
	LastSeen time.Time
	Active   bool
}

// Table is the relay's fixed set of slots. Slots are matched by Peer.Key.
type Table struct {
	slots [Slots]Slot
}

// NewTable returns a table with every slot free.
func NewTable() *Table {
	return &Table{}
}

// Lookup returns the index of the active slot whose peer has key, or -1.
func (t *Table) Lookup(key string) int {
	for i := range t.slots {
		if t.slots[i].Active && t.slots[i].Peer.Key() == key {
			return i
		}
	}
	return -1
}

// Free returns the index of an inactive slot, or -1 when the table is full.
func (t *Table) Free() int {
	for i := range t.slots {
		if !t.slots[i].Active {
			return i
		}
	}
	return -1
}

// Other returns the index of an active slot other than i, or -1.
func (t *Table) Other(i int) int {
	for j := range t.slots {
		if j != i && t.slots[j].Active {
			return j
		}
	}
	return -1
}

// Activate claims slot i for peer.
func (t *Table) Activate(i int, peer Peer, now time.Time) {
	t.slots[i] = Slot{Peer: peer, LastSeen: now, Active: true}
}

// Touch refreshes the last-message time of slot i. The stored peer is kept,
// so when keys ignore the port a client that comes back on a new port keeps
// the slot alive while forwards still go to its old port.
func (t *Table) Touch(i int, now time.Time) {
	t.slots[i].LastSeen = now
}

// Expire deactivates every active slot idle for longer than timeout and
// returns the evicted peers.
func (t *Table) Expire(now time.Time, timeout time.Duration) []Peer {
	var evicted []Peer
	for i := range t.slots {
		s := &t.slots[i]
		if s.Active && now.Sub(s.LastSeen) > timeout {
			evicted = append(evicted, s.Peer)
			*s = Slot{}
		}
	}
	return evicted
}

// Slot returns a copy of slot i.
func (t *Table) Slot(i int) Slot {
	return t.slots[i]
}

// ActiveCount returns the number of occupied slots.
func (t *Table) ActiveCount() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].Active {
			n++
		}
	}
	return n
}
