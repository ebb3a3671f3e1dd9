package framing

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/1ureka/camlink/internal/protocol"
	"github.com/1ureka/camlink/internal/util"
)

// ErrFrameTooLarge is returned when a chain grows past the configured
// fragment limit. The chain is abandoned.
var ErrFrameTooLarge = errors.New("frame exceeds reassembly limit")

// Reassembler holds the fragment chain of the most recent frame id seen on one
// connection. A chain is only judged when a newer frame id supersedes it, so a
// completed frame is handed back on arrival of the next frame's first fragment.
//
// It is owned by a single goroutine and needs no locking.
type Reassembler struct {
	maxFragments int

	active  bool
	frameID uint32
	chain   []*protocol.Packet // sorted by SeqNum, no duplicates
}

// NewReassembler creates a reassembler that abandons any chain holding more
// than maxFragments fragments. maxFragments <= 0 disables the limit.
func NewReassembler(maxFragments int) *Reassembler {
	return &Reassembler{maxFragments: maxFragments}
}

// MaxFragmentsFor returns the fragment limit matching a frame size cap in bytes.
func MaxFragmentsFor(maxFrameBytes int) int {
	if maxFrameBytes <= 0 {
		return 0
	}
	return maxFrameBytes/protocol.MaxPayloadSize + 1
}

// Feed processes one Frame packet.
//
// ok is true when pkt superseded a complete chain; frame then holds that
// chain's payloads concatenated in sequence order. Stale and duplicate
// fragments are dropped without error.
func (r *Reassembler) Feed(pkt *protocol.Packet) (frame []byte, ok bool, err error) {
	if !r.active || pkt.FrameID == r.frameID {
		if err := r.insert(pkt); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if !newer(pkt.FrameID, r.frameID) {
		util.LogDebug("dropping stale fragment (frame=%d seq=%d, current frame=%d)",
			pkt.FrameID, pkt.SeqNum, r.frameID)
		return nil, false, nil
	}

	if r.complete() {
		frame, ok = r.yield(), true
	} else {
		util.LogDebug("frame %d superseded by %d with %d fragment(s), discarding",
			r.frameID, pkt.FrameID, len(r.chain))
	}

	r.Reset()
	if err := r.insert(pkt); err != nil {
		return frame, ok, err
	}
	return frame, ok, nil
}

// Reset discards the current chain.
func (r *Reassembler) Reset() {
	clear(r.chain)
	r.chain = r.chain[:0]
	r.active = false
	r.frameID = 0
}

// Current reports the frame id and fragment count of the held chain.
func (r *Reassembler) Current() (frameID uint32, fragments int, ok bool) {
	return r.frameID, len(r.chain), r.active
}

func (r *Reassembler) insert(pkt *protocol.Packet) error {
	i, found := slices.BinarySearchFunc(r.chain, pkt.SeqNum, func(p *protocol.Packet, seq uint32) int {
		switch {
		case p.SeqNum < seq:
			return -1
		case p.SeqNum > seq:
			return 1
		default:
			return 0
		}
	})
	if found {
		util.LogDebug("dropping duplicate fragment (frame=%d seq=%d)", pkt.FrameID, pkt.SeqNum)
		return nil
	}

	if r.maxFragments > 0 && len(r.chain) >= r.maxFragments {
		id := pkt.FrameID
		r.Reset()
		return errors.Wrapf(ErrFrameTooLarge, "frame %d has more than %d fragments", id, r.maxFragments)
	}

	r.active = true
	r.frameID = pkt.FrameID
	r.chain = slices.Insert(r.chain, i, pkt)
	return nil
}

// complete reports whether the chain is the contiguous run 0..k and fragment k
// is shorter than a full payload.
func (r *Reassembler) complete() bool {
	if len(r.chain) == 0 {
		return false
	}
	for i, p := range r.chain {
		if p.SeqNum != uint32(i) {
			return false
		}
	}
	return len(r.chain[len(r.chain)-1].Payload) < protocol.MaxPayloadSize
}

func (r *Reassembler) yield() []byte {
	size := 0
	for _, p := range r.chain {
		size += len(p.Payload)
	}
	buf := make([]byte, 0, size)
	for _, p := range r.chain {
		buf = append(buf, p.Payload...)
	}
	return buf
}
