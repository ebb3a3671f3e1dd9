package framing

import "sync/atomic"

// FrameIDGen hands out frame identifiers, one per sent frame.
// It is safe for concurrent use; the counter wraps at 2^32.
type FrameIDGen struct {
	val atomic.Uint32
}

// NewFrameIDGen creates a generator whose first Next() returns 0.
func NewFrameIDGen() *FrameIDGen {
	return &FrameIDGen{}
}

// Next returns the next frame id.
func (g *FrameIDGen) Next() uint32 {
	return g.val.Add(1) - 1
}

// newer reports whether frame id a was assigned after b, using serial number
// arithmetic so ordering survives the 2^32 wrap.
func newer(a, b uint32) bool {
	return int32(a-b) > 0
}
