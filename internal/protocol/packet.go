// Package protocol defines the datagram format exchanged between camlink peers
// and the relay.
package protocol

import "fmt"

// Type tags the first byte of every datagram.
type Type uint8

const (
	TypeFrame   Type = 0 // Fragment of a video frame
	TypeRefused Type = 1 // Relay has no free slot for the sender
	TypeWaiting Type = 2 // Relay holds the sender but no peer is paired yet
)

func (t Type) String() string {
	switch t {
	case TypeFrame:
		return "frame"
	case TypeRefused:
		return "refused"
	case TypeWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known type tags.
func (t Type) Valid() bool {
	return t <= TypeWaiting
}

const (
	// HeaderSize is the fixed frame header: Type(1) + FrameID(4) + SeqNum(4).
	HeaderSize = 9

	// MaxDatagramSize keeps every datagram below the minimum IPv4 reassembly
	// buffer (576) minus IP and UDP headers.
	MaxDatagramSize = 508

	// MaxPayloadSize is the largest fragment payload. A fragment shorter than
	// this terminates its frame.
	MaxPayloadSize = MaxDatagramSize - HeaderSize
)

// Packet is one decoded datagram. FrameID, SeqNum and Payload are only
// meaningful for TypeFrame.
type Packet struct {
	Type    Type
	FrameID uint32 // Sender-assigned, one per frame, wraps at 2^32
	SeqNum  uint32 // Fragment index within the frame, starting at 0
	Payload []byte
}
