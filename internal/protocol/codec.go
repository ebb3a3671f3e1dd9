package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	ErrEmpty       = errors.New("empty datagram")
	ErrTooShort    = errors.New("datagram shorter than frame header")
	ErrTooLarge    = errors.New("datagram exceeds maximum size")
	ErrUnknownType = errors.New("unknown packet type")
)

// Encode serializes a frame packet. Header fields are little-endian.
// Signal packets are encoded as their single type byte (see Signal).
func Encode(pkt *Packet) ([]byte, error) {
	if !pkt.Type.Valid() {
		return nil, errors.Wrapf(ErrUnknownType, "encode %s", pkt.Type)
	}
	if pkt.Type != TypeFrame {
		return Signal(pkt.Type), nil
	}
	if len(pkt.Payload) > MaxPayloadSize {
		return nil, errors.Wrapf(ErrTooLarge, "payload is %d bytes (max %d)", len(pkt.Payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(pkt.Payload))
	buf[0] = byte(pkt.Type)
	binary.LittleEndian.PutUint32(buf[1:5], pkt.FrameID)
	binary.LittleEndian.PutUint32(buf[5:9], pkt.SeqNum)
	copy(buf[HeaderSize:], pkt.Payload)
	return buf, nil
}

// Signal returns the one-byte datagram the relay sends for Refused and Waiting.
func Signal(t Type) []byte {
	return []byte{byte(t)}
}

// Decode parses a received datagram. The returned payload is a copy, so the
// caller may reuse data.
func Decode(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxDatagramSize {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", len(data))
	}

	t := Type(data[0])
	switch t {
	case TypeRefused, TypeWaiting:
		return &Packet{Type: t}, nil
	case TypeFrame:
	default:
		return nil, errors.Wrapf(ErrUnknownType, "tag %d", data[0])
	}

	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrTooShort, "%d bytes (need at least %d)", len(data), HeaderSize)
	}

	pkt := &Packet{
		Type:    t,
		FrameID: binary.LittleEndian.Uint32(data[1:5]),
		SeqNum:  binary.LittleEndian.Uint32(data[5:9]),
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}
