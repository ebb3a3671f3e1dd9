// Package framing splits opaque frames into sequenced fragments and
// reassembles them on the receiving side.
package framing

import "github.com/1ureka/camlink/internal/protocol"

// Split cuts payload into Frame packets of at most protocol.MaxPayloadSize
// bytes, numbered from 0 and sharing frameID.
//
// An empty payload still produces one empty fragment so the receiver sees the
// frame. A payload that is an exact multiple of MaxPayloadSize gets no extra
// terminator; its last fragment is full-sized and the receiver will not judge
// it complete.
func Split(frameID uint32, payload []byte) []*protocol.Packet {
	n := (len(payload) + protocol.MaxPayloadSize - 1) / protocol.MaxPayloadSize
	if n == 0 {
		n = 1
	}

	pkts := make([]*protocol.Packet, 0, n)
	for seq := uint32(0); len(pkts) < n; seq++ {
		k := min(len(payload), protocol.MaxPayloadSize)
		pkts = append(pkts, &protocol.Packet{
			Type:    protocol.TypeFrame,
			FrameID: frameID,
			SeqNum:  seq,
			Payload: payload[:k:k],
		})
		payload = payload[k:]
	}
	return pkts
}
