package transport

import "fmt"

// Status summarizes what one Poll observed.
type Status int

const (
	// StatusNone means frame data arrived and the peer session is live.
	StatusNone Status = iota
	// StatusError means only errors were observed; see LastError.
	StatusError
	// StatusBlock means nothing was available right now. It is not an error.
	StatusBlock
	// StatusPending means the relay holds this client but has no peer for it yet.
	StatusPending
	// StatusRefused means the relay has no free slot for this client.
	StatusRefused
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusError:
		return "error"
	case StatusBlock:
		return "block"
	case StatusPending:
		return "pending"
	case StatusRefused:
		return "refused"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// meaningful reports whether s counts as a signal from the relay or peer.
func (s Status) meaningful() bool {
	return s == StatusNone || s == StatusPending || s == StatusRefused
}
