// Package media is the boundary between the relay client and whatever
// captures, encodes, decodes and shows frames. Frames crossing it are opaque
// encoded images.
package media

import "fmt"

// Source produces encoded local frames.
type Source interface {
	// Next returns the latest local frame, or nil when none is ready.
	Next() ([]byte, error)
}

// Placeholder selects a stand-in image for the remote view.
type Placeholder int

const (
	PlaceholderWaiting      Placeholder = iota // paired with the relay, no peer yet
	PlaceholderNoConnection                    // nothing heard for too long
)

func (p Placeholder) String() string {
	switch p {
	case PlaceholderWaiting:
		return "waiting"
	case PlaceholderNoConnection:
		return "noconnection"
	default:
		return fmt.Sprintf("placeholder(%d)", int(p))
	}
}

// Sink shows remote frames.
type Sink interface {
	Show(frame []byte) error
	Placeholder(p Placeholder) error
}
