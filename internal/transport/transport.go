// Package transport is the client endpoint of a camlink session: it sends
// frames as fragments and polls the relay for fragments, signals and errors.
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/camlink/internal/framing"
	"github.com/1ureka/camlink/internal/protocol"
	"github.com/1ureka/camlink/internal/util"
)

const defaultInbox = 256

// errBadPacket marks decode failures in LastError.
var errBadPacket = errors.New("erroneous packet data received")

// decodeError is a decode failure. It matches both errBadPacket and the
// protocol error that caused it.
type decodeError struct {
	cause error
}

func (e *decodeError) Error() string        { return errBadPacket.Error() + ": " + e.cause.Error() }
func (e *decodeError) Unwrap() error        { return e.cause }
func (e *decodeError) Is(target error) bool { return target == errBadPacket }

// Option configures a Transport.
type Option func(*Transport)

// WithStats records traffic into s instead of a private counter set.
func WithStats(s *util.Stats) Option {
	return func(t *Transport) { t.stats = s }
}

// WithMaxFrameBytes bounds the size of a frame being reassembled.
func WithMaxFrameBytes(n int) Option {
	return func(t *Transport) { t.maxFragments = framing.MaxFragmentsFor(n) }
}

// WithInbox sets how many received datagrams may wait between polls.
// Datagrams arriving while the inbox is full are dropped.
func WithInbox(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.inboxSize = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// datagram is one read result handed from the reader goroutine to Poll.
type datagram struct {
	data []byte
	err  error
}

// Transport owns one connection to the relay.
//
// Send, Poll, LastError and ElapsedSinceActivity are meant to be called from a
// single loop and are not safe for concurrent use. A background goroutine
// reads the socket into a bounded inbox so Poll never blocks.
type Transport struct {
	conn  Conn
	ids   *framing.FrameIDGen
	reasm *framing.Reassembler
	stats *util.Stats
	now   func() time.Time

	maxFragments int
	inboxSize    int

	inbox   chan datagram
	readErr error // set by readLoop before it closes inbox

	lastErr      error
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New starts a Transport over conn. The activity clock starts now.
func New(conn Conn, opts ...Option) *Transport {
	t := &Transport{
		conn:      conn,
		ids:       framing.NewFrameIDGen(),
		stats:     util.NewStats(),
		now:       time.Now,
		inboxSize: defaultInbox,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.reasm = framing.NewReassembler(t.maxFragments)
	t.inbox = make(chan datagram, t.inboxSize)
	t.lastActivity = t.now()

	go t.readLoop()
	return t
}

// Stats returns the counters this Transport records into.
func (t *Transport) Stats() *util.Stats {
	return t.stats
}

// Send assigns the next frame id to payload and writes its fragments in
// order. The first failed or short write aborts the rest of the frame.
func (t *Transport) Send(payload []byte) error {
	id := t.ids.Next()

	for _, pkt := range framing.Split(id, payload) {
		data, err := protocol.Encode(pkt)
		if err != nil {
			return t.fail(err)
		}

		n, err := t.conn.Write(data)
		if err != nil {
			return t.fail(errors.Wrapf(err, "send frame %d fragment %d", id, pkt.SeqNum))
		}
		if n < len(data) {
			return t.fail(errors.Wrapf(ErrShortWrite, "frame %d fragment %d: wrote %d of %d bytes",
				id, pkt.SeqNum, n, len(data)))
		}
		t.stats.AddOut(n)
	}

	t.stats.FramesSent.Add(1)
	return nil
}

// Poll drains every datagram received since the last call.
//
// It returns the most recent frame completed during the drain (nil when none)
// and the most recent of StatusNone, StatusPending and StatusRefused observed.
// When none of those was observed it returns StatusError if any error
// occurred, otherwise StatusBlock. A Waiting signal discards the chain being
// reassembled.
func (t *Transport) Poll() ([]byte, Status) {
	var (
		frame  []byte
		status = StatusBlock
		failed bool
	)

	// Bounded so a flood cannot hold the caller's loop.
	budget := cap(t.inbox) + 1

drain:
	for range budget {
		select {
		case d, open := <-t.inbox:
			if !open {
				t.fail(t.readErr)
				failed = true
				break drain
			}

			s, f, err := t.handle(d)
			if err != nil {
				t.fail(err)
				failed = true
				continue
			}
			if f != nil {
				frame = f
			}
			status = s

		default:
			break drain
		}
	}

	if status == StatusPending {
		t.reasm.Reset()
	}
	if status.meaningful() {
		t.lastActivity = t.now()
	} else if failed {
		status = StatusError
	}
	return frame, status
}

// handle processes one datagram and returns the status it signals.
func (t *Transport) handle(d datagram) (Status, []byte, error) {
	if d.err != nil {
		return StatusError, nil, d.err
	}

	pkt, err := protocol.Decode(d.data)
	if err != nil {
		t.stats.DecodeErrors.Add(1)
		return StatusError, nil, &decodeError{cause: err}
	}

	switch pkt.Type {
	case protocol.TypeRefused:
		return StatusRefused, nil, nil
	case protocol.TypeWaiting:
		return StatusPending, nil, nil
	}

	frame, ok, err := t.reasm.Feed(pkt)
	if err != nil {
		return StatusError, nil, err
	}
	if !ok {
		return StatusNone, nil, nil
	}
	t.stats.FramesRecv.Add(1)
	return StatusNone, frame, nil
}

// LastError returns the most recent error recorded by Send or Poll and
// clears it. It returns nil when nothing failed since the previous call.
func (t *Transport) LastError() error {
	err := t.lastErr
	t.lastErr = nil
	return err
}

// ElapsedSinceActivity is the time since Poll last observed frame data or a
// relay signal, or since New if it never has.
func (t *Transport) ElapsedSinceActivity() time.Duration {
	return t.now().Sub(t.lastActivity)
}

// Close stops the reader and closes the connection. Safe to call multiple times.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) fail(err error) error {
	t.lastErr = err
	util.LogDebug("transport: %v", err)
	return err
}

// readLoop is the single reader goroutine. It exits, closing the inbox, when
// the connection is closed.
func (t *Transport) readLoop() {
	defer close(t.inbox)

	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, err := t.conn.Read(buf)

		select {
		case <-t.done:
			t.readErr = ErrClosed
			return
		default:
		}

		var d datagram
		switch {
		case err != nil && isClosed(err):
			t.readErr = errors.Wrap(ErrClosed, err.Error())
			return
		case n > protocol.MaxDatagramSize || errors.Is(err, io.ErrShortBuffer):
			t.stats.Dropped.Add(1)
			d.err = errors.Wrapf(protocol.ErrTooLarge, "received datagram over %d bytes", protocol.MaxDatagramSize)
		case err != nil:
			d.err = errors.Wrap(err, "receive")
		default:
			t.stats.AddIn(n)
			d.data = make([]byte, n)
			copy(d.data, buf[:n])
		}

		select {
		case t.inbox <- d:
		case <-t.done:
			t.readErr = ErrClosed
			return
		default:
			t.stats.Dropped.Add(1)
		}
	}
}
