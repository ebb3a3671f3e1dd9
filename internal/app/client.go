// Package app wires the relay client and server into runnable processes.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/camlink/internal/config"
	"github.com/1ureka/camlink/internal/media"
	"github.com/1ureka/camlink/internal/transport"
	"github.com/1ureka/camlink/internal/util"
)

// ErrRefused means the relay already hosts a session.
var ErrRefused = errors.New("session in progress - no slots available")

// Link is the client side of a relay connection, as provided by
// transport.Transport.
type Link interface {
	Send(payload []byte) error
	Poll() ([]byte, transport.Status)
	LastError() error
	ElapsedSinceActivity() time.Duration
}

// RunClient exchanges frames with the remote peer at cfg.FPS until ctx is
// cancelled or the relay refuses the session.
//
// Each tick it drains the link, shows what arrived (or a placeholder), sends
// one local frame, and sleeps for what is left of the frame budget. An
// overrun tick is followed by a minimal pause, never a double tick.
func RunClient(ctx context.Context, link Link, src media.Source, sink media.Sink, cfg config.Client) error {
	budget := cfg.FrameBudget()
	show(sink, media.PlaceholderNoConnection)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		start := time.Now()

		frame, status := link.Poll()
		switch {
		case frame != nil:
			if err := sink.Show(frame); err != nil {
				util.LogWarning("unable to show remote frame: %v", err)
			}
		case status == transport.StatusError:
			util.LogWarning("%v", link.LastError())
			show(sink, media.PlaceholderNoConnection)
		case status == transport.StatusPending:
			show(sink, media.PlaceholderWaiting)
		case status == transport.StatusRefused:
			util.LogError("%v", ErrRefused)
			return ErrRefused
		case link.ElapsedSinceActivity() > cfg.NoConnectionAfter:
			show(sink, media.PlaceholderNoConnection)
		}

		local, err := src.Next()
		switch {
		case err != nil:
			util.LogWarning("unable to capture local frame: %v", err)
		case local != nil:
			if err := link.Send(local); err != nil {
				util.LogWarning("%v", err)
			}
		}

		delay := budget - time.Since(start)
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		timer.Reset(delay)
	}
}

func show(sink media.Sink, p media.Placeholder) {
	if err := sink.Placeholder(p); err != nil {
		util.LogWarning("unable to show %s placeholder: %v", p, err)
	}
}
