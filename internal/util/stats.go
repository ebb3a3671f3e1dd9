package util

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats holds traffic counters for one client or relay instance.
type Stats struct {
	DatagramsIn  atomic.Int64 // datagrams read from the socket
	DatagramsOut atomic.Int64 // datagrams written to the socket
	BytesIn      atomic.Int64
	BytesOut     atomic.Int64
	Dropped      atomic.Int64 // datagrams discarded (oversize, inbox full, loss simulation)
	DecodeErrors atomic.Int64 // datagrams that failed to decode
	FramesSent   atomic.Int64
	FramesRecv   atomic.Int64 // frames handed back after reassembly
	Forwarded    atomic.Int64 // relay: datagrams passed to the paired peer
	Connects     atomic.Int64 // relay: slots activated
	Refusals     atomic.Int64 // relay: Refused replies
	WaitReplies  atomic.Int64 // relay: Waiting replies
	Timeouts     atomic.Int64 // relay: slots evicted for idleness
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) AddIn(n int) {
	s.DatagramsIn.Add(1)
	s.BytesIn.Add(int64(n))
}

func (s *Stats) AddOut(n int) {
	s.DatagramsOut.Add(1)
	s.BytesOut.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartReporter launches a goroutine that logs throughput every interval
// while there is traffic. It stops when ctx is cancelled.
func (s *Stats) StartReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevIn, prevOut, prevDrop int64
		for {
			select {
			case <-ticker.C:
				in := s.BytesIn.Load()
				out := s.BytesOut.Load()
				drop := s.Dropped.Load()

				inS := float64(in-prevIn) / secs
				outS := float64(out-prevOut) / secs
				dropC := drop - prevDrop

				if dropC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, dropC))
				}

				prevIn = in
				prevOut = out
				prevDrop = drop

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		dropped,
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Exposition
// ──────────────────────────────────────────────────────────────────────────────

// WriteMetrics writes all counters in the Prometheus text format.
func (s *Stats) WriteMetrics(w io.Writer) error {
	metrics := []struct {
		name string
		help string
		val  int64
	}{
		{"camlink_datagrams_in_total", "Datagrams read from the socket.", s.DatagramsIn.Load()},
		{"camlink_datagrams_out_total", "Datagrams written to the socket.", s.DatagramsOut.Load()},
		{"camlink_bytes_in_total", "Bytes read from the socket.", s.BytesIn.Load()},
		{"camlink_bytes_out_total", "Bytes written to the socket.", s.BytesOut.Load()},
		{"camlink_dropped_total", "Datagrams discarded before processing.", s.Dropped.Load()},
		{"camlink_decode_errors_total", "Datagrams that failed to decode.", s.DecodeErrors.Load()},
		{"camlink_frames_sent_total", "Frames sent.", s.FramesSent.Load()},
		{"camlink_frames_received_total", "Frames reassembled.", s.FramesRecv.Load()},
		{"camlink_relay_forwarded_total", "Datagrams forwarded to the paired peer.", s.Forwarded.Load()},
		{"camlink_relay_connects_total", "Peer slots activated.", s.Connects.Load()},
		{"camlink_relay_refusals_total", "Refused replies sent.", s.Refusals.Load()},
		{"camlink_relay_waiting_total", "Waiting replies sent.", s.WaitReplies.Load()},
		{"camlink_relay_timeouts_total", "Peer slots evicted for idleness.", s.Timeouts.Load()},
	}
	for _, m := range metrics {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", m.name, m.help, m.name, m.name, m.val); err != nil {
			return err
		}
	}
	return nil
}
