package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	MessagesSent atomic.Int64 // signaling frames written
	MessagesRecv atomic.Int64 // signaling frames read (including malformed ones)
	Reconnects   atomic.Int64 // reconnect attempts scheduled by the channel
	BytesSent    atomic.Int64 // media payload bytes handed to the local track
	BytesRecv    atomic.Int64 // RTP bytes read from remote tracks
}

func (s *stats) AddSentMessage() { s.MessagesSent.Add(1) }
func (s *stats) AddRecvMessage() { s.MessagesRecv.Add(1) }
func (s *stats) AddReconnect()   { s.Reconnects.Add(1) }
func (s *stats) AddSent(n int)   { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)   { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs signaling and audio
// statistics every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.delta(prev), reportInterval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, reconnects, bytesOut, bytesIn int64
}

func takeSnapshot() snapshot {
	return snapshot{
		sent:       Stats.MessagesSent.Load(),
		recv:       Stats.MessagesRecv.Load(),
		reconnects: Stats.Reconnects.Load(),
		bytesOut:   Stats.BytesSent.Load(),
		bytesIn:    Stats.BytesRecv.Load(),
	}
}

func (s snapshot) delta(prev snapshot) snapshot {
	return snapshot{
		sent:       s.sent - prev.sent,
		recv:       s.recv - prev.recv,
		reconnects: s.reconnects - prev.reconnects,
		bytesOut:   s.bytesOut - prev.bytesOut,
		bytesIn:    s.bytesIn - prev.bytesIn,
	}
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

// formatStats renders one reporting window.
func formatStats(d snapshot, window time.Duration) string {
	secs := window.Seconds()
	return fmt.Sprintf("Audio In: %s/s | Out: %s/s | Msg: %2d↑ %2d↓ | Reconnects: %d",
		formatBytes(float64(d.bytesIn)/secs),
		formatBytes(float64(d.bytesOut)/secs),
		d.sent,
		d.recv,
		d.reconnects,
	)
}
