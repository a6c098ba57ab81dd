// Package candidates holds remote ICE candidates that arrive before the
// remote description they belong to.
package candidates

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// DefaultRetain is the number of applied candidates kept after a flush.
const DefaultRetain = 64

// Buffer is an ordered, append-only candidate queue. Entries are compared by
// identity and never deduplicated; re-applying one must be a no-op for the
// consumer.
//
// Flushed entries are not discarded at once. They stay in a bounded history
// that Replay re-applies when the answer is delivered again, and the oldest
// applied entries are evicted beyond the retain limit.
//
// Buffer is not safe for concurrent use; its owner serializes access.
type Buffer struct {
	items   []*webrtc.ICECandidateInit
	applied int // items[:applied] have been applied
	retain  int
}

// New creates a buffer keeping at most retain applied candidates. A
// non-positive value selects DefaultRetain.
func New(retain int) *Buffer {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Buffer{retain: retain}
}

// Add appends a candidate that has not been applied yet.
func (b *Buffer) Add(c *webrtc.ICECandidateInit) {
	b.items = append(b.items, c)
}

// Retain records a candidate that was already applied directly. It joins
// the history without being replayed by the next Flush, unless unapplied
// entries precede it, in which case it is replayed with them to keep order.
func (b *Buffer) Retain(c *webrtc.ICECandidateInit) {
	b.items = append(b.items, c)
	if b.applied == len(b.items)-1 {
		b.applied++
	}
	b.evict()
}

// Flush applies every pending candidate in arrival order. Failures do not
// stop the flush; they are joined into the returned error.
func (b *Buffer) Flush(apply func(*webrtc.ICECandidateInit) error) error {
	var errs []error
	for _, c := range b.items[b.applied:] {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	b.applied = len(b.items)
	b.evict()
	return errors.Join(errs...)
}

// Replay applies every buffered candidate, applied or not, in arrival order.
// Afterwards all of them count as applied.
func (b *Buffer) Replay(apply func(*webrtc.ICECandidateInit) error) error {
	b.applied = 0
	return b.Flush(apply)
}

// Pending returns the candidates that the next Flush would apply.
func (b *Buffer) Pending() []*webrtc.ICECandidateInit {
	return append([]*webrtc.ICECandidateInit(nil), b.items[b.applied:]...)
}

// Len returns the number of buffered candidates, applied or not.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Reset discards everything.
func (b *Buffer) Reset() {
	clear(b.items)
	b.items = b.items[:0]
	b.applied = 0
}

// evict drops the oldest applied entries beyond the retain limit.
func (b *Buffer) evict() {
	n := b.applied - b.retain
	if n <= 0 {
		return
	}
	clear(b.items[:n])
	b.items = b.items[n:]
	b.applied -= n
}
