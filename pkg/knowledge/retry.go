package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Retry buffer defaults.
const (
	DefaultRetryCapacity = 100
	DefaultMaxAttempts   = 3
)

// OpKind names the operation a slot replays.
type OpKind string

const (
	// OpStore replays a Client.Store write
	OpStore OpKind = "store"
)

// Slot is one buffered failed operation.
//
// State machine:
//
//	pending -> replay -> succeeded (evicted)
//	                  -> pending (Attempts+1)
//	                  -> discarded (Attempts == max)
type Slot struct {
	ID         string    `json:"id"`
	Op         OpKind    `json:"op"`
	Entry      Entry     `json:"entry"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"` // failed replays so far
}

// RetryReport summarises one RetryAll sweep.
type RetryReport struct {
	Succeeded  int `json:"succeeded"`
	Duplicates int `json:"duplicates"` // subset of Succeeded
	Requeued   int `json:"requeued"`
	Discarded  int `json:"discarded"`
	Remaining  int `json:"remaining"`
}

// RetryBuffer is a bounded, mutex-guarded queue of failed writes.
// When full, new operations are dropped; existing slots are never evicted
// to make room.
type RetryBuffer struct {
	sweepMu sync.Mutex // one sweep at a time; held without mu during replays

	mu          sync.Mutex
	slots       []Slot
	dropped     int
	capacity    int
	maxAttempts int
}

// NewRetryBuffer creates a buffer. Non-positive arguments fall back to the
// defaults.
func NewRetryBuffer(capacity, maxAttempts int) *RetryBuffer {
	if capacity <= 0 {
		capacity = DefaultRetryCapacity
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryBuffer{capacity: capacity, maxAttempts: maxAttempts}
}

// Enqueue adds a failed operation. Returns false if the buffer is full and
// the operation was dropped.
func (b *RetryBuffer) Enqueue(op OpKind, e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.slots) >= b.capacity {
		b.dropped++
		return false
	}
	b.slots = append(b.slots, Slot{
		ID:         uuid.New().String(),
		Op:         op,
		Entry:      e,
		EnqueuedAt: time.Now().UTC(),
	})
	return true
}

// Len returns the number of pending slots.
func (b *RetryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Dropped returns how many operations Enqueue has refused since creation.
func (b *RetryBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Capacity returns the configured bound.
func (b *RetryBuffer) Capacity() int {
	return b.capacity
}

// MaxAttempts returns the replay ceiling.
func (b *RetryBuffer) MaxAttempts() int {
	return b.maxAttempts
}

// Slots returns a copy of the pending slots, oldest first.
func (b *RetryBuffer) Slots() []Slot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Slot, len(b.slots))
	copy(out, b.slots)
	return out
}

// replayFunc performs one replay. It returns the put result or an error.
type replayFunc func(ctx context.Context, s Slot) (Result, error)

// sweep replays a snapshot of the slots without holding the lock, then
// reconciles: succeeded slots are evicted, failed ones gain an attempt and are
// discarded at the ceiling. Slots enqueued during the sweep are untouched.
// If ctx ends mid-sweep the unattempted slots stay as they were. Concurrent
// sweeps run one after another, so each failure costs a slot one attempt.
func (b *RetryBuffer) sweep(ctx context.Context, replay replayFunc, onDiscard func(Slot, error)) RetryReport {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()

	snapshot := b.Slots()

	type outcome struct {
		ok  bool
		err error
	}
	outcomes := make(map[string]outcome, len(snapshot))
	var report RetryReport

	for _, s := range snapshot {
		if ctx.Err() != nil {
			break
		}
		res, err := replay(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				// Abandoned mid-flight; leave the slot as it was.
				break
			}
			outcomes[s.ID] = outcome{err: err}
			continue
		}
		outcomes[s.ID] = outcome{ok: true}
		report.Succeeded++
		if res.IsDuplicate() {
			report.Duplicates++
		}
	}

	b.mu.Lock()
	kept := b.slots[:0]
	var discarded []discardedSlot
	for _, s := range b.slots {
		o, attempted := outcomes[s.ID]
		switch {
		case !attempted:
			kept = append(kept, s)
		case o.ok:
			// evicted
		default:
			s.Attempts++
			if s.Attempts >= b.maxAttempts {
				report.Discarded++
				discarded = append(discarded, discardedSlot{s, o.err})
				continue
			}
			report.Requeued++
			kept = append(kept, s)
		}
	}
	b.slots = kept
	report.Remaining = len(b.slots)
	b.mu.Unlock()

	if onDiscard != nil {
		for _, d := range discarded {
			onDiscard(d.slot, d.err)
		}
	}
	return report
}

type discardedSlot struct {
	slot Slot
	err  error
}

// RetryAll replays every buffered write through the gateway. It is the only
// way buffered writes are retried unless RunRetryLoop is running.
func (c *Client) RetryAll(ctx context.Context) RetryReport {
	report := c.retry.sweep(ctx, func(ctx context.Context, s Slot) (Result, error) {
		return c.gateway.Put(ctx, s.Entry)
	}, func(s Slot, err error) {
		c.logger.Warn("discarding buffered write after max attempts",
			"slot", s.ID, "topic", s.Entry.Topic, "attempts", s.Attempts, "error", err)
	})

	if report.Succeeded+report.Requeued+report.Discarded > 0 {
		c.logger.Info("retry sweep complete",
			"succeeded", report.Succeeded,
			"duplicates", report.Duplicates,
			"requeued", report.Requeued,
			"discarded", report.Discarded,
			"remaining", report.Remaining)
	}
	return report
}

// RunRetryLoop runs RetryAll until ctx is cancelled. After a sweep that left
// failed slots behind the wait grows exponentially up to ten times interval;
// a clean sweep resets it.
func (c *Client) RunRetryLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 10 * interval
	bo.MaxElapsedTime = 0
	bo.Reset()

	wait := interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		report := c.RetryAll(ctx)
		if report.Requeued > 0 {
			wait = bo.NextBackOff()
		} else {
			bo.Reset()
			wait = interval
		}
		c.logger.Debug("next retry sweep scheduled", "in", wait, "pending", report.Remaining)
		timer.Reset(wait)
	}
}
