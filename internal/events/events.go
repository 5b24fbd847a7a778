// Package events is the Event Engine: it appends notifications to
// matching Subscriptions' bounded queues, wakes long-polling
// Get-Notifications callers via the Store's condition variable, and
// sweeps expired subscription leases. Grounded on spec.md §4.4 directly
// (none of the example repos implement IPP event subscriptions); the
// queue/condition-variable shape reuses the Store's sync.Cond from
// internal/store rather than introducing a second synchronization
// primitive.
package events

import (
	"context"
	"time"

	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

// DefaultQueueCapacity bounds a subscription's event queue; spec.md §4.4
// calls this "a fixed capacity" without pinning a number.
const DefaultQueueCapacity = 100

// NotifyWaitBound is how long Get-Notifications blocks for new events
// when notify-wait=true, per spec.md §4.4.
const NotifyWaitBound = 30 * time.Second

// NotifyGetInterval is the notify-get-interval hint returned in every
// Get-Notifications response.
const NotifyGetInterval = 30

// Engine drives event emission and delivery against a Store.
type Engine struct {
	store    *store.Store
	capacity int
}

// NewEngine creates an Engine with the default queue capacity.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s, capacity: DefaultQueueCapacity}
}

// Emit appends an event to every Subscription whose mask and scope match,
// then wakes any blocked Get-Notifications callers. The mutator calling
// this must have already released any Printer/Job/Subscription lock it
// held while deciding to emit (spec.md §4.2).
func (e *Engine) Emit(cat store.EventMask, printerID, jobID, resourceID int, attrs map[string]string) {
	touched := false

	for _, sub := range e.store.Subscriptions.All() {
		sub.Lock()
		if sub.Matches(cat, printerID, jobID, resourceID) {
			e.appendLocked(sub, cat, attrs)
			touched = true
		}
		sub.Unlock()
	}

	if touched {
		e.store.Notify()
	}
}

// appendLocked appends ev to sub's queue and trims from the front if the
// queue exceeds capacity, advancing FirstSequence to match — the sequence
// skip a client observes when it has fallen behind. Caller holds sub's
// lock.
func (e *Engine) appendLocked(sub *store.Subscription, cat store.EventMask, attrs map[string]string) {
	sub.LastSequence++
	if sub.FirstSequence == 0 {
		sub.FirstSequence = sub.LastSequence
	}

	ev := store.Event{Sequence: sub.LastSequence, Category: cat}
	for k, v := range attrs {
		ev.Attrs = append(ev.Attrs, struct {
			Name  string
			Value string
		}{k, v})
	}
	sub.Queue = append(sub.Queue, ev)

	if len(sub.Queue) > e.capacity {
		drop := len(sub.Queue) - e.capacity
		sub.Queue = sub.Queue[drop:]
		sub.FirstSequence = sub.Queue[0].Sequence
	}
}

// GetNotifications implements the Get-Notifications operation's core
// collection logic: for each requested subscription id (paired 1:1 with
// an optional requested sequence number), return events from
// max(requested, first_sequence) through last_sequence. If nothing is
// found for any subscription and wait is true, it blocks once on the
// Store's notification condition (bounded by NotifyWaitBound) and polls
// again.
func (e *Engine) GetNotifications(ctx context.Context, subIDs, seqs []int, wait bool) (map[int][]store.Event, error) {
	collect := func() (map[int][]store.Event, bool) {
		out := make(map[int][]store.Event, len(subIDs))
		any := false
		for i, id := range subIDs {
			sub, ok := e.store.Subscriptions.ByID(id)
			if !ok {
				continue
			}

			requested := 0
			if i < len(seqs) {
				requested = seqs[i]
			}

			sub.RLock()
			from := requested
			if sub.FirstSequence > from {
				from = sub.FirstSequence
			}
			var matched []store.Event
			for _, ev := range sub.Queue {
				if ev.Sequence >= from {
					matched = append(matched, ev)
				}
			}
			sub.RUnlock()

			if len(matched) > 0 {
				out[id] = matched
				any = true
			}
		}
		return out, any
	}

	out, any := collect()
	if any || !wait {
		return out, nil
	}

	select {
	case <-ctx.Done():
		return out, ctx.Err()
	default:
	}

	e.store.WaitForNotification(NotifyWaitBound)
	out, _ = collect()
	return out, nil
}

// SweepExpiredLeases finalizes every subscription whose lease has passed,
// removing it from the registry. It must not hold the registry lock while
// emitting — Remove's own lock is acquired and released per subscription,
// matching spec.md §4.4's "must not hold the registry lock during event
// emission" rule (there is no emission here, but the same per-object
// locking discipline applies).
func (e *Engine) SweepExpiredLeases(now time.Time) []int {
	var expired []int
	for _, sub := range e.store.Subscriptions.All() {
		sub.RLock()
		isExpired := sub.Lease.Expired(now)
		id := sub.ID
		sub.RUnlock()

		if isExpired {
			e.store.Subscriptions.Remove(id)
			expired = append(expired, id)
		}
	}
	return expired
}

// DeferPrinterDeletion marks every subscription scoped to printerID to
// expire 30 seconds from now, per spec.md §4.3.3's
// deletion-of-printer rule, rather than vanishing immediately.
func (e *Engine) DeferPrinterDeletion(printerID int, now time.Time) {
	for _, sub := range e.store.Subscriptions.All() {
		sub.Lock()
		if sub.PrinterID == printerID {
			sub.Lease = sub.Lease.ExpireSoon(now, 30*time.Second)
		}
		sub.Unlock()
	}
}

// categoryForJobState maps a job lifecycle transition to the event
// category Emit should fan out, used by internal/jobproc and
// internal/dispatch so they don't duplicate this switch.
func categoryForJobState(s lifecycle.JobState) store.EventMask {
	switch s {
	case lifecycle.JobCompleted:
		return store.EventJobCompleted
	case lifecycle.JobStopped:
		return store.EventJobStopped
	default:
		return store.EventJobStateChanged
	}
}

// CategoryForJobState exports categoryForJobState for callers outside the
// package.
func CategoryForJobState(s lifecycle.JobState) store.EventMask {
	return categoryForJobState(s)
}
