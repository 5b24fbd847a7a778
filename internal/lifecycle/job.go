// Package lifecycle implements the state machines driving Printers, Jobs,
// Subscriptions and Devices, on top of github.com/looplab/fsm the way
// rusq-thermoprint/ippsrv/job.go drives its Job state machine — generalized
// from that one job-only example to also cover Printer, Subscription and
// Device lifecycles per spec.md §4.3.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// JobState is a job's position in the RFC 8011 job state machine.
//
//go:generate stringer -type JobState
type JobState int32

// Job states, per spec.md §4.3.2.
const (
	JobPending JobState = iota
	JobHeld
	JobProcessing
	JobStopped
	JobCanceled
	JobAborted
	JobCompleted
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobHeld:
		return "held"
	case JobProcessing:
		return "processing"
	case JobStopped:
		return "stopped"
	case JobCanceled:
		return "canceled"
	case JobAborted:
		return "aborted"
	case JobCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is a final job state.
func (s JobState) IsTerminal() bool {
	return s == JobCanceled || s == JobAborted || s == JobCompleted
}

// JobStateReason enumerates the job-state-reasons keywords this daemon
// sets, per RFC 8011 §5.3.8. Not every RFC-defined reason applies to every
// state; handlers pick the ones relevant to the transition taken.
type JobStateReason string

// Job state reasons.
const (
	JSRNone                         JobStateReason = "none"
	JSRJobIncoming                  JobStateReason = "job-incoming"
	JSRJobDataInsufficient          JobStateReason = "job-data-insufficient"
	JSRDocumentAccessError          JobStateReason = "document-access-error"
	JSRSubmissionInterrupted        JobStateReason = "submission-interrupted"
	JSRJobOutgoing                  JobStateReason = "job-outgoing"
	JSRJobHeldForReview             JobStateReason = "job-held-for-review"
	JSRJobHeldUntilSpecified        JobStateReason = "job-hold-until-specified"
	JSRJobHoldNewJobs               JobStateReason = "job-hold-new-jobs"
	JSRResourcesAreNotReady         JobStateReason = "resources-are-not-ready"
	JSRPrinterStopped               JobStateReason = "printer-stopped"
	JSRPrinterStoppedPartly         JobStateReason = "printer-stopped-partly"
	JSRJobQueued                    JobStateReason = "job-queued"
	JSRJobQueuedForMarker           JobStateReason = "job-queued-for-marker"
	JSRJobTransforming              JobStateReason = "job-transforming"
	JSRJobPrinting                  JobStateReason = "job-printing"
	JSRJobInterpreting              JobStateReason = "job-interpreting"
	JSRJobFetchable                 JobStateReason = "job-fetchable"
	JSRJobCanceledByUser            JobStateReason = "job-canceled-by-user"
	JSRJobCanceledByOperator        JobStateReason = "job-canceled-by-operator"
	JSRJobCanceledAtDevice          JobStateReason = "job-canceled-at-device"
	JSRAbortedBySystem              JobStateReason = "aborted-by-system"
	JSRUnsupportedCompression       JobStateReason = "unsupported-compression"
	JSRCompressionError             JobStateReason = "compression-error"
	JSRUnsupportedDocumentFormat    JobStateReason = "unsupported-document-format"
	JSRDocumentFormatError          JobStateReason = "document-format-error"
	JSRProcessingToStopPoint        JobStateReason = "processing-to-stop-point"
	JSRServiceOffline               JobStateReason = "service-off-line"
	JSRJobCompletedSuccessfully     JobStateReason = "job-completed-successfully"
	JSRJobCompletedWithWarnings     JobStateReason = "job-completed-with-warnings"
	JSRJobCompletedWithErrors       JobStateReason = "job-completed-with-errors"
	JSRJobRestartable               JobStateReason = "job-restartable"
	JSRQueuedInDevice               JobStateReason = "queued-in-device"
)

// Job FSM event names.
const (
	evtHold      = "hold"
	evtRelease   = "release"
	evtStart     = "start"
	evtStop      = "stop"
	evtRequeue   = "requeue"
	evtComplete  = "complete"
	evtCancel    = "cancel"
	evtAbort     = "abort"
)

var jobEvents = []fsm.EventDesc{
	{Name: evtHold, Src: []string{JobPending.String()}, Dst: JobHeld.String()},
	{Name: evtRelease, Src: []string{JobHeld.String()}, Dst: JobPending.String()},
	{Name: evtStart, Src: []string{JobPending.String()}, Dst: JobProcessing.String()},
	{Name: evtStop, Src: []string{JobProcessing.String()}, Dst: JobStopped.String()},
	{Name: evtRequeue, Src: []string{JobStopped.String()}, Dst: JobPending.String()},
	{Name: evtComplete, Src: []string{JobProcessing.String()}, Dst: JobCompleted.String()},
	{
		Name: evtCancel,
		Src: []string{
			JobPending.String(), JobHeld.String(),
			JobProcessing.String(), JobStopped.String(),
		},
		Dst: JobCanceled.String(),
	},
	{
		Name: evtAbort,
		Src:  []string{JobProcessing.String(), JobStopped.String()},
		Dst:  JobAborted.String(),
	},
}

// Job wraps a looplab/fsm machine with the reason bookkeeping every
// transition needs, guarded by its own lock per spec.md §4.2's per-job
// reader/writer lock rule (the Object Store embeds this, it does not
// reimplement locking around it).
type Job struct {
	mu      sync.Mutex
	sm      *fsm.FSM
	reasons []JobStateReason
}

// NewJob creates a job state machine starting in JobPending with the
// job-incoming/job-data-insufficient reasons a freshly created job always
// carries until its document arrives.
func NewJob() *Job {
	j := &Job{reasons: []JobStateReason{JSRJobIncoming, JSRJobDataInsufficient}}
	j.sm = fsm.NewFSM(JobPending.String(), jobEvents, fsm.Callbacks{})
	return j
}

// State returns the job's current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return jobStateFromString(j.sm.Current())
}

// Reasons returns a copy of the job's current state-reasons.
func (j *Job) Reasons() []JobStateReason {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JobStateReason, len(j.reasons))
	copy(out, j.reasons)
	return out
}

// Fire drives event, replacing the job's state-reasons with reasons (or,
// if reasons is empty, the event's conventional default set). It returns
// fsm.InvalidEventError (wrapped) when the transition is not legal from
// the current state — callers translate that into
// client-error-not-possible.
func (j *Job) Fire(ctx context.Context, event string, reasons ...JobStateReason) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.sm.Event(ctx, event)
	if err != nil {
		return fmt.Errorf("lifecycle: job transition %q: %w", event, err)
	}

	if len(reasons) > 0 {
		j.reasons = reasons
	} else {
		j.reasons = defaultReasonsFor(event)
	}
	return nil
}

// Hold transitions pending → held.
func (j *Job) Hold(ctx context.Context, reasons ...JobStateReason) error {
	return j.Fire(ctx, evtHold, reasons...)
}

// Release transitions held → pending.
func (j *Job) Release(ctx context.Context) error { return j.Fire(ctx, evtRelease) }

// Start transitions pending → processing.
func (j *Job) Start(ctx context.Context) error { return j.Fire(ctx, evtStart) }

// Stop transitions processing → stopped (proxy hand-off, or a worker
// pausing at a safe point).
func (j *Job) Stop(ctx context.Context, reasons ...JobStateReason) error {
	return j.Fire(ctx, evtStop, reasons...)
}

// Requeue transitions stopped → pending (a fetched job returning to the
// front of the processing queue).
func (j *Job) Requeue(ctx context.Context) error { return j.Fire(ctx, evtRequeue) }

// Complete transitions processing → completed.
func (j *Job) Complete(ctx context.Context) error { return j.Fire(ctx, evtComplete) }

// Cancel transitions any active state → canceled.
func (j *Job) Cancel(ctx context.Context, reasons ...JobStateReason) error {
	return j.Fire(ctx, evtCancel, reasons...)
}

// Abort transitions processing/stopped → aborted.
func (j *Job) Abort(ctx context.Context, reasons ...JobStateReason) error {
	return j.Fire(ctx, evtAbort, reasons...)
}

// CanTransition reports whether event is legal from the job's current
// state, without performing it — the dispatcher uses this to decide
// whether Cancel-Job etc. apply before acquiring write locks.
func (j *Job) CanTransition(event string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sm.Can(event)
}

func defaultReasonsFor(event string) []JobStateReason {
	switch event {
	case evtHold:
		return []JobStateReason{JSRJobHeldUntilSpecified}
	case evtStart:
		return []JobStateReason{JSRJobPrinting, JSRJobTransforming}
	case evtStop:
		return []JobStateReason{JSRProcessingToStopPoint}
	case evtComplete:
		return []JobStateReason{JSRJobCompletedSuccessfully}
	case evtCancel:
		return []JobStateReason{JSRJobCanceledByUser}
	case evtAbort:
		return []JobStateReason{JSRAbortedBySystem}
	default:
		return nil
	}
}

func jobStateFromString(s string) JobState {
	switch s {
	case JobPending.String():
		return JobPending
	case JobHeld.String():
		return JobHeld
	case JobProcessing.String():
		return JobProcessing
	case JobStopped.String():
		return JobStopped
	case JobCanceled.String():
		return JobCanceled
	case JobAborted.String():
		return JobAborted
	case JobCompleted.String():
		return JobCompleted
	default:
		return JobPending
	}
}

// HoldUntil resolves a job-hold-until keyword (or a literal RFC 3339
// date-time) to an absolute instant, per spec.md §4.3.2. A zero Time with
// indefinite=false means "release immediately"; indefinite=true means
// "held until an explicit Release-Job, no timer involved" — which is also
// where any keyword this function doesn't otherwise recognize ends up,
// per job.c's serverHoldJob ("any other value maps to indefinite").
func HoldUntil(keyword string, now time.Time) (at time.Time, indefinite bool) {
	switch keyword {
	case "", "no-hold", "none":
		return time.Time{}, false
	case "indefinite":
		return time.Time{}, true
	case "evening", "night":
		if now.Hour() < 6 {
			return time.Time{}, false
		}
		return nextClockTime(now, 18, 0, 18, 24), false
	case "second-shift":
		return nextClockTime(now, 16, 0, 16, 24), false
	case "third-shift":
		return nextClockTime(now, 0, 0, 0, 8), false
	case "weekend":
		return nextWeekend(now), false
	default:
		if t, err := time.Parse(time.RFC3339, keyword); err == nil {
			return t, false
		}
		return time.Time{}, true
	}
}

// nextClockTime returns the next occurrence of hour:min local time,
// unless now already falls within [immediateFrom, immediateTo) hours, in
// which case the hold releases immediately (zero Time).
func nextClockTime(now time.Time, hour, min, immediateFrom, immediateTo int) time.Time {
	h := now.Hour()
	if h >= immediateFrom && h < immediateTo {
		return time.Time{}
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

// nextWeekend returns next Saturday 00:00 local, or zero Time if now is
// already Saturday or Sunday.
func nextWeekend(now time.Time) time.Time {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return time.Time{}
	}

	daysUntilSaturday := (int(time.Saturday) - int(now.Weekday()) + 7) % 7
	if daysUntilSaturday == 0 {
		daysUntilSaturday = 7
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return at.AddDate(0, 0, daysUntilSaturday)
}
