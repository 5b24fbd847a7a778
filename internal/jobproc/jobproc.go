// Package jobproc is the Job Processor: the per-job worker that drives a
// pending job through whichever of the three processing paths spec.md
// §4.7 describes (local command, proxy hand-off, simulated) and then
// folds the outcome back into the owning Printer. Grounded on the
// teacher's habit of a small goroutine-per-unit-of-work launched from one
// scheduling entry point — ipp-usb's http.go spins up one goroutine per
// accepted connection the same way CheckJobs spins up one per runnable
// job — generalized from "one connection" to "one job".
package jobproc

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/logging"
	"github.com/infraprint/infraprintd/internal/store"
)

// CompletedJobsHistory bounds how many finished jobs a printer retains in
// its completed-jobs index, per spec.md §4.7's "history bound" rule.
const CompletedJobsHistory = 100

// Processor drives jobs to completion against one Store.
type Processor struct {
	Store  *store.Store
	Events *events.Engine
	Log    *logging.Logger

	// KeepJobs mirrors config.Configuration.KeepJobs: if false, a job's
	// spool file is removed once it drops out of the completed-jobs
	// history window.
	KeepJobs bool

	// Runner executes the configured local command for one job. Tests
	// substitute a fake; production wires runCommand from command.go.
	Runner func(ctx context.Context, j *store.Job, p *store.Printer) error
}

// New builds a Processor wired to s and eng, using the real local-command
// runner.
func New(s *store.Store, eng *events.Engine) *Processor {
	return &Processor{Store: s, Events: eng, Log: logging.Main, Runner: runCommand}
}

// CheckJobs scans p's active jobs in FIFO order and launches a worker for
// the first one that's runnable: pending, not held, and the printer isn't
// already busy, paused, shut down or deleted. It is safe to call
// repeatedly — a printer that's already processing simply finds nothing
// to start.
func (proc *Processor) CheckJobs(p *store.Printer) {
	p.Lock()
	if p.Processing != nil || p.IsShutdown || p.IsDeleted {
		p.Unlock()
		return
	}
	if p.FSM.State() == lifecycle.PrinterStopped {
		p.Unlock()
		return
	}

	var next *store.Job
	for _, id := range p.ActiveJobIDs() {
		j := p.Jobs[id]
		j.RLock()
		state := j.FSM.State()
		j.RUnlock()
		if state == lifecycle.JobPending {
			next = j
			break
		}
	}
	if next == nil {
		p.Unlock()
		return
	}

	p.Processing = next
	p.Unlock()

	if err := next.FSM.Start(context.Background()); err != nil {
		p.Lock()
		p.Processing = nil
		p.Unlock()
		return
	}
	next.Lock()
	next.Processing = time.Now()
	next.Unlock()
	proc.Events.Emit(store.EventJobStateChanged, p.ID, next.ID, 0, nil)

	go proc.run(p, next)
}

// run executes one job's chosen processing path and then folds the
// outcome back into the job and printer, per spec.md §4.7.
func (proc *Processor) run(p *store.Printer, j *store.Job) {
	ctx := context.Background()

	switch {
	case p.ProxyGroup:
		proc.handOffToProxy(ctx, p, j)
		return // the job stays alive, stopped, for a proxy to pick up
	case p.Command != "":
		err := proc.Runner(ctx, j, p)
		proc.finish(ctx, p, j, err)
	default:
		proc.simulate(ctx, j)
		proc.finish(ctx, p, j, nil)
	}
}

// handOffToProxy parks j in processing→stopped with reason job-fetchable;
// a later Acknowledge-Job (internal/dispatch) resumes it, and Update-Job-
// Status completes, cancels or aborts it in the dispatcher's own request
// path; finish is not called for a handed-off job.
func (proc *Processor) handOffToProxy(ctx context.Context, p *store.Printer, j *store.Job) {
	j.Lock()
	_ = j.FSM.Stop(ctx, lifecycle.JSRJobFetchable)
	j.Unlock()

	p.Lock()
	p.Processing = nil
	p.Unlock()

	proc.Events.Emit(store.EventJobStopped, p.ID, j.ID, 0, nil)
	proc.Log.Debug(' ', "job %d: handed off to proxy, job-fetchable", j.ID)
}

// simulate sleeps 1-4 seconds in lieu of a real transform, per spec.md
// §4.7 path 3.
func (proc *Processor) simulate(ctx context.Context, j *store.Job) {
	d := time.Duration(1000+rand.Intn(3000)) * time.Millisecond
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// finish applies the post-path bookkeeping common to the local-command
// and simulated paths: cancellation check, completion, deferred printer
// transitions, history trim, and the next CheckJobs call.
func (proc *Processor) finish(ctx context.Context, p *store.Printer, j *store.Job, runErr error) {
	j.Lock()
	canceled := j.CancelRequested
	var reasons []lifecycle.JobStateReason
	if canceled {
		_ = j.FSM.Cancel(ctx, lifecycle.JSRJobCanceledByUser)
	} else if runErr != nil {
		reasons = []lifecycle.JobStateReason{lifecycle.JSRAbortedBySystem}
		_ = j.FSM.Abort(ctx, reasons...)
	} else {
		_ = j.FSM.Complete(ctx)
	}
	j.Completed = time.Now()
	jobID := j.ID
	j.Unlock()

	p.Lock()
	p.Processing = nil
	p.MarkCompleted(jobID)
	dropped := p.TrimCompleted(CompletedJobsHistory)
	p.Unlock()

	if !proc.KeepJobs {
		for _, j := range dropped {
			proc.removeSpool(j)
		}
	}

	proc.applyDeferredTransitions(p)

	cat := store.EventJobCompleted
	if canceled {
		cat = store.EventJobStateChanged
	}
	proc.Events.Emit(cat, p.ID, jobID, 0, nil)

	p.RLock()
	deleted := p.IsDeleted
	p.RUnlock()
	if !deleted {
		proc.CheckJobs(p)
	}
}

// removeSpool deletes a dropped job's spool file, ignoring a missing
// file — it may never have been written (a job canceled before any data
// arrived) or already removed.
func (proc *Processor) removeSpool(j *store.Job) {
	j.RLock()
	path := j.Filename
	j.RUnlock()
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		proc.Log.Error('!', "job %d: removing spool file %s: %s", j.ID, path, err)
	}
}

// applyDeferredTransitions completes a Pause-Printer or Delete-Printer
// that was waiting on this job to stop occupying the printer's worker.
func (proc *Processor) applyDeferredTransitions(p *store.Printer) {
	p.Lock()
	reasons := p.FSM.Reasons()
	hasReason := func(want lifecycle.PrinterStateReason) bool {
		for _, r := range reasons {
			if r == want {
				return true
			}
		}
		return false
	}
	movingToPaused := hasReason(lifecycle.PSRMovingToPaused)
	deleting := p.IsDeleted
	active := len(p.ActiveJobIDs())
	p.Unlock()

	if movingToPaused {
		_ = p.FSM.Paused(context.Background())
	} else if !deleting {
		_ = p.FSM.JobDone(context.Background())
	}

	if deleting && active == 0 {
		proc.Store.Printers.Remove(p)
	}
}
