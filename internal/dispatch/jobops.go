package dispatch

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/idgen"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

var zeroTime time.Time

func registerJobOps(t map[goipp.Op]handlerFunc) {
	t[goipp.OpPrintJob] = handlePrintJob
	t[goipp.OpPrintURI] = handlePrintURI
	t[goipp.OpCreateJob] = handleCreateJob
	t[goipp.OpSendDocument] = handleSendDocument
	t[goipp.OpSendURI] = handleSendURI
	t[goipp.OpValidateJob] = handleValidateJob
	t[goipp.OpValidateDocument] = handleValidateDocument
	t[goipp.OpCloseJob] = handleCloseJob
	t[goipp.OpCancelJob] = handleCancelJob
	t[goipp.OpCancelCurrentJob] = handleCancelCurrentJob
	t[goipp.OpCancelJobs] = handleCancelJobs
	t[goipp.OpCancelMyJobs] = handleCancelMyJobs
	t[goipp.OpHoldJob] = handleHoldJob
	t[goipp.OpReleaseJob] = handleReleaseJob
}

// jobTemplateAttrs strips the operation attributes that are not part of
// the job template (charset, language, target URI, requesting-user-name,
// document-name, document-format, compression, last-document) leaving
// the rest to be stored as the job's own attributes.
func jobTemplateAttrs(op goipp.Attributes) goipp.Attributes {
	skip := map[string]bool{
		ippattr.AttrCharset: true, ippattr.AttrNaturalLanguage: true,
		"printer-uri": true, "job-uri": true, "job-id": true,
		"requesting-user-name": true, "document-name": true,
		"document-format": true, "compression": true, "last-document": true,
	}
	var out goipp.Attributes
	for _, a := range op {
		if !skip[a.Name] {
			out = append(out, a)
		}
	}
	return out
}

// createJobObject allocates and registers a new Job under printer. The
// job starts pending with the job-incoming reasons lifecycle.NewJob sets,
// and is moved to held when job-hold-until or hold-new-jobs applies.
func createJobObject(ctx context.Context, d *Dispatcher, p *store.Printer, req *goipp.Message, user string) (*store.Job, error) {
	p.Lock()
	defer p.Unlock()

	id := p.AllocateJobID()
	uri := p.URI + "/" + strconv.Itoa(id)
	j := store.NewJob(id, p, uri, idgen.New(), user, ippattr.StringWithDefault(req.Operation, "document-format", "application/octet-stream"))
	j.Attrs = jobTemplateAttrs(req.Operation)
	p.AddJob(j)

	holdKeyword := ippattr.StringWithDefault(req.Operation, "job-hold-until", "")
	if holdKeyword == "" && p.FSM.HoldNewJobs() {
		holdKeyword = "indefinite"
	}

	if holdKeyword != "" && holdKeyword != "no-hold" {
		at, indefinite := lifecycle.HoldUntil(holdKeyword, p.Created)
		j.HoldUntil = at
		j.HoldIndefinite = indefinite
		_ = j.FSM.Hold(ctx, lifecycle.JSRJobHeldUntilSpecified)
	}

	return j, nil
}

// releaseToPending moves a held-but-not-hold-pending job forward: a job
// created without an active hold is promoted pending→processing eligible
// by the caller (CheckJobs, in internal/jobproc) once a document has
// arrived. Here we only flip held→pending when no hold keyword applied.
func releaseToPending(ctx context.Context, j *store.Job) {
	j.Lock()
	defer j.Unlock()
	if j.FSM.State() == lifecycle.JobHeld && j.HoldUntil.IsZero() && !j.HoldIndefinite {
		_ = j.FSM.Release(ctx)
	}
}

func handleCreateJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.RLock()
	accepting := tgt.printer.IsAcceptingJobs
	tgt.printer.RUnlock()
	if !accepting {
		return errorResponse(goipp.StatusErrorNotAcceptingJobs, req.RequestID)
	}

	j, err := createJobObject(ctx, d, tgt.printer, req, user)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	j.RLock()
	resp.Job = describeJob(j)
	j.RUnlock()
	d.Events.Emit(store.EventJobCreated, tgt.printer.ID, j.ID, 0, nil)
	return resp
}

// handlePrintJob is Create-Job followed immediately by a single
// Send-Document carrying body, since this daemon supports exactly one
// document per job (spec.md §4.6).
func handlePrintJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	resp := handleCreateJob(d, ctx, req, tgt, user, nil)
	if resp.Code != goipp.Code(goipp.StatusOk) {
		return resp
	}

	jobID, _ := ippattr.Integer(resp.Job, "job-id")
	tgt.printer.RLock()
	j, ok := tgt.printer.Jobs[jobID]
	tgt.printer.RUnlock()
	if !ok {
		return errorResponse(goipp.StatusErrorInternal, req.RequestID)
	}

	if err := attachDocument(j, body); err != nil {
		return errorResponse(goipp.StatusErrorDocumentAccess, req.RequestID)
	}
	releaseToPending(ctx, j)
	d.Events.Emit(events.CategoryForJobState(lifecycle.JobPending), tgt.printer.ID, j.ID, 0, nil)

	final := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	j.RLock()
	final.Job = describeJob(j)
	j.RUnlock()
	return final
}

// attachDocument spools body to a new file named "<job-id>-<random>.prn"
// in the printer's SpoolDir (the OS temp directory for a printer with no
// SpoolDir) and records its path as j.Filename. A nil body leaves the
// spool file empty.
func attachDocument(j *store.Job, body io.Reader) error {
	j.Lock()
	defer j.Unlock()
	if j.Filename != "" {
		return errMultipleDocuments
	}
	dir := j.Printer.SpoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, strconv.Itoa(j.ID)+"-*.prn")
	if err != nil {
		return err
	}
	defer f.Close()
	if body != nil {
		if _, err := io.Copy(f, body); err != nil {
			return err
		}
	}
	j.Filename = f.Name()
	return nil
}

var errMultipleDocuments = ippattr.ErrBadRequest

func handleSendDocument(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	if !d.Access.Allow(user, access.ScopeOwner, tgt.job.Originator) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	tgt.job.RLock()
	alreadyHasDoc := tgt.job.Filename != ""
	tgt.job.RUnlock()
	if alreadyHasDoc {
		return errorResponse(goipp.StatusErrorMultipleJobsNotSupported, req.RequestID)
	}

	if err := attachDocument(tgt.job, body); err != nil {
		return errorResponse(goipp.StatusErrorDocumentAccess, req.RequestID)
	}

	last := true
	if b, err := ippattr.Boolean(req.Operation, "last-document"); err == nil {
		last = b
	}
	if last {
		releaseToPending(ctx, tgt.job)
		d.Events.Emit(events.CategoryForJobState(lifecycle.JobPending), tgt.printer.ID, tgt.job.ID, 0, nil)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	tgt.job.RLock()
	resp.Job = describeJob(tgt.job)
	tgt.job.RUnlock()
	return resp
}

// handlePrintURI / handleSendURI behave like their body-carrying
// counterparts with a nil body, so the job's spool file is empty. The
// document-uri attribute is kept among the job's template attrs by
// createJobObject, but nothing fetches it: no scheme check, file:
// allow-listing or HTTP fetch is done for these operations.
func handlePrintURI(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	return handlePrintJob(d, ctx, req, tgt, user, nil)
}

func handleSendURI(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	return handleSendDocument(d, ctx, req, tgt, user, nil)
}

// handleValidateJob checks only that the target printer exists and
// answers successful-ok without creating a job; the job template
// attributes are not validated.
func handleValidateJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	return resp
}

// handleValidateDocument runs the same validation path as Validate-Job
// without creating a job, per SPEC_FULL.md's supplemented-features note.
func handleValidateDocument(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	return handleValidateJob(d, ctx, req, tgt, user, body)
}

// handleCloseJob marks a job's document set closed. In this
// single-document implementation that is a no-op success once a document
// has arrived, or client-error-not-possible if none has, per
// SPEC_FULL.md's supplemented-features note.
func handleCloseJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.job.RLock()
	hasDoc := tgt.job.Filename != ""
	tgt.job.RUnlock()
	if !hasDoc {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func cancelOneJob(ctx context.Context, d *Dispatcher, j *store.Job, reason lifecycle.JobStateReason) bool {
	j.Lock()
	defer j.Unlock()
	if !j.FSM.CanTransition("cancel") {
		return false
	}
	j.CancelRequested = true
	_ = j.FSM.Cancel(ctx, reason)
	return true
}

func handleCancelJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	if !d.Access.Allow(user, access.ScopeOwner, tgt.job.Originator) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if !cancelOneJob(ctx, d, tgt.job, lifecycle.JSRJobCanceledByUser) {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	d.Events.Emit(events.CategoryForJobState(lifecycle.JobCanceled), tgt.printer.ID, tgt.job.ID, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleCancelCurrentJob cancels whichever job the target printer is
// presently processing.
func handleCancelCurrentJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.RLock()
	j := tgt.printer.Processing
	tgt.printer.RUnlock()
	if j == nil {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	if !d.Access.Allow(user, access.ScopeOwner, j.Originator) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if !cancelOneJob(ctx, d, j, lifecycle.JSRJobCanceledByUser) {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	d.Events.Emit(events.CategoryForJobState(lifecycle.JobCanceled), tgt.printer.ID, j.ID, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleCancelJobs is the administrative Cancel-Jobs: every active job on
// the target printer, operator/admin only.
func handleCancelJobs(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	tgt.printer.RLock()
	ids := tgt.printer.ActiveJobIDs()
	jobs := make([]*store.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, tgt.printer.Jobs[id])
	}
	tgt.printer.RUnlock()

	for _, j := range jobs {
		if cancelOneJob(ctx, d, j, lifecycle.JSRJobCanceledByOperator) {
			d.Events.Emit(events.CategoryForJobState(lifecycle.JobCanceled), tgt.printer.ID, j.ID, 0, nil)
		}
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleCancelMyJobs cancels only the requesting user's active jobs.
func handleCancelMyJobs(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.RLock()
	ids := tgt.printer.ActiveJobIDs()
	jobs := make([]*store.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, tgt.printer.Jobs[id])
	}
	tgt.printer.RUnlock()

	for _, j := range jobs {
		j.RLock()
		mine := j.Originator == user
		j.RUnlock()
		if mine && cancelOneJob(ctx, d, j, lifecycle.JSRJobCanceledByUser) {
			d.Events.Emit(events.CategoryForJobState(lifecycle.JobCanceled), tgt.printer.ID, j.ID, 0, nil)
		}
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleHoldJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	if !d.Access.Allow(user, access.ScopeOwner, tgt.job.Originator) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	tgt.job.Lock()
	err := tgt.job.FSM.Hold(ctx, lifecycle.JSRJobHeldForReview)
	tgt.job.Unlock()
	if err != nil {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	d.Events.Emit(events.CategoryForJobState(lifecycle.JobHeld), tgt.printer.ID, tgt.job.ID, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleReleaseJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	if !d.Access.Allow(user, access.ScopeOwner, tgt.job.Originator) {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	tgt.job.Lock()
	tgt.job.HoldUntil = zeroTime
	tgt.job.HoldIndefinite = false
	err := tgt.job.FSM.Release(ctx)
	tgt.job.Unlock()
	if err != nil {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	d.Events.Emit(events.CategoryForJobState(lifecycle.JobPending), tgt.printer.ID, tgt.job.ID, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}
