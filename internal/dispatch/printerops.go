package dispatch

import (
	"context"
	"io"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/idgen"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/store"
)

func registerPrinterOps(t map[goipp.Op]handlerFunc) {
	t[goipp.OpCreatePrinter] = handleCreatePrinter
	t[goipp.OpDeletePrinter] = handleDeletePrinter
	t[goipp.OpPausePrinter] = handlePausePrinter
	t[goipp.OpPauseAllPrinters] = handlePauseAllPrinters
	t[goipp.OpResumePrinter] = handleResumePrinter
	t[goipp.OpResumeAllPrinters] = handleResumeAllPrinters
	t[goipp.OpDisablePrinter] = handleDisablePrinter
	t[goipp.OpDisableAllPrinters] = handleDisableAllPrinters
	t[goipp.OpEnablePrinter] = handleEnablePrinter
	t[goipp.OpEnableAllPrinters] = handleEnableAllPrinters
	t[goipp.OpShutdownPrinter] = handleShutdownPrinter
	t[goipp.OpShutdownOnePrinter] = handleShutdownPrinter
	t[goipp.OpShutdownAllPrinters] = handleShutdownAllPrinters
	t[goipp.OpStartupPrinter] = handleStartupPrinter
	t[goipp.OpStartupOnePrinter] = handleStartupPrinter
	t[goipp.OpStartupAllPrinters] = handleStartupAllPrinters
	t[goipp.OpRestartPrinter] = handleRestartPrinter
	t[goipp.OpIdentifyPrinter] = handleIdentifyPrinter
	t[goipp.OpHoldNewJobs] = handleHoldNewJobs
	t[goipp.OpReleaseHeldNewJobs] = handleReleaseHeldNewJobs
}

// printerPath builds the canonical resource path Create-Printer assigns a
// new printer, per spec.md §4.6's "/ipp/print/<name>" convention.
func printerPath(name string) string { return "/ipp/print/" + name }

func handleCreatePrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	name, err := ippattr.String(req.Printer, "printer-name")
	if err != nil {
		return errorResponse(goipp.StatusErrorBadRequest, req.RequestID)
	}
	path := printerPath(name)
	if _, exists := d.Store.Printers.ByPath(path); exists {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}

	id := d.Store.Printers.AllocateID()
	uri := "ipp://" + d.Hostname + path
	p := store.NewPrinter(id, name, path, uri, idgen.New())
	p.StaticAttrs = append(goipp.Attributes{}, req.Printer...)
	d.Store.Printers.Add(p)

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	add := ippattr.Adder(&resp.Printer)
	add("printer-uri-supported", goipp.TagURI, goipp.String(uri))
	add("printer-uuid", goipp.TagURI, goipp.String(p.UUID))
	return resp
}

func handleDeletePrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.printer.Lock()
	tgt.printer.IsDeleted = true
	_ = tgt.printer.FSM.Delete(ctx)
	active := len(tgt.printer.ActiveJobIDs())
	tgt.printer.Unlock()

	if active == 0 {
		d.Store.Printers.Remove(tgt.printer)
	}
	d.Events.DeferPrinterDeletion(tgt.printer.ID, time.Now())
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handlePausePrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.printer.Lock()
	jobActive := tgt.printer.Processing != nil
	err := tgt.printer.FSM.Pause(ctx, jobActive)
	tgt.printer.Unlock()
	if err != nil {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handlePauseAllPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	for _, p := range d.Store.Printers.All() {
		p.Lock()
		jobActive := p.Processing != nil
		_ = p.FSM.Pause(ctx, jobActive)
		p.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleResumePrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.printer.Lock()
	err := tgt.printer.FSM.Resume(ctx)
	tgt.printer.Unlock()
	if err != nil {
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleResumeAllPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	for _, p := range d.Store.Printers.All() {
		p.Lock()
		_ = p.FSM.Resume(ctx)
		p.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleDisablePrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.Lock()
	tgt.printer.IsAcceptingJobs = false
	tgt.printer.Unlock()
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleDisableAllPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	for _, p := range d.Store.Printers.All() {
		p.Lock()
		p.IsAcceptingJobs = false
		p.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleEnablePrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.Lock()
	tgt.printer.IsAcceptingJobs = true
	tgt.printer.Unlock()
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleEnableAllPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	for _, p := range d.Store.Printers.All() {
		p.Lock()
		p.IsAcceptingJobs = true
		p.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleShutdownPrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.Lock()
	tgt.printer.IsShutdown = true
	_ = tgt.printer.FSM.Shutdown(ctx)
	tgt.printer.Unlock()
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleShutdownAllPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	for _, p := range d.Store.Printers.All() {
		p.Lock()
		p.IsShutdown = true
		_ = p.FSM.Shutdown(ctx)
		p.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleStartupPrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.Lock()
	tgt.printer.IsShutdown = false
	_ = tgt.printer.FSM.Resume(ctx)
	tgt.printer.Unlock()
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleStartupAllPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	for _, p := range d.Store.Printers.All() {
		p.Lock()
		p.IsShutdown = false
		_ = p.FSM.Resume(ctx)
		p.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleRestartPrinter reverses a prior Shutdown-Printer without requiring
// the caller to separately clear the stopped state, mirroring the
// teacher's habit of giving operators one operation per intent rather than
// composing two.
func handleRestartPrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.Lock()
	tgt.printer.IsShutdown = false
	if tgt.printer.FSM.State().String() == "stopped" {
		_ = tgt.printer.FSM.Resume(ctx)
	}
	tgt.printer.Unlock()
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleIdentifyPrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.printer.Lock()
	tgt.printer.IdentifyActions = ippattr.Strings(req.Operation, "identify-actions")
	tgt.printer.IdentifyMessage = ippattr.StringWithDefault(req.Operation, "message", "")
	tgt.printer.FSM.SetIdentifyRequested(true)
	tgt.printer.Unlock()

	d.Events.Emit(store.EventPrinterStateChanged, tgt.printer.ID, 0, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleHoldNewJobs(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.FSM.SetHoldNewJobs(true)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleReleaseHeldNewJobs(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeOperator, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.FSM.SetHoldNewJobs(false)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}
