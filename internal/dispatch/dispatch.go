// Package dispatch is the Operation Dispatcher: envelope validation,
// target resolution, and the roughly seventy IPP operation handlers that
// drive internal/store and internal/lifecycle objects, per spec.md §4.6.
// Grounded on the teacher's ipp.go request/response conventions and
// rusq-thermoprint/ippsrv's small operation switch, generalized from a
// handful of DNS-SD-probe operations into the full Infrastructure Printer
// operation set.
package dispatch

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/store"
)

// Dispatcher routes validated IPP requests to operation handlers against
// one process-wide Store.
type Dispatcher struct {
	Store    *store.Store
	Events   *events.Engine
	Access   *access.Checker
	Hostname string

	handlers map[goipp.Op]handlerFunc
}

// handlerFunc is one operation handler. body carries document data for
// operations that source or sink one (Print-Job, Send-Document,
// Fetch-Document, ...); it is nil for attribute-only operations.
// internal/httpd supplies the HTTP request body that follows the IPP
// message; callers that only exercise attribute semantics (as this
// package's own tests do) pass nil or a bytes.Reader.
type handlerFunc func(d *Dispatcher, ctx context.Context, req *goipp.Message, target target, user string, body io.Reader) *goipp.Message

// NewDispatcher builds a Dispatcher with its full operation table wired.
func NewDispatcher(s *store.Store, eng *events.Engine, chk *access.Checker, hostname string) *Dispatcher {
	d := &Dispatcher{Store: s, Events: eng, Access: chk, Hostname: hostname}
	d.handlers = d.buildTable()
	return d
}

// target identifies the object(s) a request resolved against.
type target struct {
	system  bool
	printer *store.Printer
	job     *store.Job
}

// Handle validates the envelope, resolves the request's target, and
// dispatches to the registered handler, returning a complete response
// message. It never panics on malformed input — every failure path
// produces a status-bearing response, matching the teacher's habit of
// always producing something to write back to the client.
func (d *Dispatcher) Handle(ctx context.Context, req *goipp.Message, user string, body io.Reader) *goipp.Message {
	if req.Version.Major() != 1 && req.Version.Major() != 2 {
		return ippattr.NewResponse(goipp.StatusErrorVersionNotSupported, req.RequestID)
	}
	if req.RequestID == 0 {
		return ippattr.NewResponse(goipp.StatusErrorBadRequest, req.RequestID)
	}

	op := goipp.Op(req.Code)
	uriAttr := targetURIAttrName(op)

	if err := ippattr.ValidateEnvelope(req, uriAttr); err != nil {
		return ippattr.NewResponse(ippattr.ToStatus(err), req.RequestID)
	}

	tgt, err := d.resolveTarget(req, uriAttr)
	if err != nil {
		return ippattr.NewResponse(ippattr.ToStatus(err), req.RequestID)
	}

	if tgt.printer != nil {
		tgt.printer.RLock()
		shutdown := tgt.printer.IsShutdown
		tgt.printer.RUnlock()
		if shutdown && op != goipp.OpStartupPrinter && op != goipp.OpStartupOnePrinter {
			return ippattr.NewResponse(goipp.StatusErrorServiceUnavailable, req.RequestID)
		}
	}

	h, ok := d.handlers[op]
	if !ok {
		return ippattr.NewResponse(goipp.StatusErrorOperationNotSupported, req.RequestID)
	}
	return h(d, ctx, req, tgt, user, body)
}

// targetURIAttrName reports which operation attribute carries the target
// URI for op, per spec.md §4.6 item 5.
func targetURIAttrName(op goipp.Op) string {
	switch op {
	case goipp.OpSetSystemAttributes, goipp.OpGetSystemAttributes, goipp.OpGetSystemSupportedValues,
		goipp.OpRestartSystem, goipp.OpGetPrinters, goipp.OpDisableAllPrinters, goipp.OpEnableAllPrinters,
		goipp.OpPauseAllPrinters, goipp.OpResumeAllPrinters, goipp.OpShutdownAllPrinters,
		goipp.OpStartupAllPrinters, goipp.OpRegisterOutputDevice, goipp.OpCreateSystemSubscriptions,
		goipp.OpCreatePrinter:
		return "system-uri"
	default:
		return "printer-uri"
	}
}

// resolveTarget parses the target URI's resource path per spec.md §4.6:
// "/ipp/system" routes to the system, "/ipp/print/<name>" to a Printer,
// "/ipp/print/<name>/<job-id>" additionally to a Job. A job-id may also
// arrive as a separate "job-id" operation attribute alongside a bare
// printer-uri, which this also accepts.
func (d *Dispatcher) resolveTarget(req *goipp.Message, uriAttr string) (target, error) {
	if uriAttr == "system-uri" {
		return target{system: true}, nil
	}

	uri, err := ippattr.String(req.Operation, uriAttr)
	if err != nil {
		return target{}, ippattr.ErrBadRequest
	}

	path, ok := ippattr.URISplit(uri)
	if !ok {
		return target{}, ippattr.ErrBadRequest
	}

	if path == "/ipp/system" {
		return target{system: true}, nil
	}

	jobID := 0
	printerPath := path
	if idx := strings.LastIndex(path, "/"); idx > 0 {
		if n, err := strconv.Atoi(path[idx+1:]); err == nil {
			jobID = n
			printerPath = path[:idx]
		}
	}
	if jobID == 0 {
		if n, err := ippattr.Integer(req.Operation, "job-id"); err == nil {
			jobID = n
		}
	}

	p, ok := d.Store.Printers.ByPath(printerPath)
	if !ok {
		return target{}, ippattr.ErrNotFound
	}

	t := target{printer: p}
	if jobID != 0 {
		p.RLock()
		j, ok := p.Jobs[jobID]
		p.RUnlock()
		if !ok {
			return target{}, ippattr.ErrNotFound
		}
		t.job = j
	}
	return t, nil
}

// DocumentFile reports the spool filename and format of the document a
// Fetch-Document request named, letting internal/httpd stream the actual
// bytes after the encoded response: handleFetchDocument itself only
// returns descriptive attributes, per spec.md §4.6's separation of
// attribute exchange from document transfer. Callers are expected to call
// this only after Handle already returned a successful Fetch-Document
// response for the same request.
func (d *Dispatcher) DocumentFile(req *goipp.Message) (filename, format string, ok bool) {
	tgt, err := d.resolveTarget(req, targetURIAttrName(goipp.Op(req.Code)))
	if err != nil || tgt.job == nil {
		return "", "", false
	}
	tgt.job.RLock()
	defer tgt.job.RUnlock()
	if tgt.job.Filename == "" {
		return "", "", false
	}
	return tgt.job.Filename, tgt.job.Format, true
}

// ResourceFile reports the local filename and MIME format backing the
// installed Resource served at path (the HTTP resource-path, e.g.
// "/ipp/resource/3-office-1.png"), for internal/httpd's GET handler.
// Grounded on resource.c's serverFindResourceByPath, which the original
// server calls from its own resource-file GET handler.
func (d *Dispatcher) ResourceFile(path string) (filename, format string, ok bool) {
	res, found := d.Store.Resources.ByPath(path)
	if !found {
		return "", "", false
	}
	res.RLock()
	defer res.RUnlock()
	if res.State != store.ResourceAvailable && res.State != store.ResourceInstalled {
		return "", "", false
	}
	return res.Filename, res.Format, true
}

// buildTable assembles the full ~70-operation routing table from the
// per-concern registration functions in the other files of this package.
func (d *Dispatcher) buildTable() map[goipp.Op]handlerFunc {
	t := map[goipp.Op]handlerFunc{}
	registerJobOps(t)
	registerQueryOps(t)
	registerPrinterOps(t)
	registerSubscriptionOps(t)
	registerProxyOps(t)
	registerSystemOps(t)
	registerUnsupportedOps(t)
	return t
}

// errorResponse is the common one-line failure path every handler falls
// back to.
func errorResponse(status goipp.Status, requestID uint32) *goipp.Message {
	return ippattr.NewResponse(status, requestID)
}
