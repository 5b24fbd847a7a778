package dispatch

import (
	"context"
	"io"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/store"
)

func registerQueryOps(t map[goipp.Op]handlerFunc) {
	t[goipp.OpGetJobAttributes] = handleGetJobAttributes
	t[goipp.OpGetJobs] = handleGetJobs
	t[goipp.OpGetPrinterAttributes] = handleGetPrinterAttributes
	t[goipp.OpGetPrinterSupportedValues] = handleGetPrinterSupportedValues
	t[goipp.OpGetPrinters] = handleGetPrinters
	t[goipp.OpGetSystemAttributes] = handleGetSystemAttributes
	t[goipp.OpGetSystemSupportedValues] = handleGetSystemSupportedValues
	t[goipp.OpGetDocumentAttributes] = handleGetDocumentAttributes
	t[goipp.OpGetDocuments] = handleGetDocuments
}

// jobRedaction is the set of job attributes hidden from a non-owner,
// non-operator caller.
var jobRedaction = []string{"job-originating-user-name"}

func handleGetJobAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.job.RLock()
	full := describeJob(tgt.job)
	owner := tgt.job.Originator
	tgt.job.RUnlock()

	f := ippattr.Filter{
		Requested:     ippattr.Strings(req.Operation, "requested-attributes"),
		Defaults:      []string{"all"},
		Redact:        jobRedaction,
		AllowRedacted: d.Access.Allow(user, access.ScopeOwner, owner),
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Job = f.Apply(full)
	return resp
}

// whichJobsMatches applies the which-jobs filter spec.md §4.6 names.
func whichJobsMatches(which string, j *store.Job) bool {
	j.RLock()
	state := j.FSM.State()
	j.RUnlock()

	switch which {
	case "", "not-completed":
		return !state.IsTerminal()
	case "completed":
		return state.IsTerminal()
	case "all":
		return true
	case "aborted":
		return state.String() == "aborted"
	case "canceled":
		return state.String() == "canceled"
	case "pending":
		return state.String() == "pending"
	case "pending-held":
		return state.String() == "held"
	case "processing":
		return state.String() == "processing"
	case "processing-stopped":
		return state.String() == "stopped"
	default:
		return false
	}
}

func handleGetJobs(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	which := ippattr.StringWithDefault(req.Operation, "which-jobs", "not-completed")
	limit := ippattr.IntegerWithDefault(req.Operation, "limit", 0)
	firstJobID := ippattr.IntegerWithDefault(req.Operation, "first-job-id", 0)
	myJobs, _ := ippattr.Boolean(req.Operation, "my-jobs")

	tgt.printer.RLock()
	ids := append(tgt.printer.ActiveJobIDs(), tgt.printer.CompletedJobIDs()...)
	jobs := make([]*store.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, tgt.printer.Jobs[id])
	}
	tgt.printer.RUnlock()

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Groups = goipp.Groups{{Tag: goipp.TagOperationGroup, Attrs: resp.Operation}}

	n := 0
	for _, j := range jobs {
		if j.ID < firstJobID {
			continue
		}
		if !whichJobsMatches(which, j) {
			continue
		}
		j.RLock()
		owner := j.Originator
		j.RUnlock()
		if myJobs && owner != user {
			continue
		}
		if limit > 0 && n >= limit {
			break
		}

		j.RLock()
		full := describeJob(j)
		j.RUnlock()
		f := ippattr.Filter{
			Requested:     ippattr.Strings(req.Operation, "requested-attributes"),
			Defaults:      []string{"all"},
			Redact:        jobRedaction,
			AllowRedacted: d.Access.Allow(user, access.ScopeOwner, owner),
		}
		resp.Groups.Add(goipp.Group{Tag: goipp.TagJobGroup, Attrs: f.Apply(full)})
		n++
	}
	return resp
}

func handleGetPrinterAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.RLock()
	full := describePrinter(tgt.printer)
	tgt.printer.RUnlock()

	f := ippattr.Filter{
		Requested: ippattr.Strings(req.Operation, "requested-attributes"),
		Defaults:  []string{"all"},
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Printer = f.Apply(full)
	return resp
}

// handleGetPrinterSupportedValues re-runs attribute filtering against the
// printer's own *-supported attribute bag (assembled at configuration
// time into StaticAttrs), per SPEC_FULL.md's supplemented-features note.
func handleGetPrinterSupportedValues(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.RLock()
	var supported goipp.Attributes
	for _, a := range tgt.printer.StaticAttrs {
		if len(a.Name) > len("-supported") && a.Name[len(a.Name)-len("-supported"):] == "-supported" {
			supported = append(supported, a)
		}
	}
	tgt.printer.RUnlock()

	f := ippattr.Filter{Requested: ippattr.Strings(req.Operation, "requested-attributes"), Defaults: []string{"all"}}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Printer = f.Apply(supported)
	return resp
}

// whichPrintersMatches applies the which-printers filter spec.md §4.6
// names.
func whichPrintersMatches(which string, p *store.Printer) bool {
	if which == "" {
		return true
	}
	p.RLock()
	state := p.EffectiveState()
	accepting := p.IsAcceptingJobs
	p.RUnlock()
	switch which {
	case "accepting":
		return accepting
	case "not-accepting":
		return !accepting
	case "idle":
		return state.String() == "idle"
	case "processing":
		return state.String() == "processing"
	case "stopped":
		return state.String() == "stopped"
	default:
		return true
	}
}

func handleGetPrinters(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	which := ippattr.StringWithDefault(req.Operation, "which-printers", "")
	limit := ippattr.IntegerWithDefault(req.Operation, "limit", 0)
	firstIndex := ippattr.IntegerWithDefault(req.Operation, "first-index", 0)

	printers := d.Store.Printers.All()
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Groups = goipp.Groups{{Tag: goipp.TagOperationGroup, Attrs: resp.Operation}}

	n, skipped := 0, 0
	for _, p := range printers {
		if !whichPrintersMatches(which, p) {
			continue
		}
		if skipped < firstIndex {
			skipped++
			continue
		}
		if limit > 0 && n >= limit {
			break
		}

		p.RLock()
		full := describePrinter(p)
		p.RUnlock()
		f := ippattr.Filter{Requested: ippattr.Strings(req.Operation, "requested-attributes"), Defaults: []string{"all"}}
		resp.Groups.Add(goipp.Group{Tag: goipp.TagPrinterGroup, Attrs: f.Apply(full)})
		n++
	}
	return resp
}

func handleGetSystemAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	f := ippattr.Filter{Requested: ippattr.Strings(req.Operation, "requested-attributes"), Defaults: []string{"all"}}
	resp.System = f.Apply(d.Store.SystemAttrs)
	return resp
}

func handleGetSystemSupportedValues(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	var supported goipp.Attributes
	for _, a := range d.Store.SystemAttrs {
		if len(a.Name) > len("-supported") && a.Name[len(a.Name)-len("-supported"):] == "-supported" {
			supported = append(supported, a)
		}
	}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	f := ippattr.Filter{Requested: ippattr.Strings(req.Operation, "requested-attributes"), Defaults: []string{"all"}}
	resp.System = f.Apply(supported)
	return resp
}

// handleGetDocumentAttributes / handleGetDocuments: this implementation
// supports exactly one document per job (spec.md §4.6's
// multiple-document-jobs-not-supported rule), so "documents" for a job
// degenerates to the job's own document-format/document-name pair.
func handleGetDocumentAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.job.RLock()
	hasDoc := tgt.job.Filename != ""
	format := tgt.job.Format
	tgt.job.RUnlock()
	if !hasDoc {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	add := ippattr.Adder(&resp.Document)
	add("document-number", goipp.TagInteger, goipp.Integer(1))
	add("document-format", goipp.TagMimeType, goipp.String(format))
	return resp
}

func handleGetDocuments(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	return handleGetDocumentAttributes(d, ctx, req, tgt, user, body)
}
