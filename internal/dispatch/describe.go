package dispatch

import (
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

// resourceURIsByFormat returns the advertised URI of every resource in
// resources whose Format has the given prefix and is available or
// installed, per spec.md §3's Resource object — the source of
// printer-icons and printer-strings-uri.
func resourceURIsByFormat(resources []*store.Resource, formatPrefix string) []goipp.Value {
	var out []goipp.Value
	for _, r := range resources {
		r.RLock()
		state, format, uri := r.State, r.Format, r.URI
		r.RUnlock()
		if (state == store.ResourceAvailable || state == store.ResourceInstalled) &&
			strings.HasPrefix(format, formatPrefix) && uri != "" {
			out = append(out, goipp.String(uri))
		}
	}
	return out
}

// jobReasonsToValues converts a slice of lifecycle.JobStateReason into
// goipp.Value keywords for a job-state-reasons attribute.
func jobReasonsToValues(reasons []lifecycle.JobStateReason) []goipp.Value {
	if len(reasons) == 0 {
		return []goipp.Value{goipp.String(lifecycle.JSRNone)}
	}
	out := make([]goipp.Value, len(reasons))
	for i, r := range reasons {
		out[i] = goipp.String(r)
	}
	return out
}

func printerReasonsToValues(reasons []lifecycle.PrinterStateReason) []goipp.Value {
	if len(reasons) == 0 {
		return []goipp.Value{goipp.String(lifecycle.PSRNone)}
	}
	out := make([]goipp.Value, len(reasons))
	for i, r := range reasons {
		out[i] = goipp.String(r)
	}
	return out
}

// describeJob builds the full job-description attribute group: the
// computed fields (job-id, job-uri, job-state, job-state-reasons,
// job-printer-uri) plus whatever job-template attributes the client
// supplied at submission time. Caller holds at least j's read lock.
func describeJob(j *store.Job) goipp.Attributes {
	var attrs goipp.Attributes
	add := ippattr.Adder(&attrs)

	add("job-id", goipp.TagInteger, goipp.Integer(j.ID))
	add("job-uri", goipp.TagURI, goipp.String(j.URI))
	add("job-uuid", goipp.TagURI, goipp.String(j.UUID))
	add("job-printer-uri", goipp.TagURI, goipp.String(j.Printer.URI))
	add("job-state", goipp.TagEnum, goipp.Integer(jobStateToIPP(j.FSM.State())))
	add("job-state-reasons", goipp.TagKeyword, jobReasonsToValues(j.FSM.Reasons())...)
	add("job-originating-user-name", goipp.TagName, goipp.String(j.Originator))
	add("document-format", goipp.TagMimeType, goipp.String(j.Format))
	add("job-impressions", goipp.TagInteger, goipp.Integer(j.ImpressionsTotal))
	add("job-impressions-completed", goipp.TagInteger, goipp.Integer(j.ImpressionsCompleted))
	if !j.Created.IsZero() {
		add("time-at-creation", goipp.TagInteger, goipp.Integer(int(j.Created.Unix())))
	}
	if !j.Processing.IsZero() {
		add("time-at-processing", goipp.TagInteger, goipp.Integer(int(j.Processing.Unix())))
	}
	if !j.Completed.IsZero() {
		add("time-at-completed", goipp.TagInteger, goipp.Integer(int(j.Completed.Unix())))
	}

	for _, a := range j.Attrs {
		attrs = ippattr.Replace(attrs, a)
	}
	return attrs
}

// jobStateToIPP maps the internal JobState enum to the RFC 8011
// job-state enum values (3=pending, 4=pending-held, 5=processing,
// 6=processing-stopped, 7=canceled, 8=aborted, 9=completed).
func jobStateToIPP(s lifecycle.JobState) int {
	switch s {
	case lifecycle.JobPending:
		return 3
	case lifecycle.JobHeld:
		return 4
	case lifecycle.JobProcessing:
		return 5
	case lifecycle.JobStopped:
		return 6
	case lifecycle.JobCanceled:
		return 7
	case lifecycle.JobAborted:
		return 8
	case lifecycle.JobCompleted:
		return 9
	default:
		return 3
	}
}

// printerStateToIPP maps PrinterState to the RFC 8011 printer-state enum
// (3=idle, 4=processing, 5=stopped).
func printerStateToIPP(s lifecycle.PrinterState) int {
	switch s {
	case lifecycle.PrinterIdle:
		return 3
	case lifecycle.PrinterProcessing:
		return 4
	case lifecycle.PrinterStopped:
		return 5
	default:
		return 3
	}
}

// describePrinter builds the full printer-description attribute group.
// Caller holds at least p's read lock.
func describePrinter(p *store.Printer) goipp.Attributes {
	var attrs goipp.Attributes
	add := ippattr.Adder(&attrs)

	add("printer-name", goipp.TagName, goipp.String(p.Name))
	add("printer-uri-supported", goipp.TagURI, goipp.String(p.URI))
	add("printer-uuid", goipp.TagURI, goipp.String(p.UUID))
	add("printer-state", goipp.TagEnum, goipp.Integer(printerStateToIPP(p.EffectiveState())))
	add("printer-state-reasons", goipp.TagKeyword, printerReasonsToValues(p.FSM.Reasons())...)
	add("printer-is-accepting-jobs", goipp.TagBoolean, goipp.Boolean(p.IsAcceptingJobs))
	add("printer-up-time", goipp.TagInteger, goipp.Integer(int(time.Since(p.Created).Seconds())))

	if icons := resourceURIsByFormat(p.Resources, "image/"); len(icons) > 0 {
		add("printer-icons", goipp.TagURI, icons...)
	}
	if strs := resourceURIsByFormat(p.Resources, "text/strings"); len(strs) > 0 {
		add("printer-strings-uri", goipp.TagURI, strs[0])
	}

	for _, a := range p.StaticAttrs {
		attrs = ippattr.Replace(attrs, a)
	}
	for _, a := range p.DeviceAttrs {
		attrs = ippattr.Replace(attrs, a)
	}
	return attrs
}
