package dispatch

import (
	"context"
	"io"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/idgen"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

func registerProxyOps(t map[goipp.Op]handlerFunc) {
	t[goipp.OpRegisterOutputDevice] = handleRegisterOutputDevice
	t[goipp.OpDeregisterOutputDevice] = handleDeregisterOutputDevice
	t[goipp.OpGetOutputDeviceAttributes] = handleGetOutputDeviceAttributes
	t[goipp.OpupdateOutputDeviceAttributes] = handleUpdateOutputDeviceAttributes
	t[goipp.OpAcknowledgeJob] = handleAcknowledgeJob
	t[goipp.OpAcknowledgeDocument] = handleAcknowledgeDocument
	t[goipp.OpAcknowledgeIdentifyPrinter] = handleAcknowledgeIdentifyPrinter
	t[goipp.OpFetchJob] = handleFetchJob
	t[goipp.OpFetchDocument] = handleFetchDocument
	t[goipp.OpUpdateActiveJobs] = handleUpdateActiveJobs
	t[goipp.OpUpdateJobStatus] = handleUpdateJobStatus
	t[goipp.OpUpdateDocumentStatus] = handleUpdateDocumentStatus
}

// deviceFromRequest resolves the output-device-uuid operation attribute
// against tgt.printer's Devices, per spec.md §4.3.4.
func deviceFromRequest(tgt target, req *goipp.Message) (*store.Device, error) {
	if tgt.printer == nil {
		return nil, ippattr.ErrNotFound
	}
	uuid, err := ippattr.String(req.Operation, "output-device-uuid")
	if err != nil {
		return nil, ippattr.ErrBadRequest
	}
	tgt.printer.RLock()
	dev, ok := tgt.printer.Devices[uuid]
	tgt.printer.RUnlock()
	if !ok {
		return nil, ippattr.ErrNotFound
	}
	return dev, nil
}

// mergeDeviceAttrs rebuilds p.DeviceAttrs from the attribute sets of every
// registered Device, per spec.md §3's merged-device-attributes rule.
// Caller holds p's write lock.
func mergeDeviceAttrs(p *store.Printer) {
	var merged goipp.Attributes
	for _, dev := range p.Devices {
		dev.RLock()
		attrs := dev.FSM.Attrs
		dev.RUnlock()
		for _, a := range attrs {
			merged = ippattr.Replace(merged, a)
		}
	}
	p.DeviceAttrs = merged
}

func handleRegisterOutputDevice(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	printerURI, err := ippattr.String(req.Operation, "printer-uri")
	if err != nil {
		return errorResponse(goipp.StatusErrorBadRequest, req.RequestID)
	}
	path, ok := ippattr.URISplit(printerURI)
	if !ok {
		return errorResponse(goipp.StatusErrorBadRequest, req.RequestID)
	}
	p, ok := d.Store.Printers.ByPath(path)
	if !ok {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	deviceURI := ippattr.StringWithDefault(req.Operation, "device-uri", "")
	uuid := ippattr.StringWithDefault(req.Operation, "output-device-uuid", "")
	if uuid == "" {
		uuid = idgen.DeviceUUID(deviceURI, d.Hostname)
	}

	p.Lock()
	if _, exists := p.Devices[uuid]; !exists {
		p.Devices[uuid] = store.NewDevice(ippattr.StringWithDefault(req.Operation, "output-device-name", uuid), uuid, p)
	}
	p.Unlock()

	d.Events.Emit(store.EventPrinterConfigChanged, p.ID, 0, 0, nil)

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	add := ippattr.Adder(&resp.Operation)
	add("output-device-uuid", goipp.TagURI, goipp.String(uuid))
	return resp
}

func handleDeregisterOutputDevice(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	dev, err := deviceFromRequest(tgt, req)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}

	tgt.printer.Lock()
	delete(tgt.printer.Devices, dev.UUID)
	mergeDeviceAttrs(tgt.printer)
	tgt.printer.Unlock()

	d.Events.Emit(store.EventPrinterConfigChanged, tgt.printer.ID, 0, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleGetOutputDeviceAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	dev, err := deviceFromRequest(tgt, req)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}

	dev.RLock()
	var attrs goipp.Attributes
	add := ippattr.Adder(&attrs)
	add("output-device-uuid", goipp.TagURI, goipp.String(dev.UUID))
	add("output-device-state", goipp.TagEnum, goipp.Integer(printerStateToIPP(dev.FSM.State)))
	add("output-device-state-reasons", goipp.TagKeyword, printerReasonsToValues(dev.FSM.Reasons)...)
	for _, a := range dev.FSM.Attrs {
		attrs = ippattr.Replace(attrs, a)
	}
	dev.RUnlock()

	f := ippattr.Filter{Requested: ippattr.Strings(req.Operation, "requested-attributes"), Defaults: []string{"all"}}
	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	resp.Printer = f.Apply(attrs)
	return resp
}

// handleUpdateOutputDeviceAttributes merges a proxy's device-attribute
// update into the named Device and recomputes the owning printer's merged
// view and effective state, per spec.md §4.3.4. Attributes ride in the
// request's printer-attributes group.
func handleUpdateOutputDeviceAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	dev, err := deviceFromRequest(tgt, req)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}

	if state, serr := ippattr.Integer(req.Printer, "output-device-state"); serr == nil {
		dev.Lock()
		dev.FSM.State = ipToPrinterState(state)
		dev.Unlock()
	}
	if reasons := ippattr.Strings(req.Printer, "output-device-state-reasons"); len(reasons) > 0 {
		dev.Lock()
		dev.FSM.Reasons = stringsToReasons(reasons)
		dev.Unlock()
	}

	dev.Lock()
	unsupported := dev.FSM.ApplyUpdate(stripDeviceStateAttrs(req.Printer))
	dev.Unlock()

	tgt.printer.Lock()
	mergeDeviceAttrs(tgt.printer)
	tgt.printer.Unlock()

	d.Events.Emit(store.EventPrinterConfigChanged, tgt.printer.ID, 0, 0, nil)

	status := goipp.StatusOk
	if len(unsupported) > 0 {
		status = goipp.StatusOkIgnoredOrSubstituted
	}
	resp := ippattr.NewResponse(status, req.RequestID)
	resp.Unsupported = unsupported
	return resp
}

// stripDeviceStateAttrs removes the operation-level output-device-state /
// output-device-state-reasons attributes before the rest of the group is
// handed to Device.ApplyUpdate, which only understands attribute merging.
func stripDeviceStateAttrs(group goipp.Attributes) goipp.Attributes {
	out := ippattr.Delete(append(goipp.Attributes{}, group...), "output-device-state")
	return ippattr.Delete(out, "output-device-state-reasons")
}

func ipToPrinterState(v int) lifecycle.PrinterState {
	switch v {
	case 4:
		return lifecycle.PrinterProcessing
	case 5:
		return lifecycle.PrinterStopped
	default:
		return lifecycle.PrinterIdle
	}
}

func stringsToReasons(ss []string) []lifecycle.PrinterStateReason {
	out := make([]lifecycle.PrinterStateReason, len(ss))
	for i, s := range ss {
		out[i] = lifecycle.PrinterStateReason(s)
	}
	return out
}

func handleAcknowledgeJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	dev, err := deviceFromRequest(tgt, req)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.job.Lock()
	if tgt.job.DeviceUUID == "" {
		tgt.job.DeviceUUID = dev.UUID
	}
	if tgt.job.DeviceUUID != dev.UUID {
		tgt.job.Unlock()
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	// A job handed off to a proxy parks in processing-stopped with reason
	// job-fetchable; acknowledging it clears that reason and resumes
	// processing so a later Update-Job-Status can complete it.
	fetchable := false
	for _, r := range tgt.job.FSM.Reasons() {
		if r == lifecycle.JSRJobFetchable {
			fetchable = true
			break
		}
	}
	if fetchable && tgt.job.FSM.State() == lifecycle.JobStopped {
		_ = tgt.job.FSM.Requeue(ctx)
		_ = tgt.job.FSM.Start(ctx)
	}
	tgt.job.Unlock()

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	tgt.job.RLock()
	resp.Job = describeJob(tgt.job)
	tgt.job.RUnlock()
	return resp
}

// handleAcknowledgeDocument records that the proxy has taken custody of
// the job's document; this single-document implementation has nothing
// further to track beyond what Acknowledge-Job already records.
func handleAcknowledgeDocument(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if _, err := deviceFromRequest(tgt, req); err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

func handleAcknowledgeIdentifyPrinter(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	tgt.printer.FSM.SetIdentifyRequested(false)
	d.Events.Emit(store.EventPrinterStateChanged, tgt.printer.ID, 0, 0, nil)

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	tgt.printer.RLock()
	add := ippattr.Adder(&resp.Operation)
	add("identify-actions", goipp.TagKeyword, stringsToValues(tgt.printer.IdentifyActions)...)
	tgt.printer.RUnlock()
	return resp
}

func stringsToValues(ss []string) []goipp.Value {
	out := make([]goipp.Value, len(ss))
	for i, s := range ss {
		out[i] = goipp.String(s)
	}
	return out
}

// handleFetchJob hands the next fetchable job on the target printer to the
// requesting proxy, per spec.md §4.8's poll-then-fetch cycle.
func handleFetchJob(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if _, err := deviceFromRequest(tgt, req); err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	tgt.printer.RLock()
	ids := tgt.printer.ActiveJobIDs()
	var fetchable *store.Job
	for _, id := range ids {
		j := tgt.printer.Jobs[id]
		j.RLock()
		isFetchable := j.FSM.State() == lifecycle.JobStopped && j.DeviceUUID == ""
		j.RUnlock()
		if isFetchable {
			fetchable = j
			break
		}
	}
	tgt.printer.RUnlock()

	if fetchable == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	resp := ippattr.NewResponse(goipp.StatusOk, req.RequestID)
	fetchable.RLock()
	resp.Job = describeJob(fetchable)
	fetchable.RUnlock()
	return resp
}

// handleFetchDocument returns the fetched job's document metadata; the
// document bytes themselves are streamed over the HTTP response body by
// internal/httpd once it owns the connection, not by this handler.
func handleFetchDocument(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if _, err := deviceFromRequest(tgt, req); err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
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
	add("compression", goipp.TagKeyword, goipp.String("none"))
	return resp
}

// handleUpdateActiveJobs lets a proxy report which of the jobs it was
// handed are still active, closing the gap left by a proxy that crashed
// mid-job: any job the proxy no longer lists as active that this daemon
// still has parked on that device is requeued.
func handleUpdateActiveJobs(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	dev, err := deviceFromRequest(tgt, req)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	if tgt.printer == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	stillActive := map[int]bool{}
	for _, id := range ippattr.Integers(req.Operation, "job-ids") {
		stillActive[id] = true
	}

	tgt.printer.RLock()
	ids := tgt.printer.ActiveJobIDs()
	jobs := make([]*store.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, tgt.printer.Jobs[id])
	}
	tgt.printer.RUnlock()

	for _, j := range jobs {
		j.Lock()
		if j.DeviceUUID == dev.UUID && !stillActive[j.ID] && j.FSM.State() == lifecycle.JobStopped {
			j.DeviceUUID = ""
			_ = j.FSM.Requeue(ctx)
		}
		j.Unlock()
	}

	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleUpdateJobStatus applies a proxy's progress report: impressions
// completed, and a completion/abort verdict carried in
// output-device-job-state, per spec.md §4.7's post-processing path.
func handleUpdateJobStatus(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	dev, err := deviceFromRequest(tgt, req)
	if err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}

	impressions := ippattr.IntegerWithDefault(req.Operation, "job-impressions-completed", -1)
	deviceState := ippattr.IntegerWithDefault(req.Operation, "output-device-job-state", 0)

	tgt.job.Lock()
	if tgt.job.DeviceUUID != dev.UUID {
		tgt.job.Unlock()
		return errorResponse(goipp.StatusErrorNotPossible, req.RequestID)
	}
	if impressions >= 0 {
		tgt.job.ImpressionsCompleted = impressions
	}

	var category store.EventMask
	switch deviceState {
	case 9: // completed
		if tgt.job.FSM.State() == lifecycle.JobProcessing {
			_ = tgt.job.FSM.Complete(ctx)
			tgt.job.Completed = time.Now()
			category = store.EventJobCompleted
		}
	case 7: // canceled
		_ = tgt.job.FSM.Cancel(ctx, lifecycle.JSRJobCanceledByUser)
		category = store.EventJobStateChanged
	case 8: // aborted
		_ = tgt.job.FSM.Abort(ctx, lifecycle.JSRJobFetchable)
		category = store.EventJobStateChanged
	default:
		category = store.EventJobProgress
	}
	jobID := tgt.job.ID
	tgt.job.Unlock()

	if category != 0 {
		d.Events.Emit(category, tgt.printer.ID, jobID, 0, nil)
	}

	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleUpdateDocumentStatus records per-document progress; with one
// document per job this folds into the same impressions-completed field
// Update-Job-Status already maintains, so there is nothing further to
// apply beyond acknowledging the report.
func handleUpdateDocumentStatus(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeProxy, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}
	if _, err := deviceFromRequest(tgt, req); err != nil {
		return errorResponse(ippattr.ToStatus(err), req.RequestID)
	}
	if tgt.job == nil {
		return errorResponse(goipp.StatusErrorNotFound, req.RequestID)
	}
	if impressions, err := ippattr.Integer(req.Operation, "impressions-completed"); err == nil {
		tgt.job.Lock()
		tgt.job.ImpressionsCompleted = impressions
		tgt.job.Unlock()
	}
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}
