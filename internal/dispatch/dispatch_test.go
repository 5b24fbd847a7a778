package dispatch

import (
	"context"
	"testing"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

func newTestDispatcher() *Dispatcher {
	s := store.New()
	eng := events.NewEngine(s)
	chk := access.NewChecker(access.Groups{Admin: "*", Operator: "*", Proxy: "*"})
	return NewDispatcher(s, eng, chk, "printer.example.com")
}

func newRequest(op goipp.Op, id uint32, uriAttr, uri string) *goipp.Message {
	msg := goipp.NewRequest(goipp.DefaultVersion, op, id)
	add := addAttr(&msg.Operation)
	add("attributes-charset", goipp.TagCharset, goipp.String("utf-8"))
	add("attributes-natural-language", goipp.TagLanguage, goipp.String("en-us"))
	add(uriAttr, goipp.TagURI, goipp.String(uri))
	return msg
}

func addAttr(group *goipp.Attributes) func(string, goipp.Tag, goipp.Value) {
	return func(name string, tag goipp.Tag, v goipp.Value) {
		group.Add(goipp.MakeAttribute(name, tag, v))
	}
}

func createTestPrinter(t *testing.T, d *Dispatcher) string {
	t.Helper()
	req := newRequest(goipp.OpCreatePrinter, 1, "system-uri", "ipp://printer.example.com/ipp/system")
	add := addAttr(&req.Printer)
	add("printer-name", goipp.TagName, goipp.String("office-1"))
	resp := d.Handle(context.Background(), req, "admin", nil)
	if goipp.Status(resp.Code) != goipp.StatusOk {
		t.Fatalf("Create-Printer failed: %v", goipp.Status(resp.Code))
	}
	return "ipp://printer.example.com/ipp/print/office-1"
}

func TestCreatePrinterThenGetPrinterAttributes(t *testing.T) {
	d := newTestDispatcher()
	printerURI := createTestPrinter(t, d)

	req := newRequest(goipp.OpGetPrinterAttributes, 2, "printer-uri", printerURI)
	resp := d.Handle(context.Background(), req, "alice", nil)
	if goipp.Status(resp.Code) != goipp.StatusOk {
		t.Fatalf("Get-Printer-Attributes failed: %v", goipp.Status(resp.Code))
	}
	name, err := findString(resp.Printer, "printer-name")
	if err != nil || name != "office-1" {
		t.Fatalf("expected printer-name office-1, got %q, %v", name, err)
	}
}

func TestCreateJobSendDocumentAndCancel(t *testing.T) {
	d := newTestDispatcher()
	printerURI := createTestPrinter(t, d)

	createReq := newRequest(goipp.OpCreateJob, 3, "printer-uri", printerURI)
	createResp := d.Handle(context.Background(), createReq, "alice", nil)
	if goipp.Status(createResp.Code) != goipp.StatusOk {
		t.Fatalf("Create-Job failed: %v", goipp.Status(createResp.Code))
	}
	jobID, _ := findInt(createResp.Job, "job-id")
	if jobID == 0 {
		t.Fatal("expected a job-id in the Create-Job response")
	}

	sendReq := newRequest(goipp.OpSendDocument, 4, "printer-uri", printerURI)
	addAttr(&sendReq.Operation)("job-id", goipp.TagInteger, goipp.Integer(jobID))
	addAttr(&sendReq.Operation)("last-document", goipp.TagBoolean, goipp.Boolean(true))
	sendResp := d.Handle(context.Background(), sendReq, "alice", nil)
	if goipp.Status(sendResp.Code) != goipp.StatusOk {
		t.Fatalf("Send-Document failed: %v", goipp.Status(sendResp.Code))
	}
	state, _ := findInt(sendResp.Job, "job-state")
	if state != 3 {
		t.Fatalf("expected job-state pending(3) after last document, got %d", state)
	}

	cancelReq := newRequest(goipp.OpCancelJob, 5, "printer-uri", printerURI)
	addAttr(&cancelReq.Operation)("job-id", goipp.TagInteger, goipp.Integer(jobID))
	cancelResp := d.Handle(context.Background(), cancelReq, "alice", nil)
	if goipp.Status(cancelResp.Code) != goipp.StatusOk {
		t.Fatalf("Cancel-Job failed: %v", goipp.Status(cancelResp.Code))
	}

	// A second Send-Document on the same job must be rejected: this
	// implementation supports exactly one document per job.
	secondSend := newRequest(goipp.OpSendDocument, 6, "printer-uri", printerURI)
	addAttr(&secondSend.Operation)("job-id", goipp.TagInteger, goipp.Integer(jobID))
	secondResp := d.Handle(context.Background(), secondSend, "alice", nil)
	if goipp.Status(secondResp.Code) != goipp.StatusErrorMultipleJobsNotSupported {
		t.Fatalf("expected multiple-document rejection, got %v", goipp.Status(secondResp.Code))
	}
}

func TestSendDocumentDeniedForNonOwner(t *testing.T) {
	d := newTestDispatcher()
	printerURI := createTestPrinter(t, d)

	createReq := newRequest(goipp.OpCreateJob, 7, "printer-uri", printerURI)
	createResp := d.Handle(context.Background(), createReq, "alice", nil)
	jobID, _ := findInt(createResp.Job, "job-id")

	sendReq := newRequest(goipp.OpSendDocument, 8, "printer-uri", printerURI)
	addAttr(&sendReq.Operation)("job-id", goipp.TagInteger, goipp.Integer(jobID))
	resp := d.Handle(context.Background(), sendReq, "mallory", nil)
	if goipp.Status(resp.Code) != goipp.StatusErrorNotAuthorized {
		t.Fatalf("expected not-authorized for a non-owner, got %v", goipp.Status(resp.Code))
	}
}

func TestGetJobsWhichJobsFilter(t *testing.T) {
	d := newTestDispatcher()
	printerURI := createTestPrinter(t, d)

	for i := 0; i < 2; i++ {
		req := newRequest(goipp.OpCreateJob, uint32(10+i), "printer-uri", printerURI)
		d.Handle(context.Background(), req, "alice", nil)
	}

	req := newRequest(goipp.OpGetJobs, 20, "printer-uri", printerURI)
	resp := d.Handle(context.Background(), req, "alice", nil)
	if goipp.Status(resp.Code) != goipp.StatusOk {
		t.Fatalf("Get-Jobs failed: %v", goipp.Status(resp.Code))
	}

	jobGroups := 0
	for _, g := range resp.Groups {
		if g.Tag == goipp.TagJobGroup {
			jobGroups++
		}
	}
	if jobGroups != 2 {
		t.Fatalf("expected 2 job groups, got %d (groups=%v)", jobGroups, resp.Groups)
	}
}

func TestCreatePrinterSubscriptionsAndGetNotifications(t *testing.T) {
	d := newTestDispatcher()
	printerURI := createTestPrinter(t, d)

	subReq := newRequest(goipp.OpCreatePrinterSubscriptions, 30, "printer-uri", printerURI)
	addAttr(&subReq.Subscription)("notify-events", goipp.TagKeyword, goipp.String("printer-state-changed"))
	subResp := d.Handle(context.Background(), subReq, "alice", nil)
	if goipp.Status(subResp.Code) != goipp.StatusOk {
		t.Fatalf("Create-Printer-Subscriptions failed: %v", goipp.Status(subResp.Code))
	}
	subID, _ := findInt(subResp.Subscription, "notify-subscription-id")
	if subID == 0 {
		t.Fatal("expected a notify-subscription-id")
	}

	identifyReq := newRequest(goipp.OpIdentifyPrinter, 31, "printer-uri", printerURI)
	identifyResp := d.Handle(context.Background(), identifyReq, "alice", nil)
	if goipp.Status(identifyResp.Code) != goipp.StatusOk {
		t.Fatalf("Identify-Printer failed: %v", goipp.Status(identifyResp.Code))
	}

	notifyReq := newRequest(goipp.OpGetNotifications, 32, "printer-uri", printerURI)
	addAttr(&notifyReq.Operation)("notify-subscription-ids", goipp.TagInteger, goipp.Integer(subID))
	notifyResp := d.Handle(context.Background(), notifyReq, "alice", nil)
	if goipp.Status(notifyResp.Code) != goipp.StatusOk {
		t.Fatalf("Get-Notifications failed: %v", goipp.Status(notifyResp.Code))
	}

	found := false
	for _, g := range notifyResp.Groups {
		if g.Tag == goipp.TagEventNotificationGroup {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one event-notification group after Identify-Printer")
	}
}

func TestProxyRegisterAcknowledgeCompleteCycle(t *testing.T) {
	d := newTestDispatcher()
	printerURI := createTestPrinter(t, d)

	regReq := newRequest(goipp.OpRegisterOutputDevice, 40, "system-uri", "ipp://printer.example.com/ipp/system")
	addAttr(&regReq.Operation)("printer-uri", goipp.TagURI, goipp.String(printerURI))
	addAttr(&regReq.Operation)("device-uri", goipp.TagURI, goipp.String("usb://Example/Printer"))
	regResp := d.Handle(context.Background(), regReq, "proxy", nil)
	if goipp.Status(regResp.Code) != goipp.StatusOk {
		t.Fatalf("Register-Output-Device failed: %v", goipp.Status(regResp.Code))
	}
	deviceUUID, err := findString(regResp.Operation, "output-device-uuid")
	if err != nil || deviceUUID == "" {
		t.Fatalf("expected an output-device-uuid, got %q, %v", deviceUUID, err)
	}

	createReq := newRequest(goipp.OpCreateJob, 41, "printer-uri", printerURI)
	createResp := d.Handle(context.Background(), createReq, "alice", nil)
	jobID, _ := findInt(createResp.Job, "job-id")

	p, _ := d.Store.Printers.ByPath("/ipp/print/office-1")
	p.RLock()
	j := p.Jobs[jobID]
	p.RUnlock()

	// Simulate the Job Processor handing this job off to the proxy: park
	// it in processing-stopped with reason job-fetchable.
	ctx := context.Background()
	j.Lock()
	_ = j.FSM.Start(ctx)
	_ = j.FSM.Stop(ctx, lifecycle.JSRJobFetchable)
	j.Unlock()

	ackReq := newRequest(goipp.OpAcknowledgeJob, 42, "printer-uri", printerURI)
	addAttr(&ackReq.Operation)("job-id", goipp.TagInteger, goipp.Integer(jobID))
	addAttr(&ackReq.Operation)("output-device-uuid", goipp.TagURI, goipp.String(deviceUUID))
	ackResp := d.Handle(ctx, ackReq, "proxy", nil)
	if goipp.Status(ackResp.Code) != goipp.StatusOk {
		t.Fatalf("Acknowledge-Job failed: %v", goipp.Status(ackResp.Code))
	}
	if j.FSM.State() != lifecycle.JobProcessing {
		t.Fatalf("expected job back in processing after Acknowledge-Job, got %s", j.FSM.State())
	}

	statusReq := newRequest(goipp.OpUpdateJobStatus, 43, "printer-uri", printerURI)
	addAttr(&statusReq.Operation)("job-id", goipp.TagInteger, goipp.Integer(jobID))
	addAttr(&statusReq.Operation)("output-device-uuid", goipp.TagURI, goipp.String(deviceUUID))
	addAttr(&statusReq.Operation)("output-device-job-state", goipp.TagInteger, goipp.Integer(9))
	addAttr(&statusReq.Operation)("job-impressions-completed", goipp.TagInteger, goipp.Integer(3))
	statusResp := d.Handle(ctx, statusReq, "proxy", nil)
	if goipp.Status(statusResp.Code) != goipp.StatusOk {
		t.Fatalf("Update-Job-Status failed: %v", goipp.Status(statusResp.Code))
	}
	if j.FSM.State() != lifecycle.JobCompleted {
		t.Fatalf("expected job completed after Update-Job-Status, got %s", j.FSM.State())
	}
}

func TestOperationNotSupportedForResourceOps(t *testing.T) {
	d := newTestDispatcher()
	req := newRequest(goipp.OpGetResources, 50, "system-uri", "ipp://printer.example.com/ipp/system")
	resp := d.Handle(context.Background(), req, "alice", nil)
	if goipp.Status(resp.Code) != goipp.StatusErrorOperationNotSupported {
		t.Fatalf("expected operation-not-supported, got %v", goipp.Status(resp.Code))
	}
}

func findString(group goipp.Attributes, name string) (string, error) {
	for _, a := range group {
		if a.Name == name {
			if s, ok := a.Values[0].V.(goipp.String); ok {
				return string(s), nil
			}
		}
	}
	return "", errNotFoundInTest
}

func findInt(group goipp.Attributes, name string) (int, error) {
	for _, a := range group {
		if a.Name == name {
			if i, ok := a.Values[0].V.(goipp.Integer); ok {
				return int(i), nil
			}
		}
	}
	return 0, errNotFoundInTest
}

var errNotFoundInTest = &testLookupError{}

type testLookupError struct{}

func (e *testLookupError) Error() string { return "attribute not found" }
