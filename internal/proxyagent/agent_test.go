package proxyagent

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/dispatch"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

// testServer wraps a *dispatch.Dispatcher in a minimal stand-in for
// internal/httpd's request/response framing: decode the IPP message off
// the request body, dispatch it, encode the response, and (standing in
// for internal/httpd's document streaming) append ts.doc after a
// successful Fetch-Document response.
type testServer struct {
	d   *dispatch.Dispatcher
	doc []byte // document bytes returned after a successful Fetch-Document
}

func (ts *testServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &goipp.Message{}
	if err := req.Decode(r.Body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, _ := io.ReadAll(r.Body)

	resp := ts.d.Handle(r.Context(), req, "proxy", bytes.NewReader(body))

	respBytes, err := resp.EncodeBytes()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", goipp.ContentType)
	w.Write(respBytes)

	if goipp.Op(req.Code) == goipp.OpFetchDocument && goipp.Status(resp.Code) == goipp.StatusOk {
		w.Write(ts.doc)
	}
}

func newRequest(op goipp.Op, id uint32, uriAttr, uri string) *goipp.Message {
	msg := goipp.NewRequest(goipp.DefaultVersion, op, id)
	add := func(name string, tag goipp.Tag, v goipp.Value) {
		msg.Operation.Add(goipp.MakeAttribute(name, tag, v))
	}
	add("attributes-charset", goipp.TagCharset, goipp.String("utf-8"))
	add("attributes-natural-language", goipp.TagLanguage, goipp.String("en-us"))
	add(uriAttr, goipp.TagURI, goipp.String(uri))
	return msg
}

const testPrinterURI = "ipp://printer.example.com/ipp/print/office-1"

func newFixture(t *testing.T) (*httptest.Server, *dispatch.Dispatcher, *testServer) {
	t.Helper()
	s := store.New()
	eng := events.NewEngine(s)
	chk := access.NewChecker(access.Groups{Admin: "*", Operator: "*", Proxy: "*"})
	d := dispatch.NewDispatcher(s, eng, chk, "printer.example.com")

	createReq := newRequest(goipp.OpCreatePrinter, 1, "system-uri", "ipp://printer.example.com/ipp/system")
	createReq.Printer.Add(goipp.MakeAttribute("printer-name", goipp.TagName, goipp.String("office-1")))
	resp := d.Handle(context.Background(), createReq, "admin", nil)
	if goipp.Status(resp.Code) != goipp.StatusOk {
		t.Fatalf("Create-Printer failed: %v", goipp.Status(resp.Code))
	}

	ts := &testServer{d: d}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	return srv, d, ts
}

func TestClientRegisterSubscribeFetchAcknowledgeUpdateCycle(t *testing.T) {
	srv, d, ts := newFixture(t)

	a := New(Config{
		PrinterURI: srv.URL + "/ipp/print/office-1",
		DeviceURI:  "usb://Example/Printer",
		DeviceName: "Example Printer",
		Hostname:   "agent-host",
	})

	ctx := context.Background()

	if err := a.connect(ctx); err != nil {
		t.Fatalf("connect: %s", err)
	}
	if err := a.register(ctx); err != nil {
		t.Fatalf("register: %s", err)
	}
	if a.deviceUUID == "" {
		t.Fatal("expected a non-empty device UUID after register")
	}
	if err := a.subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %s", err)
	}
	if a.subscriptionID == 0 {
		t.Fatal("expected a non-zero subscription id after subscribe")
	}

	// Create a job directly against the dispatcher (a client submitting a
	// print job is out of this package's scope) and attach a document so
	// Fetch-Document has bytes to return.
	createReq := newRequest(goipp.OpCreateJob, 2, "printer-uri", testPrinterURI)
	createResp := d.Handle(ctx, createReq, "alice", nil)
	if goipp.Status(createResp.Code) != goipp.StatusOk {
		t.Fatalf("Create-Job failed: %v", goipp.Status(createResp.Code))
	}
	jobID, err := ippattr.Integer(createResp.Job, "job-id")
	if err != nil {
		t.Fatalf("expected job-id in Create-Job response: %s", err)
	}

	sendReq := newRequest(goipp.OpSendDocument, 3, "printer-uri", testPrinterURI)
	sendReq.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))
	sendReq.Operation.Add(goipp.MakeAttribute("last-document", goipp.TagBoolean, goipp.Boolean(true)))
	sendResp := d.Handle(ctx, sendReq, "alice", bytes.NewReader([]byte("test document bytes")))
	if goipp.Status(sendResp.Code) != goipp.StatusOk {
		t.Fatalf("Send-Document failed: %v", goipp.Status(sendResp.Code))
	}
	ts.doc = []byte("test document bytes")

	p, _ := d.Store.Printers.ByPath("/ipp/print/office-1")
	p.RLock()
	j := p.Jobs[jobID]
	p.RUnlock()

	// Simulate internal/jobproc's hand-off to the proxy group.
	j.Lock()
	_ = j.FSM.Start(ctx)
	_ = j.FSM.Stop(ctx, lifecycle.JSRJobFetchable)
	j.Unlock()

	a.processFetchableJobs(ctx)

	if j.FSM.State() != lifecycle.JobCompleted {
		t.Fatalf("expected job completed after the fetch/acknowledge/update cycle, got %s", j.FSM.State())
	}
	j.RLock()
	impressions := j.ImpressionsCompleted
	j.RUnlock()
	if impressions != 0 {
		t.Fatalf("expected no impressions reported with no configured command, got %d", impressions)
	}
}

func TestAgentConnectRetriesUntilReachable(t *testing.T) {
	srv, _, _ := newFixture(t)
	srv.Close() // printer immediately unreachable

	a := New(Config{PrinterURI: srv.URL + "/ipp/print/office-1", DeviceURI: "usb://Example/Printer"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := a.connect(ctx); err == nil {
		t.Fatal("expected connect to fail against a closed server within the timeout")
	}
}
