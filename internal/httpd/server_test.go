package httpd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/dispatch"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/store"
)

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

func postIPP(t *testing.T, srv *httptest.Server, msg *goipp.Message, user, pass string) *http.Response {
	t.Helper()
	b, err := msg.EncodeBytes()
	if err != nil {
		t.Fatalf("encode: %s", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %s", err)
	}
	req.Header.Set("Content-Type", goipp.ContentType)
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %s", err)
	}
	return resp
}

func decodeIPP(t *testing.T, resp *http.Response) (*goipp.Message, []byte) {
	t.Helper()
	defer resp.Body.Close()
	msg := &goipp.Message{}
	if err := msg.Decode(resp.Body); err != nil {
		t.Fatalf("decode response: %s", err)
	}
	rest, _ := io.ReadAll(resp.Body)
	return msg, rest
}

func TestServerRejectsMissingAuthWhenRequired(t *testing.T) {
	s := store.New()
	eng := events.NewEngine(s)
	chk := access.NewChecker(access.Groups{Admin: "ops", Operator: "ops", Proxy: "ops"})
	d := dispatch.NewDispatcher(s, eng, chk, "printer.example.com")

	h := NewServer(d, true)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req := newRequest(goipp.OpGetPrinterAttributes, 1, "printer-uri", "ipp://printer.example.com/ipp/print/office-1")
	resp := postIPP(t, srv, req, "", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no credentials and RequireAuth set, got %d", resp.StatusCode)
	}
}

func TestServerCreatePrinterAndFetchDocument(t *testing.T) {
	s := store.New()
	eng := events.NewEngine(s)
	chk := access.NewChecker(access.Groups{Admin: "*", Operator: "*", Proxy: "*"})
	d := dispatch.NewDispatcher(s, eng, chk, "printer.example.com")

	h := NewServer(d, false)
	srv := httptest.NewServer(h)
	defer srv.Close()

	createReq := newRequest(goipp.OpCreatePrinter, 1, "system-uri", "ipp://printer.example.com/ipp/system")
	createReq.Printer.Add(goipp.MakeAttribute("printer-name", goipp.TagName, goipp.String("office-1")))
	resp := postIPP(t, srv, createReq, "admin", "")
	createResp, _ := decodeIPP(t, resp)
	if goipp.Status(createResp.Code) != goipp.StatusOk {
		t.Fatalf("Create-Printer failed: %v", goipp.Status(createResp.Code))
	}

	ctx := context.Background()

	jobReq := newRequest(goipp.OpCreateJob, 2, "printer-uri", "ipp://printer.example.com/ipp/print/office-1")
	jobResp := d.Handle(ctx, jobReq, "alice", nil)
	jobID, err := ippattr.Integer(jobResp.Job, "job-id")
	if err != nil {
		t.Fatalf("expected job-id: %s", err)
	}

	sendReq := newRequest(goipp.OpSendDocument, 3, "printer-uri", "ipp://printer.example.com/ipp/print/office-1")
	sendReq.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))
	sendReq.Operation.Add(goipp.MakeAttribute("last-document", goipp.TagBoolean, goipp.Boolean(true)))
	sendResp := d.Handle(ctx, sendReq, "alice", bytes.NewReader([]byte("hello world")))
	if goipp.Status(sendResp.Code) != goipp.StatusOk {
		t.Fatalf("Send-Document failed: %v", goipp.Status(sendResp.Code))
	}

	registerReq := newRequest(goipp.OpRegisterOutputDevice, 5, "printer-uri", "ipp://printer.example.com/ipp/print/office-1")
	registerReq.Operation.Add(goipp.MakeAttribute("device-uri", goipp.TagURI, goipp.String("usb://Example/Printer")))
	registerReq.Operation.Add(goipp.MakeAttribute("output-device-uuid", goipp.TagURI, goipp.String("urn:uuid:test-device")))
	registerResp := d.Handle(ctx, registerReq, "proxy", nil)
	if goipp.Status(registerResp.Code) != goipp.StatusOk {
		t.Fatalf("Register-Output-Device failed: %v", goipp.Status(registerResp.Code))
	}

	fetchReq := newRequest(goipp.OpFetchDocument, 4, "printer-uri",
		"ipp://printer.example.com/ipp/print/office-1/"+strconv.Itoa(jobID))
	fetchReq.Operation.Add(goipp.MakeAttribute("output-device-uuid", goipp.TagURI, goipp.String("urn:uuid:test-device")))
	fetchResp := postIPP(t, srv, fetchReq, "", "")
	msg, docBytes := decodeIPP(t, fetchResp)
	if goipp.Status(msg.Code) != goipp.StatusOk {
		t.Fatalf("Fetch-Document failed: %v", goipp.Status(msg.Code))
	}
	if string(docBytes) != "hello world" {
		t.Fatalf("expected streamed document bytes %q, got %q", "hello world", docBytes)
	}
}
