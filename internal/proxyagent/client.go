// Package proxyagent is the Proxy Agent: a standalone program that
// registers a device with an Infrastructure Printer, long-polls for
// fetchable jobs, and runs them through a locally configured command, per
// spec.md §4.8. Grounded on the teacher's ipp.go (ippGetPrinterAttributes):
// build a goipp.Message, POST it with an http.Client, decode the response,
// check its status — generalized from a one-shot attribute probe into the
// full register/poll/fetch/acknowledge/update cycle.
package proxyagent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/ippattr"
)

// Client issues IPP requests against one Infrastructure Printer's URI over
// HTTP, the way the teacher's ippGetPrinterAttributes talks to a device
// behind UsbTransport, except the round trip here is a plain http.Client
// rather than IPP-over-USB.
type Client struct {
	HTTP       *http.Client
	PrinterURI string // http://host:port/ipp/print/name
	Username   string // HTTP Basic credentials, per spec.md §6's -u/-p proxy flags
	Password   string

	requestID uint32
}

// NewClient builds a Client posting to printerURI with a default
// *http.Client.
func NewClient(printerURI string) *Client {
	return &Client{HTTP: &http.Client{}, PrinterURI: printerURI}
}

// NewRequest builds an IPP request of op targeted at uri, with the
// mandatory attributes-charset/attributes-natural-language/<uriAttr>
// triplet every operation needs, per spec.md §4.6's envelope rule.
func (c *Client) NewRequest(op goipp.Op, uriAttr, uri string) *goipp.Message {
	id := atomic.AddUint32(&c.requestID, 1)
	msg := goipp.NewRequest(goipp.DefaultVersion, op, id)
	msg.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	msg.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en-us")))
	msg.Operation.Add(goipp.MakeAttribute(uriAttr, goipp.TagURI, goipp.String(uri)))
	return msg
}

// Do posts msg and returns the decoded response plus any bytes remaining in
// the HTTP body after the IPP message itself — the document data a
// Fetch-Document response carries, per spec.md §4.8 item 5's "negotiating
// an acceptable format" step.
func (c *Client) Do(ctx context.Context, msg *goipp.Message) (*goipp.Message, []byte, error) {
	reqBytes, err := msg.EncodeBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("proxyagent: encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PrinterURI, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("proxyagent: %w", err)
	}
	httpReq.Header.Set("Content-Type", goipp.ContentType)
	if c.Username != "" {
		httpReq.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("proxyagent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, nil, fmt.Errorf("proxyagent: HTTP %s", resp.Status)
	}

	respMsg := &goipp.Message{}
	if err := respMsg.Decode(resp.Body); err != nil {
		return nil, nil, fmt.Errorf("proxyagent: decode: %w", err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("proxyagent: reading document data: %w", err)
	}

	if respMsg.Code >= 0x100 {
		return respMsg, data, fmt.Errorf("proxyagent: IPP %s", goipp.Status(respMsg.Code))
	}

	return respMsg, data, nil
}

// addOperationAttr is a small convenience wrapper around ippattr.Adder for
// the single-attribute case most request builders need.
func addOperationAttr(msg *goipp.Message, name string, tag goipp.Tag, v goipp.Value) {
	add := ippattr.Adder(&msg.Operation)
	add(name, tag, v)
}
