package proxyagent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/idgen"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/logging"
)

// ConnectRetryInterval is how often the agent retries reaching the
// Infrastructure Printer before it is up, per spec.md §4.8 item 2.
const ConnectRetryInterval = 30 * time.Second

// DefaultPollInterval is used when the server's notify-get-interval is
// absent or out of the (0, 3600] range spec.md §4.8 allows.
const DefaultPollInterval = 30 * time.Second

// Config names the device this Agent represents and how it processes a
// fetched job's document.
type Config struct {
	PrinterURI string // http://host:port/ipp/print/name, the Dispatcher's own base URI
	DeviceURI  string // this device's own URI, hashed into its UUID
	DeviceName string
	Command    string // local command run on the fetched document; "" reports completion with no transform
	Hostname   string
	Username   string // HTTP Basic credentials, per the ippproxy -u/-p flags
	Password   string
}

// Agent drives one device's registration, notification poll, and
// fetch/acknowledge/update cycle against a single Infrastructure Printer.
type Agent struct {
	Config Config
	Client *Client
	Log    *logging.Logger

	deviceUUID     string
	subscriptionID int
	pollInterval   time.Duration
}

// New builds an Agent for cfg, deriving its device UUID up front per
// spec.md §4.8 item 1.
func New(cfg Config) *Agent {
	client := NewClient(cfg.PrinterURI)
	client.Username = cfg.Username
	client.Password = cfg.Password

	return &Agent{
		Config:       cfg,
		Client:       client,
		Log:          logging.Main,
		deviceUUID:   idgen.DeviceUUID(cfg.DeviceURI, cfg.Hostname),
		pollInterval: DefaultPollInterval,
	}
}

// Run installs signal handlers, connects, registers, subscribes, and then
// polls for fetchable jobs until ctx is canceled or a signal arrives, per
// spec.md §4.8. It deregisters on the way out.
func (a *Agent) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.connect(ctx); err != nil {
		return err
	}

	if err := a.register(ctx); err != nil {
		return fmt.Errorf("proxyagent: register: %w", err)
	}
	a.Log.Debug(' ', "registered device %s", a.deviceUUID)

	if err := a.subscribe(ctx); err != nil {
		return fmt.Errorf("proxyagent: subscribe: %w", err)
	}
	defer a.deregister()

	return a.pollLoop(ctx)
}

// connect retries Get-Printer-Attributes every ConnectRetryInterval until
// the printer answers or ctx is canceled, per spec.md §4.8 item 2.
func (a *Agent) connect(ctx context.Context) error {
	for {
		msg := a.Client.NewRequest(goipp.OpGetPrinterAttributes, "printer-uri", a.Config.PrinterURI)
		if _, _, err := a.Client.Do(ctx, msg); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ConnectRetryInterval):
		}
	}
}

// register issues Register-Output-Device, binding a.deviceUUID to the
// printer, per spec.md §4.8 item 4.
func (a *Agent) register(ctx context.Context) error {
	msg := a.Client.NewRequest(goipp.OpRegisterOutputDevice, "printer-uri", a.Config.PrinterURI)
	addOperationAttr(msg, "device-uri", goipp.TagURI, goipp.String(a.Config.DeviceURI))
	addOperationAttr(msg, "output-device-uuid", goipp.TagURI, goipp.String(a.deviceUUID))
	if a.Config.DeviceName != "" {
		addOperationAttr(msg, "output-device-name", goipp.TagName, goipp.String(a.Config.DeviceName))
	}

	resp, _, err := a.Client.Do(ctx, msg)
	if err != nil {
		return err
	}
	if uuid, uerr := ippattr.String(resp.Operation, "output-device-uuid"); uerr == nil {
		a.deviceUUID = uuid
	}
	return nil
}

// subscribe opens a printer-scoped subscription on job-stopped (the
// category a job-fetchable hand-off is emitted under) so pollLoop's
// Get-Notifications calls have something to wait on.
func (a *Agent) subscribe(ctx context.Context) error {
	msg := a.Client.NewRequest(goipp.OpCreatePrinterSubscriptions, "printer-uri", a.Config.PrinterURI)
	addSub := ippattr.Adder(&msg.Subscription)
	addSub("notify-events", goipp.TagKeyword, goipp.String("job-stopped"))

	resp, _, err := a.Client.Do(ctx, msg)
	if err != nil {
		return err
	}
	id, err := ippattr.Integer(resp.Subscription, "notify-subscription-id")
	if err != nil {
		return fmt.Errorf("proxyagent: subscription response missing notify-subscription-id: %w", err)
	}
	a.subscriptionID = id
	return nil
}

// deregister issues Cancel-Subscription and returns, per spec.md §4.8
// item 6. It logs rather than returns an error, since the process is
// already on its way out.
func (a *Agent) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := a.Client.NewRequest(goipp.OpCancelSubscription, "printer-uri", a.Config.PrinterURI)
	addOperationAttr(msg, "notify-subscription-id", goipp.TagInteger, goipp.Integer(a.subscriptionID))
	if _, _, err := a.Client.Do(ctx, msg); err != nil {
		a.Log.Error('!', "deregistering subscription %d: %s", a.subscriptionID, err)
	}
}

// pollLoop long-polls Get-Notifications and processes every fetchable job
// it's woken for, per spec.md §4.8 items 4-5.
func (a *Agent) pollLoop(ctx context.Context) error {
	lastSeq := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg := a.Client.NewRequest(goipp.OpGetNotifications, "printer-uri", a.Config.PrinterURI)
		addOperationAttr(msg, "notify-subscription-ids", goipp.TagInteger, goipp.Integer(a.subscriptionID))
		addOperationAttr(msg, "notify-sequence-numbers", goipp.TagInteger, goipp.Integer(lastSeq))
		addOperationAttr(msg, "notify-wait", goipp.TagBoolean, goipp.Boolean(true))

		resp, _, err := a.Client.Do(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.Log.Error('!', "get-notifications: %s", err)
			time.Sleep(a.pollInterval)
			continue
		}

		interval := ippattr.IntegerWithDefault(resp.Operation, "notify-get-interval", int(DefaultPollInterval/time.Second))
		if interval > 0 && interval <= 3600 {
			a.pollInterval = time.Duration(interval) * time.Second
		}

		for _, g := range resp.Groups {
			if g.Tag != goipp.TagEventNotificationGroup {
				continue
			}
			if seq, serr := ippattr.Integer(g.Attrs, "notify-sequence-number"); serr == nil && seq > lastSeq {
				lastSeq = seq
			}
		}

		a.processFetchableJobs(ctx)
	}
}

// processFetchableJobs repeatedly fetches the next fetchable job on the
// printer and runs it to completion until Fetch-Job reports none left,
// per spec.md §4.8 item 5.
func (a *Agent) processFetchableJobs(ctx context.Context) {
	for {
		jobAttrs, ok := a.fetchJob(ctx)
		if !ok {
			return
		}
		a.processOneJob(ctx, jobAttrs)
	}
}

func (a *Agent) fetchJob(ctx context.Context) (goipp.Attributes, bool) {
	msg := a.Client.NewRequest(goipp.OpFetchJob, "printer-uri", a.Config.PrinterURI)
	addOperationAttr(msg, "output-device-uuid", goipp.TagURI, goipp.String(a.deviceUUID))

	resp, _, err := a.Client.Do(ctx, msg)
	if err != nil {
		return nil, false
	}
	return resp.Job, true
}

// processOneJob acknowledges, fetches the document, runs it through the
// configured command, and reports the outcome, per spec.md §4.8 item 5.
func (a *Agent) processOneJob(ctx context.Context, jobAttrs goipp.Attributes) {
	jobID, err := ippattr.Integer(jobAttrs, "job-id")
	if err != nil {
		return
	}
	jobURI, err := ippattr.String(jobAttrs, "job-uri")
	if err != nil {
		return
	}

	if err := a.acknowledgeJob(ctx, jobURI); err != nil {
		a.Log.Error('!', "job %d: acknowledge: %s", jobID, err)
		return
	}

	data, format, err := a.fetchDocument(ctx, jobURI)
	if err != nil {
		a.Log.Error('!', "job %d: fetch-document: %s", jobID, err)
		a.updateJobStatus(ctx, jobURI, -1, deviceJobStateAborted)
		return
	}

	impressions, runErr := a.runCommand(data, format)
	if runErr != nil {
		a.Log.Error('!', "job %d: command: %s", jobID, runErr)
		a.updateJobStatus(ctx, jobURI, impressions, deviceJobStateAborted)
		return
	}

	a.updateJobStatus(ctx, jobURI, impressions, deviceJobStateCompleted)
}

func (a *Agent) acknowledgeJob(ctx context.Context, jobURI string) error {
	msg := a.Client.NewRequest(goipp.OpAcknowledgeJob, "printer-uri", jobURI)
	addOperationAttr(msg, "output-device-uuid", goipp.TagURI, goipp.String(a.deviceUUID))
	_, _, err := a.Client.Do(ctx, msg)
	return err
}

// fetchDocument negotiates document-format (spec.md §4.8 item 5's
// "negotiating an acceptable format") by simply accepting whatever format
// the job carries, since this daemon supports exactly one document per
// job and no transcoding.
func (a *Agent) fetchDocument(ctx context.Context, jobURI string) (data []byte, format string, err error) {
	msg := a.Client.NewRequest(goipp.OpFetchDocument, "printer-uri", jobURI)
	addOperationAttr(msg, "output-device-uuid", goipp.TagURI, goipp.String(a.deviceUUID))

	resp, body, derr := a.Client.Do(ctx, msg)
	if derr != nil {
		return nil, "", derr
	}
	format, _ = ippattr.String(resp.Document, "document-format")
	return body, format, nil
}

// runCommand runs the configured local command on the fetched document,
// the way internal/jobproc's runCommand drives a configured printer
// command, generalized here to run against in-memory bytes over stdin
// rather than a spool file path, since the proxy never writes one to
// disk. It returns impressions-completed parsed from an ATTR: impressions
// stderr line, or 0 if the command never reports one.
func (a *Agent) runCommand(data []byte, format string) (impressions int, err error) {
	if a.Config.Command == "" {
		return 0, nil
	}

	cmd := exec.Command(a.Config.Command)
	cmd.Env = append(os.Environ(), "IPP_DOCUMENT_FORMAT="+format)
	cmd.Stdin = bytes.NewReader(data)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	impressions = scanImpressions(stderr)

	if err := cmd.Wait(); err != nil {
		return impressions, err
	}
	return impressions, nil
}

// scanImpressions reads the child's stderr line by line looking for an
// "ATTR: impressions-completed=<n>" directive, the same STATE:/ATTR:
// out-of-band protocol internal/jobproc's runCommand scans for a locally
// run transform.
func scanImpressions(r io.Reader) int {
	impressions := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "ATTR:") {
			continue
		}
		body := strings.TrimSpace(line[len("ATTR:"):])
		for _, pair := range strings.Fields(body) {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			if name != "impressions-completed" && name != "job-impressions-completed" {
				continue
			}
			if n, err := strconv.Atoi(value); err == nil {
				impressions = n
			}
		}
	}
	return impressions
}

const (
	deviceJobStateCompleted = 9
	deviceJobStateAborted   = 8
)

func (a *Agent) updateJobStatus(ctx context.Context, jobURI string, impressions, deviceState int) {
	msg := a.Client.NewRequest(goipp.OpUpdateJobStatus, "printer-uri", jobURI)
	addOperationAttr(msg, "output-device-uuid", goipp.TagURI, goipp.String(a.deviceUUID))
	if impressions >= 0 {
		addOperationAttr(msg, "job-impressions-completed", goipp.TagInteger, goipp.Integer(impressions))
	}
	addOperationAttr(msg, "output-device-job-state", goipp.TagEnum, goipp.Integer(deviceState))
	if _, _, err := a.Client.Do(ctx, msg); err != nil {
		a.Log.Error('!', "update-job-status: %s", err)
	}
}
