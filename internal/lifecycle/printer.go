package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// PrinterState is a printer's reported state, per RFC 8011 §5.4.18. The
// enum ordering idle < processing < stopped is relied on by EffectiveState.
type PrinterState int32

// Printer states.
const (
	PrinterIdle PrinterState = iota
	PrinterProcessing
	PrinterStopped
)

func (s PrinterState) String() string {
	switch s {
	case PrinterIdle:
		return "idle"
	case PrinterProcessing:
		return "processing"
	case PrinterStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PrinterStateReason enumerates the printer-state-reasons keywords this
// daemon sets, per RFC 8011 §5.4.19 and the extensions spec.md §3 names.
type PrinterStateReason string

// Printer state reasons.
const (
	PSRNone                   PrinterStateReason = "none"
	PSROther                  PrinterStateReason = "other"
	PSRCoverOpen              PrinterStateReason = "cover-open"
	PSRMediaEmpty             PrinterStateReason = "media-empty"
	PSRMediaJam               PrinterStateReason = "media-jam"
	PSRMediaLow               PrinterStateReason = "media-low"
	PSRMediaNeeded            PrinterStateReason = "media-needed"
	PSRMarkerSupplyLow        PrinterStateReason = "marker-supply-low"
	PSRMarkerSupplyEmpty      PrinterStateReason = "marker-supply-empty"
	PSRTonerLow               PrinterStateReason = "toner-low"
	PSRTonerEmpty             PrinterStateReason = "toner-empty"
	PSRDoorOpen               PrinterStateReason = "door-open"
	PSRInputTrayMissing       PrinterStateReason = "input-tray-missing"
	PSROutputTrayMissing      PrinterStateReason = "output-tray-missing"
	PSROutputAreaFull         PrinterStateReason = "output-area-full"
	PSRPaused                 PrinterStateReason = "paused"
	PSRMovingToPaused         PrinterStateReason = "moving-to-paused"
	PSRShutdown               PrinterStateReason = "shutdown"
	PSRConnectingToDevice     PrinterStateReason = "connecting-to-device"
	PSRTimedOut               PrinterStateReason = "timed-out"
	PSRStopping               PrinterStateReason = "stopping"
	PSRStoppedPartly          PrinterStateReason = "stopped-partly"
	PSRDeleting               PrinterStateReason = "deleting"
	PSRIdentifyRequested      PrinterStateReason = "identify-printer-requested"
	PSRHoldNewJobs            PrinterStateReason = "hold-new-jobs"
	PSRPrinterRestarted       PrinterStateReason = "printer-restarted"
	PSRSpoolAreaFull          PrinterStateReason = "spool-area-full"
)

// Printer FSM event names.
const (
	evtPrinterStartJob  = "start-job"
	evtPrinterIdle      = "idle"
	evtPrinterPause     = "pause"
	evtPrinterPaused    = "paused"
	evtPrinterResume    = "resume"
	evtPrinterShutdown  = "shutdown"
	evtPrinterDelete    = "delete"
)

var printerEvents = []fsm.EventDesc{
	{Name: evtPrinterStartJob, Src: []string{PrinterIdle.String()}, Dst: PrinterProcessing.String()},
	{Name: evtPrinterIdle, Src: []string{PrinterProcessing.String()}, Dst: PrinterIdle.String()},
	{
		Name: evtPrinterPause,
		Src:  []string{PrinterIdle.String(), PrinterProcessing.String()},
		Dst:  PrinterStopped.String(),
	},
	{Name: evtPrinterPaused, Src: []string{PrinterStopped.String()}, Dst: PrinterStopped.String()},
	{Name: evtPrinterResume, Src: []string{PrinterStopped.String()}, Dst: PrinterIdle.String()},
	{
		Name: evtPrinterShutdown,
		Src:  []string{PrinterIdle.String(), PrinterProcessing.String(), PrinterStopped.String()},
		Dst:  PrinterStopped.String(),
	},
	{
		Name: evtPrinterDelete,
		Src:  []string{PrinterIdle.String(), PrinterProcessing.String(), PrinterStopped.String()},
		Dst:  PrinterStopped.String(),
	},
}

// Printer wraps the printer-level state machine. The Object Store embeds
// one per Printer object, guarded by that Printer's reader/writer lock.
type Printer struct {
	mu          sync.Mutex
	sm          *fsm.FSM
	reasons     map[PrinterStateReason]bool
	holdNewJobs bool
}

// NewPrinter creates a printer state machine starting in PrinterIdle.
func NewPrinter() *Printer {
	p := &Printer{reasons: map[PrinterStateReason]bool{}}
	p.sm = fsm.NewFSM(PrinterIdle.String(), printerEvents, fsm.Callbacks{})
	return p
}

// State returns the printer's own state (not yet merged with its devices;
// see EffectiveState).
func (p *Printer) State() PrinterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return printerStateFromString(p.sm.Current())
}

// Reasons returns the printer's current state-reasons, including
// hold-new-jobs if set.
func (p *Printer) Reasons() []PrinterStateReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PrinterStateReason, 0, len(p.reasons))
	for r := range p.reasons {
		out = append(out, r)
	}
	return out
}

func (p *Printer) setReason(add, clear PrinterStateReason) {
	if clear != "" {
		delete(p.reasons, clear)
	}
	if add != "" {
		p.reasons[add] = true
	}
}

// StartJob transitions idle → processing, for a worker picking up a job.
func (p *Printer) StartJob(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sm.Event(ctx, evtPrinterStartJob); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	return nil
}

// JobDone transitions processing → idle, unless a pause/shutdown is
// pending, in which case the caller should call Pause/Shutdown instead.
func (p *Printer) JobDone(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sm.Event(ctx, evtPrinterIdle); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	return nil
}

// Pause begins a Pause-Printer request: if a job is currently processing,
// the printer enters moving-to-paused and the caller must call Paused once
// the worker has actually stopped; otherwise it pauses immediately.
func (p *Printer) Pause(ctx context.Context, jobActive bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if jobActive {
		p.setReason(PSRMovingToPaused, "")
		return nil
	}

	if err := p.sm.Event(ctx, evtPrinterPause); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	p.setReason(PSRPaused, PSRMovingToPaused)
	return nil
}

// Paused completes a deferred pause once the active worker has exited.
func (p *Printer) Paused(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sm.Event(ctx, evtPrinterPause); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	p.setReason(PSRPaused, PSRMovingToPaused)
	return nil
}

// Resume transitions stopped → idle, for Resume-Printer.
func (p *Printer) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sm.Event(ctx, evtPrinterResume); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	p.setReason("", PSRPaused)
	return nil
}

// Shutdown transitions any state → stopped with reason shutdown, for
// Shutdown-Printer.
func (p *Printer) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sm.Event(ctx, evtPrinterShutdown); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	p.setReason(PSRShutdown, "")
	return nil
}

// Delete transitions any state → stopped with reason deleting, for
// Delete-Printer; the Object Store destroys the object once any
// in-progress job finishes.
func (p *Printer) Delete(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sm.Event(ctx, evtPrinterDelete); err != nil {
		return fmt.Errorf("lifecycle: printer transition: %w", err)
	}
	p.setReason(PSRDeleting, "")
	return nil
}

// SetHoldNewJobs implements Hold-New-Jobs / Release-Held-New-Jobs: it only
// toggles the reason flag, since holding new jobs does not itself move the
// printer's own state.
func (p *Printer) SetHoldNewJobs(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdNewJobs = hold
	if hold {
		p.setReason(PSRHoldNewJobs, "")
	} else {
		p.setReason("", PSRHoldNewJobs)
	}
}

// HoldNewJobs reports whether Hold-New-Jobs is currently in effect.
func (p *Printer) HoldNewJobs() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdNewJobs
}

// ownedReasons are the reasons a printer's own lifecycle transitions set
// and clear; ReplaceReasons leaves them alone so a local command's STATE
// line can't accidentally clear a pause or shutdown in progress.
var ownedReasons = map[PrinterStateReason]bool{
	PSRPaused: true, PSRMovingToPaused: true, PSRShutdown: true,
	PSRDeleting: true, PSRIdentifyRequested: true, PSRHoldNewJobs: true,
	PSRPrinterRestarted: true,
}

// AddReasons adds custom state-reason keywords reported by a job's local
// command (a "STATE: +keyword[,keyword...]" stderr line), per spec.md
// §4.7.
func (p *Printer) AddReasons(reasons []PrinterStateReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range reasons {
		p.reasons[r] = true
	}
}

// RemoveReasons clears custom state-reason keywords ("STATE:
// -keyword[,keyword...]").
func (p *Printer) RemoveReasons(reasons []PrinterStateReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range reasons {
		delete(p.reasons, r)
	}
}

// ReplaceReasons implements a bare "STATE: keyword[,keyword...]" line: it
// clears every previously reported custom reason and sets reasons in
// their place, without touching reasons owned by the printer's own
// lifecycle transitions.
func (p *Printer) ReplaceReasons(reasons []PrinterStateReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for r := range p.reasons {
		if !ownedReasons[r] {
			delete(p.reasons, r)
		}
	}
	for _, r := range reasons {
		p.reasons[r] = true
	}
}

// SetIdentifyRequested toggles the identify-printer-requested reason, for
// Identify-Printer / Acknowledge-Identify-Printer.
func (p *Printer) SetIdentifyRequested(requested bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if requested {
		p.setReason(PSRIdentifyRequested, "")
	} else {
		p.setReason("", PSRIdentifyRequested)
	}
}

func printerStateFromString(s string) PrinterState {
	switch s {
	case PrinterIdle.String():
		return PrinterIdle
	case PrinterProcessing.String():
		return PrinterProcessing
	case PrinterStopped.String():
		return PrinterStopped
	default:
		return PrinterIdle
	}
}

// EffectiveState returns max(own, device) under idle < processing <
// stopped ordering, per spec.md §3's Device data model note.
func EffectiveState(own, device PrinterState) PrinterState {
	if device > own {
		return device
	}
	return own
}
