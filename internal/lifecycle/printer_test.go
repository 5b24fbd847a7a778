package lifecycle

import (
	"context"
	"testing"
)

func TestPrinterStartIdleCycle(t *testing.T) {
	ctx := context.Background()
	p := NewPrinter()

	if p.State() != PrinterIdle {
		t.Fatalf("expected idle, got %s", p.State())
	}

	if err := p.StartJob(ctx); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if p.State() != PrinterProcessing {
		t.Fatalf("expected processing, got %s", p.State())
	}

	if err := p.JobDone(ctx); err != nil {
		t.Fatalf("JobDone: %v", err)
	}
	if p.State() != PrinterIdle {
		t.Fatalf("expected idle again, got %s", p.State())
	}
}

func TestPrinterPauseWhileJobActive(t *testing.T) {
	ctx := context.Background()
	p := NewPrinter()
	_ = p.StartJob(ctx)

	if err := p.Pause(ctx, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if p.State() != PrinterProcessing {
		t.Fatalf("printer should stay processing until the worker exits, got %s", p.State())
	}

	found := false
	for _, r := range p.Reasons() {
		if r == PSRMovingToPaused {
			found = true
		}
	}
	if !found {
		t.Fatal("expected moving-to-paused reason")
	}

	if err := p.Paused(ctx); err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if p.State() != PrinterStopped {
		t.Fatalf("expected stopped, got %s", p.State())
	}
}

func TestPrinterHoldNewJobs(t *testing.T) {
	p := NewPrinter()
	p.SetHoldNewJobs(true)
	if !p.HoldNewJobs() {
		t.Fatal("expected hold-new-jobs set")
	}
	p.SetHoldNewJobs(false)
	if p.HoldNewJobs() {
		t.Fatal("expected hold-new-jobs cleared")
	}
}

func TestEffectiveState(t *testing.T) {
	if EffectiveState(PrinterIdle, PrinterStopped) != PrinterStopped {
		t.Fatal("expected stopped device to dominate idle printer")
	}
	if EffectiveState(PrinterProcessing, PrinterIdle) != PrinterProcessing {
		t.Fatal("expected processing printer to dominate idle device")
	}
}
