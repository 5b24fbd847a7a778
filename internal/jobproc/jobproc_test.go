package jobproc

import (
	"context"
	"testing"
	"time"

	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

func newTestPrinter(s *store.Store) *store.Printer {
	p := store.NewPrinter(s.Printers.AllocateID(), "office-1", "/ipp/print/office-1", "ipp://h/ipp/print/office-1", "urn:uuid:test")
	s.Printers.Add(p)
	return p
}

func addPendingJob(p *store.Printer) *store.Job {
	j := store.NewJob(p.AllocateJobID(), p, p.URI+"/1", "urn:uuid:job", "alice", "application/octet-stream")
	p.Lock()
	p.AddJob(j)
	p.Unlock()
	return j
}

func TestCheckJobsSimulatedPathCompletes(t *testing.T) {
	s := store.New()
	eng := events.NewEngine(s)
	p := newTestPrinter(s)
	j := addPendingJob(p)

	proc := New(s, eng)
	proc.CheckJobs(p)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j.FSM.State().IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if j.FSM.State() != lifecycle.JobCompleted {
		t.Fatalf("expected job completed, got %s", j.FSM.State())
	}

	p.RLock()
	_, stillActive := p.Jobs[j.ID]
	ids := p.CompletedJobIDs()
	p.RUnlock()
	if !stillActive {
		t.Fatal("expected completed job to remain in Jobs map under the history bound")
	}
	found := false
	for _, id := range ids {
		if id == j.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected job id in CompletedJobIDs")
	}
}

func TestCheckJobsProxyHandOffParksJobFetchable(t *testing.T) {
	s := store.New()
	eng := events.NewEngine(s)
	p := newTestPrinter(s)
	p.ProxyGroup = true
	j := addPendingJob(p)

	proc := New(s, eng)
	proc.CheckJobs(p)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j.FSM.State() == lifecycle.JobStopped {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if j.FSM.State() != lifecycle.JobStopped {
		t.Fatalf("expected job parked stopped for proxy, got %s", j.FSM.State())
	}
	fetchable := false
	for _, r := range j.FSM.Reasons() {
		if r == lifecycle.JSRJobFetchable {
			fetchable = true
		}
	}
	if !fetchable {
		t.Fatal("expected job-fetchable reason")
	}

	p.RLock()
	processing := p.Processing
	p.RUnlock()
	if processing != nil {
		t.Fatal("expected printer's Processing slot cleared after hand-off")
	}
}

func TestCheckJobsSkipsWhenAlreadyProcessing(t *testing.T) {
	s := store.New()
	eng := events.NewEngine(s)
	p := newTestPrinter(s)
	first := addPendingJob(p)
	second := addPendingJob(p)

	p.Lock()
	p.Processing = first
	p.Unlock()

	proc := New(s, eng)
	proc.CheckJobs(p)

	time.Sleep(20 * time.Millisecond)
	if second.FSM.State() != lifecycle.JobPending {
		t.Fatalf("expected second job to stay pending while printer busy, got %s", second.FSM.State())
	}
}

func TestApplyDeferredTransitionsPausesAfterMovingToPaused(t *testing.T) {
	s := store.New()
	eng := events.NewEngine(s)
	p := newTestPrinter(s)

	ctx := context.Background()
	_ = p.FSM.Pause(ctx, true) // jobActive=true -> moving-to-paused, no state change yet

	proc := New(s, eng)
	proc.applyDeferredTransitions(p)

	if p.FSM.State() != lifecycle.PrinterStopped {
		t.Fatalf("expected printer paused once its job finished, got %s", p.FSM.State())
	}
}
