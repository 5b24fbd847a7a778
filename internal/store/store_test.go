package store

import (
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
)

func TestPrinterRegistryAddLookupRemove(t *testing.T) {
	reg := NewPrinterRegistry()
	id := reg.AllocateID()
	p := NewPrinter(id, "office-1", "/ipp/print/office-1", "ipp://host/ipp/print/office-1", "urn:uuid:x")
	reg.Add(p)

	if got, ok := reg.ByPath("/ipp/print/office-1"); !ok || got != p {
		t.Fatalf("ByPath lookup failed: %v %v", got, ok)
	}
	if got, ok := reg.ByID(id); !ok || got != p {
		t.Fatalf("ByID lookup failed: %v %v", got, ok)
	}
	if len(reg.All()) != 1 {
		t.Fatalf("expected 1 printer, got %d", len(reg.All()))
	}

	reg.Remove(p)
	if _, ok := reg.ByPath("/ipp/print/office-1"); ok {
		t.Fatal("expected printer removed")
	}
}

func TestPrinterJobLifecycleBookkeeping(t *testing.T) {
	p := NewPrinter(1, "office-1", "/ipp/print/office-1", "uri", "uuid")
	p.Lock()
	defer p.Unlock()

	jid := p.AllocateJobID()
	j := NewJob(jid, p, "job-uri", "job-uuid", "alice", "application/pdf")
	p.AddJob(j)

	if len(p.ActiveJobIDs()) != 1 {
		t.Fatalf("expected 1 active job, got %d", len(p.ActiveJobIDs()))
	}

	p.MarkCompleted(jid)
	if len(p.ActiveJobIDs()) != 0 {
		t.Fatal("expected no active jobs after completion")
	}
	if len(p.CompletedJobIDs()) != 1 {
		t.Fatal("expected 1 completed job")
	}
}

func TestSystemAttrRoundTrip(t *testing.T) {
	s := New()
	before := s.ConfigChangeSeq()

	s.SetSystemAttr(goipp.MakeAttribute("system-name", goipp.TagName, goipp.String("infraprintd")))
	vals, ok := s.SystemAttr("system-name")
	if !ok || len(vals) != 1 {
		t.Fatalf("expected system-name set, got %v %v", vals, ok)
	}
	if s.ConfigChangeSeq() != before+1 {
		t.Fatalf("expected config-change counter bumped, got %d", s.ConfigChangeSeq())
	}
}

func TestNotifyWakesWaiter(t *testing.T) {
	s := New()
	woke := make(chan bool, 1)

	go func() {
		woke <- s.WaitForNotification(2 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Notify()

	select {
	case ok := <-woke:
		if !ok {
			t.Fatal("expected WaitForNotification to return true on notify")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification wake-up")
	}
}

func TestNotifyTimesOutWithoutSignal(t *testing.T) {
	s := New()
	if s.WaitForNotification(30 * time.Millisecond) {
		t.Fatal("expected timeout with no signal")
	}
}

func TestResourceTransitions(t *testing.T) {
	r := NewResource(1, "uuid", "/ipp/resource/1", "application/octet-stream")
	if !r.Transition(ResourceAvailable) {
		t.Fatal("pending -> available should succeed")
	}
	if r.Transition(ResourcePending) {
		t.Fatal("available -> pending should be rejected")
	}
	if !r.Transition(ResourceInstalled) {
		t.Fatal("available -> installed should succeed")
	}
}
