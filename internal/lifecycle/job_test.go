package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestJobHappyPath(t *testing.T) {
	ctx := context.Background()
	j := NewJob()

	if j.State() != JobPending {
		t.Fatalf("expected pending, got %s", j.State())
	}

	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.State() != JobProcessing {
		t.Fatalf("expected processing, got %s", j.State())
	}

	if err := j.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if j.State() != JobCompleted {
		t.Fatalf("expected completed, got %s", j.State())
	}
	if !j.State().IsTerminal() {
		t.Fatal("completed should be terminal")
	}
}

func TestJobHoldRelease(t *testing.T) {
	ctx := context.Background()
	j := NewJob()

	if err := j.Hold(ctx, JSRJobHeldUntilSpecified); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if j.State() != JobHeld {
		t.Fatalf("expected held, got %s", j.State())
	}

	if err := j.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if j.State() != JobPending {
		t.Fatalf("expected pending after release, got %s", j.State())
	}
}

func TestJobProxyHandOffAndRequeue(t *testing.T) {
	ctx := context.Background()
	j := NewJob()
	_ = j.Start(ctx)

	if err := j.Stop(ctx, JSRProcessingToStopPoint); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if j.State() != JobStopped {
		t.Fatalf("expected stopped, got %s", j.State())
	}

	if err := j.Requeue(ctx); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if j.State() != JobPending {
		t.Fatalf("expected pending after requeue, got %s", j.State())
	}
}

func TestJobIllegalTransitionRejected(t *testing.T) {
	ctx := context.Background()
	j := NewJob()

	if err := j.Complete(ctx); err == nil {
		t.Fatal("expected error completing a job that never started processing")
	}
	if j.State() != JobPending {
		t.Fatalf("state should be unchanged after rejected transition, got %s", j.State())
	}
}

func TestJobCancelFromEveryActiveState(t *testing.T) {
	ctx := context.Background()

	for _, start := range []func(*Job) error{
		func(j *Job) error { return nil },
		func(j *Job) error { return j.Hold(ctx) },
		func(j *Job) error { return j.Start(ctx) },
		func(j *Job) error {
			if err := j.Start(ctx); err != nil {
				return err
			}
			return j.Stop(ctx)
		},
	} {
		j := NewJob()
		if err := start(j); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if err := j.Cancel(ctx, JSRJobCanceledByUser); err != nil {
			t.Fatalf("Cancel from %s: %v", j.State(), err)
		}
	}
}

func TestHoldUntilKeywords(t *testing.T) {
	// Noon on a Tuesday.
	now := time.Date(2026, 7, 28, 12, 0, 0, 0, time.UTC)

	at, indefinite := HoldUntil("indefinite", now)
	if !indefinite {
		t.Fatalf("indefinite: %v", at)
	}

	at, indefinite = HoldUntil("none", now)
	if indefinite || !at.IsZero() {
		t.Fatalf("none should release immediately: %v %v", at, indefinite)
	}

	at, _ = HoldUntil("evening", now)
	if at.Hour() != 18 || at.Day() != now.Day() {
		t.Fatalf("evening: got %v", at)
	}

	at, _ = HoldUntil("weekend", now)
	if at.Weekday() != time.Saturday || !at.After(now) {
		t.Fatalf("weekend: got %v", at)
	}

	// Any keyword job.c doesn't recognize maps to indefinite, not an error.
	if at, indefinite := HoldUntil("nonsense", now); !indefinite || !at.IsZero() {
		t.Fatalf("nonsense: expected indefinite hold, got %v %v", at, indefinite)
	}
}
