package lifecycle

import (
	"testing"
	"time"
)

func TestLeaseNeverExpires(t *testing.T) {
	now := time.Now()
	l, err := NewLease(now, 0, false)
	if err != nil {
		t.Fatalf("NewLease: %v", err)
	}
	if l.Expired(now.Add(100 * 365 * 24 * time.Hour)) {
		t.Fatal("zero-duration lease should never expire")
	}
}

func TestLeaseExpiry(t *testing.T) {
	now := time.Now()
	l, err := NewLease(now, 10, false)
	if err != nil {
		t.Fatalf("NewLease: %v", err)
	}
	if l.Expired(now.Add(5 * time.Second)) {
		t.Fatal("should not be expired yet")
	}
	if !l.Expired(now.Add(11 * time.Second)) {
		t.Fatal("should be expired")
	}
}

func TestLeaseJobScopedNotRenewable(t *testing.T) {
	now := time.Now()
	l, _ := NewLease(now, 60, true)
	if _, err := l.Renew(now, 60); err != ErrJobScopedNotRenewable {
		t.Fatalf("expected ErrJobScopedNotRenewable, got %v", err)
	}
}

func TestLeaseExpireSoon(t *testing.T) {
	now := time.Now()
	l, _ := NewLease(now, 0, false)
	l = l.ExpireSoon(now, 30*time.Second)
	if !l.Expired(now.Add(31 * time.Second)) {
		t.Fatal("expected lease to expire 30s after delete")
	}
}
