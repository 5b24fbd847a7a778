package store

import (
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"
)

// Store aggregates the process-wide registries and the system-level state
// spec.md §3 calls "process-wide state": the Printers/Subscriptions/
// Resources registries, the System attribute bag, the config-change
// counter, and the global notification condition the Event Engine waits
// on for Get-Notifications long-polling.
type Store struct {
	Printers      *PrinterRegistry
	Subscriptions *SubscriptionRegistry
	Resources     *ResourceRegistry

	systemMu    sync.RWMutex
	SystemAttrs goipp.Attributes

	ConfigChangeTime time.Time
	configChangeMu   sync.Mutex
	configChangeSeq  int

	// NotifyCond is broadcast whenever any event is enqueued on any
	// subscription, waking every Get-Notifications call blocked with
	// notify-wait=true. Guarded by NotifyMu, as sync.Cond requires.
	NotifyMu   sync.Mutex
	NotifyCond *sync.Cond
}

// New creates an empty Store.
func New() *Store {
	s := &Store{
		Printers:         NewPrinterRegistry(),
		Subscriptions:    NewSubscriptionRegistry(),
		Resources:        NewResourceRegistry(),
		ConfigChangeTime: time.Now(),
	}
	s.NotifyCond = sync.NewCond(&s.NotifyMu)
	return s
}

// SystemAttr reads one system attribute's values, under the system lock.
func (s *Store) SystemAttr(name string) (goipp.Values, bool) {
	s.systemMu.RLock()
	defer s.systemMu.RUnlock()
	for _, a := range s.SystemAttrs {
		if a.Name == name {
			return a.Values, true
		}
	}
	return nil, false
}

// SetSystemAttr replaces (or adds) a system attribute and bumps the
// config-change counter, under the system lock.
func (s *Store) SetSystemAttr(attr goipp.Attribute) {
	s.systemMu.Lock()
	defer s.systemMu.Unlock()
	for i, a := range s.SystemAttrs {
		if a.Name == attr.Name {
			s.SystemAttrs[i] = attr
			s.bumpConfigChange()
			return
		}
	}
	s.SystemAttrs = append(s.SystemAttrs, attr)
	s.bumpConfigChange()
}

func (s *Store) bumpConfigChange() {
	s.configChangeMu.Lock()
	s.configChangeSeq++
	s.ConfigChangeTime = time.Now()
	s.configChangeMu.Unlock()
}

// ConfigChangeSeq returns the current config-change counter.
func (s *Store) ConfigChangeSeq() int {
	s.configChangeMu.Lock()
	defer s.configChangeMu.Unlock()
	return s.configChangeSeq
}

// Notify wakes every goroutine blocked in WaitForNotification. Callers
// must have already released any Printer/Job/Subscription lock they held
// while enqueuing the event, per spec.md §4.2's rule that "the
// notification condition is signaled after events are enqueued and after
// the mutating lock is released".
func (s *Store) Notify() {
	s.NotifyMu.Lock()
	s.NotifyCond.Broadcast()
	s.NotifyMu.Unlock()
}

// WaitForNotification blocks until Notify is called or timeout elapses,
// returning false on timeout. internal/events uses this for
// Get-Notifications's notify-wait=true path.
func (s *Store) WaitForNotification(timeout time.Duration) bool {
	woken := make(chan struct{})
	go func() {
		s.NotifyMu.Lock()
		defer s.NotifyMu.Unlock()
		s.NotifyCond.Wait()
		close(woken)
	}()

	select {
	case <-woken:
		return true
	case <-time.After(timeout):
		return false
	}
}
