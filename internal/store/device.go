package store

import (
	"sync"

	"github.com/infraprint/infraprintd/internal/lifecycle"
)

// Device is a proxy-registered output device backing a Printer. Multiple
// Devices may back one Printer (spec.md §3); each has its own lock.
type Device struct {
	mu sync.RWMutex

	Name string
	UUID string

	Printer *Printer // back-reference

	FSM *lifecycle.Device
}

// NewDevice creates a Device in its default (idle, empty attribute set)
// state.
func NewDevice(name, uuid string, printer *Printer) *Device {
	return &Device{
		Name:    name,
		UUID:    uuid,
		Printer: printer,
		FSM:     lifecycle.NewDevice(),
	}
}

func (d *Device) RLock()   { d.mu.RLock() }
func (d *Device) RUnlock() { d.mu.RUnlock() }
func (d *Device) Lock()    { d.mu.Lock() }
func (d *Device) Unlock()  { d.mu.Unlock() }
