package store

import (
	"os"
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/lifecycle"
)

// Job is one print job, owned by exactly one Printer. Its own fields are
// guarded by mu; membership in the owning Printer's Jobs map is guarded by
// the Printer's lock (spec.md §4.2: "Jobs live inside their owning
// Printer; the printer lock guards the jobs arrays and an additional
// per-job lock guards the job's own fields").
type Job struct {
	mu sync.RWMutex

	ID   int
	URI  string
	UUID string

	Printer *Printer

	Originator string
	Format     string // supplied, detected, or defaulted MIME type

	Priority int

	HoldUntil      time.Time // zero = no hold pending
	HoldIndefinite bool

	FSM *lifecycle.Job

	ImpressionsTotal     int
	ImpressionsCompleted int

	DeviceUUID string // set by Acknowledge-Job; cleared when Update-Active-Jobs requeues the job

	DeviceState   lifecycle.PrinterState
	DeviceReasons []lifecycle.PrinterStateReason

	SpoolFile *os.File
	Filename  string // set exactly once

	CancelRequested bool

	Created    time.Time
	Processing time.Time
	Completed  time.Time

	Attrs goipp.Attributes
}

// NewJob allocates a Job in JobPending state with the given identity.
func NewJob(id int, printer *Printer, uri, uuid, originator, format string) *Job {
	return &Job{
		ID:         id,
		URI:        uri,
		UUID:       uuid,
		Printer:    printer,
		Originator: originator,
		Format:     format,
		Priority:   50,
		FSM:        lifecycle.NewJob(),
		Created:    time.Now(),
	}
}

func (j *Job) RLock()   { j.mu.RLock() }
func (j *Job) RUnlock() { j.mu.RUnlock() }
func (j *Job) Lock()    { j.mu.Lock() }
func (j *Job) Unlock()  { j.mu.Unlock() }

// IsActive reports whether the job still occupies the active-jobs index
// (not yet completed/canceled/aborted).
func (j *Job) IsActive() bool {
	return !j.FSM.State().IsTerminal()
}
