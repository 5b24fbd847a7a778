// Package store is the Object Store: process-wide Printer, Job,
// Subscription, Device and Resource registries and the lock discipline
// guarding them, per spec.md §4.2. Grounded on the teacher's habit of
// pairing a package-level sync.RWMutex with a plain map for any shared
// table (see status.go's statusTable/statusLock), generalized here into
// one registry type reused for every object category plus a per-object
// lock for the category's own mutable fields.
package store

import (
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/lifecycle"
)

// Printer is one Infrastructure Printer instance. Its own fields are
// guarded by mu; membership in the owning Registry's maps is guarded by
// the registry's separate lock. Per spec.md §4.2's locking rule, code
// holding Printer.mu must never also try to acquire the Printers registry
// lock — acquire the registry lock first if both are needed.
type Printer struct {
	mu sync.RWMutex

	ID   int
	Name string
	Path string // canonical resource path, e.g. "/ipp/print/office-1"
	URI  string
	UUID string

	StaticAttrs goipp.Attributes // from configuration
	DeviceAttrs goipp.Attributes // merged from Devices

	FSM *lifecycle.Printer

	IsAcceptingJobs bool
	IsShutdown      bool
	IsDeleted       bool

	nextJobID int
	Jobs      map[int]*Job
	active    []int // job IDs, insertion order
	completed []int

	Processing *Job // job currently occupying the printer's worker, if any

	Devices map[string]*Device // keyed by device UUID

	// Resources are the Resource objects (icons, strings files, ...)
	// installed against this printer and advertised in its attributes,
	// per spec.md §3's Resource object.
	Resources []*Resource

	IdentifyActions []string
	IdentifyMessage string

	// Command, ProxyGroup and MaxJobs mirror the owning config.PrinterConfig
	// (internal/jobproc reads them to pick a processing path per spec.md
	// §4.7); printers created dynamically via Create-Printer leave them at
	// their zero value, which selects simulated processing.
	Command    string
	ProxyGroup bool
	MaxJobs    uint
	SpoolDir   string

	Created time.Time
}

// NewPrinter allocates a Printer in its initial, accepting-jobs state.
func NewPrinter(id int, name, path, uri, uuid string) *Printer {
	return &Printer{
		ID:              id,
		Name:            name,
		Path:            path,
		URI:             uri,
		UUID:            uuid,
		FSM:             lifecycle.NewPrinter(),
		IsAcceptingJobs: true,
		nextJobID:       1,
		Jobs:            map[int]*Job{},
		Devices:         map[string]*Device{},
		Created:         time.Now(),
	}
}

// AllocateJobID returns the next job-local integer id and advances the
// counter; callers hold Printer.mu for the duration of job creation.
func (p *Printer) AllocateJobID() int {
	id := p.nextJobID
	p.nextJobID++
	return id
}

// AddJob registers a newly created job and marks it active.
func (p *Printer) AddJob(j *Job) {
	p.Jobs[j.ID] = j
	p.active = append(p.active, j.ID)
}

// ActiveJobIDs returns active job ids in insertion order. The caller must
// hold at least a read lock on p.
func (p *Printer) ActiveJobIDs() []int {
	out := make([]int, len(p.active))
	copy(out, p.active)
	return out
}

// CompletedJobIDs returns completed job ids in completion order.
func (p *Printer) CompletedJobIDs() []int {
	out := make([]int, len(p.completed))
	copy(out, p.completed)
	return out
}

// MarkCompleted moves a job id from the active list to the completed list.
// The caller must hold p's write lock.
func (p *Printer) MarkCompleted(jobID int) {
	for i, id := range p.active {
		if id == jobID {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	p.completed = append(p.completed, jobID)
}

// TrimCompleted drops the oldest completed jobs once their count exceeds
// limit, removing them from both the completed index and the Jobs map,
// and returns the dropped jobs so the caller can clean up anything else
// keyed by job id (spool files, subscriptions) outside the printer lock.
// The caller must hold p's write lock.
func (p *Printer) TrimCompleted(limit int) []*Job {
	if len(p.completed) <= limit {
		return nil
	}
	drop := len(p.completed) - limit
	droppedIDs := p.completed[:drop]
	p.completed = p.completed[drop:]

	dropped := make([]*Job, 0, len(droppedIDs))
	for _, id := range droppedIDs {
		if j, ok := p.Jobs[id]; ok {
			dropped = append(dropped, j)
		}
		delete(p.Jobs, id)
	}
	return dropped
}

// RLock/RUnlock/Lock/Unlock expose the printer's reader/writer lock
// directly: the Object Store deliberately doesn't hide this behind
// accessor methods for every field, since handlers in internal/dispatch
// read and write several fields together under one critical section.
func (p *Printer) RLock()   { p.mu.RLock() }
func (p *Printer) RUnlock() { p.mu.RUnlock() }
func (p *Printer) Lock()    { p.mu.Lock() }
func (p *Printer) Unlock()  { p.mu.Unlock() }

// EffectiveState folds in every Device's reported state, per spec.md §3.
func (p *Printer) EffectiveState() lifecycle.PrinterState {
	state := p.FSM.State()
	for _, d := range p.Devices {
		state = lifecycle.EffectiveState(state, d.FSM.State)
	}
	return state
}
