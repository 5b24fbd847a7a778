package store

import "sync"

// PrinterRegistry is the path- and id-keyed Printers table. Its lock
// guards membership only — Printer.mu guards a printer's own fields, and
// per spec.md §4.2 a thread holding a Printer lock must not then acquire
// this registry's lock.
type PrinterRegistry struct {
	mu      sync.RWMutex
	byPath  map[string]*Printer
	byID    map[int]*Printer
	nextID  int
}

// NewPrinterRegistry creates an empty registry.
func NewPrinterRegistry() *PrinterRegistry {
	return &PrinterRegistry{
		byPath: map[string]*Printer{},
		byID:   map[int]*Printer{},
		nextID: 1,
	}
}

// AllocateID reserves the next printer id.
func (r *PrinterRegistry) AllocateID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Add registers p under both indices.
func (r *PrinterRegistry) Add(p *Printer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPath[p.Path] = p
	r.byID[p.ID] = p
}

// Remove unregisters p from both indices.
func (r *PrinterRegistry) Remove(p *Printer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPath, p.Path)
	delete(r.byID, p.ID)
}

// ByPath looks a printer up by its resource path.
func (r *PrinterRegistry) ByPath(path string) (*Printer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPath[path]
	return p, ok
}

// ByID looks a printer up by its integer id.
func (r *PrinterRegistry) ByID(id int) (*Printer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// All returns a snapshot slice of every registered printer.
func (r *PrinterRegistry) All() []*Printer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Printer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

// SubscriptionRegistry is the id-keyed Subscriptions table.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	byID   map[int]*Subscription
	nextID int
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{byID: map[int]*Subscription{}, nextID: 1}
}

// AllocateID reserves the next subscription id.
func (r *SubscriptionRegistry) AllocateID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Add registers s.
func (r *SubscriptionRegistry) Add(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
}

// Remove unregisters s.
func (r *SubscriptionRegistry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// ByID looks a subscription up by id.
func (r *SubscriptionRegistry) ByID(id int) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// All returns a snapshot slice of every registered subscription.
func (r *SubscriptionRegistry) All() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// ResourceRegistry is the id- and path-keyed Resources table.
type ResourceRegistry struct {
	mu     sync.RWMutex
	byID   map[int]*Resource
	byPath map[string]*Resource
	nextID int
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		byID:   map[int]*Resource{},
		byPath: map[string]*Resource{},
		nextID: 1,
	}
}

// AllocateID reserves the next resource id.
func (r *ResourceRegistry) AllocateID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Add registers res under both indices.
func (r *ResourceRegistry) Add(res *Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[res.ID] = res
	r.byPath[res.Path] = res
}

// Remove unregisters res.
func (r *ResourceRegistry) Remove(res *Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, res.ID)
	delete(r.byPath, res.Path)
}

// ByID looks a resource up by id.
func (r *ResourceRegistry) ByID(id int) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byID[id]
	return res, ok
}

// ByPath looks a resource up by its external path.
func (r *ResourceRegistry) ByPath(path string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byPath[path]
	return res, ok
}

// All returns a snapshot slice of every registered resource.
func (r *ResourceRegistry) All() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Resource, 0, len(r.byID))
	for _, res := range r.byID {
		out = append(out, res)
	}
	return out
}
