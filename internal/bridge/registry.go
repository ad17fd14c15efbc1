package bridge

import (
	"sort"
	"sync"
)

// Registry is the owning table of connection records plus the process-wide
// master log. Record lifecycle (insert on accept, remove on cleanup) happens
// only here, so there is no window where an observer sees data for a
// vanished client.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	master  *ring
}

// NewRegistry creates a registry whose master log holds up to capacity lines.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		master:  newRing(capacity),
	}
}

func (g *Registry) add(rec *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[rec.id] = rec
}

// remove deletes the record and reports whether it was still present.
// Removing an already-absent record is a no-op, which is what makes cleanup
// idempotent across socket-close, rejection and the liveness sweeps.
func (g *Registry) remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.records[id]; !ok {
		return false
	}
	delete(g.records, id)
	return true
}

// Get returns the record for a client id.
func (g *Registry) Get(id string) (*Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[id]
	return rec, ok
}

// List returns all current records ordered by client id.
func (g *Registry) List() []*Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Record, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of connected clients.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// MasterAppend adds a line to the master log.
func (g *Registry) MasterAppend(line string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.master.append(line)
}

// MasterLines returns a copy of the master log, oldest first.
func (g *Registry) MasterLines() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.master.snapshot()
}

// MasterClear empties the master log.
func (g *Registry) MasterClear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.master.clear()
}
