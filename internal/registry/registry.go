// Package registry implements the in-memory Agent Registry (§4.2): a
// process-local directory of live agents, keyed by name. It is
// generalized from the teacher's core.Discovery/Registry interfaces,
// dropping the Redis-backed persistence those use (spec.md §4.2 is
// explicit that the registry has no persistence). Agents register once
// when their own process starts; an orchestrator restart leaves the
// registry empty until they are restarted.
package registry

import (
	"sync"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// Status mirrors §3.3's agent status; "healthy" is the default.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Record is one Agent Record (§3.3).
type Record struct {
	AgentName    string
	AgentType    session.AgentType
	BaseURL      string
	Capabilities []string
	Status       Status
}

// Registry is the in-memory agent_name -> Record map.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Register upserts rec; last writer wins (§4.2).
func (r *Registry) Register(rec Record) {
	if rec.Status == "" {
		rec.Status = StatusHealthy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.AgentName] = rec
}

// Get returns the record for name, or apierrors.ErrAgentNotRegistered.
func (r *Registry) Get(name string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return Record{}, apierrors.New("registry.Get", "not_found", apierrors.ErrAgentNotRegistered).WithID(name)
	}
	return rec, nil
}

// GetByType returns a record registered for the given agent type
// (an arbitrary one if several share it), used by the orchestrator's
// REST handlers to resolve "the conversation agent" without
// hardcoding a process name.
func (r *Registry) GetByType(t session.AgentType) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.AgentType == t {
			return rec, nil
		}
	}
	return Record{}, apierrors.New("registry.GetByType", "not_found", apierrors.ErrAgentNotRegistered).WithID(string(t))
}

// List returns a snapshot of every registered record.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Unregister removes name; idempotent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, name)
}

// SetStatus updates the health status of a registered agent, used by
// health-check plumbing; a no-op if the agent isn't registered.
func (r *Registry) SetStatus(name string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[name]; ok {
		rec.Status = status
		r.records[name] = rec
	}
}
