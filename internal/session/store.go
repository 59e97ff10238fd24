package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/logging"
)

// DefaultTTL is the default cache-entry lifetime (§4.1).
const DefaultTTL = 24 * time.Hour

// Store is the dual-tier, write-through session store (§4.1).
//
// Guarantees upheld here:
//   - write-through: Create/Update only report success once the
//     durable write has landed; the cache is refreshed afterward.
//   - read-your-writes: a single Store instance serializes Update
//     against concurrent Get for the same session_id via the
//     per-session mutex from lockFor.
//   - cache-miss fallback: Get repopulates the cache from the durable
//     tier and rewarms the TTL on a durable hit.
type Store struct {
	cache   Cache
	durable Durable
	ttl     time.Duration
	logger  logging.Logger

	// locks guards a per-session mutex map so Update is serialized
	// against concurrent Get/Update on the same id without blocking
	// unrelated sessions (§5's per-session ordering guarantee).
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore composes a cache tier and a durable tier into the
// dual-tier store. ttl <= 0 selects DefaultTTL.
func NewStore(cache Cache, durable Durable, ttl time.Duration, logger logging.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Store{
		cache:   cache,
		durable: durable,
		ttl:     ttl,
		logger:  logger.WithComponent("session/store"),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// Create writes ctxVal to both tiers. The caller observes success only
// if the durable write succeeds; the cache is populated afterward.
func (s *Store) Create(ctx context.Context, ctxVal *Context) error {
	lock := s.lockFor(ctxVal.SessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.writeThrough(ctx, ctxVal)
}

// Update refreshes last_updated and re-runs the write-through path.
func (s *Store) Update(ctx context.Context, ctxVal *Context) error {
	lock := s.lockFor(ctxVal.SessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if now.Before(ctxVal.LastUpdated) {
		now = ctxVal.LastUpdated
	}
	ctxVal.LastUpdated = now
	return s.writeThrough(ctx, ctxVal)
}

func (s *Store) writeThrough(ctx context.Context, ctxVal *Context) error {
	if err := s.durable.Put(ctx, ctxVal); err != nil {
		s.logger.Error("durable write failed", map[string]interface{}{"session_id": ctxVal.SessionID, "error": err.Error()})
		return err
	}
	if err := s.cache.Set(ctx, ctxVal, s.ttl); err != nil {
		// Cache failures are not fatal to the write-through guarantee:
		// the durable write already landed, and a subsequent Get will
		// repopulate the cache from there.
		s.logger.Warn("cache write failed after durable commit", map[string]interface{}{"session_id": ctxVal.SessionID, "error": err.Error()})
	}
	return nil
}

// Get reads the cache first; on miss it falls back to durable and
// rewarms the cache with a refreshed TTL.
func (s *Store) Get(ctx context.Context, id string) (*Context, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if ctxVal, ok, err := s.cache.Get(ctx, id); err != nil {
		s.logger.Warn("cache read failed, falling back to durable", map[string]interface{}{"session_id": id, "error": err.Error()})
	} else if ok {
		return ctxVal, nil
	}

	ctxVal, ok, err := s.durable.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierrors.New("session.Store.Get", "not_found", apierrors.ErrUnknownSession).WithID(id)
	}

	if err := s.cache.Set(ctx, ctxVal, s.ttl); err != nil {
		s.logger.Warn("cache rewarm failed", map[string]interface{}{"session_id": id, "error": err.Error()})
	}
	return ctxVal, nil
}

// Delete removes id from both tiers. Idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn("cache delete failed", map[string]interface{}{"session_id": id, "error": err.Error()})
	}
	if err := s.durable.Delete(ctx, id); err != nil {
		return err
	}
	return nil
}

// List returns every session_id known to the durable tier, used by
// the supplemental GET /internal/sessions operability endpoint.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.durable.List(ctx)
}
