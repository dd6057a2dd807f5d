package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/sales-research/pkg/research"
)

// Registry owns the snapshots of all sessions in the process. The map lock is
// held only for lookups; each session is mutated under its own lock, so
// sessions never block one another.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

type entry struct {
	mu      sync.Mutex
	snap    Snapshot
	removed bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new session for target in the starting state.
func (r *Registry) Create(target research.Target) Snapshot {
	now := r.now()
	empty := research.FieldSet{}
	e := &entry{snap: Snapshot{
		SessionID:     uuid.New().String(),
		TargetID:      target.ID,
		TargetName:    target.Name,
		Status:        StatusStarting,
		CurrentStep:   "Initializing research...",
		TotalSteps:    research.MaxIterations + 1,
		StartTime:     now,
		UpdatedAt:     now,
		FieldsFound:   empty.Found(),
		FieldsMissing: empty.Missing(),
	}}

	r.mu.Lock()
	r.sessions[e.snap.SessionID] = e
	r.mu.Unlock()

	return e.snap.clone()
}

// Get returns a copy of the session's snapshot.
func (r *Registry) Get(id string) (Snapshot, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Snapshot{}, false
	}
	return e.snap.clone(), true
}

// Update applies patch and stamps the update time. It returns false, changing
// nothing, when the session is unknown or already terminal. Each notify func
// runs with the updated snapshot before the session lock is released, so
// notifications for one session are serialized in update order.
func (r *Registry) Update(id string, patch Patch, notify ...func(Snapshot)) (Snapshot, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.snap.Status.Terminal() {
		return Snapshot{}, false
	}

	patch.apply(&e.snap, r.now())
	snap := e.snap.clone()
	for _, fn := range notify {
		fn(snap)
	}
	return snap, true
}

// Remove deletes the session. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}
