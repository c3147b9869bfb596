package supervisor

import (
	"sync"

	"github.com/google/uuid"
)

type registryKey struct {
	accountID uuid.UUID
	phase     phase
}

// registry is the in-process half of the guard: a set of
// (accountID, phase) pairs currently believed active by this server.
type registry struct {
	mu     sync.Mutex
	active map[registryKey]struct{}
}

func newRegistry() *registry {
	return &registry{active: map[registryKey]struct{}{}}
}

func (r *registry) tryAcquire(accountID uuid.UUID, p phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{accountID, p}
	if _, busy := r.active[key]; busy {
		return false
	}
	r.active[key] = struct{}{}
	return true
}

func (r *registry) release(accountID uuid.UUID, p phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, registryKey{accountID, p})
}
