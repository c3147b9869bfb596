// Package supervisor starts, chains and resumes the Sync and Process
// Runners per account, and enforces an advisory at-most-one-active guard
// per (account, phase). The in-process registry is a mutex-guarded map of
// active (accountID, phase) keys; the optional Redis-backed second layer is
// grounded on dsmolchanov-nerve's internal/queue/queue.go use of
// github.com/redis/go-redis/v9 as shared runtime state across processes.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type phase string

const (
	phaseSync    phase = "sync"
	phaseProcess phase = "process"

	// lockTTL bounds how long a crashed process's Redis lock can strand a
	// phase; a live process renews nothing, it simply finishes within this
	// window for any realistic account size.
	lockTTL = 30 * time.Minute
)

// guard is the advisory at-most-one-active interlock for one
// (accountID, phase) pair. acquire returns false when another runner
// already holds it; release clears the pair unconditionally, so it is
// called only after a successful acquire.
type guard struct {
	redis *redis.Client
}

func newGuard(redisClient *redis.Client) *guard {
	return &guard{redis: redisClient}
}

func (g *guard) acquire(ctx context.Context, registry *registry, accountID uuid.UUID, p phase) bool {
	if !registry.tryAcquire(accountID, p) {
		return false
	}
	if g.redis == nil {
		return true
	}
	key := lockKey(accountID, p)
	ok, err := g.redis.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		// Redis is an enrichment, not the source of truth; a failure here
		// falls back to the in-process registry's guarantee alone.
		return true
	}
	if !ok {
		registry.release(accountID, p)
		return false
	}
	return true
}

func (g *guard) release(ctx context.Context, registry *registry, accountID uuid.UUID, p phase) {
	registry.release(accountID, p)
	if g.redis == nil {
		return
	}
	g.redis.Del(ctx, lockKey(accountID, p))
}

func lockKey(accountID uuid.UUID, p phase) string {
	return fmt.Sprintf("mailsub:lock:%s:%s", p, accountID)
}
