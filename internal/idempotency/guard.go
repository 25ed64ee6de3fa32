// Package idempotency deduplicates mutating hub operations keyed by
// (scope, caller-supplied key). The first call with a given key executes and
// records its result; retries with a matching fingerprint return the recorded
// result without re-executing side effects; retries with a different
// fingerprint fail with a conflict.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentflow-dev/sessionbus/internal/store"
)

// Claim statuses.
const (
	statusPending   = "PENDING"
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

// DefaultLease bounds how long a second caller can be blocked behind a claim
// whose owner crashed before completing.
const DefaultLease = 30 * time.Second

// retryInterval is how often a blocked caller re-reads an in-flight claim.
const retryInterval = 50 * time.Millisecond

// claim is the persisted record for one (scope, key) pair.
type claim struct {
	Scope          string    `json:"scope"`
	Key            string    `json:"key"`
	Fingerprint    string    `json:"fingerprint"`
	Status         string    `json:"status"`
	ResourceID     string    `json:"resource_id,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Result reports whether an operation executed fresh or was deduplicated.
type Result struct {
	// Existing is true when a prior completed call was found; ResourceID is
	// its stored result and the wrapped function did not run.
	Existing   bool
	ResourceID string
}

// Guard enforces at-most-once execution for keyed operations. Claims are
// persisted through the store so deduplication survives restarts; per-key
// mutexes serialize concurrent callers racing on the same new key.
type Guard struct {
	store *store.Store
	lease time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Guard persisting claims in st with the default lease.
func New(st *store.Store) *Guard {
	return &Guard{
		store: st,
		lease: DefaultLease,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetLease overrides the claim lease. Intended for tests.
func (g *Guard) SetLease(d time.Duration) {
	g.lease = d
}

// Fingerprint builds a canonical digest over the arguments of an operation.
// Two calls are "the same logical operation" iff their fingerprints match.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Run executes fn at most once for the given (scope, key). An empty key
// always executes fresh. A concurrent caller racing on the same new key
// blocks until the first completes, then returns its result. A key reused
// with a different fingerprint fails with store.ErrConflict. If a prior
// caller crashed mid-flight, the claim is taken over once its lease expires.
func (g *Guard) Run(scope, key, fingerprint string, fn func() (string, error)) (Result, error) {
	if key == "" {
		id, err := fn()
		return Result{ResourceID: id}, err
	}

	lock := g.keyLock(scope, key)
	lock.Lock()
	defer lock.Unlock()

	id := claimID(scope, key)

	for {
		rec, err := g.store.Get(store.KindClaim, id)
		if errors.Is(err, store.ErrNotFound) {
			return g.execute(id, scope, key, fingerprint, fn)
		}
		if err != nil {
			return Result{}, err
		}

		var c claim
		if err := rec.Decode(&c); err != nil {
			return Result{}, err
		}
		if c.Fingerprint != fingerprint {
			return Result{}, fmt.Errorf("idempotency key %q reused for a different operation: %w", key, store.ErrConflict)
		}

		switch c.Status {
		case statusCompleted:
			return Result{Existing: true, ResourceID: c.ResourceID}, nil
		case statusFailed:
			// The previous attempt failed after claiming; retry fresh.
			return g.execute(id, scope, key, fingerprint, fn)
		case statusPending:
			if time.Now().After(c.LeaseExpiresAt) {
				// Owner crashed without completing; take the claim over.
				return g.execute(id, scope, key, fingerprint, fn)
			}
			// Another process is executing. Wait for it, bounded by the
			// lease rather than an external timeout.
			time.Sleep(retryInterval)
		default:
			return Result{}, fmt.Errorf("idempotency claim %s has unknown status %q", id, c.Status)
		}
	}
}

// execute claims (scope, key), runs fn, and records the outcome.
func (g *Guard) execute(id, scope, key, fingerprint string, fn func() (string, error)) (Result, error) {
	now := time.Now().UTC()
	c := claim{
		Scope:          scope,
		Key:            key,
		Fingerprint:    fingerprint,
		Status:         statusPending,
		LeaseExpiresAt: now.Add(g.lease),
		CreatedAt:      now,
	}
	if err := g.store.Put(store.KindClaim, id, c); err != nil {
		return Result{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	resourceID, err := fn()
	if err != nil {
		c.Status = statusFailed
		_ = g.store.Put(store.KindClaim, id, c)
		return Result{}, err
	}

	c.Status = statusCompleted
	c.ResourceID = resourceID
	if err := g.store.Put(store.KindClaim, id, c); err != nil {
		return Result{}, fmt.Errorf("record idempotency result: %w", err)
	}
	return Result{ResourceID: resourceID}, nil
}

// keyLock returns the per-(scope, key) mutex, creating it on first use.
func (g *Guard) keyLock(scope, key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := claimID(scope, key)
	lock, ok := g.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[id] = lock
	}
	return lock
}

// claimID derives a stable record id for (scope, key). Hashing avoids
// collisions from separator characters appearing in either part.
func claimID(scope, key string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{scope, key}, "\x00")))
	return hex.EncodeToString(h[:])
}
