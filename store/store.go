// Package store defines the key-value contract spec §6.1 assumes of the
// external embedded store: a byte-keyed ordered map with point get/put/
// delete, forward iteration and an atomic write batch, plus the two key
// namespaces (operation records and DAG node records) that share it.
//
// The engine's repo/oplog/dag packages depend only on the Store interface
// here — never on a concrete backend — so the choice of underlying KV
// engine stays an external collaborator, as spec §1 requires.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/crsl-dev/crsl/crslerr"
)

// Key namespace prefixes (spec §6.1). Namespaces never overlap.
const (
	OpPrefix   byte = 0x01 // 0x01 || ULID(16) — operation record
	NodePrefix byte = 0x10 // 0x10 || CID bytes — DAG node record
)

// ErrNotFound is returned by Get when key is absent.
var ErrNotFound = errors.New("store: key not found")

// Store is the shared handle the operation log and the DAG node store are
// built over. A single writer, no cross-process locking required (spec §5).
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put writes key/value directly (outside of a batch).
	Put(ctx context.Context, key, value []byte) error

	// Delete removes key directly (outside of a batch).
	Delete(ctx context.Context, key []byte) error

	// Iterate walks all keys with the given prefix in ascending byte order,
	// calling fn for each. Stops and returns fn's error if it returns one.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// NewBatch opens an atomic write batch. Only one batch may be active at
	// a time across the whole Store; a second call before the first is
	// Committed or Discarded returns crslerr.ErrBatchAlreadyActive.
	NewBatch() (Batch, error)

	// Close releases underlying resources.
	Close() error
}

// Batch collects puts and deletes for atomic, all-or-nothing application.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Commit atomically publishes every staged write.
	Commit(ctx context.Context) error

	// Discard abandons every staged write. Safe to call after Commit (no-op).
	Discard()
}

// Guard implements the "only one batch active at a time" rule (spec §5) as
// a non-blocking binary semaphore. Concrete Store backends embed a Guard
// and call TryAcquire/Release around batch lifecycle instead of
// reimplementing the bookkeeping themselves.
type Guard struct {
	sem *semaphore.Weighted
}

// NewGuard returns a Guard with no batch active.
func NewGuard() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// TryAcquire claims the single batch slot, or returns
// crslerr.ErrBatchAlreadyActive if one is already open.
func (g *Guard) TryAcquire() error {
	if !g.sem.TryAcquire(1) {
		return fmt.Errorf("store.Guard.TryAcquire: %w", crslerr.ErrBatchAlreadyActive)
	}
	return nil
}

// Released tracks whether a given acquisition's Release has already fired,
// so a batch that Commits and is then Discarded via defer doesn't release
// the semaphore twice.
type Released struct {
	mu   sync.Mutex
	done bool
}

// Release frees the batch slot exactly once, regardless of how many times
// it is called for the same acquisition.
func (g *Guard) Release(r *Released) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	g.sem.Release(1)
}
