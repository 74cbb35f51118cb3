// Package memstore is an in-process Store implementation backed by a
// sorted map, for tests and for embedding the engine without any files on
// disk. Grounded in the teacher's internal/storage/memory backend: a
// mutex-guarded map standing in for a real engine behind the same
// interface the other backends implement.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/crsl-dev/crsl/store"
)

// Store is a sorted, mutex-guarded, in-memory key-value store.
type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	guard *store.Guard
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data:  make(map[string][]byte),
		guard: store.NewGuard(),
	}
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[string(key)] = v
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *Store) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make(map[string][]byte, len(keys))
	for _, k := range keys {
		vals[k] = s.data[k]
	}
	s.mu.RUnlock()

	for _, k := range keys {
		if err := fn([]byte(k), vals[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) NewBatch() (store.Batch, error) {
	if err := s.guard.TryAcquire(); err != nil {
		return nil, err
	}
	return &batch{store: s, released: &store.Released{}}, nil
}

func (s *Store) Close() error { return nil }

type batch struct {
	store    *Store
	puts     map[string][]byte
	deletes  map[string]bool
	released *store.Released
}

func (b *batch) Put(key, value []byte) {
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.puts[string(key)] = v
	if b.deletes != nil {
		delete(b.deletes, string(key))
	}
}

func (b *batch) Delete(key []byte) {
	if b.deletes == nil {
		b.deletes = make(map[string]bool)
	}
	b.deletes[string(key)] = true
	if b.puts != nil {
		delete(b.puts, string(key))
	}
}

func (b *batch) Commit(_ context.Context) error {
	defer b.store.guard.Release(b.released)
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for k, v := range b.puts {
		b.store.data[k] = v
	}
	for k := range b.deletes {
		delete(b.store.data, k)
	}
	return nil
}

func (b *batch) Discard() {
	b.store.guard.Release(b.released)
	b.puts = nil
	b.deletes = nil
}
