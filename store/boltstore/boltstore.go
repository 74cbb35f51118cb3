// Package boltstore is the default embedded Store implementation, backed by
// go.etcd.io/bbolt. bbolt's transaction model maps directly onto spec
// §6.1's atomic write-batch contract: a Batch here stages puts/deletes in
// memory and Commit applies them inside one bbolt read-write transaction,
// so either all of them land or none do.
package boltstore

import (
	"bytes"
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/store"
)

// bucketName holds every key, already prefixed per spec §6.1 (0x01 for
// operations, 0x10 for nodes); a single bucket keeps the byte-level key
// layout the one source of truth for namespacing.
var bucketName = []byte("crsl")

// Store wraps a bbolt database file.
type Store struct {
	db    *bolt.DB
	guard *store.Guard
}

// Open opens (creating if absent) a bbolt file at path as the repository's
// node+operation store.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore.Open: %w: %v", crslerr.ErrStorage, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore.Open: %w: %v", crslerr.ErrStorage, err)
	}
	return &Store{db: db, guard: store.NewGuard()}, nil
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return store.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if err == store.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("boltstore.Get: %w: %v", crslerr.ErrStorage, err)
	}
	return out, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("boltstore.Put: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("boltstore.Delete: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

func (s *Store) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(append([]byte(nil), k...), append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) NewBatch() (store.Batch, error) {
	if err := s.guard.TryAcquire(); err != nil {
		return nil, err
	}
	return &batch{store: s, released: &store.Released{}}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("boltstore.Close: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

type writeOp struct {
	key     []byte
	value   []byte
	isDelete bool
}

type batch struct {
	store    *Store
	ops      []writeOp
	released *store.Released
}

func (b *batch) Put(key, value []byte) {
	b.ops = append(b.ops, writeOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, writeOp{key: append([]byte(nil), key...), isDelete: true})
}

func (b *batch) Commit(_ context.Context) error {
	defer b.store.guard.Release(b.released)
	err := b.store.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		for _, op := range b.ops {
			if op.isDelete {
				if err := bkt.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore.Batch.Commit: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

func (b *batch) Discard() {
	b.store.guard.Release(b.released)
	b.ops = nil
}
