package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/store"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "crsl.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	if _, err := s.Get(ctx, []byte("k")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := s.Get(ctx, []byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if err := s.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, []byte("k")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIterateOrderedByPrefix(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	_ = s.Put(ctx, []byte{0x10, 0x02}, []byte("b"))
	_ = s.Put(ctx, []byte{0x10, 0x01}, []byte("a"))
	_ = s.Put(ctx, []byte{0x01, 0x01}, []byte("other-namespace"))

	var got []string
	err := s.Iterate(ctx, []byte{0x10}, func(k, v []byte) error {
		got = append(got, string(v))
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected ordered [a b], got %v", got)
	}
}

func TestBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	_ = s.Put(ctx, []byte("existing"), []byte("1"))

	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	b.Put([]byte("new"), []byte("2"))
	b.Delete([]byte("existing"))

	if _, err := s.NewBatch(); !errors.Is(err, crslerr.ErrBatchAlreadyActive) {
		t.Fatalf("expected ErrBatchAlreadyActive, got %v", err)
	}

	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := s.Get(ctx, []byte("existing")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected delete to have applied")
	}
	v, err := s.Get(ctx, []byte("new"))
	if err != nil || string(v) != "2" {
		t.Fatalf("expected put to have applied, got %q, %v", v, err)
	}

	// Batch slot must be free again after Commit.
	b2, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch after commit: %v", err)
	}
	b2.Discard()
}

func TestBatchDiscard(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	b.Put([]byte("k"), []byte("v"))
	b.Discard()

	if _, err := s.Get(ctx, []byte("k")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("discarded batch should not have applied writes")
	}

	// Batch slot must be free again after Discard.
	b2, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch after discard: %v", err)
	}
	b2.Discard()
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "crsl.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Put(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, err := s2.Get(ctx, []byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("Get after reopen = %q, %v", v, err)
	}
}
