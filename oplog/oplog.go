// Package oplog implements the operation log and last-write-wins reducer
// of spec §4.5 — the CRDT state layer. Operations are persisted under the
// store.OpPrefix namespace, keyed by their ULID id; reading a genesis's
// state means scanning every operation and folding with Reduce.
package oplog

import (
	"context"
	"fmt"
	"sort"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/node"
	"github.com/crsl-dev/crsl/store"
)

// Kind distinguishes the four operation shapes spec §3 names.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindMerge  Kind = "merge"
)

// Operation is the persisted, append-only record spec §3 describes.
// Field order matches the wire format of spec §6.2 (id, genesis, kind,
// timestamp, author, parents, node_timestamp), with Payload placed
// alongside Kind since Go has no native tagged union for Kind(Payload).
type Operation[P any] struct {
	_ struct{} `cbor:",toarray"`

	ID            OpID
	Genesis       cid.CID
	Kind          Kind
	Payload       P
	Timestamp     uint64
	Author        string
	Parents       []cid.CID
	NodeTimestamp *uint64
}

// key builds the store key for an operation: 0x01 || ULID(16).
func key(id OpID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, store.OpPrefix)
	k = append(k, id.Bytes()...)
	return k
}

// Log is the operation log over a shared store.Store.
type Log[P any] struct {
	store store.Store
}

// New wraps store as an operation log.
func New[P any](s store.Store) *Log[P] {
	return &Log[P]{store: s}
}

// BeginBatch opens a write batch on the shared store (spec §4.5 "begin_batch()").
func (l *Log[P]) BeginBatch() (store.Batch, error) {
	return l.store.NewBatch()
}

// StageSave encodes op and stages its write into an already-open batch,
// for the repository's single-batch commit protocol (spec §4.3.1).
func (l *Log[P]) StageSave(b store.Batch, op Operation[P]) error {
	data, err := encode(op)
	if err != nil {
		return err
	}
	b.Put(key(op.ID), data)
	return nil
}

// Save persists op directly, opening and committing its own batch. Useful
// for tests and standalone use of the log outside Repository.Commit.
func (l *Log[P]) Save(ctx context.Context, op Operation[P]) error {
	b, err := l.BeginBatch()
	if err != nil {
		return err
	}
	if err := l.StageSave(b, op); err != nil {
		b.Discard()
		return err
	}
	return b.Commit(ctx)
}

// Get loads a single operation by id.
func (l *Log[P]) Get(ctx context.Context, id OpID) (Operation[P], error) {
	data, err := l.store.Get(ctx, key(id))
	if err != nil {
		if err == store.ErrNotFound {
			return Operation[P]{}, fmt.Errorf("oplog.Get(%s): %w", id, crslerr.ErrNodeNotFound)
		}
		return Operation[P]{}, fmt.Errorf("oplog.Get(%s): %w: %v", id, crslerr.ErrStorage, err)
	}
	return decode[P](data)
}

// Delete removes an operation record. Administrative cleanup only — not
// used in normal commit flow (spec §3, "Ownership & lifecycle").
func (l *Log[P]) Delete(ctx context.Context, id OpID) error {
	if err := l.store.Delete(ctx, key(id)); err != nil {
		return fmt.Errorf("oplog.Delete(%s): %w: %v", id, crslerr.ErrStorage, err)
	}
	return nil
}

// LoadByGenesis scans every operation record and returns those belonging
// to genesis. There is no secondary genesis index in the key layout (spec
// §6.1); the same scan-and-filter approach is used by the DAG engine's
// get_nodes_by_genesis (spec §4.4).
func (l *Log[P]) LoadByGenesis(ctx context.Context, genesis cid.CID) ([]Operation[P], error) {
	var out []Operation[P]
	err := l.store.Iterate(ctx, []byte{store.OpPrefix}, func(_ []byte, v []byte) error {
		op, err := decode[P](v)
		if err != nil {
			return err
		}
		if op.Genesis.Equal(genesis) {
			out = append(out, op)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("oplog.LoadByGenesis(%s): %w", genesis, err)
	}
	return out, nil
}

// ValidateOperation returns false only when op is an Update/Delete/Merge
// and no Create exists yet in op.Genesis's log (spec §4.5).
func (l *Log[P]) ValidateOperation(ctx context.Context, op Operation[P]) (bool, error) {
	if op.Kind == KindCreate {
		return true, nil
	}
	ops, err := l.LoadByGenesis(ctx, op.Genesis)
	if err != nil {
		return false, err
	}
	for _, o := range ops {
		if o.Kind == KindCreate {
			return true, nil
		}
	}
	return false, nil
}

// State is the reducer's output: a present payload, or absence after a
// winning Delete.
type State[P any] struct {
	Payload P
	Present bool
}

// Reduce folds a genesis's operations with last-write-wins: the maximum
// (timestamp, id bytes) pair wins (P6); its payload is emitted for
// Create/Update/Merge, or absence for Delete.
func Reduce[P any](ops []Operation[P]) State[P] {
	if len(ops) == 0 {
		return State[P]{}
	}
	best := ops[0]
	for _, op := range ops[1:] {
		if op.Timestamp > best.Timestamp ||
			(op.Timestamp == best.Timestamp && op.ID.Compare(best.ID) > 0) {
			best = op
		}
	}
	if best.Kind == KindDelete {
		return State[P]{Present: false}
	}
	return State[P]{Payload: best.Payload, Present: true}
}

// GetState loads genesis's full operation history and reduces it.
func (l *Log[P]) GetState(ctx context.Context, genesis cid.CID) (State[P], error) {
	ops, err := l.LoadByGenesis(ctx, genesis)
	if err != nil {
		return State[P]{}, err
	}
	return Reduce(ops), nil
}

// OperationsWithIndex returns a genesis's operations in commit order (by
// id, which sorts by time) paired with a 1-based index, for
// get_operations_with_index (spec §4.3).
func (l *Log[P]) OperationsWithIndex(ctx context.Context, genesis cid.CID) ([]IndexedOperation[P], error) {
	ops, err := l.LoadByGenesis(ctx, genesis)
	if err != nil {
		return nil, err
	}
	sortByID(ops)
	out := make([]IndexedOperation[P], len(ops))
	for i, op := range ops {
		out[i] = IndexedOperation[P]{Index: i + 1, Operation: op}
	}
	return out, nil
}

// IndexedOperation pairs an operation with its 1-based position in the log.
type IndexedOperation[P any] struct {
	Index     int
	Operation Operation[P]
}

func sortByID[P any](ops []Operation[P]) {
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].ID.Compare(ops[j].ID) < 0
	})
}

func encode[P any](op Operation[P]) ([]byte, error) {
	data, err := node.EncMode().Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("oplog.encode: %w: %v", crslerr.ErrSerialization, err)
	}
	return data, nil
}

func decode[P any](data []byte) (Operation[P], error) {
	var op Operation[P]
	if err := node.DecMode().Unmarshal(data, &op); err != nil {
		return Operation[P]{}, fmt.Errorf("oplog.decode: %w: %v", crslerr.ErrSerialization, err)
	}
	return op, nil
}
