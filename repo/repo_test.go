package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/oplog"
	"github.com/crsl-dev/crsl/store/memstore"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return Open(memstore.New())
}

func mustID(t *testing.T) oplog.OpID {
	t.Helper()
	id, err := NewOperationID()
	require.NoError(t, err)
	return id
}

func create(t *testing.T, r *Repository, payload string) cid.CID {
	t.Helper()
	ctx := context.Background()
	id := mustID(t)
	c, err := r.Commit(ctx, oplog.Operation[Payload]{ID: id, Kind: oplog.KindCreate, Payload: payload, Author: "alice"})
	require.NoError(t, err)
	return c
}

func update(t *testing.T, r *Repository, genesis cid.CID, payload string, parents []cid.CID) cid.CID {
	t.Helper()
	ctx := context.Background()
	id := mustID(t)
	c, err := r.Commit(ctx, oplog.Operation[Payload]{ID: id, Genesis: genesis, Kind: oplog.KindUpdate, Payload: payload, Parents: parents, Author: "alice"})
	require.NoError(t, err)
	return c
}

// S1 - Linear update.
func TestLinearUpdate(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	genesis := create(t, r, "A")
	u1 := update(t, r, genesis, "B", nil)
	u2 := update(t, r, genesis, "C", nil)

	latest, ok, err := r.Latest(ctx, genesis)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(u2))

	state, err := r.GetState(ctx, genesis)
	require.NoError(t, err)
	assert.True(t, state.Present)
	assert.Equal(t, "C", state.Payload)

	n, err := r.GetNode(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, []cid.CID{genesis}, n.Parents)
}

// S2 - Delete carries last payload.
func TestDeleteCarriesLastPayload(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	genesis := create(t, r, "X")
	u1 := update(t, r, genesis, "Y", nil)

	id := mustID(t)
	d, err := r.Commit(ctx, oplog.Operation[Payload]{ID: id, Genesis: genesis, Kind: oplog.KindDelete, Parents: nil, Author: "alice"})
	require.NoError(t, err)

	latest, ok, err := r.Latest(ctx, genesis)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(d))

	state, err := r.GetState(ctx, genesis)
	require.NoError(t, err)
	assert.False(t, state.Present)

	n, err := r.GetNode(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "Y", n.Payload)
	assert.Equal(t, []cid.CID{u1}, n.Parents)
}

// S3 - Explicit branching.
func TestExplicitBranching(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	genesis := create(t, r, "root")
	a := update(t, r, genesis, "a", []cid.CID{genesis})
	b := update(t, r, genesis, "b", []cid.CID{genesis})

	heads, err := r.currentHeads(ctx, genesis)
	require.NoError(t, err)
	require.Len(t, heads, 2)

	headSet := map[string]bool{heads[0].String(): true, heads[1].String(): true}
	assert.True(t, headSet[a.String()])
	assert.True(t, headSet[b.String()])
}

// S4 - Auto-merge.
func TestAutoMergeOnConverge(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	genesis := create(t, r, "root")
	a := update(t, r, genesis, "a", []cid.CID{genesis})
	b := update(t, r, genesis, "b", []cid.CID{genesis})

	u := update(t, r, genesis, "c", nil)

	n, err := r.GetNode(ctx, u)
	require.NoError(t, err)
	require.Len(t, n.Parents, 1)
	mergeCID := n.Parents[0]

	mergeNode, err := r.GetNode(ctx, mergeCID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []cid.CID{a, b}, mergeNode.Parents)

	latest, ok, err := r.Latest(ctx, genesis)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(u))

	ops, err := r.GetOperationsWithIndex(ctx, genesis)
	require.NoError(t, err)
	var sawMerge bool
	for _, o := range ops {
		if o.Operation.Kind == oplog.KindMerge {
			sawMerge = true
			assert.Equal(t, "auto-merge", o.Operation.Author)
		}
	}
	assert.True(t, sawMerge, "expected a synthesized Merge operation in the log")
}

// S5 - Cross-family parent rejected.
func TestCrossFamilyParentRejected(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	ga := create(t, r, "A")
	gb := create(t, r, "B")

	id := mustID(t)
	_, err := r.Commit(ctx, oplog.Operation[Payload]{ID: id, Genesis: ga, Kind: oplog.KindUpdate, Payload: "x", Parents: []cid.CID{gb}, Author: "alice"})
	require.Error(t, err)
	assert.True(t, crslerr.Is(err, crslerr.ErrWrongFamily))

	state, err := r.GetState(ctx, ga)
	require.NoError(t, err)
	assert.Equal(t, "A", state.Payload)
}

// S6 - Import preserves CIDs.
func TestImportPreservesCID(t *testing.T) {
	replica1 := newRepo(t)
	ctx := context.Background()

	genesis := create(t, replica1, "X")
	n, err := replica1.GetNode(ctx, genesis)
	require.NoError(t, err)

	replica2 := newRepo(t)
	id := mustID(t)
	ts := n.Timestamp
	got, err := replica2.Commit(ctx, oplog.Operation[Payload]{
		ID:            id,
		Genesis:       genesis,
		Kind:          oplog.KindCreate,
		Payload:       "X",
		NodeTimestamp: &ts,
		Author:        "alice",
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(genesis))

	latest, ok, err := replica2.Latest(ctx, genesis)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(genesis))
}

func TestManualMergeRejected(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	genesis := create(t, r, "A")

	id := mustID(t)
	_, err := r.Commit(ctx, oplog.Operation[Payload]{ID: id, Genesis: genesis, Kind: oplog.KindMerge, Payload: "x", Author: "alice"})
	require.Error(t, err)
	assert.True(t, crslerr.Is(err, crslerr.ErrValidation))
}

func TestUpdateWithoutCreateRejected(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	bogus, _ := cid.FromBytes([]byte("nonexistent"))

	id := mustID(t)
	_, err := r.Commit(ctx, oplog.Operation[Payload]{ID: id, Genesis: bogus, Kind: oplog.KindUpdate, Payload: "x", Author: "alice"})
	require.Error(t, err)
	assert.True(t, crslerr.Is(err, crslerr.ErrValidation))
}

// P9 - Commit atomicity: a failed commit leaves no visible trace.
func TestCommitAtomicityOnFailure(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	ga := create(t, r, "A")
	gb := create(t, r, "B")

	opsBefore, err := r.GetOperationsWithIndex(ctx, ga)
	require.NoError(t, err)

	id := mustID(t)
	_, err = r.Commit(ctx, oplog.Operation[Payload]{ID: id, Genesis: ga, Kind: oplog.KindUpdate, Payload: "x", Parents: []cid.CID{gb}, Author: "alice"})
	require.Error(t, err)

	opsAfter, err := r.GetOperationsWithIndex(ctx, ga)
	require.NoError(t, err)
	assert.Equal(t, len(opsBefore), len(opsAfter))
}

func TestBranchingAndLinearHistoryViaRepo(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	genesis := create(t, r, "root")
	update(t, r, genesis, "a", []cid.CID{genesis})
	update(t, r, genesis, "b", []cid.CID{genesis})

	edges, err := r.BranchingHistory(ctx, genesis)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Len(t, edges[0].Children, 2)

	linear, err := r.LinearHistory(ctx, genesis)
	require.NoError(t, err)
	assert.True(t, linear[0].Equal(genesis))
}
