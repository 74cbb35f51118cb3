// Package repo implements the Repository of spec §4.3: the transactional
// commit protocol, auto-merge, import leniency, and the read-only history
// views, wired over dag.Graph, oplog.Log and merge.Registry. It fixes the
// two type parameters the rest of the engine leaves generic (payload
// string, metadata meta.Metadata) at this seam so the whole commit path
// is end-to-end testable (spec §9 design note).
package repo

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/clock"
	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/dag"
	"github.com/crsl-dev/crsl/merge"
	"github.com/crsl-dev/crsl/meta"
	"github.com/crsl-dev/crsl/node"
	"github.com/crsl-dev/crsl/oplog"
	"github.com/crsl-dev/crsl/store"
)

// Payload is the concrete content type carried by nodes and operations
// at this seam.
type Payload = string

var tracer = otel.Tracer("github.com/crsl-dev/crsl/repo")

// repoMetrics holds the OTel instruments for commits, created once in init, mirroring
// the teacher's package-level doltMetrics/aiMetrics pattern.
var repoMetrics struct {
	commits       metric.Int64Counter
	autoMerges    metric.Int64Counter
	commitErrors  metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/crsl-dev/crsl/repo")
	repoMetrics.commits, _ = m.Int64Counter("crsl.repo.commits",
		metric.WithDescription("Operations committed, by kind"),
		metric.WithUnit("{commit}"),
	)
	repoMetrics.autoMerges, _ = m.Int64Counter("crsl.repo.auto_merges",
		metric.WithDescription("Auto-merge nodes synthesized during commit"),
		metric.WithUnit("{merge}"),
	)
	repoMetrics.commitErrors, _ = m.Int64Counter("crsl.repo.commit_errors",
		metric.WithDescription("Commits that failed and were rolled back"),
		metric.WithUnit("{error}"),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Repository is the core orchestrator: a DAG engine, an operation log and
// a merge-policy registry sharing one store.Store handle.
type Repository struct {
	store  store.Store
	graph  *dag.Graph[Payload, meta.Metadata]
	log    *oplog.Log[Payload]
	mergep *merge.Registry[Payload]
	clk    *clock.Source
	logger *slog.Logger

	// defaultPolicy seeds a new genesis's metadata. Operation carries no
	// metadata field of its own (spec §6.2's wire format omits it), so
	// this is the only place a fresh family's convergence policy comes
	// from short of RegisterPolicy-ing a custom one under "lww" itself.
	defaultPolicy string
}

// Open constructs a Repository over s.
func Open(s store.Store) *Repository {
	clk := clock.New()
	return &Repository{
		store:         s,
		graph:         dag.New[Payload, meta.Metadata](s, clk),
		log:           oplog.New[Payload](s),
		mergep:        merge.NewRegistry[Payload](),
		clk:           clk,
		logger:        slog.Default(),
		defaultPolicy: meta.DefaultPolicy,
	}
}

// SetLogger overrides the repository's structured logger.
func (r *Repository) SetLogger(l *slog.Logger) { r.logger = l }

// SetDefaultPolicy changes the convergence policy newly created geneses
// are tagged with.
func (r *Repository) SetDefaultPolicy(name string) { r.defaultPolicy = name }

// RegisterPolicy exposes the repository's merge-policy registry so
// applications can plug in custom policies by name (spec §4.6).
func (r *Repository) RegisterPolicy(name string, p merge.Policy[Payload]) {
	r.mergep.Register(name, p)
}

// Commit is the transactional entry point of spec §4.3.1.
func (r *Repository) Commit(ctx context.Context, op oplog.Operation[Payload]) (cid.CID, error) {
	ctx, span := tracer.Start(ctx, "repo.Commit", trace.WithAttributes(
		attribute.String("crsl.genesis", op.Genesis.String()),
		attribute.String("crsl.kind", string(op.Kind)),
	))
	resultCID, err := r.commit(ctx, op)
	if err != nil {
		repoMetrics.commitErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(op.Kind))))
		r.logger.Error("commit failed", slog.String("genesis", op.Genesis.String()), slog.String("kind", string(op.Kind)), slog.Any("err", err))
	} else {
		span.SetAttributes(attribute.String("crsl.result_cid", resultCID.String()))
		repoMetrics.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(op.Kind))))
		r.logger.Info("committed", slog.String("genesis", op.Genesis.String()), slog.String("kind", string(op.Kind)), slog.String("cid", resultCID.String()))
	}
	endSpan(span, err)
	return resultCID, err
}

func (r *Repository) commit(ctx context.Context, op oplog.Operation[Payload]) (cid.CID, error) {
	isImport := op.NodeTimestamp != nil

	// Step 1: reject invalid kinds.
	if op.Kind == oplog.KindMerge && !isImport {
		return cid.CID{}, fmt.Errorf("repo.Commit: %w: manual Merge is not permitted", crslerr.ErrValidation)
	}
	if ok, err := r.log.ValidateOperation(ctx, op); err != nil {
		return cid.CID{}, err
	} else if !ok {
		return cid.CID{}, fmt.Errorf("repo.Commit: %w: no Create exists for genesis %s", crslerr.ErrValidation, op.Genesis)
	}

	// Step 2: open the shared batch.
	b, err := r.store.NewBatch()
	if err != nil {
		return cid.CID{}, fmt.Errorf("repo.Commit: %w", err)
	}
	var pendingRegs []*dag.PendingRegistration
	rollback := func() {
		b.Discard()
		for _, reg := range pendingRegs {
			r.graph.RollbackPending(reg)
		}
	}

	resultCID, err := r.stageCommit(ctx, b, op, isImport, &pendingRegs)
	if err != nil {
		rollback()
		return cid.CID{}, err
	}

	if err := b.Commit(ctx); err != nil {
		rollback()
		return cid.CID{}, fmt.Errorf("repo.Commit: %w", err)
	}
	return resultCID, nil
}

// stageCommit performs steps 3-7: normalize parents, pick a timestamp,
// stage the node(s) and operation(s) into b, registering pending cache
// entries as it goes. It never commits or discards b itself.
func (r *Repository) stageCommit(ctx context.Context, b store.Batch, op oplog.Operation[Payload], isImport bool, pendingRegs *[]*dag.PendingRegistration) (cid.CID, error) {
	timestamp := r.clk.Now()
	if op.NodeTimestamp != nil {
		timestamp = *op.NodeTimestamp
	}

	switch op.Kind {
	case oplog.KindCreate:
		return r.stageCreate(ctx, b, op, isImport, timestamp, pendingRegs)
	case oplog.KindUpdate:
		return r.stageUpdate(ctx, b, op, isImport, timestamp, pendingRegs)
	case oplog.KindDelete:
		return r.stageDelete(ctx, b, op, isImport, timestamp, pendingRegs)
	case oplog.KindMerge:
		return r.stageMergeImport(ctx, b, op, timestamp, pendingRegs)
	default:
		return cid.CID{}, fmt.Errorf("repo.Commit: %w: unknown operation kind %q", crslerr.ErrInternal, op.Kind)
	}
}

func (r *Repository) stageCreate(ctx context.Context, b store.Batch, op oplog.Operation[Payload], isImport bool, timestamp uint64, pendingRegs *[]*dag.PendingRegistration) (cid.CID, error) {
	metadata := meta.New(r.defaultPolicy)
	c, n, err := r.graph.PrepareGenesisAt(op.Payload, timestamp, metadata)
	if err != nil {
		return cid.CID{}, err
	}
	if isImport && !c.Equal(op.Genesis) {
		return cid.CID{}, fmt.Errorf("repo.Commit: %w: recomputed %s != expected genesis %s", crslerr.ErrCIDMismatch, c, op.Genesis)
	}
	op.Genesis = c

	if err := r.graph.StageNode(b, c, n); err != nil {
		return cid.CID{}, err
	}
	*pendingRegs = append(*pendingRegs, r.graph.RegisterPrepared(c, n.Parents))

	op.Timestamp = pickTimestamp(op, timestamp)
	if err := r.log.StageSave(b, op); err != nil {
		return cid.CID{}, err
	}
	return c, nil
}

func (r *Repository) stageUpdate(ctx context.Context, b store.Batch, op oplog.Operation[Payload], isImport bool, timestamp uint64, pendingRegs *[]*dag.PendingRegistration) (cid.CID, error) {
	parents, err := r.normalizeParents(ctx, b, op, isImport, timestamp, pendingRegs)
	if err != nil {
		return cid.CID{}, err
	}
	metadata, err := r.resolveMetadata(ctx, op.Genesis, isImport)
	if err != nil {
		return cid.CID{}, err
	}

	c, n, err := r.graph.PrepareChildAt(op.Payload, parents, op.Genesis, timestamp, metadata)
	if err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.CheckCycle(ctx, c, parents); err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.StageNode(b, c, n); err != nil {
		return cid.CID{}, err
	}
	*pendingRegs = append(*pendingRegs, r.graph.RegisterPrepared(c, n.Parents))

	op.Parents = parents
	op.Timestamp = pickTimestamp(op, timestamp)
	if err := r.log.StageSave(b, op); err != nil {
		return cid.CID{}, err
	}
	return c, nil
}

func (r *Repository) stageDelete(ctx context.Context, b store.Batch, op oplog.Operation[Payload], isImport bool, timestamp uint64, pendingRegs *[]*dag.PendingRegistration) (cid.CID, error) {
	parents, err := r.normalizeParents(ctx, b, op, isImport, timestamp, pendingRegs)
	if err != nil {
		return cid.CID{}, err
	}

	// Delete carries forward the latest non-Delete payload (spec §4.3.1 step 5).
	payload := op.Payload
	if !isImport {
		payload, err = r.latestNonDeletePayload(ctx, op.Genesis)
		if err != nil {
			return cid.CID{}, err
		}
	}

	metadata, err := r.resolveMetadata(ctx, op.Genesis, isImport)
	if err != nil {
		return cid.CID{}, err
	}

	c, n, err := r.graph.PrepareChildAt(payload, parents, op.Genesis, timestamp, metadata)
	if err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.CheckCycle(ctx, c, parents); err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.StageNode(b, c, n); err != nil {
		return cid.CID{}, err
	}
	*pendingRegs = append(*pendingRegs, r.graph.RegisterPrepared(c, n.Parents))

	op.Parents = parents
	op.Payload = payload
	op.Timestamp = pickTimestamp(op, timestamp)
	if err := r.log.StageSave(b, op); err != nil {
		return cid.CID{}, err
	}
	return c, nil
}

// stageMergeImport handles the only legal entry path for a Merge
// operation: replaying one from another replica (spec §4.3.1 step 1).
func (r *Repository) stageMergeImport(ctx context.Context, b store.Batch, op oplog.Operation[Payload], timestamp uint64, pendingRegs *[]*dag.PendingRegistration) (cid.CID, error) {
	parents := op.Parents
	if len(parents) == 0 {
		heads, err := r.currentHeads(ctx, op.Genesis)
		if err != nil {
			return cid.CID{}, err
		}
		parents = heads
	}
	metadata, err := r.resolveMetadata(ctx, op.Genesis, true)
	if err != nil {
		return cid.CID{}, err
	}

	c, n, err := r.graph.PrepareChildAt(op.Payload, parents, op.Genesis, timestamp, metadata)
	if err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.CheckCycle(ctx, c, parents); err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.StageNode(b, c, n); err != nil {
		return cid.CID{}, err
	}
	*pendingRegs = append(*pendingRegs, r.graph.RegisterPrepared(c, n.Parents))

	op.Parents = parents
	op.Timestamp = pickTimestamp(op, timestamp)
	if err := r.log.StageSave(b, op); err != nil {
		return cid.CID{}, err
	}
	return c, nil
}

// normalizeParents implements step 3 of the commit protocol for
// Update/Delete: explicit parents are validated against the family;
// empty parents trigger auto-merge, falling back to the current single
// head.
func (r *Repository) normalizeParents(ctx context.Context, b store.Batch, op oplog.Operation[Payload], isImport bool, timestamp uint64, pendingRegs *[]*dag.PendingRegistration) ([]cid.CID, error) {
	if isImport {
		return op.Parents, nil
	}

	if len(op.Parents) > 0 {
		for _, p := range op.Parents {
			g, err := r.graph.GetGenesis(ctx, p)
			if err != nil {
				return nil, err
			}
			if !g.Equal(op.Genesis) {
				return nil, fmt.Errorf("repo.Commit: %w: parent %s belongs to genesis %s, not %s", crslerr.ErrWrongFamily, p, g, op.Genesis)
			}
		}
		return op.Parents, nil
	}

	mergeParent, err := r.autoMerge(ctx, b, op.Genesis, timestamp, pendingRegs)
	if err != nil {
		return nil, err
	}
	if !mergeParent.IsZero() {
		return []cid.CID{mergeParent}, nil
	}

	head, ok, err := r.graph.CalculateLatest(ctx, op.Genesis)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("repo.Commit: %w: genesis %s has no existing head", crslerr.ErrInternal, op.Genesis)
	}
	return []cid.CID{head}, nil
}

// autoMerge implements spec §4.3.2. Returns the zero CID when the family
// has at most one head (no merge needed).
func (r *Repository) autoMerge(ctx context.Context, b store.Batch, genesis cid.CID, timestamp uint64, pendingRegs *[]*dag.PendingRegistration) (cid.CID, error) {
	heads, err := r.currentHeads(ctx, genesis)
	if err != nil {
		return cid.CID{}, err
	}
	if len(heads) <= 1 {
		return cid.CID{}, nil
	}

	genesisNode, err := r.graph.Get(ctx, genesis)
	if err != nil {
		return cid.CID{}, err
	}
	policy, err := r.mergep.Lookup(genesisNode.Metadata.Policy())
	if err != nil {
		return cid.CID{}, err
	}

	c, n, err := merge.CreateMergeNode[Payload, meta.Metadata](ctx, heads, r.graph, genesis, timestamp, policy)
	if err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.CheckCycle(ctx, c, heads); err != nil {
		return cid.CID{}, err
	}
	if err := r.graph.StageNode(b, c, n); err != nil {
		return cid.CID{}, err
	}
	*pendingRegs = append(*pendingRegs, r.graph.RegisterPrepared(c, n.Parents))

	id, err := idGen.New()
	if err != nil {
		return cid.CID{}, fmt.Errorf("repo.autoMerge: %w: %v", crslerr.ErrInternal, err)
	}
	mergeOp := oplog.Operation[Payload]{
		ID:        id,
		Genesis:   genesis,
		Kind:      oplog.KindMerge,
		Payload:   n.Payload,
		Timestamp: timestamp,
		Author:    "auto-merge",
		Parents:   heads,
	}
	if err := r.log.StageSave(b, mergeOp); err != nil {
		return cid.CID{}, err
	}
	repoMetrics.autoMerges.Add(ctx, 1)
	r.logger.Info("auto-merge", slog.String("genesis", genesis.String()), slog.String("merge_cid", c.String()), slog.Int("heads", len(heads)))
	return c, nil
}

// currentHeads enumerates genesis's heads: nodes not a parent of any
// other node in the family (spec §4.3.2 step 1, §4.4 "Head and latest").
func (r *Repository) currentHeads(ctx context.Context, genesis cid.CID) ([]cid.CID, error) {
	family, err := r.graph.GetNodesByGenesis(ctx, genesis)
	if err != nil {
		return nil, err
	}
	edges, err := r.graph.BranchingHistory(ctx, genesis)
	if err != nil {
		return nil, err
	}
	hasChildren := make(map[string]bool, len(edges))
	for _, e := range edges {
		if len(e.Children) > 0 {
			hasChildren[e.Parent.String()] = true
		}
	}
	var heads []cid.CID
	for _, e := range family {
		if !hasChildren[e.CID.String()] {
			heads = append(heads, e.CID)
		}
	}
	return heads, nil
}

// latestNonDeletePayload resolves the highest-timestamp non-Delete
// operation's payload in genesis's log (spec §4.3.1 step 5).
func (r *Repository) latestNonDeletePayload(ctx context.Context, genesis cid.CID) (Payload, error) {
	ops, err := r.log.LoadByGenesis(ctx, genesis)
	if err != nil {
		return "", err
	}
	var best *oplog.Operation[Payload]
	for i := range ops {
		o := &ops[i]
		if o.Kind == oplog.KindDelete {
			continue
		}
		if best == nil || o.Timestamp > best.Timestamp || (o.Timestamp == best.Timestamp && o.ID.Compare(best.ID) > 0) {
			best = o
		}
	}
	if best == nil {
		return "", fmt.Errorf("repo.latestNonDeletePayload: %w: no prior payload for genesis %s", crslerr.ErrInternal, genesis)
	}
	return best.Payload, nil
}

// resolveMetadata loads the genesis node's metadata, defaulting to lww
// when unavailable during a lenient import (spec §4.3.3).
func (r *Repository) resolveMetadata(ctx context.Context, genesis cid.CID, isImport bool) (meta.Metadata, error) {
	n, err := r.graph.Get(ctx, genesis)
	if err != nil {
		if isImport && crslerr.Is(err, crslerr.ErrNodeNotFound) {
			return meta.New(""), nil
		}
		return meta.Metadata{}, err
	}
	return n.Metadata, nil
}

func pickTimestamp(op oplog.Operation[Payload], fallback uint64) uint64 {
	if op.NodeTimestamp != nil {
		return op.Timestamp
	}
	return fallback
}

// Latest returns genesis's current head, or false if genesis is unknown
// (spec §4.3, "latest is tolerant").
func (r *Repository) Latest(ctx context.Context, genesis cid.CID) (cid.CID, bool, error) {
	ctx, span := tracer.Start(ctx, "repo.Latest", trace.WithAttributes(attribute.String("crsl.genesis", genesis.String())))
	c, ok, err := r.graph.CalculateLatest(ctx, genesis)
	endSpan(span, err)
	return c, ok, err
}

// GetGenesis returns c's genesis, or NodeNotFound.
func (r *Repository) GetGenesis(ctx context.Context, c cid.CID) (cid.CID, error) {
	return r.graph.GetGenesis(ctx, c)
}

// BranchingHistory returns parent->children adjacency for genesis's
// family (spec §4.3.4).
func (r *Repository) BranchingHistory(ctx context.Context, genesis cid.CID) ([]dag.BranchEdge, error) {
	return r.graph.BranchingHistory(ctx, genesis)
}

// LinearHistory returns the ordered genesis->latest path (spec §4.3.4).
func (r *Repository) LinearHistory(ctx context.Context, genesis cid.CID) ([]cid.CID, error) {
	return r.graph.LinearHistory(ctx, genesis)
}

// GetOperationsWithIndex returns genesis's operations with a 1-based
// index, delegated to the CRDT layer.
func (r *Repository) GetOperationsWithIndex(ctx context.Context, genesis cid.CID) ([]oplog.IndexedOperation[Payload], error) {
	return r.log.OperationsWithIndex(ctx, genesis)
}

// GetState returns genesis's reduced CRDT state.
func (r *Repository) GetState(ctx context.Context, genesis cid.CID) (oplog.State[Payload], error) {
	return r.log.GetState(ctx, genesis)
}

// GetNode returns the DAG node at c.
func (r *Repository) GetNode(ctx context.Context, c cid.CID) (node.Node[Payload, meta.Metadata], error) {
	return r.graph.Get(ctx, c)
}

// ExportJSONL streams genesis's operation log to w for replication.
func (r *Repository) ExportJSONL(ctx context.Context, genesis cid.CID, w io.Writer) error {
	return r.log.ExportJSONL(ctx, w, genesis)
}

// ImportOperations replays previously-exported operations through Commit,
// in order, rebuilding both the operation log and DAG node sides of the
// import path (spec §4.3.3). Returns the CID each operation committed to.
func (r *Repository) ImportOperations(ctx context.Context, ops []oplog.Operation[Payload]) ([]cid.CID, error) {
	out := make([]cid.CID, 0, len(ops))
	for _, op := range ops {
		c, err := r.Commit(ctx, op)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

var idGen = oplog.NewIDGen()

// NewOperationID mints a fresh operation id for callers constructing an
// Operation to pass to Commit (the CLI's create/update/delete subcommands).
func NewOperationID() (oplog.OpID, error) {
	return idGen.New()
}
