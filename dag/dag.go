// Package dag implements the DAG Engine of spec §4.4: node persistence,
// content-id computation, cycle prevention, head/latest calculation and
// ancestry queries, backed by a shared store.Store and a forward-edge
// cache of parent CID to child CIDs.
package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/clock"
	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/node"
	"github.com/crsl-dev/crsl/store"
)

// Entry pairs a persisted node with its content id.
type Entry[P any, M any] struct {
	CID  cid.CID
	Node node.Node[P, M]
}

// BranchEdge is one row of branching_history: a parent CID and its
// stable-ordered list of children.
type BranchEdge struct {
	Parent   cid.CID
	Children []cid.CID
}

// PendingRegistration is the token returned by RegisterPrepared so a
// failed commit can precisely undo the forward-edge cache mutation it
// made (spec §4.3.1 step 8, §4.4 "cache discipline").
type PendingRegistration struct {
	cid     cid.CID
	parents []cid.CID
}

// Graph is the DAG Engine over a shared store.Store.
type Graph[P any, M any] struct {
	store store.Store
	clk   *clock.Source

	mu           sync.Mutex
	children     map[string][]cid.CID // forward edges: parent cid string -> child cids
	builtGenesis map[string]bool      // genesis families already indexed into children
}

// New returns a DAG Engine over s, minting node timestamps from clk.
func New[P any, M any](s store.Store, clk *clock.Source) *Graph[P, M] {
	return &Graph[P, M]{
		store:        s,
		clk:          clk,
		children:     make(map[string][]cid.CID),
		builtGenesis: make(map[string]bool),
	}
}

func key(c cid.CID) []byte {
	k := make([]byte, 0, 1+len(c.Bytes()))
	k = append(k, store.NodePrefix)
	k = append(k, c.Bytes()...)
	return k
}

// Get loads a single node by its content id.
func (g *Graph[P, M]) Get(ctx context.Context, c cid.CID) (node.Node[P, M], error) {
	data, err := g.store.Get(ctx, key(c))
	if err != nil {
		if err == store.ErrNotFound {
			return node.Node[P, M]{}, fmt.Errorf("dag.Get(%s): %w", c, crslerr.ErrNodeNotFound)
		}
		return node.Node[P, M]{}, fmt.Errorf("dag.Get(%s): %w: %v", c, crslerr.ErrStorage, err)
	}
	return node.Decode[P, M](data)
}

// PrepareGenesisAt builds (without persisting) a genesis node at an
// explicit timestamp — used by the import path, which carries the
// source replica's original node_timestamp.
func (g *Graph[P, M]) PrepareGenesisAt(payload P, timestamp uint64, metadata M) (cid.CID, node.Node[P, M], error) {
	n := node.NewGenesis(payload, timestamp, metadata)
	c, err := node.ContentID(n)
	if err != nil {
		return cid.CID{}, node.Node[P, M]{}, err
	}
	return c, n, nil
}

// PrepareGenesis builds a genesis node with a freshly minted timestamp.
func (g *Graph[P, M]) PrepareGenesis(payload P, metadata M) (cid.CID, node.Node[P, M], error) {
	return g.PrepareGenesisAt(payload, g.clk.Now(), metadata)
}

// PrepareChildAt builds (without persisting) a child node at an explicit
// timestamp.
func (g *Graph[P, M]) PrepareChildAt(payload P, parents []cid.CID, genesis cid.CID, timestamp uint64, metadata M) (cid.CID, node.Node[P, M], error) {
	n := node.NewChild(payload, parents, genesis, timestamp, metadata)
	c, err := node.ContentID(n)
	if err != nil {
		return cid.CID{}, node.Node[P, M]{}, err
	}
	return c, n, nil
}

// PrepareChild builds a child node with a freshly minted timestamp.
func (g *Graph[P, M]) PrepareChild(payload P, parents []cid.CID, genesis cid.CID, metadata M) (cid.CID, node.Node[P, M], error) {
	return g.PrepareChildAt(payload, parents, genesis, g.clk.Now(), metadata)
}

// CheckCycle walks the ancestor closure of parents looking for newCID.
// Finding it means inserting newCID with these parents would close a
// cycle (spec §4.4 "DFS-based cycle detection over the minimal ancestor
// subgraph {new_node} ∪ ancestors(parents)").
func (g *Graph[P, M]) CheckCycle(ctx context.Context, newCID cid.CID, parents []cid.CID) error {
	visited := make(map[string]bool)
	var walk func(c cid.CID) error
	walk = func(c cid.CID) error {
		k := c.String()
		if visited[k] {
			return nil
		}
		visited[k] = true
		if c.Equal(newCID) {
			return fmt.Errorf("dag.CheckCycle: %w", crslerr.ErrCycleDetected)
		}
		n, err := g.Get(ctx, c)
		if err != nil {
			if crslerr.Is(err, crslerr.ErrNodeNotFound) {
				return nil
			}
			return err
		}
		for _, p := range n.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range parents {
		if err := walk(p); err != nil {
			return err
		}
	}
	return nil
}

// StageNode encodes n and stages its write into an already-open batch,
// for the repository's single-batch commit protocol (spec §4.3.1 step 6).
func (g *Graph[P, M]) StageNode(b store.Batch, c cid.CID, n node.Node[P, M]) error {
	data, err := node.Encode(n)
	if err != nil {
		return err
	}
	b.Put(key(c), data)
	return nil
}

// PutDirect persists n outside of any batch, for the standalone
// Add*Node convenience operations (spec §4.4 "Add").
func (g *Graph[P, M]) PutDirect(ctx context.Context, c cid.CID, n node.Node[P, M]) error {
	data, err := node.Encode(n)
	if err != nil {
		return err
	}
	if err := g.store.Put(ctx, key(c), data); err != nil {
		return fmt.Errorf("dag.PutDirect(%s): %w: %v", c, crslerr.ErrStorage, err)
	}
	return nil
}

// RegisterPrepared incrementally records newCID as a child of each of
// parents in the forward-edge cache, marking it "pending" until either
// the caller commits (leaving the registration in place) or rolls it
// back via RollbackPending (spec §4.4 "register_prepared_node").
func (g *Graph[P, M]) RegisterPrepared(newCID cid.CID, parents []cid.CID) *PendingRegistration {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range parents {
		k := p.String()
		g.children[k] = append(g.children[k], newCID)
	}
	return &PendingRegistration{cid: newCID, parents: parents}
}

// RollbackPending undoes exactly the cache mutation a matching
// RegisterPrepared call made, so cycle detection and latest/head
// calculation stop observing a node whose commit failed.
func (g *Graph[P, M]) RollbackPending(r *PendingRegistration) {
	if r == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range r.parents {
		k := p.String()
		list := g.children[k]
		for i, c := range list {
			if c.Equal(r.cid) {
				g.children[k] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// AddGenesisNode prepares, persists and registers a genesis node in one
// step (spec §4.4 "Add").
func (g *Graph[P, M]) AddGenesisNode(ctx context.Context, payload P, metadata M) (cid.CID, error) {
	c, n, err := g.PrepareGenesis(payload, metadata)
	if err != nil {
		return cid.CID{}, err
	}
	if err := g.PutDirect(ctx, c, n); err != nil {
		return cid.CID{}, err
	}
	g.RegisterPrepared(c, n.Parents)
	return c, nil
}

// AddChildNode prepares, cycle-checks, persists and registers a child
// node in one step.
func (g *Graph[P, M]) AddChildNode(ctx context.Context, payload P, parents []cid.CID, genesis cid.CID, metadata M) (cid.CID, error) {
	c, n, err := g.PrepareChild(payload, parents, genesis, metadata)
	if err != nil {
		return cid.CID{}, err
	}
	if err := g.CheckCycle(ctx, c, parents); err != nil {
		return cid.CID{}, err
	}
	if err := g.PutDirect(ctx, c, n); err != nil {
		return cid.CID{}, err
	}
	g.RegisterPrepared(c, n.Parents)
	return c, nil
}

// nodesByGenesisUncached scans every node record and returns those
// belonging to genesis (or that are genesis itself), ignoring the cache.
func (g *Graph[P, M]) nodesByGenesisUncached(ctx context.Context, genesis cid.CID) ([]Entry[P, M], error) {
	var out []Entry[P, M]
	err := g.store.Iterate(ctx, []byte{store.NodePrefix}, func(k []byte, v []byte) error {
		c, err := cid.FromRawBytes(k[1:])
		if err != nil {
			return fmt.Errorf("dag.nodesByGenesisUncached: %w: %v", crslerr.ErrSerialization, err)
		}
		n, err := node.Decode[P, M](v)
		if err != nil {
			return err
		}
		if (n.IsGenesis() && c.Equal(genesis)) || n.Genesis.Equal(genesis) {
			out = append(out, Entry[P, M]{CID: c, Node: n})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dag.nodesByGenesisUncached(%s): %w", genesis, err)
	}
	return out, nil
}

// GetNodesByGenesis returns every node belonging to genesis (spec §4.4
// "get_nodes_by_genesis").
func (g *Graph[P, M]) GetNodesByGenesis(ctx context.Context, genesis cid.CID) ([]Entry[P, M], error) {
	return g.nodesByGenesisUncached(ctx, genesis)
}

// GetGenesis returns c's genesis field, or c itself if c is a genesis
// node (spec §4.4 "get_genesis").
func (g *Graph[P, M]) GetGenesis(ctx context.Context, c cid.CID) (cid.CID, error) {
	n, err := g.Get(ctx, c)
	if err != nil {
		return cid.CID{}, err
	}
	if n.IsGenesis() {
		return c, nil
	}
	return n.Genesis, nil
}

// ensureCache indexes genesis's family into the forward-edge cache once,
// idempotently (spec §4.4 "cache discipline" — built lazily on demand).
func (g *Graph[P, M]) ensureCache(ctx context.Context, genesis cid.CID) error {
	g.mu.Lock()
	if g.builtGenesis[genesis.String()] {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	family, err := g.nodesByGenesisUncached(ctx, genesis)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.builtGenesis[genesis.String()] {
		return nil
	}
	for _, e := range family {
		for _, p := range e.Node.Parents {
			k := p.String()
			if !containsCID(g.children[k], e.CID) {
				g.children[k] = append(g.children[k], e.CID)
			}
		}
	}
	g.builtGenesis[genesis.String()] = true
	return nil
}

func containsCID(list []cid.CID, c cid.CID) bool {
	for _, x := range list {
		if x.Equal(c) {
			return true
		}
	}
	return false
}

// CalculateLatest enumerates genesis's family, finds the leaves (nodes
// no in-family node parents) and returns the one with the maximum
// timestamp, breaking ties by CID order (spec §4.4 "Head and latest").
func (g *Graph[P, M]) CalculateLatest(ctx context.Context, genesis cid.CID) (cid.CID, bool, error) {
	family, err := g.GetNodesByGenesis(ctx, genesis)
	if err != nil {
		return cid.CID{}, false, err
	}
	if len(family) == 0 {
		return cid.CID{}, false, nil
	}
	if err := g.ensureCache(ctx, genesis); err != nil {
		return cid.CID{}, false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var best *Entry[P, M]
	for i := range family {
		e := &family[i]
		if len(g.children[e.CID.String()]) > 0 {
			continue
		}
		switch {
		case best == nil:
			best = e
		case e.Node.Timestamp > best.Node.Timestamp:
			best = e
		case e.Node.Timestamp == best.Node.Timestamp && e.CID.Less(best.CID):
			best = e
		}
	}
	if best == nil {
		return cid.CID{}, false, nil
	}
	return best.CID, true, nil
}

// BranchingHistory returns parent->children adjacency for every node in
// genesis's family, children stable-ordered by CID (spec §4.3.4).
func (g *Graph[P, M]) BranchingHistory(ctx context.Context, genesis cid.CID) ([]BranchEdge, error) {
	family, err := g.GetNodesByGenesis(ctx, genesis)
	if err != nil {
		return nil, err
	}

	childrenOf := make(map[string][]cid.CID)
	parentByKey := make(map[string]cid.CID)
	for _, e := range family {
		for _, p := range e.Node.Parents {
			k := p.String()
			childrenOf[k] = append(childrenOf[k], e.CID)
			parentByKey[k] = p
		}
	}

	keys := make([]string, 0, len(childrenOf))
	for k := range childrenOf {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]BranchEdge, 0, len(keys))
	for _, k := range keys {
		kids := append([]cid.CID(nil), childrenOf[k]...)
		sort.Slice(kids, func(i, j int) bool { return kids[i].Less(kids[j]) })
		out = append(out, BranchEdge{Parent: parentByKey[k], Children: kids})
	}
	return out, nil
}

// LinearHistory walks from genesis choosing, at each branch, the child
// with the lexicographically greatest (is_merge, timestamp) tuple, and
// stops at the first childless node or a repeated visit (spec §4.3.4).
func (g *Graph[P, M]) LinearHistory(ctx context.Context, genesis cid.CID) ([]cid.CID, error) {
	edges, err := g.BranchingHistory(ctx, genesis)
	if err != nil {
		return nil, err
	}
	childrenOf := make(map[string][]cid.CID, len(edges))
	for _, e := range edges {
		childrenOf[e.Parent.String()] = e.Children
	}

	visited := make(map[string]bool)
	var out []cid.CID
	cur := genesis
	for {
		k := cur.String()
		if visited[k] {
			break
		}
		visited[k] = true
		out = append(out, cur)

		kids := childrenOf[k]
		if len(kids) == 0 {
			break
		}

		var next cid.CID
		var nextMerge bool
		var nextTS uint64
		haveNext := false
		for _, kid := range kids {
			n, err := g.Get(ctx, kid)
			if err != nil {
				return nil, err
			}
			isMerge := len(n.Parents) > 1
			better := !haveNext ||
				(isMerge && !nextMerge) ||
				(isMerge == nextMerge && n.Timestamp > nextTS)
			if better {
				next, nextMerge, nextTS, haveNext = kid, isMerge, n.Timestamp, true
			}
		}
		cur = next
	}
	return out, nil
}
