// Package merge implements the Merge Resolver + Policies of spec §4.6: a
// pluggable MergePolicy contract, the built-in last-write-wins policy, a
// name-keyed registry, and the conflict resolver that turns a family's
// heads into an unpersisted merge node. Grounded on the teacher's
// internal/merge three-way-merge shape, adapted to this engine's
// single-payload-per-head reducer semantics.
package merge

import (
	"context"
	"fmt"
	"sync"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/dag"
	"github.com/crsl-dev/crsl/node"
)

// Input is one head's contribution to a merge: its CID, current payload
// and node timestamp.
type Input[P any] struct {
	CID       cid.CID
	Payload   P
	Timestamp uint64
}

// Policy resolves a set of conflicting heads into one payload.
type Policy[P any] interface {
	Resolve(inputs []Input[P]) (P, error)
	Name() string
}

// LWWName is the built-in last-write-wins policy's registered name.
const LWWName = "lww"

// LWW implements the tie-break rule of spec §4.3.2: highest timestamp
// wins; on equal timestamps, the last element in iteration order wins.
type LWW[P any] struct{}

func (LWW[P]) Name() string { return LWWName }

func (LWW[P]) Resolve(inputs []Input[P]) (P, error) {
	var zero P
	if len(inputs) == 0 {
		return zero, fmt.Errorf("merge.LWW.Resolve: %w: no inputs", crslerr.ErrInternal)
	}
	best := inputs[0]
	for _, in := range inputs[1:] {
		if in.Timestamp >= best.Timestamp {
			best = in
		}
	}
	return best.Payload, nil
}

// Registry maps policy names to Policy implementations, so custom
// policies are pluggable by name (spec §4.6, "Custom policies are
// registered by name").
type Registry[P any] struct {
	mu       sync.RWMutex
	policies map[string]Policy[P]
}

// NewRegistry returns a Registry pre-seeded with the built-in lww policy.
func NewRegistry[P any]() *Registry[P] {
	r := &Registry[P]{policies: make(map[string]Policy[P])}
	r.Register(LWWName, LWW[P]{})
	return r
}

// Register adds or replaces the policy registered under name.
func (r *Registry[P]) Register(name string, p Policy[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = p
}

// Lookup returns the policy registered under name, or
// Internal("Unknown policy type") if none is.
func (r *Registry[P]) Lookup(name string) (Policy[P], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("merge.Registry.Lookup(%s): %w: unknown policy type", name, crslerr.ErrInternal)
	}
	return p, nil
}

// CreateMergeNode loads each head's payload and timestamp from graph,
// asks policy to resolve them, and returns a freshly constructed (not
// yet persisted) merge child node whose parents are heads in the order
// given and whose metadata is copied from the first head (spec §4.6).
func CreateMergeNode[P any, M any](ctx context.Context, heads []cid.CID, graph *dag.Graph[P, M], genesis cid.CID, timestamp uint64, policy Policy[P]) (cid.CID, node.Node[P, M], error) {
	if len(heads) == 0 {
		return cid.CID{}, node.Node[P, M]{}, fmt.Errorf("merge.CreateMergeNode: %w: no heads to merge", crslerr.ErrInternal)
	}

	inputs := make([]Input[P], len(heads))
	var firstMeta M
	for i, h := range heads {
		n, err := graph.Get(ctx, h)
		if err != nil {
			return cid.CID{}, node.Node[P, M]{}, fmt.Errorf("merge.CreateMergeNode: %w: head %s missing", crslerr.ErrInternal, h)
		}
		if i == 0 {
			firstMeta = n.Metadata
		}
		inputs[i] = Input[P]{CID: h, Payload: n.Payload, Timestamp: n.Timestamp}
	}

	payload, err := policy.Resolve(inputs)
	if err != nil {
		return cid.CID{}, node.Node[P, M]{}, err
	}
	return graph.PrepareChildAt(payload, heads, genesis, timestamp, firstMeta)
}
