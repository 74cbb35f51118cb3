// Package node implements the typed DAG node of spec §4.2: payload,
// ordered parent CIDs, optional genesis CID, monotonic timestamp and
// opaque metadata, plus its canonical encoding and content-addressing.
//
// Payload and metadata are left as type parameters (design note in
// spec §9): anything serializable by fxamacker/cbor works. The repository
// package fixes concrete types (string payload, a small metadata struct)
// at the seam where the engine becomes end-to-end testable.
package node

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/crslerr"
)

// encMode/decMode give deterministic CBOR: toarray struct tags pin field
// order to payload, parents, genesis, timestamp, metadata; core
// deterministic mode sorts any nested map keys (e.g. inside Metadata) so
// two equal nodes always encode to bit-identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("node: building canonical cbor encoder: %v", err))
	}
	encMode = m

	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("node: building cbor decoder: %v", err))
	}
	decMode = dm
}

// EncMode exposes the package's canonical CBOR encoder so sibling packages
// (oplog) that define their own CBOR-tagged records can reuse the exact
// same deterministic encoding rules instead of configuring their own.
func EncMode() cbor.EncMode { return encMode }

// DecMode exposes the matching canonical CBOR decoder.
func DecMode() cbor.DecMode { return decMode }

// Node is a single DAG record. Field order here is load-bearing: the
// `toarray` marker below makes the CBOR encoding a fixed-order array of
// these five fields, matching spec §4.2's canonical field order exactly.
type Node[P any, M any] struct {
	_ struct{} `cbor:",toarray"`

	Payload   P
	Parents   []cid.CID
	Genesis   cid.CID
	Timestamp uint64
	Metadata  M
}

// NewGenesis builds the immutable first node of a family: zero parents, no
// genesis reference (I1: genesis is None iff parents is empty).
func NewGenesis[P any, M any](payload P, timestamp uint64, metadata M) Node[P, M] {
	return Node[P, M]{
		Payload:   payload,
		Parents:   nil,
		Genesis:   cid.CID{},
		Timestamp: timestamp,
		Metadata:  metadata,
	}
}

// NewChild builds a non-genesis node: one parent for a linear update, two
// or more for a merge.
func NewChild[P any, M any](payload P, parents []cid.CID, genesis cid.CID, timestamp uint64, metadata M) Node[P, M] {
	cp := make([]cid.CID, len(parents))
	copy(cp, parents)
	return Node[P, M]{
		Payload:   payload,
		Parents:   cp,
		Genesis:   genesis,
		Timestamp: timestamp,
		Metadata:  metadata,
	}
}

// IsGenesis reports whether n has no parents (I1).
func (n Node[P, M]) IsGenesis() bool {
	return len(n.Parents) == 0
}

// Encode produces the canonical, deterministic byte encoding of n.
func Encode[P any, M any](n Node[P, M]) ([]byte, error) {
	data, err := encMode.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("node.Encode: %w: %v", crslerr.ErrSerialization, err)
	}
	return data, nil
}

// Decode parses bytes produced by Encode back into a Node.
func Decode[P any, M any](data []byte) (Node[P, M], error) {
	var n Node[P, M]
	if err := decMode.Unmarshal(data, &n); err != nil {
		return Node[P, M]{}, fmt.Errorf("node.Decode: %w: %v", crslerr.ErrSerialization, err)
	}
	return n, nil
}

// ContentID computes CID(canonical_encoding(n)). Changing any field of n
// changes its result (P1, P2).
func ContentID[P any, M any](n Node[P, M]) (cid.CID, error) {
	data, err := Encode(n)
	if err != nil {
		return cid.CID{}, err
	}
	return cid.FromBytes(data)
}

// VerifySelfIntegrity recomputes n's content id and compares it bit-exactly
// against expected.
func VerifySelfIntegrity[P any, M any](n Node[P, M], expected cid.CID) (bool, error) {
	got, err := ContentID(n)
	if err != nil {
		return false, err
	}
	return got.Equal(expected), nil
}

// AddParent appends c to n's parent list, rejecting a self-reference (c
// equal to n's own current content id) or a duplicate already present.
func AddParent[P any, M any](n *Node[P, M], c cid.CID) error {
	self, err := ContentID(*n)
	if err != nil {
		return err
	}
	if self.Equal(c) {
		return fmt.Errorf("node.AddParent: %w: node cannot parent itself", crslerr.ErrInternal)
	}
	for _, p := range n.Parents {
		if p.Equal(c) {
			return fmt.Errorf("node.AddParent: %w: duplicate parent %s", crslerr.ErrInternal, c)
		}
	}
	n.Parents = append(n.Parents, c)
	return nil
}
