// Package cid wraps github.com/ipfs/go-cid and
// github.com/multiformats/go-multihash into the deterministic,
// hash-based identifier of spec §4.1: SHA-256 over canonical bytes,
// wrapped in a multihash envelope (code 0x12), tagged with the raw
// content codec (0x55). Two byte-equal inputs always yield equal CIDs,
// and a CID's bytes always decode back to an equivalent CID.
package cid

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	gocid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/crsl-dev/crsl/crslerr"
)

// rawCodec is the multicodec tag for "raw binary", per the multicodec
// table — used because node payloads are opaque, already-encoded bytes by
// the time they reach this package.
const rawCodec = 0x55

// CID is a content identifier: SHA-256 over bytes, multihash-wrapped,
// tagged with the raw codec. It is a thin value wrapper so the rest of
// the engine never imports go-cid/go-multihash directly.
type CID struct {
	inner gocid.Cid
}

// Undef is the zero value; IsZero reports whether a CID is unset.
var Undef = CID{}

// IsZero reports whether c is the unset CID.
func (c CID) IsZero() bool { return !c.inner.Defined() }

// FromBytes hashes data with SHA-256 and wraps it as a CID. Deterministic:
// equal inputs always produce equal CIDs (P1, P2).
func FromBytes(data []byte) (CID, error) {
	digest, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return CID{}, fmt.Errorf("cid.FromBytes: %w: %v", crslerr.ErrSerialization, err)
	}
	return CID{inner: gocid.NewCidV1(rawCodec, digest)}, nil
}

// FromString parses the canonical string form of a CID (base32 multibase
// by default, same as go-cid's String()).
func FromString(s string) (CID, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return CID{}, fmt.Errorf("cid.FromString: %w: %v", crslerr.ErrInvalidCID, err)
	}
	return CID{inner: c}, nil
}

// FromRawBytes decodes the binary encoding produced by Bytes().
func FromRawBytes(b []byte) (CID, error) {
	c, err := gocid.Cast(b)
	if err != nil {
		return CID{}, fmt.Errorf("cid.FromRawBytes: %w: %v", crslerr.ErrInvalidCID, err)
	}
	return CID{inner: c}, nil
}

// Bytes returns the stable binary encoding of the CID.
func (c CID) Bytes() []byte { return c.inner.Bytes() }

// String returns the canonical textual form, stable across processes.
func (c CID) String() string {
	if c.IsZero() {
		return ""
	}
	return c.inner.String()
}

// Equal reports bit-exact equality over the byte encoding.
func (c CID) Equal(other CID) bool { return c.inner.Equals(other.inner) }

// Less provides a total, stable order over CIDs (used for deterministic
// tie-breaking — e.g. latest-head ties, stable child ordering).
func (c CID) Less(other CID) bool { return c.String() < other.String() }

// MarshalCBOR/UnmarshalCBOR encode a CID as a CBOR byte string holding its
// stable binary form, so CIDs nested in a Node's canonical encoding serialize
// deterministically regardless of struct field order elsewhere.
func (c CID) MarshalCBOR() ([]byte, error) {
	if c.IsZero() {
		return cbor.Marshal([]byte{})
	}
	return cbor.Marshal(c.Bytes())
}

func (c *CID) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cid.UnmarshalCBOR: %w: %v", crslerr.ErrSerialization, err)
	}
	if len(raw) == 0 {
		*c = CID{}
		return nil
	}
	decoded, err := FromRawBytes(raw)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// MarshalText/UnmarshalText give CID a plain string form for JSONL
// interchange (oplog export/import) and config files.
func (c CID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = CID{}
		return nil
	}
	decoded, err := FromString(string(text))
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}
