package oplog

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"

	"github.com/crsl-dev/crsl/crslerr"
)

// OpID is an operation's lexicographically sortable, unique storage key —
// a real ULID (spec §3: "id: ULID"). Its 16-byte binary form sorts
// identically to its 26-character text form.
type OpID ulid.ULID

// Bytes returns the 16-byte binary encoding.
func (id OpID) Bytes() []byte {
	u := ulid.ULID(id)
	return u[:]
}

// String returns the canonical 26-character Crockford base32 text form.
func (id OpID) String() string {
	return ulid.ULID(id).String()
}

// Compare orders two OpIDs the same way their bytes sort.
func (id OpID) Compare(other OpID) int {
	return bytes.Compare(id.Bytes(), other.Bytes())
}

func (id OpID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(id.Bytes())
}

func (id *OpID) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("oplog.OpID.UnmarshalCBOR: %w: %v", crslerr.ErrSerialization, err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("oplog.OpID.UnmarshalCBOR: %w: want 16 bytes, got %d", crslerr.ErrSerialization, len(raw))
	}
	copy(id[:], raw)
	return nil
}

func (id OpID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OpID) UnmarshalText(text []byte) error {
	u, err := ulid.ParseStrict(string(text))
	if err != nil {
		return fmt.Errorf("oplog.OpID.UnmarshalText: %w: %v", crslerr.ErrSerialization, err)
	}
	*id = OpID(u)
	return nil
}
