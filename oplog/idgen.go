package oplog

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crsl-dev/crsl/crslerr"
)

// IDGen mints OpIDs: ulid.Monotonic guarantees strictly increasing IDs even
// when New is called faster than the millisecond clock advances, so
// operation IDs stay a reliable storage-key sort order.
type IDGen struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewIDGen returns a ready-to-use generator.
func NewIDGen() *IDGen {
	return &IDGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New mints the next OpID.
func (g *IDGen) New() (OpID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		return OpID{}, fmt.Errorf("oplog.IDGen.New: %w: %v", crslerr.ErrInternal, err)
	}
	return OpID(id), nil
}
