package oplog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/crslerr"
)

// ExportJSONL writes every operation for genesis as one JSON object per
// line, in id order. This is the interchange format the import path
// (spec §4.3.3) is built to consume: ferry a genesis's log between
// replicas, then replay each line through Repository.Commit.
func (l *Log[P]) ExportJSONL(ctx context.Context, w io.Writer, genesis cid.CID) error {
	indexed, err := l.OperationsWithIndex(ctx, genesis)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, entry := range indexed {
		data, err := json.Marshal(entry.Operation)
		if err != nil {
			return fmt.Errorf("oplog.ExportJSONL: %w: %v", crslerr.ErrSerialization, err)
		}
		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("oplog.ExportJSONL: %w: %v", crslerr.ErrStorage, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("oplog.ExportJSONL: %w: %v", crslerr.ErrStorage, err)
		}
	}
	return bw.Flush()
}

// ImportJSONL reads newline-delimited JSON operations produced by
// ExportJSONL. It does not commit them; the caller replays each one
// through Repository.Commit so the DAG node side of the import path is
// rebuilt too.
func ImportJSONL[P any](r io.Reader) ([]Operation[P], error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var ops []Operation[P]
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var op Operation[P]
		if err := json.Unmarshal(line, &op); err != nil {
			return nil, fmt.Errorf("oplog.ImportJSONL: line %d: %w: %v", lineNum, crslerr.ErrSerialization, err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("oplog.ImportJSONL: %w: %v", crslerr.ErrStorage, err)
	}
	return ops, nil
}
