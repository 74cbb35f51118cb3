// Package sqlstore is an alternate Store backend over a networked SQL
// engine (MySQL-compatible), demonstrating that spec §6.1's contract is an
// abstract byte-ordered map — not necessarily a literal embedded KV engine.
// A single (k VARBINARY, v LONGBLOB) table plays the role of the ordered
// map; a transaction plays the role of an atomic batch. Connection setup
// retries with exponential backoff, the same pattern the teacher repo uses
// around its own SQL backend's connection/ping retries.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"github.com/crsl-dev/crsl/crslerr"
	"github.com/crsl-dev/crsl/store"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS crsl_kv (
	k VARBINARY(600) PRIMARY KEY,
	v LONGBLOB NOT NULL
)`

// Store wraps a *sql.DB pointed at a crsl_kv table.
type Store struct {
	db    *sql.DB
	guard *store.Guard
}

// Open connects to dsn (a go-sql-driver/mysql data source name), retrying
// the initial ping with exponential backoff to absorb a database that is
// still coming up, and ensures the backing table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.Open: %w: %v", crslerr.ErrStorage, err)
	}

	bo := backoff.NewExponentialBackOff()
	pingErr := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx))
	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore.Open: %w: %v", crslerr.ErrStorage, pingErr)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore.Open: %w: %v", crslerr.ErrStorage, err)
	}

	return &Store{db: db, guard: store.NewGuard()}, nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM crsl_kv WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.Get: %w: %v", crslerr.ErrStorage, err)
	}
	return v, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crsl_kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)`, key, value)
	if err != nil {
		return fmt.Errorf("sqlstore.Put: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM crsl_kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("sqlstore.Delete: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

func (s *Store) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	upper := prefixUpperBound(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT k, v FROM crsl_kv WHERE k >= ? AND k < ? ORDER BY k ASC`, prefix, upper)
	if err != nil {
		return fmt.Errorf("sqlstore.Iterate: %w: %v", crslerr.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("sqlstore.Iterate: %w: %v", crslerr.ErrStorage, err)
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// prefixUpperBound returns a byte string greater than every string
// starting with prefix (the smallest such string whenever prefix has a
// byte below 0xff), letting a single range query emulate a prefix scan
// over an ordered SQL index.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	// prefix is all 0xff bytes, which never happens for the 17-byte ULID
	// and 37-byte CID keys; return a clearly-larger key: 0xff repeated one
	// byte past the k column's 600-byte limit.
	upper = make([]byte, 601)
	for i := range upper {
		upper[i] = 0xff
	}
	return upper
}

func (s *Store) NewBatch() (store.Batch, error) {
	if err := s.guard.TryAcquire(); err != nil {
		return nil, err
	}
	return &batch{store: s, released: &store.Released{}}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlstore.Close: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

type writeOp struct {
	key      []byte
	value    []byte
	isDelete bool
}

type batch struct {
	store    *Store
	ops      []writeOp
	released *store.Released
}

func (b *batch) Put(key, value []byte) {
	b.ops = append(b.ops, writeOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, writeOp{key: append([]byte(nil), key...), isDelete: true})
}

func (b *batch) Commit(ctx context.Context) error {
	defer b.store.guard.Release(b.released)

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore.Batch.Commit: %w: %v", crslerr.ErrStorage, err)
	}

	for _, op := range b.ops {
		if op.isDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM crsl_kv WHERE k = ?`, op.key); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlstore.Batch.Commit: %w: %v", crslerr.ErrStorage, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crsl_kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)`,
			op.key, op.value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlstore.Batch.Commit: %w: %v", crslerr.ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore.Batch.Commit: %w: %v", crslerr.ErrStorage, err)
	}
	return nil
}

func (b *batch) Discard() {
	b.store.guard.Release(b.released)
	b.ops = nil
}
