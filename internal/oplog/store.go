// Package oplog persists committed model op batches to SQLite.
//
// The log is append-only: one row per committed transaction, in commit
// order. Replaying the log through an empty model reproduces the exact
// graph, which gives crash recovery and an audit trail of every edit for
// free. Routing, build, and runtime state are all derived and are never
// persisted here.
package oplog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/pulsegrid/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - initial schema
const currentSchemaVersion = 1

// Store is the durable op log. SQLite with WAL mode; a single writer, which
// matches the engine's single-owner core.
type Store struct {
	db *sql.DB
}

// Open creates or opens the log at path. Pragmas and migrations apply
// automatically; the call is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open op log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect op log: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Append writes one committed batch and returns its commit seq.
func (s *Store) Append(ctx context.Context, ops []model.Op) (int64, error) {
	data, err := json.Marshal(ops)
	if err != nil {
		return 0, fmt.Errorf("marshal ops: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO op_batches (ops_json) VALUES (?)", string(data))
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("batch seq: %w", err)
	}
	return seq, nil
}

// Batch is one logged transaction.
type Batch struct {
	Seq int64
	Ops []model.Op
}

// ReadAll returns every logged batch in commit order.
func (s *Store) ReadAll(ctx context.Context) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, ops_json FROM op_batches ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("read batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		var opsJSON string
		if err := rows.Scan(&b.Seq, &opsJSON); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if err := json.Unmarshal([]byte(opsJSON), &b.Ops); err != nil {
			return nil, fmt.Errorf("decode batch %d: %w", b.Seq, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Len returns the number of logged batches.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM op_batches").Scan(&n)
	return n, err
}

// Attach subscribes the store to a graph: every committed batch is
// appended. Append failures are reported through onErr (nil to ignore);
// the editing path never blocks on persistence errors.
func (s *Store) Attach(ctx context.Context, g *model.Graph, onErr func(error)) {
	g.Subscribe(func(n model.CommitNotice) {
		if _, err := s.Append(ctx, n.Ops); err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// Replay folds the whole log into the given graph. The graph should be
// empty; a batch the model rejects stops the replay, since the log is by
// construction a sequence of previously valid transactions.
func (s *Store) Replay(ctx context.Context, g *model.Graph) error {
	batches, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}
	for _, b := range batches {
		res := g.ApplyOps(b.Ops)
		if !res.OK {
			return fmt.Errorf("replay batch %d rejected: %v", b.Seq, res.Errors[0])
		}
	}
	return nil
}
