package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// SQLiteStore is a CheckpointStore + DedupStore + ResultStore backed by
// SQLite, grounded on internal/persistence/sqlite_store.go. It expects an
// *sql.DB opened against the pure-Go "modernc.org/sqlite" driver, the
// same one the stack's root module depends on directly:
//
//	import _ "modernc.org/sqlite"
//	db, _ := sql.Open("sqlite", "file:checkpoints.db")
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ CheckpointStore = (*SQLiteStore)(nil)
	_ DedupStore      = (*SQLiteStore)(nil)
	_ ResultStore     = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in db and returns a new
// SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			num_commits INTEGER NOT NULL,
			blob BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dedup_facts (
			dedup_key TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			client_id TEXT PRIMARY KEY,
			blob BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id flow.FlowId) (flow.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT blob FROM checkpoints WHERE id = ?`, id.String())

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.Checkpoint{}, flow.ErrNotFound
		}
		return flow.Checkpoint{}, err
	}
	return DecodeCheckpoint(blob)
}

func (s *SQLiteStore) Upsert(ctx context.Context, cp flow.Checkpoint) error {
	facts := cp.PendingDeduplicationFacts
	cp.PendingDeduplicationFacts = nil
	blob, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing uint64
	row := tx.QueryRowContext(ctx, `SELECT num_commits FROM checkpoints WHERE id = ?`, cp.Id.String())
	switch err := row.Scan(&existing); {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints (id, status, num_commits, blob) VALUES (?, ?, ?, ?)`,
			cp.Id.String(), string(cp.Status), cp.CheckpointState.NumCommits, blob,
		); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if cp.CheckpointState.NumCommits <= existing {
			return flow.ErrStaleVersion
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE checkpoints SET status = ?, num_commits = ?, blob = ? WHERE id = ?`,
			string(cp.Status), cp.CheckpointState.NumCommits, blob, cp.Id.String(),
		); err != nil {
			return err
		}
	}

	// Dedup facts ride inside the same transaction as the checkpoint
	// write so a crash between them is impossible: either both land or
	// neither does.
	for _, id := range facts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dedup_facts (dedup_key) VALUES (?) ON CONFLICT(dedup_key) DO NOTHING`,
			id.String(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Remove(ctx context.Context, id flow.FlowId, _ bool) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id.String())
	return err
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id flow.FlowId, status flow.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE checkpoints SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return flow.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter StatusFilter) ([]flow.Checkpoint, error) {
	query := `SELECT blob FROM checkpoints`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flow.Checkpoint
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		cp, err := DecodeCheckpoint(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PersistFacts(ctx context.Context, ids []flow.DedupId) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		// Conflict = already delivered, which is not an error.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dedup_facts (dedup_key) VALUES (?) ON CONFLICT(dedup_key) DO NOTHING`,
			id.String(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) IsDuplicate(ctx context.Context, id flow.DedupId) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM dedup_facts WHERE dedup_key = ?`, id.String())
	var one int
	switch err := row.Scan(&one); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

func (s *SQLiteStore) SaveResult(ctx context.Context, clientId string, outcome flow.FlowOutcome) error {
	blob, err := EncodeValue(outcome)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (client_id, blob) VALUES (?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET blob = excluded.blob`,
		clientId, blob,
	)
	return err
}

func (s *SQLiteStore) GetResult(ctx context.Context, clientId string) (flow.FlowOutcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT blob FROM results WHERE client_id = ?`, clientId)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.FlowOutcome{}, flow.ErrNotFound
		}
		return flow.FlowOutcome{}, err
	}
	v, err := DecodeValue(blob)
	if err != nil {
		return flow.FlowOutcome{}, err
	}
	outcome, _ := v.(flow.FlowOutcome)
	return outcome, nil
}
