// Package postgres opens a database/sql connection against PostgreSQL
// and wires it into the engine's generic, driver-agnostic Postgres
// store, grounded on postgres/engine.go's NewPostgresEngine pairing a
// driver-specific *sql.DB with the core store logic.
package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flowmesh/flowmesh/internal/engine"
)

// NewEngine opens dsn with the pgx stdlib driver and returns a
// *engine.FlowEngine whose checkpoints, dedup log, and persisted
// results live in that PostgreSQL database.
func NewEngine(dsn string) (*engine.FlowEngine, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return engine.NewPostgresEngine(db)
}

// NewEngineFromDB wires an already-open *sql.DB, for callers that want
// to control connection pooling or reuse a pool across other uses.
func NewEngineFromDB(db *sql.DB) (*engine.FlowEngine, error) {
	return engine.NewPostgresEngine(db)
}
