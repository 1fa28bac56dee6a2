package flowmesh

import (
	"database/sql"

	"github.com/flowmesh/flowmesh/internal/asyncop"
	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/internal/timer"
	"github.com/flowmesh/flowmesh/pkg/worker"
)

// Bundle wires together an Engine and a Worker that drains it,
// convenient for applications that want durable checkpoint persistence
// without assembling the collaborators themselves.
//
// Only checkpoint/dedup/result persistence is durable in a Bundle built
// by this package — the message bus, timer service, and async-op
// runner remain in-memory, since this module ships no SQL-backed
// implementation of those three collaborators. A deployment that needs
// a crash-durable bus should construct its own worker.Worker against a
// durable bus.MessageBus implementation instead of using Bundle.
type Bundle struct {
	Engine *engine.FlowEngine
	Worker *worker.Worker
}

// NewSQLiteBundle constructs a Bundle whose Engine persists checkpoints
// in db.
//
//	db, _ := sql.Open("sqlite", "file:flowmesh.db?_journal=WAL")
//	bundle, err := flowmesh.NewSQLiteBundle(db, "local")
//	bundle.MustRegister(someDef)
//	go bundle.Worker.Run(ctx)
func NewSQLiteBundle(db *sql.DB, localParty string) (*Bundle, error) {
	s, err := store.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return newBundle(s, localParty), nil
}

// NewPostgresBundle constructs a Bundle whose Engine persists
// checkpoints in db, opened against any database/sql PostgreSQL driver.
func NewPostgresBundle(db *sql.DB, localParty string) (*Bundle, error) {
	s, err := store.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return newBundle(s, localParty), nil
}

// sqlStore is the subset of internal/store's three store interfaces a
// single database/sql-backed store type satisfies all at once, exactly
// as SQLiteStore and PostgresStore both do.
type sqlStore interface {
	store.CheckpointStore
	store.DedupStore
	store.ResultStore
}

func newBundle(s sqlStore, localParty string) *Bundle {
	b := bus.NewInMemoryBus(0)
	t := timer.NewInMemoryService(0)
	a := asyncop.NewInMemoryRunner(0)

	eng := engine.NewEngineWithConfig(engine.Config{
		Checkpoints: s,
		Dedup:       s,
		Results:     s,
		Bus:         b,
		Timers:      t,
		AsyncOps:    a,
		LocalParty:  localParty,
	})

	w := worker.New(eng, b, t, a, localParty)
	return &Bundle{Engine: eng, Worker: w}
}

// MustRegister registers def on the bundle's Engine, panicking on
// error.
func (bdl *Bundle) MustRegister(def FlowDefinition) {
	if err := bdl.Engine.RegisterFlow(def); err != nil {
		panic(err)
	}
}
