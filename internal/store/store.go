// Package store implements the checkpoint store and durable deduplication
// log collaborators, grounded on internal/persistence/store.go from the
// prior implementation.
package store

import (
	"context"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// StatusFilter selects checkpoints by status; a nil filter matches every
// status.
type StatusFilter struct {
	Status flow.Status
	Name   string
}

// CheckpointStore is the durable key-value collaborator:
// get/upsert/remove/updateStatus/list, with optimistic concurrency on
// Checkpoint.CheckpointState.NumCommits.
type CheckpointStore interface {
	// Get returns the checkpoint for id, or flow.ErrNotFound.
	Get(ctx context.Context, id flow.FlowId) (flow.Checkpoint, error)

	// Upsert writes cp. It rejects the write with flow.ErrStaleVersion if
	// a checkpoint already exists for cp.Id whose NumCommits is >= the
	// one being written — num_commits must be strictly increasing.
	//
	// If cp.PendingDeduplicationFacts is non-empty, Upsert records those
	// DedupIds in the same atomic write as the checkpoint itself — a
	// crash between the two would otherwise leave the checkpoint durably
	// advanced past a message whose delivery was never recorded,
	// exposing it to reprocessing on redelivery.
	Upsert(ctx context.Context, cp flow.Checkpoint) error

	// Remove deletes the checkpoint row for id. If mayHaveResults is
	// true, any persisted-result row for a ClientId is retained.
	Remove(ctx context.Context, id flow.FlowId, mayHaveResults bool) error

	// UpdateStatus changes only the status field, without requiring a
	// full checkpoint round-trip; used by the hospital and by recovery.
	UpdateStatus(ctx context.Context, id flow.FlowId, status flow.Status) error

	// List returns checkpoints matching filter.
	List(ctx context.Context, filter StatusFilter) ([]flow.Checkpoint, error)
}

// DedupStore is the durable deduplication log: every acknowledged inbound
// DedupId appears here exactly once, never duplicated, never missing
// after a commit.
type DedupStore interface {
	// PersistFacts atomically records ids as delivered. Re-recording an
	// id already present is not an error.
	PersistFacts(ctx context.Context, ids []flow.DedupId) error

	// IsDuplicate reports whether id has already been recorded.
	IsDuplicate(ctx context.Context, id flow.DedupId) (bool, error)
}

// ResultStore retains a flow's terminal outcome for ClientId-based
// external retrieval after RemoveFlow has run.
type ResultStore interface {
	SaveResult(ctx context.Context, clientId string, outcome flow.FlowOutcome) error
	GetResult(ctx context.Context, clientId string) (flow.FlowOutcome, error)
}

// DefinitionStore holds registered FlowDefinitions, keyed by
// (name, version). Flow definitions are a purely local, in-process
// registry in every backend, grounded on the prior design keeping
// workflow definitions in-memory even
// when instances are persisted externally (internal/engine/engine_impl.go
// NewSQLiteEngine/NewPostgresEngine/NewRedisEngine all pair a durable
// instance store with persistence.NewInMemoryStore() for definitions).
type DefinitionStore interface {
	Save(def flow.FlowDefinition) error
	Get(name, version string) (flow.FlowDefinition, error)
	GetLatest(name string) (flow.FlowDefinition, error)
	ListVersions(name string) ([]string, error)
}
