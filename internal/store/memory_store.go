package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// MemoryStore is an in-memory CheckpointStore + DedupStore + ResultStore
// + DefinitionStore, grounded on internal/persistence/memory_store.go.
// Safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	checkpoints map[flow.FlowId]flow.Checkpoint
	dedup       map[flow.DedupId]struct{}
	results     map[string]flow.FlowOutcome
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[flow.FlowId]flow.Checkpoint),
		dedup:       make(map[flow.DedupId]struct{}),
		results:     make(map[string]flow.FlowOutcome),
	}
}

var (
	_ CheckpointStore = (*MemoryStore)(nil)
	_ DedupStore      = (*MemoryStore)(nil)
	_ ResultStore     = (*MemoryStore)(nil)
)

// MemoryDefinitionStore is an in-memory DefinitionStore, kept separate
// from MemoryStore the way the prior design keeps a checkpoint store and
// InstanceStore as distinct collaborators even when both happen to be
// backed by the same persistence.InMemoryStore value.
type MemoryDefinitionStore struct {
	mu   sync.Mutex
	defs map[string]map[string]flow.FlowDefinition // name -> version -> def
}

// NewMemoryDefinitionStore returns an empty MemoryDefinitionStore.
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{defs: make(map[string]map[string]flow.FlowDefinition)}
}

var _ DefinitionStore = (*MemoryDefinitionStore)(nil)

func (s *MemoryStore) Get(_ context.Context, id flow.FlowId) (flow.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return flow.Checkpoint{}, flow.ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, cp flow.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.checkpoints[cp.Id]; ok {
		if cp.CheckpointState.NumCommits <= existing.CheckpointState.NumCommits {
			return flow.ErrStaleVersion
		}
	}
	// Dedup facts are recorded under the same lock as the checkpoint
	// write, mirroring the atomic same-transaction write the SQL-backed
	// stores give this pairing.
	facts := cp.PendingDeduplicationFacts
	cp.PendingDeduplicationFacts = nil
	s.checkpoints[cp.Id] = cp.Clone()
	for _, id := range facts {
		s.dedup[id] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id flow.FlowId, mayHaveResults bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, id)
	_ = mayHaveResults // result retention is handled by ResultStore.SaveResult directly
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id flow.FlowId, status flow.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return flow.ErrNotFound
	}
	cp.Status = status
	s.checkpoints[id] = cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter StatusFilter) ([]flow.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]flow.Checkpoint, 0)
	for _, cp := range s.checkpoints {
		if filter.Status != "" && cp.Status != filter.Status {
			continue
		}
		out = append(out, cp.Clone())
	}
	return out, nil
}

func (s *MemoryStore) PersistFacts(_ context.Context, ids []flow.DedupId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.dedup[id] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) IsDuplicate(_ context.Context, id flow.DedupId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.dedup[id]
	return ok, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, clientId string, outcome flow.FlowOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[clientId] = outcome
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, clientId string) (flow.FlowOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.results[clientId]
	if !ok {
		return flow.FlowOutcome{}, flow.ErrNotFound
	}
	return out, nil
}

func (s *MemoryDefinitionStore) Save(def flow.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.Name == "" {
		return fmt.Errorf("flow: definition name is required")
	}
	if def.Version == "" {
		def.Version = "v1"
	}
	versions, ok := s.defs[def.Name]
	if !ok {
		versions = make(map[string]flow.FlowDefinition)
		s.defs[def.Name] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return flow.ErrAlreadyRegistered
	}
	versions[def.Version] = def
	return nil
}

func (s *MemoryDefinitionStore) Get(name, version string) (flow.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.defs[name]
	if !ok {
		return flow.FlowDefinition{}, flow.ErrDefinitionNotFound
	}
	def, ok := versions[version]
	if !ok {
		return flow.FlowDefinition{}, flow.ErrDefinitionNotFound
	}
	return def, nil
}

func (s *MemoryDefinitionStore) GetLatest(name string) (flow.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.defs[name]
	if !ok || len(versions) == 0 {
		return flow.FlowDefinition{}, flow.ErrDefinitionNotFound
	}
	var best flow.FlowDefinition
	for _, def := range versions {
		if def.Version > best.Version {
			best = def
		}
	}
	return best, nil
}

func (s *MemoryDefinitionStore) ListVersions(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.defs[name]
	if !ok {
		return nil, flow.ErrDefinitionNotFound
	}
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	return out, nil
}
