package persistence

import (
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

func (r *RedisStoreTestSuite) TestUpsertGet() {
	cp := newTestCheckpoint(flow.NewFlowId(), 1)

	r.NoError(r.store.Upsert(r.ctx, cp))

	got, err := r.store.Get(r.ctx, cp.Id)
	r.NoError(err)
	r.Equal(cp.Id, got.Id)
	r.Equal(cp.DefinitionName, got.DefinitionName)
	r.Equal(cp.CheckpointState.NumCommits, got.CheckpointState.NumCommits)

	payload, ok := got.FlowState.Args.(redisSamplePayload)
	r.True(ok, "expected redisSamplePayload, got %T", got.FlowState.Args)
	r.Equal("hi", payload.Msg)
}

func (r *RedisStoreTestSuite) TestUpsertRejectsStaleCommits() {
	cp := newTestCheckpoint(flow.NewFlowId(), 3)
	r.NoError(r.store.Upsert(r.ctx, cp))

	stale := cp
	stale.CheckpointState.NumCommits = 2
	err := r.store.Upsert(r.ctx, stale)
	r.ErrorIs(err, flow.ErrStaleVersion)

	newer := cp
	newer.CheckpointState.NumCommits = 4
	r.NoError(r.store.Upsert(r.ctx, newer))
}

func (r *RedisStoreTestSuite) TestGetMissingReturnsNotFound() {
	_, err := r.store.Get(r.ctx, flow.NewFlowId())
	r.ErrorIs(err, flow.ErrNotFound)
}

func (r *RedisStoreTestSuite) TestRemove() {
	cp := newTestCheckpoint(flow.NewFlowId(), 1)
	r.NoError(r.store.Upsert(r.ctx, cp))
	r.NoError(r.store.Remove(r.ctx, cp.Id, false))

	_, err := r.store.Get(r.ctx, cp.Id)
	r.ErrorIs(err, flow.ErrNotFound)
}

func (r *RedisStoreTestSuite) TestUpdateStatus() {
	cp := newTestCheckpoint(flow.NewFlowId(), 1)
	r.NoError(r.store.Upsert(r.ctx, cp))
	r.NoError(r.store.UpdateStatus(r.ctx, cp.Id, flow.StatusHospitalized))

	got, err := r.store.Get(r.ctx, cp.Id)
	r.NoError(err)
	r.Equal(flow.StatusHospitalized, got.Status)
}

func (r *RedisStoreTestSuite) TestListFiltersByStatus() {
	a := newTestCheckpoint(flow.NewFlowId(), 1)
	b := newTestCheckpoint(flow.NewFlowId(), 1)
	b.Status = flow.StatusHospitalized

	r.NoError(r.store.Upsert(r.ctx, a))
	r.NoError(r.store.Upsert(r.ctx, b))

	hospitalized, err := r.store.List(r.ctx, store.StatusFilter{Status: flow.StatusHospitalized})
	r.NoError(err)
	r.Len(hospitalized, 1)
	r.Equal(b.Id, hospitalized[0].Id)
}

func (r *RedisStoreTestSuite) TestDedupFacts() {
	id := flow.NewErrorDedupId(42, flow.SessionId{})

	dup, err := r.store.IsDuplicate(r.ctx, id)
	r.NoError(err)
	r.False(dup)

	r.NoError(r.store.PersistFacts(r.ctx, []flow.DedupId{id}))

	dup, err = r.store.IsDuplicate(r.ctx, id)
	r.NoError(err)
	r.True(dup)
}

func (r *RedisStoreTestSuite) TestSaveGetResult() {
	outcome := flow.FlowOutcome{Kind: flow.OutcomeOrderlyFinish, Value: redisSamplePayload{Msg: "done", N: 7}}

	r.NoError(r.store.SaveResult(r.ctx, "client-1", outcome))

	got, err := r.store.GetResult(r.ctx, "client-1")
	r.NoError(err)
	r.Equal(flow.OutcomeOrderlyFinish, got.Kind)

	payload, ok := got.Value.(redisSamplePayload)
	r.True(ok, "expected redisSamplePayload, got %T", got.Value)
	r.Equal("done", payload.Msg)
	r.Equal(7, payload.N)
}

func (r *RedisStoreTestSuite) TestGetResultMissingReturnsNotFound() {
	_, err := r.store.GetResult(r.ctx, "missing-client")
	r.ErrorIs(err, flow.ErrNotFound)
}
