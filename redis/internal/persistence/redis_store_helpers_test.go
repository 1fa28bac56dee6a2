package persistence

import (
	"context"
	"encoding/gob"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/flowmesh/flowmesh/pkg/flow"
	"github.com/flowmesh/flowmesh/redis/internal/testutil"
)

const prefix = "flowmesh:test:"

type RedisStoreTestSuite struct {
	suite.Suite
	endpoint string
	store    *RedisStore
	client   *redis.Client
	ctx      context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	gob.Register(redisSamplePayload{})
	ts := new(RedisStoreTestSuite)
	ts.endpoint = testutil.GetRedisAddress(t)
	initTestRedisStore(t, ts)
	suite.Run(t, ts)
}

func (r *RedisStoreTestSuite) SetupTest() {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.NoError(r.client.Del(ctx, iter.Val()).Err())
	}
	r.NoError(iter.Err())
}

type redisSamplePayload struct {
	Msg string
	N   int
}

func initTestRedisStore(t *testing.T, ts *RedisStoreTestSuite) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: ts.endpoint})
	t.Cleanup(func() { _ = client.Close() })
	ts.client = client

	ctx := context.Background()
	ts.ctx = ctx
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	ts.store = NewRedisStore(client, prefix)
}

func newTestCheckpoint(id flow.FlowId, commits uint64) flow.Checkpoint {
	return flow.Checkpoint{
		Id:              id,
		DefinitionName:  "test-flow",
		Version:         "v1",
		FlowState:       flow.FlowState{Kind: flow.FlowUnstarted, Args: redisSamplePayload{Msg: "hi", N: int(commits)}},
		CheckpointState: flow.CheckpointState{Sessions: map[flow.SessionId]flow.SessionState{}, NumCommits: commits},
		ErrorState:      flow.ErrorState{Kind: flow.ErrorClean},
		Status:          flow.StatusRunnable,
	}
}
