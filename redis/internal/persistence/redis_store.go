// Package persistence adapts the engine's store interfaces onto a Redis
// client, grounded on internal/persistence/redis_store.go's key layout
// and gob payload convention.
package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// RedisStore is a store.CheckpointStore + store.DedupStore +
// store.ResultStore backed by a single Redis keyspace:
//
//	<prefix>cp:<id>              => HASH{num_commits, blob}
//	<prefix>idx:all              => SET of every checkpoint id
//	<prefix>idx:status:<status>  => SET of checkpoint ids in that status
//	<prefix>dedup:<dedupId>      => marker key, presence means delivered
//	<prefix>result:<clientId>    => gob-encoded FlowOutcome
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ store.CheckpointStore = (*RedisStore)(nil)
	_ store.DedupStore      = (*RedisStore)(nil)
	_ store.ResultStore     = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore. prefix is optional but
// recommended (e.g. "flowmesh:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "flowmesh:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyCheckpoint(id flow.FlowId) string { return s.prefix + "cp:" + id.String() }
func (s *RedisStore) keyStatusIdx(st flow.Status) string  { return s.prefix + "idx:status:" + string(st) }
func (s *RedisStore) keyAllIdx() string                   { return s.prefix + "idx:all" }
func (s *RedisStore) keyDedup(id flow.DedupId) string     { return s.prefix + "dedup:" + id.String() }
func (s *RedisStore) keyResult(clientId string) string    { return s.prefix + "result:" + clientId }

// upsertScript refuses the write unless the incoming num_commits is
// strictly greater than what's stored, giving the hash-based layout the
// same optimistic-concurrency guarantee the SQL stores get by reading
// num_commits inside their upsert transaction and refusing a write that
// does not advance it, without a WATCH/MULTI round trip.
//
// KEYS[1] is the checkpoint hash key; any further KEYS entries are
// pending dedup-fact marker keys, set in the same script invocation so
// a crash between the checkpoint write and the dedup facts it rode in
// with is impossible — Redis runs the whole script as one atomic unit.
var upsertScript = redis.NewScript(`
local key = KEYS[1]
local newCommits = tonumber(ARGV[1])
local blob = ARGV[2]
local existing = redis.call("HGET", key, "num_commits")
if existing and tonumber(existing) >= newCommits then
	return redis.error_reply("stale")
end
redis.call("HSET", key, "num_commits", newCommits, "blob", blob)
for i = 2, #KEYS do
	redis.call("SET", KEYS[i], 1)
end
return "ok"
`)

func (s *RedisStore) Get(ctx context.Context, id flow.FlowId) (flow.Checkpoint, error) {
	blob, err := s.client.HGet(ctx, s.keyCheckpoint(id), "blob").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return flow.Checkpoint{}, flow.ErrNotFound
		}
		return flow.Checkpoint{}, err
	}
	return store.DecodeCheckpoint(blob)
}

func (s *RedisStore) Upsert(ctx context.Context, cp flow.Checkpoint) error {
	facts := cp.PendingDeduplicationFacts
	cp.PendingDeduplicationFacts = nil
	blob, err := store.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	keys := make([]string, 1+len(facts))
	keys[0] = s.keyCheckpoint(cp.Id)
	for i, id := range facts {
		keys[i+1] = s.keyDedup(id)
	}

	if err := upsertScript.Run(ctx, s.client, keys, cp.CheckpointState.NumCommits, blob).Err(); err != nil {
		if err.Error() == "stale" {
			return flow.ErrStaleVersion
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAllIdx(), cp.Id.String())
	pipe.SAdd(ctx, s.keyStatusIdx(cp.Status), cp.Id.String())
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Remove(ctx context.Context, id flow.FlowId, _ bool) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyCheckpoint(id))
	pipe.SRem(ctx, s.keyAllIdx(), id.String())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id flow.FlowId, status flow.Status) error {
	cp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	cp.Status = status
	blob, err := store.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keyCheckpoint(id), "blob", blob)
	pipe.SAdd(ctx, s.keyStatusIdx(status), id.String())
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) List(ctx context.Context, filter store.StatusFilter) ([]flow.Checkpoint, error) {
	idxKey := s.keyAllIdx()
	if filter.Status != "" {
		idxKey = s.keyStatusIdx(filter.Status)
	}
	ids, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.prefix+"cp:"+id, "blob")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]flow.Checkpoint, 0, len(ids))
	for _, cmd := range cmds {
		blob, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		cp, err := store.DecodeCheckpoint(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) PersistFacts(ctx context.Context, ids []flow.DedupId) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, s.keyDedup(id), 1, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) IsDuplicate(ctx context.Context, id flow.DedupId) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyDedup(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) SaveResult(ctx context.Context, clientId string, outcome flow.FlowOutcome) error {
	blob, err := store.EncodeValue(outcome)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyResult(clientId), blob, 0).Err()
}

func (s *RedisStore) GetResult(ctx context.Context, clientId string) (flow.FlowOutcome, error) {
	blob, err := s.client.Get(ctx, s.keyResult(clientId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return flow.FlowOutcome{}, flow.ErrNotFound
		}
		return flow.FlowOutcome{}, err
	}
	v, err := store.DecodeValue(blob)
	if err != nil {
		return flow.FlowOutcome{}, err
	}
	outcome, _ := v.(flow.FlowOutcome)
	return outcome, nil
}
