// Package redis wires a Redis-backed checkpoint/dedup/result store into
// the engine, mirroring internal/engine/engine_impl.go's
// NewRedisEngine pairing.
package redis

import (
	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowmesh/internal/engine"
	rpersist "github.com/flowmesh/flowmesh/redis/internal/persistence"
)

// NewEngine returns a *engine.FlowEngine whose checkpoints, dedup log,
// and persisted results live in Redis under client, keyed under
// prefix (defaults to "flowmesh:").
func NewEngine(client *redis.Client, prefix string) *engine.FlowEngine {
	s := rpersist.NewRedisStore(client, prefix)
	return engine.NewRedisEngine(s, s, s)
}
