// Package mongo wires a MongoDB-backed checkpoint/dedup/result store
// into the engine, mirroring internal/engine/engine_impl.go's
// NewRedisEngine pairing (MongoDB, like Redis, needs its own driver
// import that the root module deliberately stays free of).
package mongo

import (
	"github.com/flowmesh/flowmesh/internal/engine"
	mpersist "github.com/flowmesh/flowmesh/mongo/internal/persistence"
	"go.mongodb.org/mongo-driver/mongo"
)

// NewEngine returns a *engine.FlowEngine whose checkpoints, dedup log,
// and persisted results live in MongoDB under dbName (defaults to
// "flowmesh").
func NewEngine(client *mongo.Client, dbName string) *engine.FlowEngine {
	s := mpersist.NewMongoStore(client, dbName)
	return engine.NewEngineWithConfig(engine.Config{Checkpoints: s, Dedup: s, Results: s})
}
