package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowmesh/flowmesh/mongo/internal/testutil"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// TestMongoEngine_StartAndGetCheckpoint wires a real MongoDB instance
// (via testcontainers) to the public NewEngine constructor and checks
// that a flow started against it runs to completion, after which its
// checkpoint (it has no ClientId) is gone from the store, end to end
// through only this package's exported API.
func TestMongoEngine_StartAndGetCheckpoint(t *testing.T) {
	t.Parallel()

	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err, "mongo.Connect failed")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	_ = client.Database("flowmesh").Collection("checkpoints").Drop(ctx)

	eng := NewEngine(client, "flowmesh")

	err = eng.RegisterFlow(flow.FlowDefinition{
		Name: "mongo-smoke",
		Steps: []flow.StepDefinition{
			{
				Name: "only-step",
				Fn: func(_ context.Context, _ flow.FiberContext, input any) (any, error) {
					return input, nil
				},
			},
		},
	})
	require.NoError(t, err, "RegisterFlow should succeed")

	cp, err := eng.Start(ctx, "mongo-smoke", "hello")
	require.NoError(t, err, "Start should succeed")
	require.NotZero(t, cp.Id)

	require.Equal(t, flow.StatusCompleted, cp.Status)

	_, err = eng.GetCheckpoint(ctx, cp.Id)
	require.ErrorIs(t, err, flow.ErrNotFound, "a completed flow without a ClientId is removed")
}
