package flowmesh

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewSQLiteBundle_RunsFlowToCompletion(t *testing.T) {
	db := openTestDB(t)
	bdl, err := NewSQLiteBundle(db, "alice")
	if err != nil {
		t.Fatalf("NewSQLiteBundle failed: %v", err)
	}

	bdl.MustRegister(FlowDefinition{
		Name: "greet",
		Steps: []StepDefinition{
			{Name: "s", Fn: func(ctx context.Context, fc FiberContext, input any) (any, error) {
				return "hello", nil
			}},
		},
	})

	cp, err := bdl.Engine.Start(context.Background(), "greet", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cp.Status != StatusCompleted {
		t.Fatalf("expected StatusCompleted, got %v", cp.Status)
	}
	if _, err := bdl.Engine.GetCheckpoint(context.Background(), cp.Id); err == nil {
		t.Fatalf("expected the completed checkpoint to have been removed from the store")
	}
}

func TestNewSQLiteBundle_CheckpointSurvivesAcrossBundleRestart(t *testing.T) {
	db := openTestDB(t)

	def := FlowDefinition{
		Name: "waits-a-while",
		Steps: []StepDefinition{
			{Name: "s", Fn: func(ctx context.Context, fc FiberContext, input any) (any, error) {
				if err := fc.Sleep(time.Hour); err != nil {
					return nil, err
				}
				return "woke up", nil
			}},
		},
	}

	first, err := NewSQLiteBundle(db, "alice")
	if err != nil {
		t.Fatalf("NewSQLiteBundle failed: %v", err)
	}
	first.MustRegister(def)

	started, err := first.Engine.Start(context.Background(), "waits-a-while", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Status.Terminal() {
		t.Fatalf("expected the flow to suspend on Sleep, got terminal status %v", started.Status)
	}

	// A fresh Bundle against the same *sql.DB stands in for the process
	// restarting: it has no in-memory state of its own, only what the
	// first bundle persisted.
	second, err := NewSQLiteBundle(db, "alice")
	if err != nil {
		t.Fatalf("second NewSQLiteBundle failed: %v", err)
	}
	second.MustRegister(def)

	recovered, err := second.Engine.GetCheckpoint(context.Background(), started.Id)
	if err != nil {
		t.Fatalf("GetCheckpoint on the restarted bundle failed: %v", err)
	}
	if recovered.DefinitionName != "waits-a-while" || recovered.Status != flow.StatusRunnable {
		t.Fatalf("unexpected recovered checkpoint: %+v", recovered)
	}

	resumed, err := second.Engine.ExpireTimeout(context.Background(), started.Id)
	if err != nil {
		t.Fatalf("ExpireTimeout on the restarted bundle failed: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("expected the recovered flow to complete after its sleep expires, got %v", resumed.Status)
	}
}

func TestNewSQLiteBundle_StepErrorPropagatesToStatusFailed(t *testing.T) {
	db := openTestDB(t)
	bdl, err := NewSQLiteBundle(db, "alice")
	if err != nil {
		t.Fatalf("NewSQLiteBundle failed: %v", err)
	}

	bdl.MustRegister(FlowDefinition{
		Name: "doomed",
		Steps: []StepDefinition{
			{Name: "s", Fn: func(ctx context.Context, fc FiberContext, input any) (any, error) {
				return nil, flow.NewFlowException("nope")
			}},
		},
	})

	cp, err := bdl.Engine.Start(context.Background(), "doomed", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cp.Status != StatusFailed {
		t.Fatalf("expected StatusFailed, got %v", cp.Status)
	}
}
