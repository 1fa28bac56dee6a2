package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// recordingHandler is a minimal slog.Handler that keeps every record
// passed to it, so tests can assert on level and message without
// parsing formatted log output.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) at(level slog.Level) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

func TestHistoryRecorder_DumpsAndPurgesOnErrorPropagation(t *testing.T) {
	rec := &recordingHandler{}
	h := NewHistoryRecorder(10, slog.New(rec))

	flowId := flow.NewFlowId()
	prev := flow.Checkpoint{Id: flowId, Status: flow.StatusRunnable}
	errored := flow.Checkpoint{
		Id:         flowId,
		Status:     flow.StatusFailed,
		ErrorState: flow.ErrorState{Kind: flow.ErrorErrored, Propagating: true},
	}

	next := func(prev flow.Checkpoint, ev flow.Event) flow.TransitionResult {
		return flow.TransitionResult{Checkpoint: errored}
	}
	h.Intercept(prev, flow.StartEvent{}, next)

	if warnings := rec.at(slog.LevelWarn); len(warnings) == 0 {
		t.Fatalf("expected at least one LevelWarn record once the flow started propagating its error")
	}
	if entries := h.History(flowId); len(entries) != 0 {
		t.Fatalf("expected the buffered history to be purged after the dump, got %d entries", len(entries))
	}
}

func TestHistoryRecorder_PurgesWithoutDumpingOnTerminalSuccess(t *testing.T) {
	rec := &recordingHandler{}
	h := NewHistoryRecorder(10, slog.New(rec))

	flowId := flow.NewFlowId()
	prev := flow.Checkpoint{Id: flowId, Status: flow.StatusRunnable}
	done := flow.Checkpoint{Id: flowId, Status: flow.StatusCompleted}

	next := func(prev flow.Checkpoint, ev flow.Event) flow.TransitionResult {
		return flow.TransitionResult{Checkpoint: done}
	}
	h.Intercept(prev, flow.StartEvent{}, next)

	if warnings := rec.at(slog.LevelWarn); len(warnings) != 0 {
		t.Fatalf("expected no LevelWarn record for a clean completion, got %d", len(warnings))
	}
	if entries := h.History(flowId); len(entries) != 0 {
		t.Fatalf("expected the buffered history to be purged once the flow reached a terminal status, got %d entries", len(entries))
	}
}

func TestHistoryRecorder_RetainsEntriesForALiveFlow(t *testing.T) {
	h := NewHistoryRecorder(10, nil)

	flowId := flow.NewFlowId()
	prev := flow.Checkpoint{Id: flowId, Status: flow.StatusRunnable}
	still := flow.Checkpoint{Id: flowId, Status: flow.StatusRunnable}

	next := func(prev flow.Checkpoint, ev flow.Event) flow.TransitionResult {
		return flow.TransitionResult{Checkpoint: still}
	}
	h.Intercept(prev, flow.StartEvent{}, next)

	if entries := h.History(flowId); len(entries) != 1 {
		t.Fatalf("expected the entry for a still-running flow to be retained, got %d", len(entries))
	}
}

func TestExecutor_LogsEachActionAtDebug(t *testing.T) {
	rec := &recordingHandler{}
	ex := &Executor{Logger: slog.New(rec)}

	err := ex.Execute(context.Background(), flow.NewFlowId(), []flow.Action{
		flow.CreateTransactionAction{},
		flow.CommitTransactionAction{},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if debugs := rec.at(slog.LevelDebug); len(debugs) != 2 {
		t.Fatalf("expected one LevelDebug record per action, got %d", len(debugs))
	}
}
