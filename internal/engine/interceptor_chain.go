package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/hospital"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// HistoryRecorder is a flow.Interceptor that keeps a bounded, in-memory
// record of the last N transitions per flow, for diagnostics and test
// assertions. It never alters a TransitionResult. Once a flow's error
// state turns both errored and propagating, it dumps the buffered
// history for that flow via slog at LevelWarn and purges it; once a
// flow is gone for good (terminal, no longer in the store) it purges
// without dumping, never holding onto a finished instance's
// bookkeeping.
type HistoryRecorder struct {
	mu      sync.Mutex
	perFlow map[flow.FlowId][]flow.HistoryEntry
	limit   int
	logger  *slog.Logger
}

var _ flow.Interceptor = (*HistoryRecorder)(nil)

// NewHistoryRecorder returns a HistoryRecorder retaining at most limit
// entries per FlowId, oldest dropped first. logger defaults to
// slog.Default() when nil.
func NewHistoryRecorder(limit int, logger *slog.Logger) *HistoryRecorder {
	if limit <= 0 {
		limit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{perFlow: make(map[flow.FlowId][]flow.HistoryEntry), limit: limit, logger: logger}
}

func (h *HistoryRecorder) Intercept(prev flow.Checkpoint, ev flow.Event, next flow.TransitionFunc) flow.TransitionResult {
	res := next(prev, ev)

	entry := flow.HistoryEntry{
		At:           time.Now(),
		Prev:         prev,
		Next:         res.Checkpoint,
		Event:        ev,
		Actions:      res.Actions,
		Continuation: res.Continuation,
	}

	h.mu.Lock()
	entries := append(h.perFlow[prev.Id], entry)
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}
	h.perFlow[prev.Id] = entries

	switch {
	case res.Checkpoint.ErrorState.Kind == flow.ErrorErrored && res.Checkpoint.ErrorState.Propagating:
		h.dumpLocked(res.Checkpoint.Id, entries)
		delete(h.perFlow, prev.Id)
	case res.Checkpoint.Status.Terminal():
		delete(h.perFlow, prev.Id)
	}
	h.mu.Unlock()

	return res
}

// dumpLocked logs entries for id at LevelWarn. Called with h.mu held.
func (h *HistoryRecorder) dumpLocked(id flow.FlowId, entries []flow.HistoryEntry) {
	for _, e := range entries {
		actions := make([]string, len(e.Actions))
		for i, a := range e.Actions {
			actions[i] = fmt.Sprintf("%T", a)
		}
		h.logger.Warn("flow error propagating, dumping history",
			slog.String("flow_id", id.String()),
			slog.Time("at", e.At),
			slog.String("event", fmt.Sprintf("%T", e.Event)),
			slog.Any("actions", actions),
		)
	}
}

// History returns a copy of the recorded entries for id, oldest first.
func (h *HistoryRecorder) History(id flow.FlowId) []flow.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]flow.HistoryEntry(nil), h.perFlow[id]...)
}

// Hospitaliser is a flow.Interceptor that watches for a transition
// landing a checkpoint in StatusHospitalized and asks a hospital.Hospital
// for a verdict, then rewrites the TransitionResult to carry out that
// verdict. Every rewrite it performs happens before the result's actions
// have been executed, so there is never any rollback of real I/O to
// perform — only of data that hasn't been acted on yet.
type Hospitaliser struct {
	mu       sync.Mutex
	hospital hospital.Hospital
	attempts map[flow.FlowId]int
}

var _ flow.Interceptor = (*Hospitaliser)(nil)

// NewHospitaliser returns a Hospitaliser consulting h for every
// hospitalized transition.
func NewHospitaliser(h hospital.Hospital) *Hospitaliser {
	if h == nil {
		h = hospital.NewBoundedRetryHospital()
	}
	return &Hospitaliser{hospital: h, attempts: make(map[flow.FlowId]int)}
}

func (h *Hospitaliser) Intercept(prev flow.Checkpoint, ev flow.Event, next flow.TransitionFunc) flow.TransitionResult {
	res := next(prev, ev)

	if res.Checkpoint.Status != flow.StatusHospitalized {
		h.clearAttempts(prev.Id)
		return res
	}

	cause := latestError(res.Checkpoint)
	if cause == nil {
		return res
	}

	attempt := h.bumpAttempt(prev.Id)
	verdict, delay := h.hospital.Handle(hospital.Case{
		FlowId:     prev.Id,
		Attempt:    attempt,
		Cause:      cause,
		Checkpoint: res.Checkpoint,
	})

	switch verdict {
	case hospital.VerdictRetry:
		return flow.TransitionResult{
			Checkpoint: prev,
			Actions: []flow.Action{
				flow.RollbackTransactionAction{},
				flow.RetryEventAfterAction{
					FlowId: prev.Id,
					At:     time.Now().Add(delay).UnixNano(),
					Event:  ev,
				},
			},
			Continuation: flow.Abort(),
		}

	case hospital.VerdictPropagate:
		h.clearAttempts(prev.Id)
		return next(res.Checkpoint, flow.StartErrorPropagationEvent{})

	case hospital.VerdictKill:
		h.clearAttempts(prev.Id)
		b := newTransitionBuilder(res.Checkpoint).withTransaction()
		return killFlow(b, cause)

	case hospital.VerdictPause:
		fallthrough
	default:
		return res
	}
}

func latestError(cp flow.Checkpoint) error {
	if cp.ErrorState.Kind != flow.ErrorErrored || len(cp.ErrorState.Errors) == 0 {
		return nil
	}
	return cp.ErrorState.Errors[len(cp.ErrorState.Errors)-1].Exception
}

func (h *Hospitaliser) bumpAttempt(id flow.FlowId) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.attempts[id]
	h.attempts[id]++
	return n
}

func (h *Hospitaliser) clearAttempts(id flow.FlowId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attempts, id)
}
