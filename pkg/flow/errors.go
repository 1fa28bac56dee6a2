package flow

import (
	"errors"
	"fmt"
)

// FlowException is the user-visible, serializable exception type. Its
// payload propagates across a session on the first hop only — a peer
// that already knows the errorId from an earlier hop receives just the
// id, never the body again.
type FlowException struct {
	Message        string
	OriginalErrorId *uint64
}

func (e *FlowException) Error() string {
	return e.Message
}

// NewFlowException creates a user-raised, cross-session exception.
func NewFlowException(message string) *FlowException {
	return &FlowException{Message: message}
}

// IsFlowException reports whether err (or something it wraps) is a
// *FlowException, returning it for inspection.
func IsFlowException(err error) (*FlowException, bool) {
	var fe *FlowException
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// InternalException marks an error as originating in the engine, the
// bus, or the database rather than in user code. Internal exceptions are
// always routed through the hospital and may be retried transparently.
type InternalException struct {
	Cause error
}

func (e *InternalException) Error() string {
	return "internal error: " + e.Cause.Error()
}

func (e *InternalException) Unwrap() error { return e.Cause }

// NewInternalException wraps cause as an engine-originated error.
func NewInternalException(cause error) *InternalException {
	return &InternalException{Cause: cause}
}

// IsInternalException reports whether err is an *InternalException.
func IsInternalException(err error) (*InternalException, bool) {
	var ie *InternalException
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// HospitalizeFlowException forces hospitalisation even from a context
// that would otherwise be recoverable inline.
type HospitalizeFlowException struct {
	Reason string
	Cause  error
}

func (e *HospitalizeFlowException) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hospitalize: %s: %v", e.Reason, e.Cause)
	}
	return "hospitalize: " + e.Reason
}

func (e *HospitalizeFlowException) Unwrap() error { return e.Cause }

// NewHospitalizeError builds a HospitalizeFlowException.
func NewHospitalizeError(reason string, cause error) *HospitalizeFlowException {
	return &HospitalizeFlowException{Reason: reason, Cause: cause}
}

// IsHospitalizeError reports whether err is a *HospitalizeFlowException.
func IsHospitalizeError(err error) (*HospitalizeFlowException, bool) {
	var he *HospitalizeFlowException
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// Sentinel errors for dedup/version conflicts. These are deliberately NOT
// FlowErrors. The engine has no special handling for either: a store's
// ErrStaleVersion is returned as is to the caller of the engine method
// whose write it refused, and no replay follows.
var (
	// ErrDuplicateDelivery names a dedup id already recorded as
	// delivered. No store or bus in this module returns it: the bus drops
	// a duplicate send silently.
	ErrDuplicateDelivery = errors.New("flow: duplicate delivery")
	// ErrStaleVersion is returned by a checkpoint store when an upsert's
	// num_commits is not strictly greater than the stored value.
	ErrStaleVersion = errors.New("flow: stale checkpoint version")
	// ErrNotFound is returned when a checkpoint lookup misses.
	ErrNotFound = errors.New("flow: checkpoint not found")
	// ErrAlreadyRegistered is returned by RegisterFlow on a duplicate
	// definition name+version.
	ErrAlreadyRegistered = errors.New("flow: definition already registered")
	// ErrDefinitionNotFound is returned when a flow references an
	// unregistered definition.
	ErrDefinitionNotFound = errors.New("flow: definition not found")
	// ErrVersionDrift is returned when a resumed checkpoint's Version no
	// longer matches the registered definition's Version.
	ErrVersionDrift = errors.New("flow: checkpoint version drift")
)
