package store

import (
	"bytes"
	"encoding/gob"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// EncodeCheckpoint serializes cp with encoding/gob, grounded on
// internal/persistence/codec.go's EncodeValue. Checkpoint's user-facing
// payload fields (InvocationContext.Args, session payloads, the frozen
// call stack) are all `any`, so every concrete type a flow puts there
// must be gob.Register-ed by the caller, exactly as the prior design requires
// for SignalPayload/TimeoutPayload.
func EncodeCheckpoint(cp flow.Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&cp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCheckpoint is the inverse of EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (flow.Checkpoint, error) {
	var cp flow.Checkpoint
	if len(data) == 0 {
		return cp, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cp); err != nil {
		return flow.Checkpoint{}, err
	}
	return cp, nil
}

// EncodeValue serializes an arbitrary payload (e.g. a FlowOutcome.Value)
// the same way, kept as a separate entry point because callers outside
// this package encode values that never appear inside a full Checkpoint
// (e.g. ResultStore payloads).
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
