package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// IPC Requests
// ============================================================================
// Clients (gesturectl, scripts, a settings UI) send one JSON envelope per line:
//
//	{"type": "set_gesture", "data": {"key": "touchscreen_gesture_camera", "enabled": true}}
//
// Requests without parameters omit "data".
// ============================================================================

// Request is a marker interface for IPC requests.
type Request interface {
	requestMarker()
}

// InjectGesture feeds a synthetic down/up pair for scancode into the dispatcher.
type InjectGesture struct {
	Scancode int `json:"scancode"`
}

// StatusRequest asks for a snapshot of the daemon.
type StatusRequest struct{}

// ListGestures returns the gesture catalog.
type ListGestures struct{}

// GetGesture reads a gesture key's enabled state from the control node.
type GetGesture struct {
	Key string `json:"key"`
}

// SetGesture persists a gesture key and writes it to the control node.
type SetGesture struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// SetHaptic toggles the haptic pulse preference.
type SetHaptic struct {
	Enabled bool `json:"enabled"`
}

// SetProximityOnWake toggles proximity gating for gestures.
type SetProximityOnWake struct {
	Enabled bool `json:"enabled"`
}

// SetHighTouch toggles glove mode.
type SetHighTouch struct {
	Enabled bool `json:"enabled"`
}

// ListComponents returns the component registry.
type ListComponents struct{}

func (InjectGesture) requestMarker()      {}
func (StatusRequest) requestMarker()      {}
func (ListGestures) requestMarker()       {}
func (GetGesture) requestMarker()         {}
func (SetGesture) requestMarker()         {}
func (SetHaptic) requestMarker()          {}
func (SetProximityOnWake) requestMarker() {}
func (SetHighTouch) requestMarker()       {}
func (ListComponents) requestMarker()     {}

// RequestEnvelope is the JSON wire format for requests.
type RequestEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalRequest decodes a request envelope.
func UnmarshalRequest(b []byte) (Request, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "inject_gesture":
		return decodeRequest[InjectGesture](env)
	case "status":
		return StatusRequest{}, nil
	case "gestures":
		return ListGestures{}, nil
	case "get_gesture":
		return decodeRequest[GetGesture](env)
	case "set_gesture":
		return decodeRequest[SetGesture](env)
	case "set_haptic":
		return decodeRequest[SetHaptic](env)
	case "set_proximity_on_wake":
		return decodeRequest[SetProximityOnWake](env)
	case "set_high_touch":
		return decodeRequest[SetHighTouch](env)
	case "components":
		return ListComponents{}, nil
	default:
		return nil, fmt.Errorf("unknown request type: %q", env.Type)
	}
}

func decodeRequest[T Request](env RequestEnvelope) (Request, error) {
	var r T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return r, nil
}
