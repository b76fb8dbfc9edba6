package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Service is the control surface behind IPC and the websocket snapshot.
// Dispatcher state is only touched on the loop through Looper.Call.
type Service struct {
	looper     *Looper
	dispatcher *GestureDispatcher
	catalog    *GestureCatalog
	store      *GestureStore
	touch      *TouchSensitivity
	prefs      *PreferenceStore
	torch      *TorchSession
	gate       ProximityChecker
	vibrator   Vibrator
	proximity  ProximityWakeConfig
	logger     *slog.Logger

	// feedClients reports connected websocket clients, when the feed runs.
	feedClients func() int
}

// GestureKeyState is one switch as seen on the node and in the saved preferences.
type GestureKeyState struct {
	Key     string   `json:"key"`
	Tokens  []string `json:"tokens"`
	Enabled bool     `json:"enabled"`
	Saved   *bool    `json:"saved,omitempty"`
}

// PendingStatus describes the in-flight request.
type PendingStatus struct {
	ID       string    `json:"id"`
	Scancode int       `json:"scancode"`
	IssuedAt time.Time `json:"issued_at"`
	Gated    bool      `json:"gated"`
}

// StatusSnapshot is returned by the status request and sent as state_init.
type StatusSnapshot struct {
	State   DispatcherState `json:"state"`
	Pending *PendingStatus  `json:"pending,omitempty"`

	Variant           CatalogVariant    `json:"variant"`
	GesturesSupported bool              `json:"gestures_supported"`
	Gestures          []GestureKeyState `json:"gestures"`

	HapticFeedback  bool `json:"haptic_feedback"`
	VibratorPresent bool `json:"vibrator_present"`

	ProximitySupported bool `json:"proximity_supported"`
	ProximitySensor    bool `json:"proximity_sensor"`
	ProximityOnWake    bool `json:"proximity_on_wake"`
	ProximityTimeoutMS int  `json:"proximity_timeout_ms"`

	HighTouchSupported bool `json:"high_touch_supported"`
	HighTouchEnabled   bool `json:"high_touch_enabled"`

	TorchCamera  string `json:"torch_camera,omitempty"`
	TorchEnabled bool   `json:"torch_enabled"`

	FeedClients int `json:"feed_clients"`
}

// InjectResult reports whether an injected gesture was consumed.
type InjectResult struct {
	Consumed bool            `json:"consumed"`
	State    DispatcherState `json:"state"`
}

// Inject feeds a down/up pair into the dispatcher as if the controller sent it.
func (s *Service) Inject(ctx context.Context, scancode int) (InjectResult, error) {
	var res InjectResult
	err := s.looper.Call(ctx, func() {
		down := s.dispatcher.Handle(GestureEvent{Scancode: scancode, Phase: PhaseDown})
		up := s.dispatcher.Handle(GestureEvent{Scancode: scancode, Phase: PhaseUp})
		res.Consumed = down && up
		res.State = s.dispatcher.State()
	})
	return res, err
}

// Status collects a snapshot of the daemon.
func (s *Service) Status(ctx context.Context) (StatusSnapshot, error) {
	snap := StatusSnapshot{
		Variant:            s.catalog.Variant(),
		GesturesSupported:  s.store.IsSupported(),
		ProximitySupported: s.proximity.Supported,
		ProximityTimeoutMS: s.proximity.TimeoutMillis,
		ProximityOnWake:    s.prefs.Bool(prefProximityOnWake, s.proximity.DefaultEnabled),
		HapticFeedback:     s.prefs.Bool(prefHapticFeedback, true),
		VibratorPresent:    s.vibrator != nil && s.vibrator.Present(),
		ProximitySensor:    s.gate != nil && s.gate.Present(),
	}

	err := s.looper.Call(ctx, func() {
		snap.State = s.dispatcher.State()
		if p, ok := s.dispatcher.Pending(); ok {
			snap.Pending = &PendingStatus{ID: p.ID, Scancode: p.Scancode, IssuedAt: p.IssuedAt, Gated: p.Gated}
		}
	})
	if err != nil {
		return StatusSnapshot{}, err
	}

	gestures, err := s.gestureStates(ctx)
	if err != nil {
		return StatusSnapshot{}, err
	}
	snap.Gestures = gestures

	if s.touch != nil && s.touch.IsSupported() {
		snap.HighTouchSupported = true
		snap.HighTouchEnabled = s.touch.IsEnabled()
	}
	if s.torch != nil {
		snap.TorchCamera, _, snap.TorchEnabled = s.torch.Snapshot()
	}
	if s.feedClients != nil {
		snap.FeedClients = s.feedClients()
	}
	return snap, nil
}

func (s *Service) gestureStates(ctx context.Context) ([]GestureKeyState, error) {
	keys := s.store.Keys()
	out := make([]GestureKeyState, 0, len(keys))
	for _, k := range keys {
		st := GestureKeyState{
			Key:     k.Pref,
			Tokens:  k.Tokens,
			Enabled: s.store.GetGestureEnabled(k.Pref),
		}
		v, err := s.prefs.GetBool(ctx, k.Pref)
		switch {
		case err == nil:
			st.Saved = &v
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Gestures returns the catalog entries with their resolved action names.
func (s *Service) Gestures() []GestureInfo {
	gestures := s.catalog.Gestures()
	out := make([]GestureInfo, 0, len(gestures))
	for _, g := range gestures {
		info := GestureInfo{Gesture: g}
		if a, ok := s.catalog.ActionFor(g.Scancode); ok {
			info.Action = actionName(a)
		}
		out = append(out, info)
	}
	return out
}

// GestureInfo is a catalog entry as reported over IPC.
type GestureInfo struct {
	Gesture
	Action string `json:"action,omitempty"`
}

// GetGesture reads one key from the control node.
func (s *Service) GetGesture(ctx context.Context, key string) (GestureKeyState, error) {
	if err := s.requireGestureSettings(ctx); err != nil {
		return GestureKeyState{}, err
	}
	states, err := s.gestureStates(ctx)
	if err != nil {
		return GestureKeyState{}, err
	}
	for _, st := range states {
		if st.Key == key {
			return st, nil
		}
	}
	return GestureKeyState{}, fmt.Errorf("gesture key %q: %w", key, ErrNotFound)
}

// SetGesture saves the preference and writes the node.
func (s *Service) SetGesture(ctx context.Context, key string, enabled bool) error {
	if err := s.requireGestureSettings(ctx); err != nil {
		return err
	}
	if !s.knownKey(key) {
		return fmt.Errorf("gesture key %q: %w", key, ErrNotFound)
	}
	if err := s.prefs.PutBool(ctx, key, enabled); err != nil {
		return err
	}
	if !s.store.SetGestureEnabled(key, enabled) {
		return fmt.Errorf("write gesture node for %q failed", key)
	}
	s.logger.Info("gesture setting changed", "key", key, "enabled", enabled)
	return nil
}

func (s *Service) SetHaptic(ctx context.Context, enabled bool) error {
	return s.prefs.PutBool(ctx, prefHapticFeedback, enabled)
}

func (s *Service) SetProximityOnWake(ctx context.Context, enabled bool) error {
	if !s.proximity.Supported {
		return fmt.Errorf("proximity check on wake: %w", ErrUnsupported)
	}
	return s.prefs.PutBool(ctx, prefProximityOnWake, enabled)
}

// SetHighTouch saves and applies glove mode.
func (s *Service) SetHighTouch(ctx context.Context, enabled bool) error {
	if s.touch == nil || !s.touch.IsSupported() {
		return fmt.Errorf("high touch sensitivity: %w", ErrUnsupported)
	}
	if err := s.prefs.PutBool(ctx, prefHighTouchSensitive, enabled); err != nil {
		return err
	}
	if !s.touch.SetEnabled(enabled) {
		return errors.New("write touch mode node failed")
	}
	return nil
}

func (s *Service) Components(ctx context.Context) ([]Component, error) {
	return s.prefs.Components(ctx)
}

func (s *Service) requireGestureSettings(ctx context.Context) error {
	enabled, err := s.prefs.ComponentEnabled(ctx, gestureSettingsComponent)
	if err != nil {
		return err
	}
	if !enabled || !s.store.IsSupported() {
		return fmt.Errorf("touchscreen gestures: %w", ErrUnsupported)
	}
	return nil
}

func (s *Service) knownKey(key string) bool {
	for _, k := range s.store.Keys() {
		if k.Pref == key {
			return true
		}
	}
	return false
}

// Handle executes one IPC request and returns its reply payload.
func (s *Service) Handle(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case InjectGesture:
		return s.Inject(ctx, r.Scancode)
	case StatusRequest:
		return s.Status(ctx)
	case ListGestures:
		return s.Gestures(), nil
	case GetGesture:
		return s.GetGesture(ctx, r.Key)
	case SetGesture:
		return nil, s.SetGesture(ctx, r.Key, r.Enabled)
	case SetHaptic:
		return nil, s.SetHaptic(ctx, r.Enabled)
	case SetProximityOnWake:
		return nil, s.SetProximityOnWake(ctx, r.Enabled)
	case SetHighTouch:
		return nil, s.SetHighTouch(ctx, r.Enabled)
	case ListComponents:
		return s.Components(ctx)
	default:
		return nil, fmt.Errorf("unsupported request %T", req)
	}
}
