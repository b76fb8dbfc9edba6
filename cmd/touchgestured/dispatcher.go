package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Gesture Dispatcher
// ============================================================================
// Turns raw gesture key events into at most one in-flight action.
//
//   Idle --Up--> PendingImmediate --perform--> Idle           (gating off)
//   Idle --Up--> PendingGated --Far--> perform --> Idle        (gating on)
//                PendingGated --Near / timeout--> Idle         (dropped)
//
// Any supported Up while a request is pending is consumed and ignored.
// The proximity result and the timeout race; whichever reaches the loop
// first resolves the request and the other sees a stale request id.
// ============================================================================

// GesturePhase is the key transition reported for a gesture scancode.
type GesturePhase int

const (
	PhaseDown GesturePhase = iota
	PhaseUp
)

func (p GesturePhase) String() string {
	if p == PhaseUp {
		return "up"
	}
	return "down"
}

// GestureEvent is one key transition from the touch controller.
type GestureEvent struct {
	Scancode int
	Phase    GesturePhase
}

// DispatcherState is the dispatcher's position in the state machine.
type DispatcherState string

const (
	StateIdle             DispatcherState = "idle"
	StatePendingImmediate DispatcherState = "pending_immediate"
	StatePendingGated     DispatcherState = "pending_gated"
)

// PendingRequest is the single gesture currently being resolved.
type PendingRequest struct {
	ID       string
	Scancode int
	IssuedAt time.Time
	Gated    bool

	cancelTimeout func() bool
}

// ProximityChecker is the gate the dispatcher consults before acting.
type ProximityChecker interface {
	Present() bool
	Check(ctx context.Context, timeout time.Duration, report func(ProximityResult))
}

// ActionPerformer carries out a resolved action.
type ActionPerformer interface {
	Perform(Action)
}

// BoolPreferences is the read side of the preference store.
type BoolPreferences interface {
	Bool(key string, def bool) bool
}

// DispatchOutcome describes how a request ended.
type DispatchOutcome string

const (
	OutcomePerformed      DispatchOutcome = "performed"
	OutcomeDroppedNear    DispatchOutcome = "dropped_near"
	OutcomeDroppedTimeout DispatchOutcome = "dropped_timeout"
)

// DispatchNotice is published whenever a request is created or resolved.
type DispatchNotice struct {
	RequestID string
	Scancode  int
	Gesture   string
	Action    string
	Gated     bool
	Outcome   DispatchOutcome // empty when the request was just accepted
}

// GestureDispatcher must only be used from the loop goroutine that drains
// its Scheduler.
type GestureDispatcher struct {
	ctx       context.Context
	catalog   *GestureCatalog
	scheduler Scheduler
	gate      ProximityChecker
	performer ActionPerformer
	prefs     BoolPreferences
	proximity ProximityWakeConfig
	logger    *slog.Logger

	notify func(DispatchNotice)
	now    func() time.Time

	pending *PendingRequest
}

// DispatcherDeps groups the dispatcher's collaborators.
type DispatcherDeps struct {
	Catalog   *GestureCatalog
	Scheduler Scheduler
	Gate      ProximityChecker // nil when no sensor is configured
	Performer ActionPerformer
	Prefs     BoolPreferences
	Proximity ProximityWakeConfig
	Logger    *slog.Logger
	// Notify, if set, is called on the loop for every accepted and resolved request.
	Notify func(DispatchNotice)
}

func NewGestureDispatcher(ctx context.Context, deps DispatcherDeps) *GestureDispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = discardLogger()
	}
	notify := deps.Notify
	if notify == nil {
		notify = func(DispatchNotice) {}
	}
	return &GestureDispatcher{
		ctx:       ctx,
		catalog:   deps.Catalog,
		scheduler: deps.Scheduler,
		gate:      deps.Gate,
		performer: deps.Performer,
		prefs:     deps.Prefs,
		proximity: deps.Proximity,
		logger:    logger,
		notify:    notify,
		now:       time.Now,
	}
}

// State returns the current state machine position.
func (d *GestureDispatcher) State() DispatcherState {
	switch {
	case d.pending == nil:
		return StateIdle
	case d.pending.Gated:
		return StatePendingGated
	default:
		return StatePendingImmediate
	}
}

// Pending returns a copy of the in-flight request, if any.
func (d *GestureDispatcher) Pending() (PendingRequest, bool) {
	if d.pending == nil {
		return PendingRequest{}, false
	}
	p := *d.pending
	p.cancelTimeout = nil
	return p, true
}

// Handle consumes a gesture event. It returns false for scancodes that are
// not gestures so the caller can pass the event on.
func (d *GestureDispatcher) Handle(ev GestureEvent) bool {
	if !d.catalog.Supported(ev.Scancode) {
		return false
	}
	if ev.Phase != PhaseUp {
		return true
	}
	if d.pending != nil {
		d.logger.Debug("gesture ignored, request pending",
			"scancode", ev.Scancode, "pending", d.pending.ID)
		return true
	}

	req := &PendingRequest{
		ID:       uuid.NewString(),
		Scancode: ev.Scancode,
		IssuedAt: d.now(),
		Gated:    d.gatingEnabled(),
	}
	d.pending = req
	d.notify(d.notice(req, ""))

	if !req.Gated {
		d.resolve(req)
		return true
	}

	timeout := time.Duration(d.proximity.TimeoutMillis) * time.Millisecond
	id := req.ID
	req.cancelTimeout = d.scheduler.PostDelayed(timeout, func() {
		d.onTimeout(id)
	})
	d.logger.Debug("proximity check started", "request", id, "scancode", ev.Scancode, "timeout", timeout)
	d.gate.Check(d.ctx, timeout, func(r ProximityResult) {
		d.scheduler.Post(func() { d.onProximity(id, r) })
	})
	return true
}

// gatingEnabled reads the gating policy fresh for each request.
func (d *GestureDispatcher) gatingEnabled() bool {
	if !d.proximity.Supported || d.gate == nil || !d.gate.Present() {
		return false
	}
	if d.prefs == nil {
		return d.proximity.DefaultEnabled
	}
	return d.prefs.Bool(prefProximityOnWake, d.proximity.DefaultEnabled)
}

func (d *GestureDispatcher) onProximity(id string, r ProximityResult) {
	req := d.pending
	if req == nil || req.ID != id {
		d.logger.Debug("late proximity result discarded", "request", id, "result", r)
		return
	}
	if req.cancelTimeout != nil {
		req.cancelTimeout()
	}
	switch r {
	case ProximityFar:
		d.resolve(req)
	case ProximityNear:
		d.pending = nil
		d.logger.Info("gesture dropped, sensor covered", "scancode", req.Scancode)
		d.notify(d.notice(req, OutcomeDroppedNear))
	default:
		// The gate gave up (timeout or sensor error) before the loop timer fired.
		d.pending = nil
		d.logger.Info("gesture dropped, proximity check timed out", "scancode", req.Scancode, "proximity", r)
		d.notify(d.notice(req, OutcomeDroppedTimeout))
	}
}

func (d *GestureDispatcher) onTimeout(id string) {
	req := d.pending
	if req == nil || req.ID != id {
		return
	}
	d.pending = nil
	d.logger.Info("gesture dropped, proximity check timed out", "scancode", req.Scancode)
	d.notify(d.notice(req, OutcomeDroppedTimeout))
}

// resolve performs the action for req and returns to Idle. The request stays
// pending while the action runs so re-entrant events are debounced.
func (d *GestureDispatcher) resolve(req *PendingRequest) {
	action, ok := d.catalog.ActionFor(req.Scancode)
	if ok {
		d.logger.Info("gesture performed", "scancode", req.Scancode, "action", action.String(), "gated", req.Gated)
		d.performer.Perform(action)
	}
	d.pending = nil
	d.notify(d.notice(req, OutcomePerformed))
}

func (d *GestureDispatcher) notice(req *PendingRequest, outcome DispatchOutcome) DispatchNotice {
	n := DispatchNotice{
		RequestID: req.ID,
		Scancode:  req.Scancode,
		Gated:     req.Gated,
		Outcome:   outcome,
	}
	if g, ok := d.catalog.Lookup(req.Scancode); ok {
		n.Gesture = g.DisplayName
	}
	if a, ok := d.catalog.ActionFor(req.Scancode); ok {
		n.Action = actionName(a)
	}
	return n
}
