package main

import (
	"errors"
	"log/slog"
	"time"
)

// MediaSink delivers a media transport key press and release.
type MediaSink interface {
	SendMediaKey(code uint16) error
}

// CameraGestureSignal announces that the camera-launch gesture occurred.
type CameraGestureSignal interface {
	EmitCameraGesture() error
}

// ActionObserver is told about each action after its side effects ran.
type ActionObserver interface {
	ActionPerformed(a Action)
}

// ActionExecutor performs resolved gesture actions. Every step is best
// effort: failures are logged and end only the current action.
type ActionExecutor struct {
	vibrator Vibrator
	media    MediaSink
	camera   CameraGestureSignal
	torch    *TorchSession
	wake     WakeSource
	prefs    BoolPreferences
	observer ActionObserver
	logger   *slog.Logger

	pulse time.Duration
}

// ExecutorDeps groups the executor's collaborators. Nil hardware
// collaborators disable the matching step.
type ExecutorDeps struct {
	Vibrator Vibrator
	Media    MediaSink
	Camera   CameraGestureSignal
	Torch    *TorchSession
	Wake     WakeSource
	Prefs    BoolPreferences
	Observer ActionObserver
	Logger   *slog.Logger
	Pulse    time.Duration
}

func NewActionExecutor(deps ExecutorDeps) *ActionExecutor {
	e := &ActionExecutor{
		vibrator: deps.Vibrator,
		media:    deps.Media,
		camera:   deps.Camera,
		torch:    deps.Torch,
		wake:     deps.Wake,
		prefs:    deps.Prefs,
		observer: deps.Observer,
		logger:   deps.Logger,
		pulse:    deps.Pulse,
	}
	if e.wake == nil {
		e.wake = noWake{}
	}
	if e.logger == nil {
		e.logger = discardLogger()
	}
	if e.pulse <= 0 {
		e.pulse = hapticPulseDuration
	}
	return e
}

// Perform runs the haptic pulse and then the action's side effect.
func (e *ActionExecutor) Perform(a Action) {
	e.hapticFeedback()

	switch a := a.(type) {
	case ToggleMedia:
		e.dispatchMediaKey(a.Direction.Keycode())
	case LaunchCameraGesture:
		// No signal went out, so there is nothing to announce.
		if !e.launchCamera() {
			return
		}
	case ToggleTorch:
		e.toggleTorch()
	default:
		e.logger.Warn("unknown action", "action", a)
		return
	}

	if e.observer != nil {
		e.observer.ActionPerformed(a)
	}
}

// hapticFeedback pulses the vibrator when one exists and the preference,
// read fresh every time, is on.
func (e *ActionExecutor) hapticFeedback() {
	if e.vibrator == nil || !e.vibrator.Present() {
		return
	}
	enabled := true
	if e.prefs != nil {
		enabled = e.prefs.Bool(prefHapticFeedback, true)
	}
	if !enabled {
		return
	}
	if err := e.vibrator.Vibrate(e.pulse); err != nil {
		e.logger.Warn("haptic pulse failed", "error", err)
	}
}

func (e *ActionExecutor) dispatchMediaKey(code uint16) {
	if e.media == nil {
		e.logger.Warn("unable to send media key event", "keycode", code, "error", ErrNoMediaSession)
		return
	}
	if err := e.media.SendMediaKey(code); err != nil {
		if errors.Is(err, ErrNoMediaSession) {
			e.logger.Warn("unable to send media key event", "keycode", code, "error", err)
			return
		}
		e.logger.Error("media key failed", "keycode", code, "error", err)
	}
}

func (e *ActionExecutor) launchCamera() bool {
	e.wake.Acquire(wakeLockGesture, gestureWakeLockDuration)
	if e.camera == nil {
		return false
	}
	if err := e.camera.EmitCameraGesture(); err != nil {
		e.logger.Error("camera gesture signal failed", "error", err)
		return false
	}
	return true
}

// toggleTorch requests the opposite of the last hardware-reported state.
// The flag itself only changes when the hardware callback confirms it.
func (e *ActionExecutor) toggleTorch() {
	if e.torch == nil {
		return
	}
	id, ok := e.torch.RearCamera()
	if !ok {
		return
	}
	e.wake.Acquire(wakeLockGesture, gestureWakeLockDuration)
	want := !e.torch.TorchEnabled()
	if err := e.torch.SetTorchMode(id, want); err != nil {
		e.logger.Error("set torch mode failed", "camera", id, "enabled", want, "error", err)
	}
}
