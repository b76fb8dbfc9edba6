package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVibrator struct {
	present bool
	pulses  []time.Duration
}

func (v *fakeVibrator) Present() bool { return v.present }

func (v *fakeVibrator) Vibrate(d time.Duration) error {
	v.pulses = append(v.pulses, d)
	return nil
}

type fakeMedia struct {
	keys []uint16
	err  error
}

func (m *fakeMedia) SendMediaKey(code uint16) error {
	m.keys = append(m.keys, code)
	return m.err
}

type fakeCamera struct {
	emitted int
	err     error
}

func (c *fakeCamera) EmitCameraGesture() error {
	c.emitted++
	return c.err
}

type recordingWake struct {
	acquired []string
	timeouts []time.Duration
	released int
}

func (w *recordingWake) Acquire(name string, timeout time.Duration) func() {
	w.acquired = append(w.acquired, name)
	w.timeouts = append(w.timeouts, timeout)
	return func() { w.released++ }
}

type recordingObserver struct {
	actions []Action
}

func (o *recordingObserver) ActionPerformed(a Action) {
	o.actions = append(o.actions, a)
}

// fakeTorch reports state changes only when the test pushes them.
type fakeTorch struct {
	cameras    []CameraInfo
	camErr     error
	enumerated int
	requests   []bool
	cb         TorchCallback
}

func (f *fakeTorch) Cameras() ([]CameraInfo, error) {
	f.enumerated++
	return f.cameras, f.camErr
}

func (f *fakeTorch) SetTorchMode(_ string, enabled bool) error {
	f.requests = append(f.requests, enabled)
	return nil
}

func (f *fakeTorch) RegisterTorchCallback(_ context.Context, cb TorchCallback) error {
	f.cb = cb
	return nil
}

type executorFixture struct {
	exec     *ActionExecutor
	vibrator *fakeVibrator
	media    *fakeMedia
	camera   *fakeCamera
	wake     *recordingWake
	torch    *fakeTorch
	observer *recordingObserver
	prefs    mapPrefs
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		vibrator: &fakeVibrator{present: true},
		media:    &fakeMedia{},
		camera:   &fakeCamera{},
		wake:     &recordingWake{},
		torch:    &fakeTorch{cameras: []CameraInfo{{ID: "front:flash", Facing: FacingFront}, {ID: "white:torch", Facing: FacingBack}}},
		observer: &recordingObserver{},
		prefs:    mapPrefs{},
	}
	f.exec = NewActionExecutor(ExecutorDeps{
		Vibrator: f.vibrator,
		Media:    f.media,
		Camera:   f.camera,
		Torch:    NewTorchSession(context.Background(), f.torch, nil),
		Wake:     f.wake,
		Prefs:    f.prefs,
		Observer: f.observer,
	})
	return f
}

var allActions = []Action{
	ToggleMedia{Direction: MediaPrevious},
	ToggleMedia{Direction: MediaPlayPause},
	ToggleMedia{Direction: MediaNext},
	LaunchCameraGesture{},
	ToggleTorch{},
}

func TestExecutor_HapticIffPreferenceAndVibrator(t *testing.T) {
	cases := []struct {
		name    string
		present bool
		pref    *bool
		want    bool
	}{
		{name: "default on", present: true, pref: nil, want: true},
		{name: "explicit on", present: true, pref: boolPtr(true), want: true},
		{name: "pref off", present: true, pref: boolPtr(false), want: false},
		{name: "no vibrator", present: false, pref: boolPtr(true), want: false},
	}
	for _, tc := range cases {
		for _, a := range allActions {
			t.Run(tc.name+"/"+actionName(a), func(t *testing.T) {
				f := newExecutorFixture(t)
				f.vibrator.present = tc.present
				if tc.pref != nil {
					f.prefs[prefHapticFeedback] = *tc.pref
				}

				f.exec.Perform(a)

				if tc.want {
					assert.Equal(t, []time.Duration{hapticPulseDuration}, f.vibrator.pulses)
				} else {
					assert.Empty(t, f.vibrator.pulses)
				}
			})
		}
	}
}

func TestExecutor_HapticPreferenceReadEachTime(t *testing.T) {
	f := newExecutorFixture(t)

	f.exec.Perform(LaunchCameraGesture{})
	f.prefs[prefHapticFeedback] = false
	f.exec.Perform(LaunchCameraGesture{})

	assert.Len(t, f.vibrator.pulses, 1)
}

func TestExecutor_MediaKeys(t *testing.T) {
	f := newExecutorFixture(t)

	f.exec.Perform(ToggleMedia{Direction: MediaPlayPause})
	f.exec.Perform(ToggleMedia{Direction: MediaNext})
	f.exec.Perform(ToggleMedia{Direction: MediaPrevious})

	assert.Equal(t, []uint16{KEY_PLAYPAUSE, KEY_NEXTSONG, KEY_PREVIOUSSONG}, f.media.keys)
	assert.Len(t, f.observer.actions, 3)
}

func TestExecutor_NoMediaSessionIsNotFatal(t *testing.T) {
	f := newExecutorFixture(t)
	f.media.err = ErrNoMediaSession

	assert.NotPanics(t, func() { f.exec.Perform(ToggleMedia{Direction: MediaNext}) })
	assert.Len(t, f.vibrator.pulses, 1)
	assert.Len(t, f.observer.actions, 1)

	nilMedia := NewActionExecutor(ExecutorDeps{Vibrator: f.vibrator})
	assert.NotPanics(t, func() { nilMedia.Perform(ToggleMedia{Direction: MediaNext}) })
}

func TestExecutor_CameraAcquiresWakeLockThenSignals(t *testing.T) {
	f := newExecutorFixture(t)

	f.exec.Perform(LaunchCameraGesture{})

	assert.Equal(t, 1, f.camera.emitted)
	require.Equal(t, []string{wakeLockGesture}, f.wake.acquired)
	assert.Equal(t, gestureWakeLockDuration, f.wake.timeouts[0])
	assert.Equal(t, []Action{LaunchCameraGesture{}}, f.observer.actions)
}

func TestExecutor_CameraSignalFailureIsNotAnnounced(t *testing.T) {
	f := newExecutorFixture(t)
	f.camera.err = errors.New("bus gone")

	f.exec.Perform(LaunchCameraGesture{})
	assert.Equal(t, 1, f.camera.emitted)
	assert.Empty(t, f.observer.actions)
	assert.Len(t, f.vibrator.pulses, 1)

	noCamera := &recordingObserver{}
	exec := NewActionExecutor(ExecutorDeps{Wake: f.wake, Observer: noCamera})
	exec.Perform(LaunchCameraGesture{})
	assert.Empty(t, noCamera.actions)
	assert.Len(t, f.wake.acquired, 2, "wake lock is still taken")
}

func TestExecutor_TorchTogglesFromHardwareState(t *testing.T) {
	f := newExecutorFixture(t)

	f.exec.Perform(ToggleTorch{})
	require.Equal(t, []bool{true}, f.torch.requests)
	require.NotNil(t, f.torch.cb, "callback registered on first use")
	assert.False(t, f.exec.torch.TorchEnabled(), "flag waits for the hardware")

	// Without a callback the next toggle still asks for "on".
	f.exec.Perform(ToggleTorch{})
	assert.Equal(t, []bool{true, true}, f.torch.requests)

	f.torch.cb.OnTorchModeChanged("white:torch", true)
	assert.True(t, f.exec.torch.TorchEnabled())

	f.exec.Perform(ToggleTorch{})
	assert.Equal(t, []bool{true, true, false}, f.torch.requests)
	assert.Equal(t, 1, f.torch.enumerated, "rear camera resolved once")
	assert.Equal(t, []string{wakeLockGesture, wakeLockGesture, wakeLockGesture}, f.wake.acquired)
}

func TestExecutor_TorchWithoutRearCameraIsNoop(t *testing.T) {
	f := newExecutorFixture(t)
	f.torch.cameras = []CameraInfo{{ID: "front:flash", Facing: FacingFront}}

	assert.NotPanics(t, func() {
		f.exec.Perform(ToggleTorch{})
		f.exec.Perform(ToggleTorch{})
	})

	assert.Empty(t, f.torch.requests)
	assert.Empty(t, f.wake.acquired)
	assert.Len(t, f.vibrator.pulses, 2, "haptic pulse is independent of the action")
	assert.Equal(t, 1, f.torch.enumerated, "a missing rear camera sticks")
}

func TestExecutor_TorchEnumerationFailureDisablesTorch(t *testing.T) {
	f := newExecutorFixture(t)
	f.torch.camErr = errors.New("camera service died")

	f.exec.Perform(ToggleTorch{})
	f.torch.camErr = nil
	f.exec.Perform(ToggleTorch{})

	assert.Empty(t, f.torch.requests)
	assert.Equal(t, 1, f.torch.enumerated)
}

func TestTorchSession_IgnoresOtherCameras(t *testing.T) {
	f := newExecutorFixture(t)
	session := f.exec.torch

	var changes []bool
	session.OnChange = func(_ string, enabled bool) { changes = append(changes, enabled) }

	id, ok := session.RearCamera()
	require.True(t, ok)
	assert.Equal(t, "white:torch", id)

	session.OnTorchModeChanged("front:flash", true)
	assert.False(t, session.TorchEnabled())

	session.OnTorchModeChanged(id, true)
	session.OnTorchModeChanged(id, true)
	session.OnTorchModeUnavailable(id)

	assert.Equal(t, []bool{true, false}, changes, "OnChange fires only on transitions")
	gotID, resolved, enabled := session.Snapshot()
	assert.Equal(t, id, gotID)
	assert.True(t, resolved)
	assert.False(t, enabled)
}

func boolPtr(v bool) *bool { return &v }
