package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRequest(t *testing.T) {
	cases := []struct {
		line string
		want Request
	}{
		{`{"type":"status"}`, StatusRequest{}},
		{`{"type":"gestures"}`, ListGestures{}},
		{`{"type":"components"}`, ListComponents{}},
		{`{"type":"inject_gesture","data":{"scancode":252}}`, InjectGesture{Scancode: 252}},
		{`{"type":"get_gesture","data":{"key":"touchscreen_gesture_camera"}}`, GetGesture{Key: prefGestureCamera}},
		{`{"type":"set_gesture","data":{"key":"touchscreen_gesture_music","enabled":true}}`, SetGesture{Key: prefGestureMusic, Enabled: true}},
		{`{"type":"set_haptic","data":{"enabled":false}}`, SetHaptic{}},
		{`{"type":"set_proximity_on_wake","data":{"enabled":true}}`, SetProximityOnWake{Enabled: true}},
		{`{"type":"set_high_touch","data":{"enabled":true}}`, SetHighTouch{Enabled: true}},
	}
	for _, tc := range cases {
		got, err := UnmarshalRequest([]byte(tc.line))
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got)

		// Re-encoding yields the same request.
		b, err := marshalRequest(got)
		require.NoError(t, err)
		again, err := UnmarshalRequest(b)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}

	for _, bad := range []string{`{`, `{"type":"reboot"}`, `{"type":"set_gesture"}`, `{"type":"inject_gesture","data":{"scancode":"x"}}`} {
		_, err := UnmarshalRequest([]byte(bad))
		assert.Error(t, err, bad)
	}
}

// marshalRequest encodes a request into its envelope.
func marshalRequest(r Request) ([]byte, error) {
	var env RequestEnvelope
	withData := func(typ string) error {
		env.Type = typ
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal %T: %w", r, err)
		}
		env.Data = data
		return nil
	}

	var err error
	switch r.(type) {
	case InjectGesture:
		err = withData("inject_gesture")
	case StatusRequest:
		env.Type = "status"
	case ListGestures:
		env.Type = "gestures"
	case GetGesture:
		err = withData("get_gesture")
	case SetGesture:
		err = withData("set_gesture")
	case SetHaptic:
		err = withData("set_haptic")
	case SetProximityOnWake:
		err = withData("set_proximity_on_wake")
	case SetHighTouch:
		err = withData("set_high_touch")
	case ListComponents:
		env.Type = "components"
	default:
		return nil, fmt.Errorf("unsupported request type: %T", r)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func TestRequestValidator(t *testing.T) {
	v, err := NewRequestValidator()
	require.NoError(t, err)

	for _, ok := range []string{
		`{"type":"status"}`,
		`{"type":"inject_gesture","data":{"scancode":253}}`,
		`{"type":"set_gesture","data":{"key":"touchscreen_gesture_camera","enabled":false}}`,
		`{"type":"set_haptic","data":{"enabled":true}}`,
	} {
		assert.NoError(t, v.Validate([]byte(ok)), ok)
	}

	for _, bad := range []string{
		`not json`,
		`{}`,
		`{"type":"reboot"}`,
		`{"type":"status","extra":1}`,
		`{"type":"inject_gesture"}`,
		`{"type":"inject_gesture","data":{"scancode":-1}}`,
		`{"type":"inject_gesture","data":{"scancode":1.5}}`,
		`{"type":"get_gesture","data":{"key":""}}`,
		`{"type":"set_gesture","data":{"key":"touchscreen_gesture_camera"}}`,
		`{"type":"set_haptic","data":{"enabled":"yes"}}`,
	} {
		assert.Error(t, v.Validate([]byte(bad)), bad)
	}
}

// sendIPCRequest sends one request over a fresh connection and returns the
// reply payload.
func sendIPCRequest(socketPath string, req Request) (json.RawMessage, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalRequest(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp struct {
		Status string          `json:"status"`
		Error  string          `json:"error"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp.Data, nil
}

type serviceFixture struct {
	svc    *Service
	prefs  *PreferenceStore
	perf   *lockedPerformer
	socket string
}

// newServiceFixture wires a Service to a running daemon loop and IPC server.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	catalog, err := NewGestureCatalog(CatalogPanel)
	require.NoError(t, err)
	node := newEmulatedNode()
	store := NewGestureStore(node, gestureKeysFor(catalog), nil)
	prefs := newTestPrefs(t)
	require.NoError(t, restoreGestureSettings(ctx, store, nil, prefs, discardLogger()))

	looper := NewLooper(ctx, 8)
	perf := &lockedPerformer{}
	dispatcher := NewGestureDispatcher(ctx, DispatcherDeps{
		Catalog:   catalog,
		Scheduler: looper,
		Performer: perf,
		Prefs:     prefs,
	})
	svc := &Service{
		looper:     looper,
		dispatcher: dispatcher,
		catalog:    catalog,
		store:      store,
		prefs:      prefs,
		logger:     discardLogger(),

		feedClients: func() int { return 1 },
	}

	go func() { _ = runDaemon(ctx, nil, nil, looper, dispatcher, nil, discardLogger()) }()

	// Unix socket paths are short; t.TempDir can exceed the limit.
	dir, err := os.MkdirTemp("", "tgd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "ipc.sock")

	validator, err := NewRequestValidator()
	require.NoError(t, err)
	go func() { _ = runIPCServer(ctx, socket, svc, validator, discardLogger()) }()
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return &serviceFixture{svc: svc, prefs: prefs, perf: perf, socket: socket}
}

func TestIPC_InjectPerformsGesture(t *testing.T) {
	f := newServiceFixture(t)

	raw, err := sendIPCRequest(f.socket, InjectGesture{Scancode: scancodeLetterC})
	require.NoError(t, err)

	var res InjectResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Consumed)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, 1, f.perf.count())

	raw, err = sendIPCRequest(f.socket, InjectGesture{Scancode: 30})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.False(t, res.Consumed)
	assert.Equal(t, 1, f.perf.count())
}

func TestIPC_SetAndGetGesture(t *testing.T) {
	f := newServiceFixture(t)

	_, err := sendIPCRequest(f.socket, SetGesture{Key: prefGestureFlashlight, Enabled: true})
	require.NoError(t, err)

	raw, err := sendIPCRequest(f.socket, GetGesture{Key: prefGestureFlashlight})
	require.NoError(t, err)
	var st GestureKeyState
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.True(t, st.Enabled)
	require.NotNil(t, st.Saved)
	assert.True(t, *st.Saved)

	_, err = sendIPCRequest(f.socket, SetGesture{Key: "touchscreen_gesture_w", Enabled: true})
	assert.ErrorContains(t, err, "not found")
}

func TestIPC_StatusAndLists(t *testing.T) {
	f := newServiceFixture(t)

	raw, err := sendIPCRequest(f.socket, StatusRequest{})
	require.NoError(t, err)
	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, CatalogPanel, snap.Variant)
	assert.True(t, snap.GesturesSupported)
	assert.Len(t, snap.Gestures, 3)
	assert.True(t, snap.HapticFeedback)
	assert.False(t, snap.ProximitySupported)
	assert.Equal(t, 1, snap.FeedClients)

	raw, err = sendIPCRequest(f.socket, ListGestures{})
	require.NoError(t, err)
	var gestures []GestureInfo
	require.NoError(t, json.Unmarshal(raw, &gestures))
	assert.Len(t, gestures, 5)
	for _, g := range gestures {
		assert.NotEmpty(t, g.Action, g.DisplayName)
	}

	raw, err = sendIPCRequest(f.socket, ListComponents{})
	require.NoError(t, err)
	var comps []Component
	require.NoError(t, json.Unmarshal(raw, &comps))
	assert.Equal(t, []Component{{Name: gestureSettingsComponent, Enabled: true}}, comps)
}

func TestIPC_UnsupportedSettings(t *testing.T) {
	f := newServiceFixture(t)

	_, err := sendIPCRequest(f.socket, SetProximityOnWake{Enabled: true})
	assert.ErrorContains(t, err, "unsupported")

	_, err = sendIPCRequest(f.socket, SetHighTouch{Enabled: true})
	assert.ErrorContains(t, err, "unsupported")

	_, err = sendIPCRequest(f.socket, SetHaptic{Enabled: false})
	require.NoError(t, err)
	assert.False(t, f.prefs.Bool(prefHapticFeedback, true))

	// A hidden settings component refuses gesture changes.
	require.NoError(t, f.prefs.SetComponentEnabled(context.Background(), gestureSettingsComponent, false))
	_, err = sendIPCRequest(f.socket, SetGesture{Key: prefGestureCamera, Enabled: true})
	assert.ErrorContains(t, err, "unsupported")
}

func TestIPC_SchemaErrorsKeepConnectionOpen(t *testing.T) {
	f := newServiceFixture(t)

	conn, err := net.Dial("unix", f.socket)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	dec := json.NewDecoder(conn)
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}

	_, err = conn.Write([]byte(`{"type":"inject_gesture","data":{"scancode":"c"}}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "invalid request")

	_, err = conn.Write([]byte(`{"type":"status"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}
