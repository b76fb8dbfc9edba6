package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrefs(t *testing.T) *PreferenceStore {
	t.Helper()
	prefs, err := OpenPreferenceStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { prefs.Close() })
	return prefs
}

func TestPreferenceStore_Strings(t *testing.T) {
	ctx := context.Background()
	prefs := newTestPrefs(t)

	_, err := prefs.GetString(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, prefs.PutString(ctx, "k", "v1"))
	require.NoError(t, prefs.PutString(ctx, "k", "v2"))

	v, err := prefs.GetString(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestPreferenceStore_Bools(t *testing.T) {
	ctx := context.Background()
	prefs := newTestPrefs(t)

	assert.True(t, prefs.Bool(prefHapticFeedback, true), "absent key uses default")
	assert.False(t, prefs.Bool(prefHapticFeedback, false))

	require.NoError(t, prefs.PutBool(ctx, prefHapticFeedback, false))
	assert.False(t, prefs.Bool(prefHapticFeedback, true))

	v, err := prefs.GetBool(ctx, prefHapticFeedback)
	require.NoError(t, err)
	assert.False(t, v)

	require.NoError(t, prefs.PutString(ctx, "odd", "maybe"))
	_, err = prefs.GetBool(ctx, "odd")
	assert.Error(t, err)
	assert.True(t, prefs.Bool("odd", true), "unparseable value falls back to default")
}

func TestPreferenceStore_Components(t *testing.T) {
	ctx := context.Background()
	prefs := newTestPrefs(t)

	enabled, err := prefs.ComponentEnabled(ctx, gestureSettingsComponent)
	require.NoError(t, err)
	assert.True(t, enabled, "unregistered components are enabled")

	require.NoError(t, prefs.SetComponentEnabled(ctx, gestureSettingsComponent, false))
	require.NoError(t, prefs.SetComponentEnabled(ctx, "Another", true))

	enabled, err = prefs.ComponentEnabled(ctx, gestureSettingsComponent)
	require.NoError(t, err)
	assert.False(t, enabled)

	list, err := prefs.Components(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Component{
		{Name: "Another", Enabled: true},
		{Name: gestureSettingsComponent, Enabled: false},
	}, list)
}

func TestPreferenceStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "prefs.db")

	prefs, err := OpenPreferenceStore(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, prefs.PutBool(ctx, prefGestureCamera, true))
	require.NoError(t, prefs.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	prefs, err = OpenPreferenceStore(ctx, path, nil)
	require.NoError(t, err)
	defer prefs.Close()

	v, err := prefs.GetBool(ctx, prefGestureCamera)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestLoadDeviceResources(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	t.Run("missing file uses defaults", func(t *testing.T) {
		res, err := LoadDeviceResources(filepath.Join(dir, "nope.toml"))
		require.NoError(t, err)
		assert.Equal(t, defaultDeviceResources(), res)

		res, err = LoadDeviceResources("")
		require.NoError(t, err)
		assert.False(t, res.ProximityWake().Supported)
	})

	t.Run("overlay", func(t *testing.T) {
		p := write("ok.toml", "proximity_check_on_wake = true\nproximity_check_timeout_ms = 400\nproximity_check_on_wake_enabled_by_default = true\n")
		res, err := LoadDeviceResources(p)
		require.NoError(t, err)
		assert.Equal(t, ProximityWakeConfig{Supported: true, TimeoutMillis: 400, DefaultEnabled: true}, res.ProximityWake())
	})

	t.Run("partial overlay keeps timeout default", func(t *testing.T) {
		p := write("partial.toml", "proximity_check_on_wake = true\n")
		res, err := LoadDeviceResources(p)
		require.NoError(t, err)
		assert.Equal(t, defaultProximityTimeoutMS, res.ProximityCheckTimeoutMS)
	})

	t.Run("unknown key", func(t *testing.T) {
		p := write("unknown.toml", "proximity_check_on_wakeup = true\n")
		_, err := LoadDeviceResources(p)
		assert.ErrorContains(t, err, "unknown keys")
	})

	t.Run("non-positive timeout", func(t *testing.T) {
		p := write("zero.toml", "proximity_check_timeout_ms = 0\n")
		_, err := LoadDeviceResources(p)
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		p := write("bad.toml", "proximity_check_on_wake = \n")
		_, err := LoadDeviceResources(p)
		assert.Error(t, err)
	})
}
