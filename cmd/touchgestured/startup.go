package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// restoreGestureSettings brings the hardware in line with saved preferences
// at boot. When the controller has no gesture node the settings component is
// hidden and nothing else happens.
func restoreGestureSettings(ctx context.Context, store *GestureStore, touch *TouchSensitivity, prefs *PreferenceStore, logger *slog.Logger) error {
	if !store.IsSupported() {
		logger.Info("touchscreen gestures unsupported, hiding settings", "component", gestureSettingsComponent)
		if err := prefs.SetComponentEnabled(ctx, gestureSettingsComponent, false); err != nil {
			return fmt.Errorf("disable %s: %w", gestureSettingsComponent, err)
		}
		return nil
	}

	if err := prefs.SetComponentEnabled(ctx, gestureSettingsComponent, true); err != nil {
		return fmt.Errorf("enable %s: %w", gestureSettingsComponent, err)
	}

	for _, key := range store.Keys() {
		value, err := prefs.GetBool(ctx, key.Pref)
		switch {
		case errors.Is(err, ErrNotFound):
			// Nothing saved yet: keep whatever the controller booted with.
			value = store.GetGestureEnabled(key.Pref)
		case err != nil:
			logger.Warn("saved gesture preference unreadable", "key", key.Pref, "error", err)
			value = store.GetGestureEnabled(key.Pref)
		}
		if !store.SetGestureEnabled(key.Pref, value) {
			logger.Warn("gesture restore failed", "key", key.Pref, "enabled", value)
			continue
		}
		logger.Debug("gesture restored", "key", key.Pref, "enabled", value)
	}

	if touch != nil && touch.IsSupported() {
		v, err := prefs.GetBool(ctx, prefHighTouchSensitive)
		if err == nil {
			if !touch.SetEnabled(v) {
				logger.Warn("high touch sensitivity restore failed", "enabled", v)
			}
		} else if !errors.Is(err, ErrNotFound) {
			logger.Warn("saved touch sensitivity unreadable", "error", err)
		}
	}
	return nil
}
