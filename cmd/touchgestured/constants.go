package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01

	SYN_REPORT = 0

	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Gesture scancodes reported by the touch controller while the display is off.
const (
	scancodeSlideDown  = 249
	scancodeSlideLeft  = 250
	scancodeSlideRight = 251
	scancodeLetterC    = 252
	scancodeLetterO    = 253
	scancodeSlideUp    = 254
	scancodeLetterE    = 255
	scancodeLetterM    = 256
	scancodeLetterW    = 257
)

// Preference keys (persisted in the preference store)
const (
	prefGestureCamera      = "touchscreen_gesture_camera"
	prefGestureMusic       = "touchscreen_gesture_music"
	prefGestureFlashlight  = "touchscreen_gesture_flashlight"
	prefHapticFeedback     = "touchscreen_gesture_haptic_feedback"
	prefProximityOnWake    = "proximity_on_wake"
	prefHighTouchSensitive = "high_touch_sensitivity"
)

// Component hidden when the touchscreen has no gesture support.
const gestureSettingsComponent = "TouchscreenGestureSettings"

const (
	defaultGestureCtrlNode = "/sys/devices/virtual/touchscreen/touchscreen_dev/gesture_ctrl"
	defaultTouchModeNode   = "/sys/devices/virtual/touchscreen/touchscreen_dev/mode"

	// Wake lock held long enough for the camera app to cold start.
	gestureWakeLockDuration = 3000 * time.Millisecond

	hapticPulseDuration = 50 * time.Millisecond

	defaultProximityTimeoutMS = 250
	defaultReadTimeoutMS      = 500
)
