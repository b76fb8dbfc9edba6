package main

import "fmt"

// ============================================================================
// Action Types
// ============================================================================
// An Action is what a recognised gesture resolves to. The dispatcher derives it
// from the catalog and hands it to the executor; nothing else produces one.
// ============================================================================

// Action is the closed set of things a gesture can trigger.
type Action interface {
	actionMarker()
	String() string
}

// MediaDirection selects the transport key for ToggleMedia.
type MediaDirection int

const (
	MediaPrevious MediaDirection = iota
	MediaPlayPause
	MediaNext
)

// Keycode returns the Linux media key for the direction.
func (d MediaDirection) Keycode() uint16 {
	switch d {
	case MediaPrevious:
		return KEY_PREVIOUSSONG
	case MediaNext:
		return KEY_NEXTSONG
	default:
		return KEY_PLAYPAUSE
	}
}

func (d MediaDirection) String() string {
	switch d {
	case MediaPrevious:
		return "previous"
	case MediaPlayPause:
		return "play_pause"
	case MediaNext:
		return "next"
	default:
		return fmt.Sprintf("MediaDirection(%d)", int(d))
	}
}

// ToggleMedia injects a media transport key into the active media session.
type ToggleMedia struct {
	Direction MediaDirection
}

func (ToggleMedia) actionMarker() {}
func (a ToggleMedia) String() string {
	return fmt.Sprintf("ToggleMedia(%s)", a.Direction)
}

// LaunchCameraGesture announces that the camera-launch gesture was drawn.
type LaunchCameraGesture struct{}

func (LaunchCameraGesture) actionMarker()  {}
func (LaunchCameraGesture) String() string { return "LaunchCameraGesture()" }

// ToggleTorch flips the rear camera flash used as a flashlight.
type ToggleTorch struct{}

func (ToggleTorch) actionMarker()  {}
func (ToggleTorch) String() string { return "ToggleTorch()" }

// actionName is the stable wire name used in the websocket feed and IPC replies.
func actionName(a Action) string {
	switch a := a.(type) {
	case ToggleMedia:
		return "media_" + a.Direction.String()
	case LaunchCameraGesture:
		return "camera_gesture"
	case ToggleTorch:
		return "toggle_torch"
	default:
		return "unknown"
	}
}
