package main

import "fmt"

// Gesture is one shape the touch controller can recognise with the display off.
type Gesture struct {
	ID          int    `json:"id"`
	DisplayName string `json:"name"`
	Scancode    int    `json:"scancode"`
	Token       string `json:"token"`
}

// CatalogVariant selects which gestures a device exposes.
type CatalogVariant string

const (
	// CatalogPanel is the five-gesture layout: music swipes, C and O.
	CatalogPanel CatalogVariant = "panel"
	// CatalogFull exposes every gesture the controller firmware knows.
	CatalogFull CatalogVariant = "full"
)

var allGestures = []Gesture{
	{ID: 0, DisplayName: "One finger up swipe", Scancode: scancodeSlideUp, Token: "up"},
	{ID: 1, DisplayName: "One finger down swipe", Scancode: scancodeSlideDown, Token: "down"},
	{ID: 2, DisplayName: "One finger left swipe", Scancode: scancodeSlideLeft, Token: "left"},
	{ID: 3, DisplayName: "One finger right swipe", Scancode: scancodeSlideRight, Token: "right"},
	{ID: 4, DisplayName: "Letter C", Scancode: scancodeLetterC, Token: "c"},
	{ID: 5, DisplayName: "Letter E", Scancode: scancodeLetterE, Token: "e"},
	{ID: 6, DisplayName: "Letter M", Scancode: scancodeLetterM, Token: "m"},
	{ID: 7, DisplayName: "Letter O", Scancode: scancodeLetterO, Token: "o"},
	{ID: 8, DisplayName: "Letter W", Scancode: scancodeLetterW, Token: "w"},
}

// GestureCatalog is the immutable gesture table for one device variant.
type GestureCatalog struct {
	variant    CatalogVariant
	gestures   []Gesture
	byScancode map[int]Gesture
}

// NewGestureCatalog builds the catalog for a variant.
func NewGestureCatalog(variant CatalogVariant) (*GestureCatalog, error) {
	var gestures []Gesture
	switch variant {
	case CatalogFull:
		gestures = append(gestures, allGestures...)
	case CatalogPanel, "":
		variant = CatalogPanel
		for _, g := range allGestures {
			if _, ok := actionForScancode(g.Scancode); ok {
				gestures = append(gestures, g)
			}
		}
	default:
		return nil, fmt.Errorf("unknown gesture catalog variant %q", variant)
	}

	c := &GestureCatalog{
		variant:    variant,
		gestures:   gestures,
		byScancode: make(map[int]Gesture, len(gestures)),
	}
	for _, g := range gestures {
		c.byScancode[g.Scancode] = g
	}
	return c, nil
}

// Variant returns the catalog variant.
func (c *GestureCatalog) Variant() CatalogVariant { return c.variant }

// Gestures returns a copy of the gesture table.
func (c *GestureCatalog) Gestures() []Gesture {
	out := make([]Gesture, len(c.gestures))
	copy(out, c.gestures)
	return out
}

// Lookup finds a gesture by scancode.
func (c *GestureCatalog) Lookup(scancode int) (Gesture, bool) {
	g, ok := c.byScancode[scancode]
	return g, ok
}

// Supported reports whether the dispatcher should consume the scancode.
// A gesture is supported only if it is in the catalog and resolves to an action.
func (c *GestureCatalog) Supported(scancode int) bool {
	_, ok := c.ActionFor(scancode)
	return ok
}

// ActionFor resolves a scancode to its action.
func (c *GestureCatalog) ActionFor(scancode int) (Action, bool) {
	if _, ok := c.byScancode[scancode]; !ok {
		return nil, false
	}
	return actionForScancode(scancode)
}

func actionForScancode(scancode int) (Action, bool) {
	switch scancode {
	case scancodeSlideDown:
		return ToggleMedia{Direction: MediaPlayPause}, true
	case scancodeSlideLeft:
		return ToggleMedia{Direction: MediaPrevious}, true
	case scancodeSlideRight:
		return ToggleMedia{Direction: MediaNext}, true
	case scancodeLetterC:
		return LaunchCameraGesture{}, true
	case scancodeLetterO:
		return ToggleTorch{}, true
	default:
		return nil, false
	}
}
