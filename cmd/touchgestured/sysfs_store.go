package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Sysfs Gesture Store
// ============================================================================
// The touch controller exposes one text node for gesture control:
//   - write: comma-joined "token=true|false" pairs, one write per change
//   - read:  a single integer bitmask (hex, octal or decimal)
//
// A key is enabled iff every bit of its mask is set. Anything that goes wrong
// on the node reads as "disabled" and writes report false.
// ============================================================================

// ControlNode is a single-line text attribute (a sysfs file in production).
type ControlNode interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	// Accessible reports whether the node can be both read and written.
	Accessible() bool
}

// fileNode is a ControlNode backed by a file path.
type fileNode struct {
	path string
}

func newFileNode(path string) *fileNode {
	return &fileNode{path: path}
}

func (n *fileNode) ReadLine() (string, error) {
	f, err := os.Open(n.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read %s: %w", n.path, err)
		}
		return "", fmt.Errorf("read %s: empty node", n.path)
	}
	return strings.TrimSpace(sc.Text()), nil
}

func (n *fileNode) WriteLine(line string) error {
	// sysfs attributes are written in place, never created.
	f, err := os.OpenFile(n.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", n.path, err)
	}
	return f.Close()
}

func (n *fileNode) Accessible() bool {
	return unix.Access(n.path, unix.R_OK|unix.W_OK) == nil
}

// GestureKey is one user-facing switch on the control node.
type GestureKey struct {
	Pref   string   `json:"key"`
	Tokens []string `json:"tokens"`
	Mask   int64    `json:"mask"`
}

var panelGestureKeys = []GestureKey{
	{Pref: prefGestureCamera, Tokens: []string{"c"}, Mask: 0x80},
	{Pref: prefGestureMusic, Tokens: []string{"down", "left", "right"}, Mask: 0x0E},
	{Pref: prefGestureFlashlight, Tokens: []string{"o"}, Mask: 0x20},
}

var fullGestureMasks = map[string]int64{
	"up":    0x01,
	"down":  0x02,
	"left":  0x04,
	"right": 0x08,
	"e":     0x10,
	"o":     0x20,
	"m":     0x40,
	"c":     0x80,
	"w":     0x100,
}

// gestureKeysFor returns the switch set for a catalog. The panel variant
// groups the three music swipes under one key; the full variant has one key
// per gesture.
func gestureKeysFor(c *GestureCatalog) []GestureKey {
	if c.Variant() != CatalogFull {
		out := make([]GestureKey, len(panelGestureKeys))
		copy(out, panelGestureKeys)
		return out
	}
	gestures := c.Gestures()
	sort.Slice(gestures, func(i, j int) bool { return gestures[i].ID < gestures[j].ID })
	out := make([]GestureKey, 0, len(gestures))
	for _, g := range gestures {
		out = append(out, GestureKey{
			Pref:   "touchscreen_gesture_" + g.Token,
			Tokens: []string{g.Token},
			Mask:   fullGestureMasks[g.Token],
		})
	}
	return out
}

// GestureStore encodes and decodes gesture enable state on the control node.
type GestureStore struct {
	node   ControlNode
	keys   []GestureKey
	logger *slog.Logger
}

// NewGestureStore creates a store for the given key set.
func NewGestureStore(node ControlNode, keys []GestureKey, logger *slog.Logger) *GestureStore {
	if logger == nil {
		logger = discardLogger()
	}
	return &GestureStore{node: node, keys: keys, logger: logger}
}

// Keys returns the preference keys the store understands.
func (s *GestureStore) Keys() []GestureKey {
	out := make([]GestureKey, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *GestureStore) lookup(pref string) (GestureKey, bool) {
	for _, k := range s.keys {
		if k.Pref == pref {
			return k, true
		}
	}
	return GestureKey{}, false
}

// IsSupported reports whether the control node is readable and writable.
func (s *GestureStore) IsSupported() bool {
	return s.node != nil && s.node.Accessible()
}

// SetGestureEnabled writes the token list for key. It returns false for an
// unknown key or when the node cannot be written.
func (s *GestureStore) SetGestureEnabled(pref string, state bool) bool {
	key, ok := s.lookup(pref)
	if !ok {
		s.logger.Debug("unknown gesture key", "key", pref)
		return false
	}
	if s.node == nil {
		return false
	}
	line := encodeGestureCommand(key.Tokens, state)
	if err := s.node.WriteLine(line); err != nil {
		s.logger.Warn("gesture node write failed", "key", pref, "line", line, "error", err)
		return false
	}
	s.logger.Debug("gesture node written", "key", pref, "line", line)
	return true
}

// GetGestureEnabled decodes the node bitmask for key. Absent or malformed
// reads are treated as disabled.
func (s *GestureStore) GetGestureEnabled(pref string) bool {
	key, ok := s.lookup(pref)
	if !ok || s.node == nil {
		return false
	}
	line, err := s.node.ReadLine()
	if err != nil {
		s.logger.Debug("gesture node read failed", "error", err)
		return false
	}
	mask, err := decodeBitmask(line)
	if err != nil {
		s.logger.Warn("gesture node malformed", "value", line, "error", err)
		return false
	}
	return mask&key.Mask == key.Mask
}

func encodeGestureCommand(tokens []string, state bool) string {
	val := strconv.FormatBool(state)
	var b strings.Builder
	for _, t := range tokens {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t)
		b.WriteByte('=')
		b.WriteString(val)
	}
	return b.String()
}

var errEmptyBitmask = errors.New("empty bitmask")

// decodeBitmask accepts an optionally signed decimal, 0x/0X/# hex or
// leading-zero octal integer.
func decodeBitmask(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errEmptyBitmask
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("invalid bitmask %q", s)
	}

	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "#"):
		base, s = 16, s[1:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bitmask: %w", err)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// ============================================================================
// High touch sensitivity (glove mode)
// ============================================================================

const (
	touchModeGlove  = "glove"
	touchModeNormal = "normal"
)

// TouchSensitivity drives the controller's glove mode node.
type TouchSensitivity struct {
	path string
}

func NewTouchSensitivity(path string) *TouchSensitivity {
	return &TouchSensitivity{path: path}
}

// IsSupported reports whether the mode node exists and is writable.
func (t *TouchSensitivity) IsSupported() bool {
	if t.path == "" {
		return false
	}
	if _, err := os.Stat(t.path); err != nil {
		return false
	}
	return unix.Access(t.path, unix.W_OK) == nil
}

// IsEnabled reports whether the controller is in glove mode.
func (t *TouchSensitivity) IsEnabled() bool {
	line, err := newFileNode(t.path).ReadLine()
	if err != nil {
		return false
	}
	return line == touchModeGlove
}

// SetEnabled switches between glove and normal mode.
func (t *TouchSensitivity) SetEnabled(state bool) bool {
	mode := touchModeNormal
	if state {
		mode = touchModeGlove
	}
	return newFileNode(t.path).WriteLine(mode) == nil
}
