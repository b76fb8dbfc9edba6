package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CameraFacing is the lens direction of a camera flash unit.
type CameraFacing int

const (
	FacingBack CameraFacing = iota
	FacingFront
)

// CameraInfo describes one flash-capable camera.
type CameraInfo struct {
	ID     string
	Facing CameraFacing
}

// TorchCallback receives asynchronous torch state from the hardware.
type TorchCallback interface {
	OnTorchModeChanged(cameraID string, enabled bool)
	OnTorchModeUnavailable(cameraID string)
}

// TorchController enumerates flash units and switches torch mode.
type TorchController interface {
	Cameras() ([]CameraInfo, error)
	SetTorchMode(cameraID string, enabled bool) error
	// RegisterTorchCallback starts delivering state changes to cb until ctx is done.
	RegisterTorchCallback(ctx context.Context, cb TorchCallback) error
}

// TorchSession owns the lazily resolved rear camera and the torch flag.
// torchEnabled is written by hardware callbacks on the watcher goroutine and
// read by the executor on the loop goroutine.
type TorchSession struct {
	ctx        context.Context
	controller TorchController
	logger     *slog.Logger

	// OnChange, if set, is called after the rear torch state changes.
	OnChange func(cameraID string, enabled bool)

	mu           sync.Mutex
	resolved     bool
	rearCameraID string
	torchEnabled bool
}

func NewTorchSession(ctx context.Context, controller TorchController, logger *slog.Logger) *TorchSession {
	if logger == nil {
		logger = discardLogger()
	}
	return &TorchSession{ctx: ctx, controller: controller, logger: logger}
}

// RearCamera resolves the first back-facing camera on first use. If none is
// found the result sticks for the life of the process.
func (s *TorchSession) RearCamera() (string, bool) {
	s.mu.Lock()
	if s.resolved {
		id := s.rearCameraID
		s.mu.Unlock()
		return id, id != ""
	}
	s.resolved = true
	s.mu.Unlock()

	if s.controller == nil {
		s.logger.Error("cannot find rear camera for torch usage", "error", "no torch controller")
		return "", false
	}

	cams, err := s.controller.Cameras()
	if err != nil {
		s.logger.Error("camera enumeration failed, torch disabled", "error", err)
		return "", false
	}
	var id string
	for _, c := range cams {
		if c.Facing == FacingBack {
			id = c.ID
			break
		}
	}
	if id == "" {
		s.logger.Error("cannot find rear camera for torch usage")
		return "", false
	}

	s.mu.Lock()
	s.rearCameraID = id
	s.mu.Unlock()

	if err := s.controller.RegisterTorchCallback(s.ctx, s); err != nil {
		s.logger.Warn("torch callback registration failed", "camera", id, "error", err)
	}
	return id, true
}

// SetTorchMode asks the hardware for a torch state. TorchEnabled does not
// change until the hardware reports back.
func (s *TorchSession) SetTorchMode(cameraID string, enabled bool) error {
	return s.controller.SetTorchMode(cameraID, enabled)
}

// TorchEnabled is the last state reported by the hardware.
func (s *TorchSession) TorchEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torchEnabled
}

// Snapshot reports the session for status queries.
func (s *TorchSession) Snapshot() (cameraID string, resolved, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rearCameraID, s.resolved, s.torchEnabled
}

func (s *TorchSession) OnTorchModeChanged(cameraID string, enabled bool) {
	s.setTorch(cameraID, enabled)
}

func (s *TorchSession) OnTorchModeUnavailable(cameraID string) {
	s.setTorch(cameraID, false)
}

func (s *TorchSession) setTorch(cameraID string, enabled bool) {
	s.mu.Lock()
	if cameraID != s.rearCameraID {
		s.mu.Unlock()
		return
	}
	changed := s.torchEnabled != enabled
	s.torchEnabled = enabled
	s.mu.Unlock()

	if changed && s.OnChange != nil {
		s.OnChange(cameraID, enabled)
	}
}

// ----------------------------------------------------------------------------
// LED class torch
// ----------------------------------------------------------------------------

// ledTorch drives flash LEDs under /sys/class/leds. An LED whose name
// contains "torch" or "flash" is a camera flash; names containing "front"
// belong to the front camera.
type ledTorch struct {
	dir    string
	logger *slog.Logger
}

func newLEDTorch(dir string, logger *slog.Logger) *ledTorch {
	return &ledTorch{dir: dir, logger: logger}
}

func (t *ledTorch) Cameras() ([]CameraInfo, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.dir, err)
	}
	var out []CameraInfo
	for _, e := range entries {
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "torch") && !strings.Contains(lower, "flash") {
			continue
		}
		facing := FacingBack
		if strings.Contains(lower, "front") {
			facing = FacingFront
		}
		out = append(out, CameraInfo{ID: name, Facing: facing})
	}
	return out, nil
}

func (t *ledTorch) SetTorchMode(cameraID string, enabled bool) error {
	value := "0"
	if enabled {
		maxBrightness, err := readIntAttr(filepath.Join(t.dir, cameraID, "max_brightness"))
		if err != nil || maxBrightness <= 0 {
			maxBrightness = 1
		}
		value = strconv.Itoa(maxBrightness)
	}
	return writeSysfs(filepath.Join(t.dir, cameraID, "brightness"), value)
}

// RegisterTorchCallback reports the current state once and then every
// brightness change seen by fsnotify.
func (t *ledTorch) RegisterTorchCallback(ctx context.Context, cb TorchCallback) error {
	cams, err := t.Cameras()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create torch watcher: %w", err)
	}
	for _, c := range cams {
		if err := w.Add(filepath.Join(t.dir, c.ID)); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", c.ID, err)
		}
		t.report(cb, c.ID)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				id := filepath.Base(filepath.Dir(ev.Name))
				switch {
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Base(ev.Name) == "brightness":
					cb.OnTorchModeUnavailable(id)
				case ev.Op&fsnotify.Write != 0 && filepath.Base(ev.Name) == "brightness":
					t.report(cb, id)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				t.logger.Warn("torch watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (t *ledTorch) report(cb TorchCallback, cameraID string) {
	v, err := readIntAttr(filepath.Join(t.dir, cameraID, "brightness"))
	if err != nil {
		cb.OnTorchModeUnavailable(cameraID)
		return
	}
	cb.OnTorchModeChanged(cameraID, v > 0)
}
