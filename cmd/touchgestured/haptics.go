package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Vibrator produces a haptic pulse.
type Vibrator interface {
	Present() bool
	Vibrate(d time.Duration) error
}

// sysfsVibrator drives either a timed_output "enable" attribute or an
// LED-class vibrator directory (duration + activate).
type sysfsVibrator struct {
	path string
}

func newSysfsVibrator(path string) *sysfsVibrator {
	return &sysfsVibrator{path: path}
}

func (v *sysfsVibrator) ledClass() bool {
	fi, err := os.Stat(v.path)
	return err == nil && fi.IsDir()
}

func (v *sysfsVibrator) Present() bool {
	if v.path == "" {
		return false
	}
	if v.ledClass() {
		_, err := os.Stat(filepath.Join(v.path, "activate"))
		return err == nil
	}
	_, err := os.Stat(v.path)
	return err == nil
}

func (v *sysfsVibrator) Vibrate(d time.Duration) error {
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	if !v.ledClass() {
		return writeSysfs(v.path, ms)
	}
	if err := writeSysfs(filepath.Join(v.path, "duration"), ms); err != nil {
		return err
	}
	return writeSysfs(filepath.Join(v.path, "activate"), "1")
}
