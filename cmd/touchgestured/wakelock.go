package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Wake lock names as they appear in /sys/kernel/debug/wakeup_sources.
const (
	wakeLockGesture   = "touchgestured-gesture"
	wakeLockProximity = "touchgestured-proximity"
)

// WakeSource keeps the system awake for a bounded time.
//
// Acquire returns a release function that is safe to call more than once.
// The hold also ends by itself after timeout, so callers that only need a
// bounded hold may drop the release function.
type WakeSource interface {
	Acquire(name string, timeout time.Duration) (release func())
}

// noWake is used when no wake backend is configured.
type noWake struct{}

func (noWake) Acquire(string, time.Duration) func() { return func() {} }

// sysfsWake uses the kernel's userspace wakelock interface
// (CONFIG_PM_WAKELOCKS): "name timeout_ns" into wake_lock, "name" into wake_unlock.
type sysfsWake struct {
	lockPath   string
	unlockPath string
	logger     *slog.Logger
}

func newSysfsWake(logger *slog.Logger) *sysfsWake {
	return &sysfsWake{
		lockPath:   "/sys/power/wake_lock",
		unlockPath: "/sys/power/wake_unlock",
		logger:     logger,
	}
}

func (w *sysfsWake) Acquire(name string, timeout time.Duration) func() {
	line := name
	if timeout > 0 {
		line = fmt.Sprintf("%s %d", name, timeout.Nanoseconds())
	}
	if err := writeSysfs(w.lockPath, line); err != nil {
		w.logger.Warn("wake lock acquire failed", "name", name, "error", err)
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// The kernel may already have expired it; EINVAL is expected then.
			if err := writeSysfs(w.unlockPath, name); err != nil {
				w.logger.Debug("wake lock release", "name", name, "error", err)
			}
		})
	}
}

// writeSysfs writes a single value to an existing attribute.
func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
