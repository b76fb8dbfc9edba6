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
	"time"
)

// ProximityResult is what a single proximity check reports.
type ProximityResult int

const (
	ProximityNoResult ProximityResult = iota
	ProximityFar
	ProximityNear
)

func (r ProximityResult) String() string {
	switch r {
	case ProximityFar:
		return "far"
	case ProximityNear:
		return "near"
	default:
		return "no_result"
	}
}

// ProximitySensor takes one proximity reading. Sample should return when ctx
// is done, but the gate does not rely on it.
type ProximitySensor interface {
	Present() bool
	Sample(ctx context.Context) (ProximityResult, error)
}

// ProximityGate runs single-shot proximity checks with a hard timeout.
type ProximityGate struct {
	sensor ProximitySensor
	wake   WakeSource
	logger *slog.Logger
}

func NewProximityGate(sensor ProximitySensor, wake WakeSource, logger *slog.Logger) *ProximityGate {
	if wake == nil {
		wake = noWake{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &ProximityGate{sensor: sensor, wake: wake, logger: logger}
}

// Present reports whether a proximity sensor is available.
func (g *ProximityGate) Present() bool {
	return g.sensor != nil && g.sensor.Present()
}

// Check starts one reading and calls report exactly once, from another
// goroutine, with Far, Near or NoResult. The proximity wake lock is held
// until report is called. A reading that arrives after the timeout is
// discarded.
func (g *ProximityGate) Check(ctx context.Context, timeout time.Duration, report func(ProximityResult)) {
	release := g.wake.Acquire(wakeLockProximity, timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	var once sync.Once
	deliver := func(r ProximityResult) {
		once.Do(func() {
			cancel()
			release()
			report(r)
		})
	}

	go func() {
		<-ctx.Done()
		deliver(ProximityNoResult)
	}()

	go func() {
		if g.sensor == nil {
			deliver(ProximityNoResult)
			return
		}
		r, err := g.sensor.Sample(ctx)
		switch {
		case ctx.Err() != nil:
			// Too late: the timeout already reported NoResult.
			deliver(ProximityNoResult)
		case err != nil:
			g.logger.Warn("proximity read failed", "error", err)
			deliver(ProximityNoResult)
		default:
			deliver(r)
		}
	}()
}

// ----------------------------------------------------------------------------
// IIO proximity sensor
// ----------------------------------------------------------------------------

const (
	iioDevicesDir   = "/sys/bus/iio/devices"
	iioProximityRaw = "in_proximity_raw"
	iioNearLevel    = "in_proximity_nearlevel"
)

// iioProximity reads an Industrial I/O proximity channel from sysfs.
//
// With maxRange set the sensor is treated as a distance sensor that reports
// maxRange when nothing is in front of it. Otherwise the raw value is an
// intensity compared against the driver's near level (or zero if the driver
// exposes none).
type iioProximity struct {
	dir      string
	maxRange int
}

// findIIOProximity locates the first IIO device with a proximity channel.
func findIIOProximity(root string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "iio:device*", iioProximityRaw))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no proximity channel under %s: %w", root, ErrNotFound)
	}
	return filepath.Dir(matches[0]), nil
}

func newIIOProximity(dir string, maxRange int) *iioProximity {
	return &iioProximity{dir: dir, maxRange: maxRange}
}

func (p *iioProximity) Present() bool {
	if p.dir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(p.dir, iioProximityRaw))
	return err == nil
}

func (p *iioProximity) Sample(ctx context.Context) (ProximityResult, error) {
	if err := ctx.Err(); err != nil {
		return ProximityNoResult, err
	}
	raw, err := readIntAttr(filepath.Join(p.dir, iioProximityRaw))
	if err != nil {
		return ProximityNoResult, err
	}
	if p.maxRange > 0 {
		if raw == p.maxRange {
			return ProximityFar, nil
		}
		return ProximityNear, nil
	}

	near := 1
	if lvl, err := readIntAttr(filepath.Join(p.dir, iioNearLevel)); err == nil && lvl > 0 {
		near = lvl
	}
	if raw >= near {
		return ProximityNear, nil
	}
	return ProximityFar, nil
}

func readIntAttr(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
