package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// DeviceResources are per-device values shipped alongside the hardware, as
// opposed to user configuration. They are read from an optional TOML overlay:
//
//	proximity_check_on_wake = true
//	proximity_check_timeout_ms = 250
//	proximity_check_on_wake_enabled_by_default = false
type DeviceResources struct {
	ProximityCheckOnWake                 bool `toml:"proximity_check_on_wake"`
	ProximityCheckTimeoutMS              int  `toml:"proximity_check_timeout_ms"`
	ProximityCheckOnWakeEnabledByDefault bool `toml:"proximity_check_on_wake_enabled_by_default"`
}

func defaultDeviceResources() DeviceResources {
	return DeviceResources{
		ProximityCheckOnWake:                 false,
		ProximityCheckTimeoutMS:              defaultProximityTimeoutMS,
		ProximityCheckOnWakeEnabledByDefault: false,
	}
}

// ProximityWakeConfig is resolved once at startup. Supported gates the whole
// feature; the runtime preference decides per request.
type ProximityWakeConfig struct {
	Supported      bool
	TimeoutMillis  int
	DefaultEnabled bool
}

// LoadDeviceResources reads the overlay at path on top of the defaults. A
// missing overlay is not an error.
func LoadDeviceResources(path string) (DeviceResources, error) {
	res := defaultDeviceResources()
	if path == "" {
		return res, nil
	}
	b, err := os.ReadFile(ExpandPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read resource overlay: %w", err)
	}
	md, err := toml.Decode(string(b), &res)
	if err != nil {
		return defaultDeviceResources(), fmt.Errorf("decode resource overlay: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return defaultDeviceResources(), fmt.Errorf("decode resource overlay: unknown keys %v", undecoded)
	}
	if res.ProximityCheckTimeoutMS <= 0 {
		return defaultDeviceResources(), fmt.Errorf("proximity_check_timeout_ms must be > 0 (got %d)", res.ProximityCheckTimeoutMS)
	}
	return res, nil
}

// ProximityWake resolves the gate configuration from the resources.
func (r DeviceResources) ProximityWake() ProximityWakeConfig {
	return ProximityWakeConfig{
		Supported:      r.ProximityCheckOnWake,
		TimeoutMillis:  r.ProximityCheckTimeoutMS,
		DefaultEnabled: r.ProximityCheckOnWakeEnabledByDefault,
	}
}
