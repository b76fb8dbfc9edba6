package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the touchgestured daemon.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config. Device-specific tuning that ships with the hardware
// (proximity wake behaviour) lives in the TOML resource overlay instead, see
// resources.go.
type Config struct {
	Input       InputConfig       `yaml:"input"`
	Gestures    GesturesConfig    `yaml:"gestures"`
	Proximity   ProximityConfig   `yaml:"proximity"`
	Haptics     HapticsConfig     `yaml:"haptics"`
	Torch       TorchConfig       `yaml:"torch"`
	Media       MediaConfig       `yaml:"media"`
	Wake        WakeConfig        `yaml:"wake"`
	Camera      CameraConfig      `yaml:"camera"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Resources   ResourcesConfig   `yaml:"resources"`
	IPC         IPCConfig         `yaml:"ipc"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type InputConfig struct {
	Devices []string `yaml:"devices"`
	// Grab takes exclusive ownership of the devices so gesture keys do not
	// reach other readers.
	Grab bool `yaml:"grab"`
}

type GesturesConfig struct {
	ControlNode string `yaml:"control_node"`
	ModeNode    string `yaml:"mode_node"`
	Variant     string `yaml:"variant"`
}

type ProximityConfig struct {
	Backend   string `yaml:"backend"` // "iio", "sensorproxy" or "none"
	IIODevice string `yaml:"iio_device,omitempty"`
	// MaxRange overrides the sensor's advertised maximum (0 = read from sysfs).
	MaxRange int `yaml:"max_range,omitempty"`
}

type HapticsConfig struct {
	VibratorPath string `yaml:"vibrator_path"`
	PulseMS      int    `yaml:"pulse_ms"`
}

type TorchConfig struct {
	LEDsDir string `yaml:"leds_dir"`
}

type MediaConfig struct {
	Backend string `yaml:"backend"` // "uinput" or "mpris"
}

type WakeConfig struct {
	Backend string `yaml:"backend"` // "sysfs", "logind" or "none"
}

type CameraConfig struct {
	DBusSignal bool `yaml:"dbus_signal"`
}

type PreferencesConfig struct {
	Path string `yaml:"path"`
}

type ResourcesConfig struct {
	Overlay string `yaml:"overlay,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Devices: []string{"/dev/input/event2"},
			Grab:    false,
		},
		Gestures: GesturesConfig{
			ControlNode: defaultGestureCtrlNode,
			ModeNode:    defaultTouchModeNode,
			Variant:     string(CatalogPanel),
		},
		Proximity: ProximityConfig{
			Backend: "iio",
		},
		Haptics: HapticsConfig{
			VibratorPath: "/sys/class/timed_output/vibrator/enable",
			PulseMS:      int(hapticPulseDuration.Milliseconds()),
		},
		Torch: TorchConfig{
			LEDsDir: "/sys/class/leds",
		},
		Media: MediaConfig{
			Backend: "uinput",
		},
		Wake: WakeConfig{
			Backend: "sysfs",
		},
		Camera: CameraConfig{
			DBusSignal: true,
		},
		Preferences: PreferencesConfig{
			Path: "/var/lib/touchgestured/prefs.db",
		},
		IPC: IPCConfig{
			SocketPath: "/run/touchgestured.sock",
		},
		HTTP: HTTPConfig{
			Port: 3002,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values that win over the config file.
// Each override is applied only when its pointer is non-nil.
type FlagOverrides struct {
	InputDevice *string
	Grab        *bool

	ControlNode *string
	Variant     *string

	ProximityBackend *string
	MediaBackend     *string
	WakeBackend      *string

	PrefsPath       *string
	ResourceOverlay *string

	IPCSocketPath *string
	HTTPPort      *int

	LogLevel *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if it
// holds the zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}
	if o.Grab != nil {
		cfg.Input.Grab = *o.Grab
	}
	if o.ControlNode != nil {
		cfg.Gestures.ControlNode = *o.ControlNode
	}
	if o.Variant != nil {
		cfg.Gestures.Variant = *o.Variant
	}
	if o.ProximityBackend != nil {
		cfg.Proximity.Backend = *o.ProximityBackend
	}
	if o.MediaBackend != nil {
		cfg.Media.Backend = *o.MediaBackend
	}
	if o.WakeBackend != nil {
		cfg.Wake.Backend = *o.WakeBackend
	}
	if o.PrefsPath != nil {
		cfg.Preferences.Path = *o.PrefsPath
	}
	if o.ResourceOverlay != nil {
		cfg.Resources.Overlay = *o.ResourceOverlay
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.Gestures.ControlNode == "" {
		return errors.New("gestures.control_node must not be empty")
	}
	switch CatalogVariant(c.Gestures.Variant) {
	case CatalogPanel, CatalogFull:
	default:
		return fmt.Errorf("gestures.variant must be %q or %q", CatalogPanel, CatalogFull)
	}

	switch c.Proximity.Backend {
	case "iio", "sensorproxy", "none":
	default:
		return fmt.Errorf("proximity.backend must be iio, sensorproxy or none (got %q)", c.Proximity.Backend)
	}
	if c.Proximity.MaxRange < 0 {
		return errors.New("proximity.max_range must be >= 0")
	}

	if c.Haptics.PulseMS <= 0 {
		return errors.New("haptics.pulse_ms must be > 0")
	}

	switch c.Media.Backend {
	case "uinput", "mpris":
	default:
		return fmt.Errorf("media.backend must be uinput or mpris (got %q)", c.Media.Backend)
	}

	switch c.Wake.Backend {
	case "sysfs", "logind", "none":
	default:
		return fmt.Errorf("wake.backend must be sysfs, logind or none (got %q)", c.Wake.Backend)
	}

	if c.Preferences.Path == "" {
		return errors.New("preferences.path must not be empty")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535 (0 disables)")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
