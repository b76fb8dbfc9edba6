package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("touchgestured v%s\n", version)
	fmt.Println("Off-screen touchscreen gesture daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  touchgestured [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads gesture key events reported by the touch controller while the")
	fmt.Println("  display is off and turns them into media keys, a camera launch signal")
	fmt.Println("  or a torch toggle. An optional proximity check drops gestures drawn")
	fmt.Println("  while the device is in a pocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device carrying gesture keys (default \"/dev/input/event2\")")
	fmt.Println()
	fmt.Println("  -grab")
	fmt.Println("        Grab the input device and forward non-gesture keys through uinput")
	fmt.Println()
	fmt.Println("  -control-node string")
	fmt.Printf("        Gesture control sysfs node (default %q)\n", defaultGestureCtrlNode)
	fmt.Println()
	fmt.Println("  -variant string")
	fmt.Println("        Gesture catalog variant: panel|full (default \"panel\")")
	fmt.Println()
	fmt.Println("  -proximity-backend string")
	fmt.Println("        Proximity sensor: iio|sensorproxy|none (default \"iio\")")
	fmt.Println()
	fmt.Println("  -media-backend string")
	fmt.Println("        Media key delivery: uinput|mpris (default \"uinput\")")
	fmt.Println()
	fmt.Println("  -wake-backend string")
	fmt.Println("        Wake lock backend: sysfs|logind|none (default \"sysfs\")")
	fmt.Println()
	fmt.Println("  -prefs string")
	fmt.Println("        Preference database path (default \"/var/lib/touchgestured/prefs.db\")")
	fmt.Println()
	fmt.Println("  -resources string")
	fmt.Println("        Device resource overlay (TOML)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/run/touchgestured.sock\")")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Println("        HTTP listener port for the gesture feed, 0 disables (default 3002)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start daemon with default settings")
	fmt.Println("  touchgestured")
	fmt.Println()
	fmt.Println("  # Full gesture set with the sensor proxy and MPRIS players")
	fmt.Println("  touchgestured -variant full -proximity-backend sensorproxy -media-backend mpris")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input device and write access to the gesture node")
	fmt.Println("  - The uinput media backend needs write access to /dev/uinput")
	fmt.Println("  - Proximity gating is off unless the resource overlay sets proximity_check_on_wake")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath       = flag.String("config", "", "Path to YAML config file")
		inputDevice      = flag.String("input-device", "", "Linux input event device carrying gesture keys")
		grab             = flag.Bool("grab", false, "Grab the input device and forward non-gesture keys")
		controlNode      = flag.String("control-node", "", "Gesture control sysfs node")
		variant          = flag.String("variant", "", "Gesture catalog variant: panel|full")
		proximityBackend = flag.String("proximity-backend", "", "Proximity sensor: iio|sensorproxy|none")
		mediaBackend     = flag.String("media-backend", "", "Media key delivery: uinput|mpris")
		wakeBackend      = flag.String("wake-backend", "", "Wake lock backend: sysfs|logind|none")
		prefsPath        = flag.String("prefs", "", "Preference database path")
		resourceOverlay  = flag.String("resources", "", "Device resource overlay (TOML)")
		ipcSocketPath    = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpPort         = flag.Int("http-port", 0, "HTTP listener port (0 disables)")
		logLevelStr      = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion      = flag.Bool("version", false, "Print version and exit")
		showHelp         = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-device":
			overrides.InputDevice = inputDevice
		case "grab":
			overrides.Grab = grab
		case "control-node":
			overrides.ControlNode = controlNode
		case "variant":
			overrides.Variant = variant
		case "proximity-backend":
			overrides.ProximityBackend = proximityBackend
		case "media-backend":
			overrides.MediaBackend = mediaBackend
		case "wake-backend":
			overrides.WakeBackend = wakeBackend
		case "prefs":
			overrides.PrefsPath = prefsPath
		case "resources":
			overrides.ResourceOverlay = resourceOverlay
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "http-port":
			overrides.HTTPPort = httpPort
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel, "touchgestured")

	if err := run(cfg, logger); err != nil {
		logger.Error("touchgestured stopped", "error", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal arrives or a
// component fails.
func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resources, err := LoadDeviceResources(cfg.Resources.Overlay)
	if err != nil {
		return err
	}
	proximity := resources.ProximityWake()

	prefs, err := OpenPreferenceStore(ctx, ExpandPath(cfg.Preferences.Path), logger)
	if err != nil {
		return err
	}
	defer prefs.Close()

	catalog, err := NewGestureCatalog(CatalogVariant(cfg.Gestures.Variant))
	if err != nil {
		return err
	}
	store := NewGestureStore(newFileNode(cfg.Gestures.ControlNode), gestureKeysFor(catalog), logger)

	var touch *TouchSensitivity
	if cfg.Gestures.ModeNode != "" {
		touch = NewTouchSensitivity(cfg.Gestures.ModeNode)
	}

	if err := restoreGestureSettings(ctx, store, touch, prefs, logger); err != nil {
		return err
	}

	buses := newDBusConns(logger)
	defer buses.Close()

	wake := selectWakeSource(cfg.Wake.Backend, buses, logger)
	gate := NewProximityGate(selectProximitySensor(cfg.Proximity, buses, logger), wake, logger)

	keyboard, err := setupKeyboard(cfg, logger)
	if err != nil {
		return err
	}
	if keyboard != nil {
		defer keyboard.Close()
	}

	devices, err := openInputDevices(cfg.Input.Devices, cfg.Input.Grab, logger)
	if err != nil {
		return err
	}
	defer closeInputDevices(devices)

	g, gctx := errgroup.WithContext(ctx)

	feed := NewGestureFeed(64, logger)

	torch := NewTorchSession(gctx, newLEDTorch(cfg.Torch.LEDsDir, logger), logger)
	torch.OnChange = feed.TorchChanged

	deps := ExecutorDeps{
		Torch:    torch,
		Wake:     wake,
		Prefs:    prefs,
		Observer: feed,
		Logger:   logger,
		Pulse:    time.Duration(cfg.Haptics.PulseMS) * time.Millisecond,
	}
	if cfg.Haptics.VibratorPath != "" {
		deps.Vibrator = newSysfsVibrator(cfg.Haptics.VibratorPath)
	}
	switch cfg.Media.Backend {
	case "uinput":
		if keyboard != nil {
			deps.Media = keyboard
		}
	case "mpris":
		if conn := buses.Session(); conn != nil {
			deps.Media = newMPRISMediaSink(conn, logger)
		}
	}
	if cfg.Camera.DBusSignal {
		if conn := buses.System(); conn != nil {
			deps.Camera = newDBusCameraSignal(conn)
		}
	}
	executor := NewActionExecutor(deps)

	looper := NewLooper(gctx, 64)
	dispatcher := NewGestureDispatcher(gctx, DispatcherDeps{
		Catalog:   catalog,
		Scheduler: looper,
		Gate:      gate,
		Performer: executor,
		Prefs:     prefs,
		Proximity: proximity,
		Logger:    logger,
		Notify:    feed.DispatchNotice,
	})

	service := &Service{
		looper:     looper,
		dispatcher: dispatcher,
		catalog:    catalog,
		store:      store,
		touch:      touch,
		prefs:      prefs,
		torch:      torch,
		gate:       gate,
		vibrator:   deps.Vibrator,
		proximity:  proximity,
		logger:     logger,
	}

	validator, err := NewRequestValidator()
	if err != nil {
		return err
	}

	var forwarder KeyForwarder
	if cfg.Input.Grab && keyboard != nil {
		forwarder = keyboard
	}

	events := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	startInputReaders(gctx, pollInputDevices(gctx, devices), events, readErr)

	wsServer := NewServer(logger, service.Status, HubConfig{})
	service.feedClients = wsServer.Hub().ClientCount
	mux := newHTTPMux(wsServer, service.Status, logger)

	g.Go(func() error {
		return runDaemon(gctx, events, readErr, looper, dispatcher, forwarder, logger)
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, service, validator, logger)
	})
	g.Go(func() error {
		wsServer.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, feed.Events(), wsServer.Hub(), logger)
		return nil
	})
	g.Go(func() error {
		return runHTTPServer(gctx, cfg.HTTP.Port, mux, logger)
	})

	logger.Debug("configuration",
		"input_devices", cfg.Input.Devices,
		"grab", cfg.Input.Grab,
		"control_node", cfg.Gestures.ControlNode,
		"variant", catalog.Variant(),
		"proximity_backend", cfg.Proximity.Backend,
		"proximity_supported", proximity.Supported,
		"proximity_timeout_ms", proximity.TimeoutMillis,
		"media_backend", cfg.Media.Backend,
		"wake_backend", cfg.Wake.Backend,
		"prefs", cfg.Preferences.Path,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port)
	logger.Info("listening",
		"input_devices", cfg.Input.Devices,
		"gestures_supported", store.IsSupported(),
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port)

	err = g.Wait()
	logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setupKeyboard creates the uinput device when media keys or key forwarding
// need it. Forwarding is required for a grab, so failure is fatal only then.
func setupKeyboard(cfg Config, logger *slog.Logger) (*uinputKeyboard, error) {
	if cfg.Media.Backend != "uinput" && !cfg.Input.Grab {
		return nil, nil
	}
	kb, err := newUinputKeyboard("touchgestured virtual keyboard", cfg.Input.Grab)
	if err != nil {
		if cfg.Input.Grab {
			return nil, fmt.Errorf("uinput keyboard required for grab: %w", err)
		}
		logger.Warn("uinput keyboard unavailable, media gestures disabled", "error", err)
		return nil, nil
	}
	return kb, nil
}

func selectWakeSource(backend string, buses *dbusConns, logger *slog.Logger) WakeSource {
	switch backend {
	case "sysfs":
		return newSysfsWake(logger)
	case "logind":
		if conn := buses.System(); conn != nil {
			return newLogindWake(conn, logger)
		}
		logger.Warn("logind wake backend unavailable, running without wake locks")
	}
	return noWake{}
}

// selectProximitySensor returns nil when no sensor can be used; the gate then
// reports itself absent and gestures run ungated.
func selectProximitySensor(cfg ProximityConfig, buses *dbusConns, logger *slog.Logger) ProximitySensor {
	switch cfg.Backend {
	case "iio":
		dir := cfg.IIODevice
		if dir == "" {
			found, err := findIIOProximity(iioDevicesDir)
			if err != nil {
				logger.Info("no IIO proximity sensor", "error", err)
				return nil
			}
			dir = found
		}
		return newIIOProximity(dir, cfg.MaxRange)
	case "sensorproxy":
		if conn := buses.System(); conn != nil {
			return newSensorProxyProximity(conn)
		}
	}
	return nil
}
