package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// ============================================================================
// D-Bus backends
// ============================================================================
// All four talk to the system bus except MPRIS, which lives on the session bus
// of the user running media players.
// ============================================================================

const (
	login1Dest = "org.freedesktop.login1"
	login1Path = dbus.ObjectPath("/org/freedesktop/login1")

	sensorProxyDest  = "net.hadess.SensorProxy"
	sensorProxyPath  = dbus.ObjectPath("/net/hadess/SensorProxy")
	sensorProxyIface = "net.hadess.SensorProxy"

	mprisPrefix = "org.mpris.MediaPlayer2."
	mprisPath   = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayer = "org.mpris.MediaPlayer2.Player"

	gesturesPath       = dbus.ObjectPath("/io/touchgestured/Gestures1")
	gesturesIface      = "io.touchgestured.Gestures1"
	cameraGestureEvent = gesturesIface + ".CameraLaunchGesture"
)

// ErrNoMediaSession is returned when no media player can take a key.
var ErrNoMediaSession = errors.New("no active media session")

// ----------------------------------------------------------------------------
// logind inhibitor wake source
// ----------------------------------------------------------------------------

// logindWake holds a "sleep" block inhibitor for the duration of a hold.
// The inhibitor ends when the returned file descriptor is closed.
type logindWake struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

func newLogindWake(conn *dbus.Conn, logger *slog.Logger) *logindWake {
	return &logindWake{conn: conn, logger: logger}
}

func (w *logindWake) Acquire(name string, timeout time.Duration) func() {
	var fd dbus.UnixFD
	err := w.conn.Object(login1Dest, login1Path).
		Call(login1Dest+".Manager.Inhibit", 0, "sleep", "touchgestured", name, "block").
		Store(&fd)
	if err != nil {
		w.logger.Warn("logind inhibit failed", "name", name, "error", err)
		return func() {}
	}
	f := os.NewFile(uintptr(fd), name)

	var once sync.Once
	release := func() {
		once.Do(func() { _ = f.Close() })
	}
	if timeout > 0 {
		time.AfterFunc(timeout, release)
	}
	return release
}

// ----------------------------------------------------------------------------
// iio-sensor-proxy proximity sensor
// ----------------------------------------------------------------------------

// sensorProxyProximity reads the ProximityNear property exposed by
// iio-sensor-proxy. Claiming the sensor starts it; releasing lets the proxy
// power it down again.
type sensorProxyProximity struct {
	obj dbus.BusObject
}

func newSensorProxyProximity(conn *dbus.Conn) *sensorProxyProximity {
	return &sensorProxyProximity{obj: conn.Object(sensorProxyDest, sensorProxyPath)}
}

func (s *sensorProxyProximity) Present() bool {
	v, err := s.obj.GetProperty(sensorProxyIface + ".HasProximity")
	if err != nil {
		return false
	}
	has, ok := v.Value().(bool)
	return ok && has
}

func (s *sensorProxyProximity) Sample(ctx context.Context) (ProximityResult, error) {
	if call := s.obj.CallWithContext(ctx, sensorProxyIface+".ClaimProximity", 0); call.Err != nil {
		return ProximityNoResult, fmt.Errorf("claim proximity: %w", call.Err)
	}
	defer s.obj.Call(sensorProxyIface+".ReleaseProximity", 0)

	type result struct {
		r   ProximityResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var v dbus.Variant
		err := s.obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
			sensorProxyIface, "ProximityNear").Store(&v)
		if err != nil {
			ch <- result{ProximityNoResult, fmt.Errorf("read ProximityNear: %w", err)}
			return
		}
		near, ok := v.Value().(bool)
		if !ok {
			ch <- result{ProximityNoResult, fmt.Errorf("ProximityNear has type %s", v.Signature())}
			return
		}
		if near {
			ch <- result{r: ProximityNear}
			return
		}
		ch <- result{r: ProximityFar}
	}()

	select {
	case res := <-ch:
		return res.r, res.err
	case <-ctx.Done():
		return ProximityNoResult, ctx.Err()
	}
}

// ----------------------------------------------------------------------------
// MPRIS media sink
// ----------------------------------------------------------------------------

// mprisMediaSink forwards media keys to the first MPRIS player on the bus,
// preferring one that is currently playing.
type mprisMediaSink struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

func newMPRISMediaSink(conn *dbus.Conn, logger *slog.Logger) *mprisMediaSink {
	return &mprisMediaSink{conn: conn, logger: logger}
}

// SendMediaKey delivers the key on release, the way a media key press
// completes on a real keyboard.
func (m *mprisMediaSink) SendMediaKey(code uint16) error {
	player, err := m.activePlayer()
	if err != nil {
		return err
	}

	var method string
	switch code {
	case KEY_PLAYPAUSE:
		method = "PlayPause"
	case KEY_NEXTSONG:
		method = "Next"
	case KEY_PREVIOUSSONG:
		method = "Previous"
	default:
		return fmt.Errorf("media key %d has no MPRIS method", code)
	}

	call := m.conn.Object(player, mprisPath).Call(mprisPlayer+"."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("%s.%s: %w", player, method, call.Err)
	}
	m.logger.Debug("mpris key sent", "player", player, "method", method)
	return nil
}

func (m *mprisMediaSink) activePlayer() (string, error) {
	var names []string
	if err := m.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return "", fmt.Errorf("list bus names: %w", err)
	}

	var players []string
	for _, n := range names {
		if strings.HasPrefix(n, mprisPrefix) {
			players = append(players, n)
		}
	}
	if len(players) == 0 {
		return "", ErrNoMediaSession
	}

	for _, p := range players {
		v, err := m.conn.Object(p, mprisPath).GetProperty(mprisPlayer + ".PlaybackStatus")
		if err != nil {
			continue
		}
		if status, ok := v.Value().(string); ok && status == "Playing" {
			return p, nil
		}
	}
	return players[0], nil
}

// ----------------------------------------------------------------------------
// Camera gesture signal
// ----------------------------------------------------------------------------

// dbusCameraSignal broadcasts the camera-launch gesture on the system bus.
// Who may listen is decided by the bus policy for io.touchgestured.
type dbusCameraSignal struct {
	conn *dbus.Conn
}

func newDBusCameraSignal(conn *dbus.Conn) *dbusCameraSignal {
	return &dbusCameraSignal{conn: conn}
}

func (s *dbusCameraSignal) EmitCameraGesture() error {
	if err := s.conn.Emit(gesturesPath, cameraGestureEvent); err != nil {
		return fmt.Errorf("emit %s: %w", cameraGestureEvent, err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Bus connections
// ----------------------------------------------------------------------------

// dbusConns connects to each bus on first use. A failed connection is logged
// once and reported as nil so callers fall back to their non-D-Bus path.
type dbusConns struct {
	logger *slog.Logger

	systemOnce  sync.Once
	system      *dbus.Conn
	sessionOnce sync.Once
	session     *dbus.Conn
}

func newDBusConns(logger *slog.Logger) *dbusConns {
	return &dbusConns{logger: logger}
}

func (b *dbusConns) System() *dbus.Conn {
	b.systemOnce.Do(func() {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			b.logger.Warn("system bus unavailable", "error", err)
			return
		}
		b.system = conn
	})
	return b.system
}

func (b *dbusConns) Session() *dbus.Conn {
	b.sessionOnce.Do(func() {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			b.logger.Warn("session bus unavailable", "error", err)
			return
		}
		b.session = conn
	})
	return b.session
}

func (b *dbusConns) Close() {
	if b.system != nil {
		_ = b.system.Close()
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}
