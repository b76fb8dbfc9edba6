package main

import (
	"context"
	"errors"
	"log/slog"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// One goroutine owns the dispatcher. It drains two sources:
//   - raw key events from the input readers
//   - tasks posted to the Looper (proximity results, timeouts, IPC calls)
//
// Nothing else touches dispatcher state, so the dispatcher needs no locks and
// late callbacks are resolved by request ID alone.
//
// ============================================================================

// KeyForwarder re-emits key events the dispatcher did not consume. It is only
// used when the input devices are grabbed.
type KeyForwarder interface {
	ForwardKey(code uint16, value int32) error
}

// runDaemon is the main daemon loop.
//
// Shutdown semantics:
//   - Returns nil when ctx is canceled
//   - Returns the reader error when input stops
func runDaemon(
	ctx context.Context,
	events <-chan inputEvent,
	readErr <-chan error,
	looper *Looper,
	dispatcher *GestureDispatcher,
	forwarder KeyForwarder,
	logger *slog.Logger,
) error {
	if dispatcher == nil || looper == nil {
		return errors.New("daemon requires a dispatcher and a looper")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case err := <-readErr:
			logger.Error("input reader stopped", "error", err)
			return err

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			handleInputEvent(ev, dispatcher, forwarder, logger)

		case task := <-looper.Tasks():
			task()
		}
	}
}

// handleInputEvent routes one raw event. SYN frames are regenerated by the
// forwarder, so only key events are passed on.
func handleInputEvent(ev inputEvent, dispatcher *GestureDispatcher, forwarder KeyForwarder, logger *slog.Logger) {
	gev, ok := gestureEventFrom(ev)
	if !ok {
		return
	}
	if dispatcher.Handle(gev) {
		logger.Debug("gesture key", "scancode", gev.Scancode, "phase", gev.Phase)
		return
	}
	if forwarder == nil {
		return
	}
	if err := forwarder.ForwardKey(ev.Code, ev.Value); err != nil {
		logger.Warn("key forward failed", "code", ev.Code, "error", err)
	}
}
