package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kenshaw/evdev"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

func inputEventFrom(ev evdev.Event) inputEvent {
	return inputEvent{
		Sec:   int64(ev.Time.Sec),
		Usec:  int64(ev.Time.Usec),
		Type:  uint16(ev.Type),
		Code:  ev.Code,
		Value: ev.Value,
	}
}

// gestureEventFrom translates a key event into a dispatcher event. Press and
// autorepeat map to PhaseDown; only the release triggers an action.
func gestureEventFrom(ev inputEvent) (GestureEvent, bool) {
	if ev.Type != EV_KEY {
		return GestureEvent{}, false
	}
	switch ev.Value {
	case evValuePress, evValueRepeat:
		return GestureEvent{Scancode: int(ev.Code), Phase: PhaseDown}, true
	case evValueRelease:
		return GestureEvent{Scancode: int(ev.Code), Phase: PhaseUp}, true
	default:
		return GestureEvent{}, false
	}
}

// inputDevice is one opened evdev node.
type inputDevice struct {
	path    string
	dev     *evdev.Evdev
	grabbed bool
}

func (d *inputDevice) Close() error {
	if d.grabbed {
		_ = d.dev.Unlock()
	}
	return d.dev.Close()
}

// openInputDevices opens every configured evdev node, optionally grabbing it.
// Already opened devices are closed if a later one fails.
func openInputDevices(paths []string, grab bool, logger *slog.Logger) ([]*inputDevice, error) {
	devices := make([]*inputDevice, 0, len(paths))
	fail := func(err error) ([]*inputDevice, error) {
		closeInputDevices(devices)
		return nil, err
	}

	for _, p := range paths {
		dev, err := evdev.OpenFile(p)
		if err != nil {
			return fail(fmt.Errorf("open input device %s: %w", p, err))
		}
		d := &inputDevice{path: p, dev: dev}
		if grab {
			if err := dev.Lock(); err != nil {
				_ = dev.Close()
				return fail(fmt.Errorf("grab input device %s: %w", p, err))
			}
			d.grabbed = true
		}
		logger.Info("input device opened", "device", p, "name", dev.Name(), "grabbed", d.grabbed)
		devices = append(devices, d)
	}
	return devices, nil
}

func closeInputDevices(devices []*inputDevice) {
	for _, d := range devices {
		_ = d.Close()
	}
}

// pollInputDevices starts polling every device and returns one source per
// device for startInputReaders.
func pollInputDevices(ctx context.Context, devices []*inputDevice) []<-chan *evdev.EventEnvelope {
	sources := make([]<-chan *evdev.EventEnvelope, 0, len(devices))
	for _, d := range devices {
		sources = append(sources, d.dev.Poll(ctx))
	}
	return sources
}

// startInputReaders pumps each source into events on its own goroutine.
// A source that closes is dropped; readErr fires once every source is gone.
func startInputReaders(ctx context.Context, sources []<-chan *evdev.EventEnvelope, events chan<- inputEvent, readErr chan<- error) {
	if len(sources) == 0 {
		readErr <- errors.New("no input devices provided")
		return
	}

	var remaining atomic.Int32
	remaining.Store(int32(len(sources)))
	for _, src := range sources {
		go func() {
			pumpInputEvents(ctx, src, events)
			if remaining.Add(-1) == 0 && ctx.Err() == nil {
				readErr <- errors.New("all input devices closed")
			}
		}()
	}
}

// pumpInputEvents forwards envelopes until the source closes or ctx ends.
func pumpInputEvents(ctx context.Context, src <-chan *evdev.EventEnvelope, events chan<- inputEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-src:
			if !ok || env == nil {
				return
			}
			select {
			case events <- inputEventFrom(env.Event):
			case <-ctx.Done():
				return
			}
		}
	}
}
