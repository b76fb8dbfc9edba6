package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lunixbochs/struc"
	"golang.org/x/sys/unix"
)

// ============================================================================
// uinput virtual keyboard
// ============================================================================
// Media keys are injected through a virtual keyboard so whatever owns the
// media session (desktop shell, mpd, a player with MediaKeys) receives them
// the same way it would from real hardware. When the touch device is grabbed
// the same device re-emits key events the dispatcher did not consume.
// ============================================================================

const (
	uinputPath        = "/dev/uinput"
	uinputMaxNameSize = 80
	absCnt            = 64
	keyMax            = 0x2ff
	busVirtual        = 0x06

	iocNone  = 0
	iocWrite = 1
)

func ioc(dir, t, nr, size int) uint {
	return uint(dir<<30 | size<<16 | t<<8 | nr)
}

var (
	uiSetEvBit   = ioc(iocWrite, 'U', 100, 4)
	uiSetKeyBit  = ioc(iocWrite, 'U', 101, 4)
	uiDevCreate  = ioc(iocNone, 'U', 1, 0)
	uiDevDestroy = ioc(iocNone, 'U', 2, 0)
)

type uinputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputUserDev mirrors struct uinput_user_dev.
type uinputUserDev struct {
	Name       [uinputMaxNameSize]byte
	ID         uinputID
	EffectsMax uint32
	AbsMax     [absCnt]int32
	AbsMin     [absCnt]int32
	AbsFuzz    [absCnt]int32
	AbsFlat    [absCnt]int32
}

// uinputKeyboard is a MediaSink and KeyForwarder backed by /dev/uinput.
type uinputKeyboard struct {
	mu sync.Mutex
	f  *os.File
}

// newUinputKeyboard creates the virtual device. With passthrough set it
// advertises the whole key range so forwarded keys are accepted.
func newUinputKeyboard(name string, passthrough bool) (*uinputKeyboard, error) {
	f, err := os.OpenFile(uinputPath, unix.O_WRONLY|unix.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uinputPath, err)
	}
	fd := int(f.Fd())

	fail := func(err error) (*uinputKeyboard, error) {
		_ = f.Close()
		return nil, err
	}

	if err := unix.IoctlSetInt(fd, uiSetEvBit, EV_KEY); err != nil {
		return fail(fmt.Errorf("UI_SET_EVBIT EV_KEY: %w", err))
	}
	if err := unix.IoctlSetInt(fd, uiSetEvBit, EV_SYN); err != nil {
		return fail(fmt.Errorf("UI_SET_EVBIT EV_SYN: %w", err))
	}

	keys := []int{KEY_NEXTSONG, KEY_PLAYPAUSE, KEY_PREVIOUSSONG}
	if passthrough {
		keys = keys[:0]
		for k := 1; k <= keyMax; k++ {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, k); err != nil {
			return fail(fmt.Errorf("UI_SET_KEYBIT %d: %w", k, err))
		}
	}

	dev := uinputUserDev{
		Name: toUinputName(name),
		ID: uinputID{
			BusType: busVirtual,
			Vendor:  0x1d6b,
			Product: 0x0104,
			Version: 1,
		},
	}
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, &dev, &struc.Options{Order: binary.LittleEndian}); err != nil {
		return fail(fmt.Errorf("pack uinput_user_dev: %w", err))
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fail(fmt.Errorf("write uinput_user_dev: %w", err))
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fail(fmt.Errorf("UI_DEV_CREATE: %w", err))
	}

	return &uinputKeyboard{f: f}, nil
}

func toUinputName(name string) [uinputMaxNameSize]byte {
	var fixed [uinputMaxNameSize]byte
	copy(fixed[:uinputMaxNameSize-1], name)
	return fixed
}

// SendMediaKey emits a press and release of code.
func (k *uinputKeyboard) SendMediaKey(code uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.emitLocked(EV_KEY, code, evValuePress); err != nil {
		return err
	}
	if err := k.emitLocked(EV_SYN, SYN_REPORT, 0); err != nil {
		return err
	}
	if err := k.emitLocked(EV_KEY, code, evValueRelease); err != nil {
		return err
	}
	return k.emitLocked(EV_SYN, SYN_REPORT, 0)
}

// ForwardKey re-emits a key event the dispatcher did not consume.
func (k *uinputKeyboard) ForwardKey(code uint16, value int32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.emitLocked(EV_KEY, code, value); err != nil {
		return err
	}
	return k.emitLocked(EV_SYN, SYN_REPORT, 0)
}

func (k *uinputKeyboard) emitLocked(typ, code uint16, value int32) error {
	now := time.Now()
	ev := inputEvent{
		Sec:   now.Unix(),
		Usec:  int64(now.Nanosecond() / 1000),
		Type:  typ,
		Code:  code,
		Value: value,
	}
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, &ev, &struc.Options{Order: binary.LittleEndian}); err != nil {
		return fmt.Errorf("pack input_event: %w", err)
	}
	if _, err := k.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write input_event: %w", err)
	}
	return nil
}

func (k *uinputKeyboard) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = unix.IoctlSetInt(int(k.f.Fd()), uiDevDestroy, 0)
	return k.f.Close()
}
