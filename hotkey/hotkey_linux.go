//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Linux input event codes from <linux/input-event-codes.h>.
const (
	evKey     = 1
	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
)

var evdevKeys = map[string]uint16{
	"space": 57,
	"q": 16, "w": 17, "e": 18, "r": 19, "t": 20, "y": 21, "u": 22, "i": 23, "o": 24, "p": 25,
	"a": 30, "s": 31, "d": 32, "f": 33, "g": 34, "h": 35, "j": 36, "k": 37, "l": 38,
	"z": 44, "x": 45, "c": 46, "v": 47, "b": 48, "n": 49, "m": 50,
	"f1": 59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64, "f7": 65, "f8": 66,
	"f9": 67, "f10": 68, "f11": 87, "f12": 88,
}

// struct input_event on 64-bit: timeval (16), type (2), code (2), value (4).
const inputEventSize = 24

var ErrNoKeyboard = errors.New("no readable keyboard device (add the user to the 'input' group and log in again)")

// matcher tracks modifier state for one keyboard and reports when the
// bound key goes down with every required modifier held, and when it is
// released again.
type matcher struct {
	key       uint16
	needCtrl  bool
	needShift bool

	ctrl, shift, held bool
}

func newMatcher(b Binding) *matcher {
	return &matcher{
		key:       evdevKeys[b.Key],
		needCtrl:  b.Has(ModCtrl),
		needShift: b.Has(ModShift),
	}
}

// feed applies one key event. value is 1 for press, 0 for release and 2
// for autorepeat.
func (m *matcher) feed(code uint16, value int32) (down, up bool) {
	if value == 2 {
		return false, false
	}
	pressed := value == 1
	switch code {
	case keyLCtrl, keyRCtrl:
		m.ctrl = pressed
	case keyLShift, keyRShift:
		m.shift = pressed
	case m.key:
		if pressed && !m.held && (m.ctrl || !m.needCtrl) && (m.shift || !m.needShift) {
			m.held = true
			return true, false
		}
		if !pressed && m.held {
			m.held = false
			return false, true
		}
	}
	return false, false
}

type evdevHotkey struct {
	binding Binding
	keydown chan struct{}
	keyup   chan struct{}

	mu    sync.Mutex
	files []*os.File
}

func New(b Binding) Hotkey {
	return &evdevHotkey{
		binding: b,
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	paths, err := keyboards()
	if err != nil {
		return fmt.Errorf("scanning /dev/input: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.read(f, newMatcher(h.binding))
	}
	if len(h.files) == 0 {
		return ErrNoKeyboard
	}
	return nil
}

// read runs until the device file is closed by Unregister.
func (h *evdevHotkey) read(f *os.File, m *matcher) {
	buf := make([]byte, inputEventSize*16)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			if binary.LittleEndian.Uint16(buf[i+16:]) != evKey {
				continue
			}
			code := binary.LittleEndian.Uint16(buf[i+18:])
			value := int32(binary.LittleEndian.Uint32(buf[i+20:]))
			down, up := m.feed(code, value)
			if down {
				notify(h.keydown)
			}
			if up {
				notify(h.keyup)
			}
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *evdevHotkey) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range h.files {
		f.Close()
	}
	h.files = nil
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

// keyboards lists event devices whose key capability bitmap is wide
// enough to be a keyboard rather than a power button or lid switch.
func keyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		caps, err := os.ReadFile(filepath.Join("/sys/class/input", e.Name(), "device", "capabilities", "key"))
		if err != nil || len(strings.TrimSpace(string(caps))) <= 10 {
			continue
		}
		out = append(out, filepath.Join("/dev/input", e.Name()))
	}
	return out, nil
}
