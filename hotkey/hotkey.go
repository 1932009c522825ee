// Package hotkey delivers global key presses used to control the microphone.
//
// Linux reads keyboards through evdev so that no display server is needed;
// other platforms register the combination with the OS.
package hotkey

import (
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

const DefaultBinding = "ctrl+shift+m"

type Modifier int

const (
	ModCtrl Modifier = iota + 1
	ModShift
)

// Binding is a parsed key combination such as "ctrl+shift+m". Key is the
// lower-case key name; each backend maps it to its own key code.
type Binding struct {
	Mods []Modifier
	Key  string
	Text string
}

func (b Binding) Has(m Modifier) bool {
	for _, have := range b.Mods {
		if have == m {
			return true
		}
	}
	return false
}

var keyNames = []string{
	"space",
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
	"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12",
}

func validKey(name string) bool {
	for _, k := range keyNames {
		if k == name {
			return true
		}
	}
	return false
}

func ParseBinding(s string) (Binding, error) {
	b := Binding{Text: strings.ToLower(strings.TrimSpace(s))}
	parts := strings.Split(b.Text, "+")
	if len(parts) < 2 {
		return Binding{}, fmt.Errorf("hotkey %q: need at least one modifier and a key", s)
	}
	seen := map[string]bool{}
	for _, p := range parts[:len(parts)-1] {
		if seen[p] {
			return Binding{}, fmt.Errorf("hotkey %q: repeated modifier %q", s, p)
		}
		seen[p] = true
		switch p {
		case "ctrl":
			b.Mods = append(b.Mods, ModCtrl)
		case "shift":
			b.Mods = append(b.Mods, ModShift)
		default:
			return Binding{}, fmt.Errorf("hotkey %q: unsupported modifier %q (use ctrl, shift)", s, p)
		}
	}
	key := parts[len(parts)-1]
	if !validKey(key) {
		return Binding{}, fmt.Errorf("hotkey %q: unsupported key %q", s, key)
	}
	b.Key = key
	return b, nil
}
