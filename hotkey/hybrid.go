package hotkey

import (
	"sync/atomic"
	"time"
)

type Mode string

const (
	ModePTT    Mode = "ptt"
	ModeToggle Mode = "toggle"
)

// StartEvent asks the caller to turn the microphone on.
type StartEvent struct {
	Mode Mode
}

// Hybrid turns one key into tap-to-toggle and hold-to-talk. Every press
// from idle emits a StartEvent at once; the hold duration decides whether
// the release or the next press emits the stop.
type Hybrid struct {
	startCh chan StartEvent
	stopCh  chan struct{}
	done    chan struct{}
	toggle  atomic.Bool
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		startCh: make(chan StartEvent, 1),
		stopCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go h.run(hk, longPress)
	return h
}

func (h *Hybrid) Start() <-chan StartEvent { return h.startCh }

func (h *Hybrid) StopChan() <-chan struct{} { return h.stopCh }

// IsToggle reports whether the current session was started with a tap.
func (h *Hybrid) IsToggle() bool { return h.toggle.Load() }

func (h *Hybrid) Close() { close(h.done) }

func (h *Hybrid) run(hk Hotkey, longPress time.Duration) {
	for {
		if !h.wait(hk.Keydown()) {
			return
		}
		h.toggle.Store(false)
		select {
		case h.startCh <- StartEvent{Mode: ModePTT}:
		case <-h.done:
			return
		}

		timer := time.NewTimer(longPress)
		select {
		case <-timer.C:
			// held: stop on release
			if !h.wait(hk.Keyup()) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			h.toggle.Store(true)
			// tapped: the next full press stops
			if !h.wait(hk.Keydown()) || !h.wait(hk.Keyup()) {
				return
			}
		case <-h.done:
			timer.Stop()
			return
		}
		select {
		case h.stopCh <- struct{}{}:
		default:
		}
	}
}

func (h *Hybrid) wait(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-h.done:
		return false
	}
}
