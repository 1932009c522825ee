package hotkey

import (
	"testing"
	"time"
)

func TestParseBinding(t *testing.T) {
	b, err := ParseBinding("Ctrl+Shift+M")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Mods) != 2 || b.Key != "m" || b.Text != "ctrl+shift+m" {
		t.Errorf("binding = %+v", b)
	}
	if b, err := ParseBinding("ctrl+space"); err != nil || b.Key != "space" {
		t.Errorf("ctrl+space = %+v, %v", b, err)
	}
	if !b.Has(ModCtrl) || !b.Has(ModShift) {
		t.Errorf("modifiers = %v", b.Mods)
	}
	if _, err := ParseBinding(DefaultBinding); err != nil {
		t.Errorf("default binding: %v", err)
	}

	for _, bad := range []string{"m", "ctrl+ctrl+m", "hyper+m", "ctrl+shift+enter", ""} {
		if _, err := ParseBinding(bad); err == nil {
			t.Errorf("ParseBinding(%q) accepted", bad)
		}
	}
}

func waitStart(t *testing.T, hy *Hybrid) {
	t.Helper()
	select {
	case <-hy.Start():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start")
	}
}

func waitStop(t *testing.T, hy *Hybrid) {
	t.Helper()
	select {
	case <-hy.StopChan():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop")
	}
}

func TestHybridHoldToTalk(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	hy := NewHybrid(fk, threshold)
	defer hy.Close()

	fk.SimKeydown()
	waitStart(t, hy)
	time.Sleep(threshold + 20*time.Millisecond)
	if hy.IsToggle() {
		t.Error("expected hold mode after a long press")
	}
	fk.SimKeyup()
	waitStop(t, hy)
}

func TestHybridTapToggles(t *testing.T) {
	fk := NewFake()
	hy := NewHybrid(fk, 200*time.Millisecond)
	defer hy.Close()

	fk.SimKeydown()
	waitStart(t, hy)
	fk.SimKeyup()
	time.Sleep(10 * time.Millisecond)
	if !hy.IsToggle() {
		t.Error("expected toggle mode after a short tap")
	}
	select {
	case <-hy.StopChan():
		t.Fatal("stopped after a single tap")
	case <-time.After(50 * time.Millisecond):
	}
	fk.Tap()
	waitStop(t, hy)
}

func TestHybridCycles(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	hy := NewHybrid(fk, threshold)
	defer hy.Close()

	for i := 0; i < 2; i++ {
		fk.SimKeydown()
		waitStart(t, hy)
		time.Sleep(threshold + 20*time.Millisecond)
		fk.SimKeyup()
		waitStop(t, hy)

		fk.SimKeydown()
		waitStart(t, hy)
		fk.SimKeyup()
		time.Sleep(20 * time.Millisecond)
		fk.Tap()
		waitStop(t, hy)
	}
}

func TestHybridCloseStopsLoop(t *testing.T) {
	fk := NewFake()
	hy := NewHybrid(fk, 50*time.Millisecond)
	hy.Close()
	time.Sleep(10 * time.Millisecond)
	fk.SimKeydown()
	select {
	case <-hy.Start():
		t.Error("start emitted after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
