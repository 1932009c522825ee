package audio

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSamples(t *testing.T) {
	data := make([]byte, 7)
	binary.LittleEndian.PutUint16(data[0:], 0xFFFE) // -2
	binary.LittleEndian.PutUint16(data[2:], 300)
	binary.LittleEndian.PutUint16(data[4:], 0x8000) // -32768
	got := Samples(data)
	want := []int16{-2, 300, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Jabra Evolve2 65", true},
		{"Built-in Microphone", false},
		{"USB Audio Device", false},
		{"Pixel Buds Pro", true},
	}
	for _, tt := range tests {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	d, err := FindDevice(ctx, "FAK")
	if err != nil || d.ID != "fake" {
		t.Fatalf("FindDevice = %+v, %v", d, err)
	}
	if _, err := FindDevice(ctx, "webcam mic"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestFakeCaptureFeedsPCMThenSilence(t *testing.T) {
	pcm := make([]byte, fakeFrameSize*fakeBytesPerFrame*3)
	for i := range pcm {
		pcm[i] = 1
	}
	ctx := NewFakeContextPCM(pcm, false)
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var total, nonSilent int
	dev.SetCallback(func(data []byte, frames uint32) {
		mu.Lock()
		defer mu.Unlock()
		total += len(data)
		if data[0] != 0 {
			nonSilent += len(data)
		}
	})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-dev.(*FakeCapture).AudioDone():
	case <-time.After(time.Second):
		t.Fatal("audio not done")
	}
	time.Sleep(20 * time.Millisecond)
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if nonSilent != len(pcm) {
		t.Errorf("delivered %d PCM bytes, want %d", nonSilent, len(pcm))
	}
	if total <= len(pcm) {
		t.Error("expected trailing silence after the PCM")
	}
}

func TestFakeContextTracksOpenCaptures(t *testing.T) {
	ctx := NewFakeContextPCM(nil, true)
	dev, err := ctx.NewCapture(nil, CaptureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Open() != 1 {
		t.Fatalf("Open = %d, want 1", ctx.Open())
	}
	dev.Close()
	dev.Close()
	if ctx.Open() != 0 {
		t.Errorf("Open after Close = %d, want 0", ctx.Open())
	}

	ctx.CaptureErr = errors.New("device busy")
	if _, err := ctx.NewCapture(nil, CaptureConfig{}); err == nil {
		t.Error("expected CaptureErr")
	}
}

func TestPCM(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		gain    int
		want    []int16
	}{
		{"unity", []int16{1, -1, 1000}, 1, []int16{1, -1, 1000}},
		{"zero gain is unity", []int16{7}, 0, []int16{7}},
		{"doubled", []int16{100, -100}, 2, []int16{200, -200}},
		{"clips high", []int16{20000}, 2, []int16{32767}},
		{"clips low", []int16{-20000}, 3, []int16{-32768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Samples(PCM(tt.samples, tt.gain))
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPickerKey(t *testing.T) {
	up := []byte{0x1b, '[', 'A'}
	down := []byte{0x1b, '[', 'B'}
	tests := []struct {
		name       string
		key        []byte
		cursor     int
		wantCursor int
		wantAct    pickAction
	}{
		{"down arrow", down, 0, 1, pickMove},
		{"down clamps", down, 2, 2, pickMove},
		{"up arrow", up, 2, 1, pickMove},
		{"up clamps", up, 0, 0, pickMove},
		{"vim j", []byte("j"), 1, 2, pickMove},
		{"vim k", []byte("k"), 1, 0, pickMove},
		{"enter", []byte("\r"), 1, 1, pickConfirm},
		{"esc", []byte{27}, 1, 1, pickCancel},
		{"ctrl+c", []byte{3}, 0, 0, pickCancel},
		{"other key", []byte("x"), 1, 1, pickMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, act := pickerKey(tt.key, tt.cursor, 3)
			if cursor != tt.wantCursor || act != tt.wantAct {
				t.Errorf("pickerKey = (%d, %d), want (%d, %d)", cursor, act, tt.wantCursor, tt.wantAct)
			}
		})
	}
}

func TestRenderPicker(t *testing.T) {
	var b strings.Builder
	renderPicker(&b, []DeviceInfo{{Name: "Built-in Mic"}, {Name: "AirPods Pro"}}, 1)
	out := b.String()
	if !strings.Contains(out, "    Built-in Mic\r\n") {
		t.Errorf("unselected entry not indented:\n%q", out)
	}
	if !strings.Contains(out, "▶ AirPods Pro") || !strings.Contains(out, "[bluetooth:") {
		t.Errorf("selected bluetooth entry not marked:\n%q", out)
	}
}
