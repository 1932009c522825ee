// Package beep plays short audio cues when the microphone turns on or off
// and when the server fails to analyze a chunk.
package beep

import (
	"math"
	"sync/atomic"
)

type Cue int

const (
	MicOn Cue = iota
	MicOff
	Failed
)

const sampleRate = 44100

type tone struct {
	freq     float64
	duration float64
	volume   float64
	decay    float64
	double   bool
}

var tones = map[Cue]tone{
	// high pitch, short
	MicOn: {freq: 1200, duration: 0.2, volume: 0.5, decay: 60},
	// medium pitch, slower decay
	MicOff: {freq: 900, duration: 0.2, volume: 0.5, decay: 40},
	// low pitch double-beep
	Failed: {freq: 350, duration: 0.08, volume: 0.6, decay: 30, double: true},
}

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

// Samples synthesizes c as mono 16-bit samples at the playback rate.
func Samples(c Cue) []int16 {
	t, ok := tones[c]
	if !ok {
		return nil
	}
	tick := generateTick(t.freq, t.duration, t.volume, t.decay)
	if !t.double {
		return tick
	}
	gap := make([]int16, int(sampleRate*0.05))
	out := make([]int16, 0, len(tick)*2+len(gap))
	out = append(out, tick...)
	out = append(out, gap...)
	return append(out, tick...)
}

func generateTick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

// Play starts c on the default output device and returns at once.
// Playback errors are ignored.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	samples := Samples(c)
	if len(samples) == 0 {
		return
	}
	go playSamples(samples)
}
