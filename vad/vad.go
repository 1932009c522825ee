// Package vad classifies 20 ms PCM frames as speech or non-speech.
package vad

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"moodwire/encoder"
)

const (
	DefaultMode = 3
	frameMs     = 20
	frameBytes  = encoder.SampleRate * frameMs / 1000 * 2 // 640 bytes
	confirmRun  = 3                                       // consecutive speech frames to confirm voice
)

// Detector counts speech frames between cuts. Input may arrive in any
// byte size; a partial frame is carried to the next Process call.
type Detector struct {
	vad *webrtcvad.VAD

	mu           sync.Mutex
	buf          []byte
	voice        bool
	speechRun    int
	totalFrames  int
	speechFrames int
	lastTotal    int
	lastSpeech   int
}

// New returns a Detector at the given aggressiveness (0-3).
func New(mode int) (*Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtcvad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtcvad mode %d: %w", mode, err)
	}
	return &Detector{vad: v}, nil
}

func (d *Detector) Process(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, data...)
	for len(d.buf) >= frameBytes {
		frame := d.buf[:frameBytes]
		d.buf = d.buf[frameBytes:]

		active, err := d.vad.Process(encoder.SampleRate, frame)
		if err != nil {
			continue
		}
		d.totalFrames++
		if active {
			d.speechFrames++
			d.speechRun++
			if d.speechRun >= confirmRun {
				d.voice = true
			}
		} else {
			d.speechRun = 0
		}
	}
}

// VoiceDetected reports whether a confirmed speech run was seen since the
// last Reset.
func (d *Detector) VoiceDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voice
}

func (d *Detector) Stats() (total, speech int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalFrames, d.speechFrames
}

// Cut returns the frame counts since the previous Cut.
func (d *Detector) Cut() (total, speech int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, s := d.totalFrames-d.lastTotal, d.speechFrames-d.lastSpeech
	d.lastTotal, d.lastSpeech = d.totalFrames, d.speechFrames
	return t, s
}

// SpeechRatio is speech/total, or 0 for an empty window.
func SpeechRatio(total, speech int) float64 {
	if total == 0 {
		return 0
	}
	return float64(speech) / float64(total)
}

func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.voice = false
	d.speechRun = 0
	d.lastTotal, d.lastSpeech = d.totalFrames, d.speechFrames
}
