// Package encoder turns 16 kHz mono PCM into self-contained FLAC chunks.
package encoder

import (
	"errors"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

var ErrFinished = errors.New("encoder already finished")

// Encoder accumulates one audio segment. Samples may arrive in any
// slice size; Finish flushes the tail and returns the complete file.
type Encoder interface {
	Write(samples []int16) error
	Finish() ([]byte, error)
	Samples() uint64
	EncodeTime() time.Duration
}

type Factory func() (Encoder, error)

// Duration of n samples at SampleRate.
func Duration(n uint64) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
