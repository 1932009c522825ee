package encoder

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

type FlacEncoder struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	enc        *flac.Encoder
	pending    []int16
	sum        hash.Hash
	samples    uint64
	encodeTime time.Duration
	finished   bool
}

func NewFlac() (Encoder, error) {
	e := &FlacEncoder{pending: make([]int16, 0, BlockSize), sum: md5.New()}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) Write(samples []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	start := time.Now()
	defer func() { e.encodeTime += time.Since(start) }()

	for len(samples) > 0 {
		n := min(BlockSize-len(e.pending), len(samples))
		e.pending = append(e.pending, samples[:n]...)
		samples = samples[n:]
		if len(e.pending) == BlockSize {
			if err := e.writeFrame(e.pending); err != nil {
				return err
			}
			e.pending = e.pending[:0]
		}
	}
	return nil
}

func (e *FlacEncoder) writeFrame(block []int16) error {
	samples32 := make([]int32, len(block))
	raw := make([]byte, len(block)*2)
	for i, s := range block {
		samples32[i] = int32(s)
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	e.sum.Write(raw)

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.samples += uint64(len(block))
	return nil
}

// Finish writes any partial block and closes the stream. The returned
// bytes are owned by the caller.
func (e *FlacEncoder) Finish() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return nil, ErrFinished
	}
	e.finished = true

	if len(e.pending) > 0 {
		if err := e.writeFrame(e.pending); err != nil {
			return nil, err
		}
		e.pending = nil
	}
	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac stream: %w", err)
	}
	out := bytes.Clone(e.buf.Bytes())
	if err := patchStreamInfo(out, e.samples, e.sum.Sum(nil)); err != nil {
		return nil, err
	}
	return out, nil
}

// STREAMINFO body offsets, after "fLaC" and the 4-byte block header.
const (
	streamInfoBody   = 8
	streamInfoLen    = 34
	totalSamplesWord = streamInfoBody + 10 // rate, channels, depth, 36-bit total
	md5Offset        = streamInfoBody + 18
)

// patchStreamInfo writes the total sample count and audio MD5 into the
// header. The library only rewrites them when its output is seekable, and
// ours is an in-memory buffer.
func patchStreamInfo(stream []byte, samples uint64, sum []byte) error {
	if len(stream) < streamInfoBody+streamInfoLen || string(stream[:4]) != "fLaC" || stream[4]&0x7F != 0 {
		return errors.New("flac stream does not begin with STREAMINFO")
	}
	const mask = 1<<36 - 1
	word := binary.BigEndian.Uint64(stream[totalSamplesWord:])
	binary.BigEndian.PutUint64(stream[totalSamplesWord:], word&^mask|samples&mask)
	copy(stream[md5Offset:md5Offset+md5.Size], sum)
	return nil
}

func (e *FlacEncoder) Samples() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples + uint64(len(e.pending))
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
