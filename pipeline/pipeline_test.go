package pipeline

import (
	"sync"
	"time"

	"moodwire/encoder"
	"moodwire/protocol"
)

type recorder struct {
	mu     sync.Mutex
	msgs   []protocol.Outbound
	at     []time.Time
	reject bool
}

func (r *recorder) Send(msg protocol.Outbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return false
	}
	r.msgs = append(r.msgs, msg)
	r.at = append(r.at, time.Now())
	return true
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) Messages() []protocol.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Outbound(nil), r.msgs...)
}

func (r *recorder) Times() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.at...)
}

// sizedEncoder produces a chunk of a fixed size regardless of input.
type sizedEncoder struct {
	mu       sync.Mutex
	size     int
	samples  uint64
	finished bool
}

func (e *sizedEncoder) Write(s []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return encoder.ErrFinished
	}
	e.samples += uint64(len(s))
	return nil
}

func (e *sizedEncoder) Finish() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true
	return make([]byte, e.size), nil
}

func (e *sizedEncoder) Samples() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

func (e *sizedEncoder) EncodeTime() time.Duration { return 0 }

type encoderLog struct {
	mu   sync.Mutex
	size int
	all  []*sizedEncoder
}

func (l *encoderLog) factory() (encoder.Encoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := &sizedEncoder{size: l.size}
	l.all = append(l.all, e)
	return e, nil
}

func (l *encoderLog) created() []*sizedEncoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*sizedEncoder(nil), l.all...)
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
