package conn

import (
	"context"
	"errors"
	"sync"
)

var ErrFakeClosed = errors.New("fake transport closed")

// FakeTransport is an in-memory Transport. Frames pushed with Deliver are
// returned by Recv; frames written with Send are recorded.
type FakeTransport struct {
	inbox  chan []byte
	faults chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbox:  make(chan []byte, 64),
		faults: make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *FakeTransport) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return ErrFakeClosed
	default:
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *FakeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbox:
		return data, nil
	case err := <-f.faults:
		return nil, err
	case <-f.closed:
		return nil, ErrFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeTransport) Deliver(frame string) {
	f.inbox <- []byte(frame)
}

// Fault makes the pending or next Recv fail with err.
func (f *FakeTransport) Fault(err error) {
	select {
	case f.faults <- err:
	default:
	}
}

func (f *FakeTransport) FailSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *FakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeTransport) Closed() <-chan struct{} { return f.closed }

// FakeDialer hands out FakeTransports and records each attempt. Queued
// errors are returned, in order, before any transport is created.
type FakeDialer struct {
	mu       sync.Mutex
	errs     []error
	attempts int
	dialed   chan *FakeTransport
	gate     chan struct{}
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{dialed: make(chan *FakeTransport, 64)}
}

func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	d.errs = append(d.errs, errs...)
	d.mu.Unlock()
}

// Hold blocks dials until the returned release func is called.
func (d *FakeDialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.attempts++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	t := NewFakeTransport()
	select {
	case d.dialed <- t:
	default:
	}
	return t, nil
}

func (d *FakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Dialed yields each transport as it is created.
func (d *FakeDialer) Dialed() <-chan *FakeTransport { return d.dialed }
