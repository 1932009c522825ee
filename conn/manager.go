// Package conn owns the single shared connection to the inference service.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"moodwire/dispatch"
	"moodwire/log"
	"moodwire/metrics"
	"moodwire/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrClosedByPeer = errors.New("connection closed by peer")

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	// Backoff, when set, builds the reconnect schedule. The default is a
	// constant ReconnectDelay with no jitter and no attempt limit.
	Backoff      func() retry.Backoff
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Keepalive    time.Duration
	Metrics      *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3000 * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

func ConstantBackoff(d time.Duration) func() retry.Backoff {
	return func() retry.Backoff { return retry.NewConstant(d) }
}

// ExponentialBackoff doubles from base up to max with 10% jitter.
func ExponentialBackoff(base, max time.Duration) func() retry.Backoff {
	return func() retry.Backoff {
		return retry.WithCappedDuration(max, retry.WithJitterPercent(10, retry.NewExponential(base)))
	}
}

// Manager keeps at most one live Transport. Inbound frames are decoded and
// handed to the Dispatcher; transport faults are reported on the error
// channel and followed by exactly one scheduled reconnect.
type Manager struct {
	opts   Options
	dialer Dialer
	disp   *dispatch.Dispatcher

	mu      sync.Mutex
	state   State
	gen     uint64
	tr      Transport
	cancel  context.CancelFunc
	timer   *time.Timer
	backoff retry.Backoff
	connID  string
	closed  bool
}

func NewManager(d Dialer, disp *dispatch.Dispatcher, opts Options) *Manager {
	opts.setDefaults()
	if opts.Backoff == nil {
		opts.Backoff = ConstantBackoff(opts.ReconnectDelay)
	}
	return &Manager{opts: opts, dialer: d, disp: disp}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) URL() string { return m.opts.URL }

// Connect starts a connection attempt unless one is already pending or
// open. It returns immediately.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.state == Connecting || m.state == Open {
		return
	}
	m.stopTimerLocked()
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.connID = uuid.NewString()
	m.setStateLocked(Connecting)
	go m.run(ctx, m.gen, m.connID)
}

func (m *Manager) run(ctx context.Context, gen uint64, id string) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	start := time.Now()
	tr, err := m.dialer.Dial(dialCtx, m.opts.URL)
	cancel()
	m.opts.Metrics.Dial(time.Since(start), err)
	if err != nil {
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		tr.Close()
		return
	}
	m.tr = tr
	m.backoff = nil
	m.setStateLocked(Open)
	m.mu.Unlock()

	m.disp.Dispatch(protocol.Connected, protocol.Inbound{Type: protocol.TypeConnected})

	if m.opts.Keepalive > 0 {
		go m.keepalive(ctx, gen)
	}
	m.readLoop(ctx, gen, tr)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, tr Transport) {
	for {
		data, err := tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isNormalClose(err) {
				err = ErrClosedByPeer
			}
			m.fail(gen, err)
			return
		}
		m.route(data)
	}
}

func (m *Manager) route(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warnf("dropping inbound frame: %v", err)
		m.opts.Metrics.DecodeError()
		return
	}
	switch msg.Type {
	case protocol.TypeAnalysisResult:
		m.opts.Metrics.Result(string(msg.Modality))
		log.Result(string(msg.Modality), msg.Result.Emotion, msg.Result.Confidence, msg.Result.ProcessingTime)
		m.disp.Dispatch(msg.Modality, msg)
	case protocol.TypeConnected:
		log.Infof("server greeting: %s", msg.Message)
		m.disp.Dispatch(protocol.Connected, msg)
	case protocol.TypeError:
		m.opts.Metrics.ServerError(string(msg.Modality))
		log.Warnf("server error (%s): %s", msg.Modality, msg.Message)
		m.disp.Dispatch(protocol.Error, msg)
	case protocol.TypePong:
		log.Debugf("pong %s", msg.Timestamp)
	}
}

func (m *Manager) keepalive(ctx context.Context, gen uint64) {
	t := time.NewTicker(m.opts.Keepalive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.mu.Lock()
			current := gen == m.gen
			m.mu.Unlock()
			if !current {
				return
			}
			m.Send(protocol.Ping{})
		}
	}
}

// fail handles a fault on generation gen and notifies error subscribers.
func (m *Manager) fail(gen uint64, cause error) {
	if msg, ok := m.teardown(gen, cause); ok {
		m.disp.Dispatch(protocol.Error, msg)
	}
}

// teardown drops the transport and schedules the reconnect. Faults from
// superseded generations, repeated faults, and faults after Close are
// ignored and report false.
func (m *Manager) teardown(gen uint64, cause error) (protocol.Inbound, bool) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state == Disconnected || m.state == Closing {
		m.mu.Unlock()
		return protocol.Inbound{}, false
	}
	tr := m.tr
	m.tr = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setStateLocked(Disconnected)
	delay := m.nextDelayLocked()
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	id := m.connID
	m.mu.Unlock()

	if tr != nil {
		go tr.Close()
	}
	m.opts.Metrics.ReconnectScheduled()
	log.Reconnect(id, delay.Milliseconds(), cause)
	return protocol.Inbound{Type: protocol.TypeError, Message: cause.Error()}, true
}

func (m *Manager) nextDelayLocked() time.Duration {
	if m.backoff == nil {
		m.backoff = m.opts.Backoff()
	}
	d, stop := m.backoff.Next()
	if stop || d <= 0 {
		d = m.opts.ReconnectDelay
	}
	return d
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return
	}
	m.timer = nil
	m.connectLocked()
}

// Send encodes msg and writes it if the connection is open. It reports
// whether the message was handed to the transport; nothing is queued.
func (m *Manager) Send(msg protocol.Outbound) bool {
	m.mu.Lock()
	if m.state != Open || m.tr == nil {
		m.mu.Unlock()
		m.opts.Metrics.Rejected(typeOf(msg))
		return false
	}
	tr, gen := m.tr, m.gen
	m.mu.Unlock()

	data, err := protocol.Encode(msg)
	if err != nil {
		log.Errorf("encode outbound: %v", err)
		m.opts.Metrics.Rejected(typeOf(msg))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := tr.Send(ctx, data); err != nil {
		m.opts.Metrics.Rejected(msg.Type())
		// The caller may be a capture loop that an error subscriber is
		// itself waiting on, so the notification is delivered elsewhere.
		if note, ok := m.teardown(gen, fmt.Errorf("send %s: %w", msg.Type(), err)); ok {
			go m.disp.Dispatch(protocol.Error, note)
		}
		return false
	}
	m.opts.Metrics.Sent(msg.Type(), len(data))
	return true
}

// Close releases the transport and cancels any pending reconnect. It is
// idempotent; a later Connect starts over.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed && m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	m.stopTimerLocked()
	m.setStateLocked(Closing)
	tr := m.tr
	m.tr = nil
	cancel := m.cancel
	m.cancel = nil
	m.backoff = nil
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Close()
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.opts.Metrics.SetConnected(s == Open)
	log.ConnectionState(s.String(), m.opts.URL, m.connID)
}

func typeOf(msg protocol.Outbound) string {
	if msg == nil {
		return "nil"
	}
	return msg.Type()
}
