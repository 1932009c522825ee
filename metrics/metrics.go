package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the client's Prometheus collectors. All methods are safe
// to call on a nil *Metrics, which disables collection.
type Metrics struct {
	Registry *prometheus.Registry

	// Connection
	Connected    prometheus.Gauge
	Dials        prometheus.Counter
	DialFailures prometheus.Counter
	Reconnects   prometheus.Counter
	DialDuration prometheus.Histogram

	// Outbound
	MessagesSent  *prometheus.CounterVec
	BytesSent     *prometheus.CounterVec
	SendsRejected *prometheus.CounterVec

	// Inbound
	Results      *prometheus.CounterVec
	ServerErrors *prometheus.CounterVec
	DecodeErrors prometheus.Counter
	HandlerPanic prometheus.Counter

	// Pipelines
	AudioChunks    *prometheus.CounterVec
	AudioChunkSize prometheus.Histogram
	FrameEncode    prometheus.Histogram
	TextDebounced  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "moodwire_connection_open",
			Help: "1 while the shared connection is open",
		}),
		Dials: f.NewCounter(prometheus.CounterOpts{
			Name: "moodwire_dials_total",
			Help: "Connection attempts",
		}),
		DialFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "moodwire_dial_failures_total",
			Help: "Connection attempts that failed before open",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "moodwire_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after a transport fault",
		}),
		DialDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moodwire_dial_duration_seconds",
			Help:    "Time to complete the WebSocket handshake",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),

		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moodwire_messages_sent_total",
			Help: "Outbound messages handed to the transport",
		}, []string{"type"}),
		BytesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moodwire_bytes_sent_total",
			Help: "Encoded outbound bytes",
		}, []string{"type"}),
		SendsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moodwire_sends_rejected_total",
			Help: "Outbound messages dropped because the connection was not open or the write failed",
		}, []string{"type"}),

		Results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moodwire_results_total",
			Help: "Analysis results received",
		}, []string{"modality"}),
		ServerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moodwire_server_errors_total",
			Help: "Error messages received from the service",
		}, []string{"modality"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "moodwire_decode_errors_total",
			Help: "Inbound frames dropped as malformed",
		}),
		HandlerPanic: f.NewCounter(prometheus.CounterOpts{
			Name: "moodwire_handler_panics_total",
			Help: "Subscriber panics recovered by the dispatcher",
		}),

		AudioChunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moodwire_audio_chunks_total",
			Help: "Audio chunks by outcome",
		}, []string{"outcome"}),
		AudioChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moodwire_audio_chunk_bytes",
			Help:    "Encoded audio chunk size",
			Buckets: prometheus.ExponentialBuckets(8*1024, 2, 8),
		}),
		FrameEncode: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moodwire_frame_encode_seconds",
			Help:    "Time to scale and JPEG-encode one sampled frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		TextDebounced: f.NewCounter(prometheus.CounterOpts{
			Name: "moodwire_text_debounced_total",
			Help: "Text edits superseded before their debounce fired",
		}),
	}
}

func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *Metrics) Dial(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Dials.Inc()
	if err != nil {
		m.DialFailures.Inc()
		return
	}
	m.DialDuration.Observe(d.Seconds())
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) Sent(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
	m.BytesSent.WithLabelValues(msgType).Add(float64(bytes))
}

func (m *Metrics) Rejected(msgType string) {
	if m == nil {
		return
	}
	m.SendsRejected.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Result(modality string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(modality).Inc()
}

func (m *Metrics) ServerError(modality string) {
	if m == nil {
		return
	}
	if modality == "" {
		modality = "none"
	}
	m.ServerErrors.WithLabelValues(modality).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) Panic() {
	if m == nil {
		return
	}
	m.HandlerPanic.Inc()
}

func (m *Metrics) AudioChunk(outcome string, bytes int) {
	if m == nil {
		return
	}
	m.AudioChunks.WithLabelValues(outcome).Inc()
	m.AudioChunkSize.Observe(float64(bytes))
}

func (m *Metrics) FrameEncoded(d time.Duration) {
	if m == nil {
		return
	}
	m.FrameEncode.Observe(d.Seconds())
}

func (m *Metrics) TextSuperseded() {
	if m == nil {
		return
	}
	m.TextDebounced.Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
