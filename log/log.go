package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady atomic.Bool
	level    = zerolog.InfoLevel
	pid      int
	dir      string
)

const DiagnosticsFile = "diagnostics_log.txt"

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: MOODWIRE_LOG_PATH environment variable
	if envPath := os.Getenv("MOODWIRE_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// SetLevel accepts zerolog level names (debug, info, warn, error).
// It takes effect on the next Init.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	logMu.Lock()
	level = l
	logMu.Unlock()
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	f, err := os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	diagFile = f

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
}

func Debugf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady.Load() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func ConnectionState(state, url, connID string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("state", state).
		Str("url", url).
		Str("conn", connID).
		Msg("connection")
}

func Reconnect(connID string, delayMs int64, cause error) {
	if !logReady.Load() {
		return
	}
	ev := diagLog.Warn().
		Str("conn", connID).
		Int64("delay_ms", delayMs)
	if cause != nil {
		ev = ev.Str("cause", cause.Error())
	}
	ev.Msg("reconnect_scheduled")
}

type ChunkMetrics struct {
	Bytes       int
	AudioS      float64
	EncodeMs    float64
	SpeechRatio float64
	Outcome     string
}

func Chunk(m ChunkMetrics) {
	if !logReady.Load() {
		return
	}
	ev := diagLog.Info().
		Int("bytes", m.Bytes).
		Float64("audio_s", m.AudioS).
		Float64("encode_ms", m.EncodeMs).
		Str("outcome", m.Outcome)
	if m.SpeechRatio >= 0 {
		ev = ev.Float64("speech", m.SpeechRatio)
	}
	ev.Msg("audio_chunk")
}

func Result(modality, emotion string, confidence, processingS float64) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("modality", modality).
		Str("emotion", emotion).
		Float64("confidence", confidence).
		Float64("processing_s", processingS).
		Msg("analysis_result")
}

func SessionStart(url string, modalities []string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("url", url).
		Strs("modalities", modalities).
		Msg("session_start")
}

func SessionEnd(results int) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Int("results", results).
		Msg("session_end")
}
