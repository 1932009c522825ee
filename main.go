package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"moodwire/audio"
	"moodwire/beep"
	"moodwire/config"
	"moodwire/conn"
	"moodwire/doctor"
	"moodwire/hotkey"
	"moodwire/log"
	"moodwire/metrics"
	"moodwire/shutdown"
	"moodwire/video"
)

var version = "dev"

var shutdownOnce sync.Once

func gracefulShutdown(s *session, cancel context.CancelFunc) {
	shutdownOnce.Do(func() {
		if s != nil {
			s.close()
		}
		cancel()
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

func videoConfig(cfg *config.Config) video.Config {
	return video.Config{
		Backend: cfg.Video.Backend,
		Device:  cfg.Video.Device,
		Width:   cfg.Video.Width,
		Height:  cfg.Video.Height,
	}
}

func run() {
	configFlag := flag.String("config", "", "YAML config file")
	urlFlag := flag.String("url", config.DefaultURL, "Inference server WebSocket URL")
	langFlag := flag.String("lang", "auto", "Language for text analysis: auto, es or en")
	deviceFlag := flag.String("device", "", "Use named microphone device (substring match)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	cameraFlag := flag.String("camera", "", "Camera device (default: platform default)")
	cameraBackendFlag := flag.String("camera-backend", "ffmpeg", "Camera backend: ffmpeg or pattern")
	audioFlag := flag.Bool("audio", true, "Capture microphone audio")
	videoFlag := flag.Bool("video", true, "Capture camera frames")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g., localhost:9464)")
	hotkeyFlag := flag.String("hotkey", hotkey.DefaultBinding, "Global hotkey toggling the microphone (empty disables)")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Long-press threshold for hold vs tap (e.g., 350ms)")
	beepFlag := flag.Bool("beep", true, "Play a sound when the microphone turns on or off")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	testFlag := flag.String("test", "", "Test mode (headless, stdin-driven) with audio from this WAV file")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("moodwire %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Server.URL = *urlFlag
		case "lang":
			cfg.Text.Language = *langFlag
		case "device":
			cfg.Audio.Device = *deviceFlag
		case "camera":
			cfg.Video.Device = *cameraFlag
		case "camera-backend":
			cfg.Video.Backend = *cameraBackendFlag
		case "audio":
			cfg.Audio.Enabled = *audioFlag
		case "video":
			cfg.Video.Enabled = *videoFlag
		case "metrics":
			cfg.Metrics.Addr = *metricsFlag
		case "logpath":
			cfg.Logging.Path = *logPathFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.Logging.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *doctorFlag {
		os.Exit(doctor.Run(doctor.Options{
			URL:         cfg.Server.URL,
			Device:      cfg.Audio.Device,
			Camera:      videoConfig(cfg),
			Hotkey:      *hotkeyFlag,
			MinChunk:    cfg.Audio.MinChunkBytes,
			ChunkPeriod: cfg.Audio.ChunkPeriod,
			Interactive: true,
		}))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Errorf("metrics server: %v", err)
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	dialer := conn.WebSocketDialer{ReadLimit: 1 << 20}

	if *testFlag != "" {
		runTestMode(cfg, *testFlag, dialer, m)
		return
	}

	deps := sessionDeps{Dialer: dialer, Metrics: m}
	if *beepFlag {
		deps.Cue = beep.Play
	}

	if cfg.Audio.Enabled {
		actx, err := audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: audio disabled: %v\n", err)
		} else {
			defer actx.Close()
			deps.Audio = actx
			deps.Device = pickDevice(actx, cfg.Audio.Device, *setupFlag)
		}
	}

	if cfg.Video.Enabled {
		cam, err := video.Open(videoConfig(cfg))
		if err != nil {
			log.Errorf("camera init error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: video disabled: %v\n", err)
		} else {
			deps.Camera = cam
		}
	}

	if *tuiFlag {
		deps.Sink = tuiSink{}
	} else {
		deps.Sink = newLineSink(os.Stdout)
	}

	sess, err := newSession(cfg, deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(sess, cancel)
	}()

	if *tuiFlag {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram(sess)
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
			gracefulShutdown(sess, cancel)
		}()
	}

	sess.start()

	if *hotkeyFlag != "" && sess.audio != nil {
		runHotkey(sess, *hotkeyFlag, *longPressFlag)
	}
	select {}
}

// pickDevice resolves -setup or a device name; nil means system default.
func pickDevice(ctx audio.Context, name string, setup bool) *audio.DeviceInfo {
	if setup && name == "" {
		dev, err := audio.SelectDevice(ctx)
		if err != nil {
			if !errors.Is(err, audio.ErrSelectionCancelled) {
				log.Warnf("device selection failed: %v", err)
			}
			fmt.Println("Falling back to default device")
			return nil
		}
		return dev
	}
	if name == "" {
		return nil
	}
	dev, err := audio.FindDevice(ctx, name)
	if err != nil {
		log.Warnf("device lookup failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v, using default device\n", err)
		return nil
	}
	if audio.IsBluetooth(dev.Name) {
		log.Warn("bluetooth_device: " + dev.Name)
	}
	return dev
}

// runHotkey turns the microphone on for the duration of a hold, or until
// the next press after a tap. It returns when registration fails.
func runHotkey(s *session, binding string, longPress time.Duration) {
	b, err := hotkey.ParseBinding(binding)
	if err != nil {
		log.Warnf("hotkey: %v", err)
		s.sink.Notice(err.Error())
		return
	}
	hk := hotkey.New(b)
	if err := hk.Register(); err != nil {
		log.Warnf("hotkey register error: %v", err)
		s.sink.Notice(fmt.Sprintf("hotkey %s unavailable: %v", b.Text, err))
		return
	}
	defer hk.Unregister()

	hy := hotkey.NewHybrid(hk, longPress)
	defer hy.Close()
	hotkeyLoop(s, hy, nil)
}

func hotkeyLoop(s *session, hy *hotkey.Hybrid, done <-chan struct{}) {
	for {
		var ev hotkey.StartEvent
		select {
		case ev = <-hy.Start():
		case <-done:
			return
		}
		log.Info("hotkey_start_" + string(ev.Mode))
		if !s.micOn() {
			if err := s.toggleMic(); err != nil {
				log.Errorf("microphone: %v", err)
				s.sink.Notice(fmt.Sprintf("microphone unavailable: %v", err))
			}
		}
		select {
		case <-hy.StopChan():
		case <-done:
			return
		}
		log.Info("hotkey_stop")
		if s.micOn() {
			s.toggleMic()
		}
	}
}
