package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"moodwire/audio"
	"moodwire/config"
	"moodwire/conn"
	"moodwire/log"
	"moodwire/metrics"
	"moodwire/protocol"
	"moodwire/video"
)

const testWaitTimeout = 30 * time.Second

// runTestMode drives a headless session from stdin with audio replayed
// from wavPath and the pattern camera.
func runTestMode(cfg *config.Config, wavPath string, dialer conn.Dialer, m *metrics.Metrics) {
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	sess, err := newSession(cfg, sessionDeps{
		Dialer:  dialer,
		Audio:   fakeCtx,
		Camera:  video.NewPattern(cfg.Video.Width, cfg.Video.Height),
		Metrics: m,
		Sink:    newLineSink(os.Stdout),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.close()

	waits := make(map[protocol.Modality]chan protocol.Inbound)
	for _, mod := range protocol.Modalities() {
		ch := make(chan protocol.Inbound, 64)
		waits[mod] = ch
		sess.disp.Subscribe(mod, func(msg protocol.Inbound) {
			select {
			case ch <- msg:
			default:
			}
		})
	}

	sess.mgr.Connect()
	log.SessionStart(sess.mgr.URL(), []string{"test"})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "MIC_ON":
			if !sess.micOn() {
				reportTestErr(sess.toggleMic())
			}
		case "MIC_OFF":
			if sess.micOn() {
				reportTestErr(sess.toggleMic())
			}
		case "CAM_ON":
			if !sess.cameraOn() {
				reportTestErr(sess.toggleCamera())
			}
		case "CAM_OFF":
			if sess.cameraOn() {
				reportTestErr(sess.toggleCamera())
			}
		case "TEXT":
			sess.typing.Update(arg)
		case "LANG":
			lang, err := protocol.ParseLanguage(arg)
			if err != nil {
				reportTestErr(err)
				continue
			}
			sess.typing.SetLanguage(lang)
		case "WAIT_RESULT", "WAIT":
			mod := protocol.Modality(arg)
			ch, ok := waits[mod]
			if !ok {
				reportTestErr(fmt.Errorf("unknown modality %q", arg))
				continue
			}
			select {
			case <-ch:
			case <-time.After(testWaitTimeout):
				fmt.Fprintf(os.Stderr, "timeout waiting for %s\n", mod)
				os.Exit(1)
			}
		case "WAIT_AUDIO_DONE":
			capture := fakeCtx.Last()
			if capture == nil {
				reportTestErr(fmt.Errorf("microphone never started"))
				continue
			}
			<-capture.AudioDone()
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return
		default:
			reportTestErr(fmt.Errorf("unknown command %q", line))
		}
	}
}

func reportTestErr(err error) {
	if err == nil {
		return
	}
	log.Errorf("test mode: %v", err)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
