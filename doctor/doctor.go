// Package doctor runs end-to-end checks of the server connection and the
// capture devices.
package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"moodwire/audio"
	"moodwire/clipboard"
	"moodwire/conn"
	"moodwire/encoder"
	"moodwire/hotkey"
	"moodwire/pipeline"
	"moodwire/protocol"
	"moodwire/vad"
	"moodwire/video"
)

type Options struct {
	URL         string
	Device      string
	Camera      video.Config
	Hotkey      string
	MinChunk    int
	ChunkPeriod time.Duration
	RecordFor   time.Duration
	Interactive bool

	Out    io.Writer
	In     io.Reader
	Audio  audio.Context
	Dialer conn.Dialer
	// NewHotkey defaults to hotkey.New.
	NewHotkey func(hotkey.Binding) hotkey.Hotkey

	restoreTerm func()
}

// restoreTerminal undoes echo and mode changes left by a key press typed
// into the terminal during an interactive check.
func (o *Options) restoreTerminal() {
	if o.restoreTerm != nil {
		o.restoreTerm()
	}
}

func (o *Options) setDefaults() {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Dialer == nil {
		o.Dialer = conn.WebSocketDialer{}
	}
	if o.NewHotkey == nil {
		o.NewHotkey = hotkey.New
	}
	if o.RecordFor <= 0 {
		o.RecordFor = 3 * time.Second
	}
	if o.MinChunk <= 0 {
		o.MinChunk = 50000
	}
	if o.ChunkPeriod <= 0 {
		o.ChunkPeriod = 6 * time.Second
	}
	if o.Hotkey == "" {
		o.Hotkey = hotkey.DefaultBinding
	}
}

type check struct {
	name string
	run  func(*Options) bool
}

// Run executes all checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	opts.setDefaults()
	if opts.Interactive {
		opts.restoreTerm = guardTerminal(opts.Out)
		defer opts.restoreTerm()
	}

	fmt.Fprintln(opts.Out, "moodwire doctor - system diagnostics")
	fmt.Fprintln(opts.Out, "====================================")

	checks := []check{
		{"Server handshake", checkServer},
		{"Microphone and encoding", checkMicrophone},
		{"Camera", checkCamera},
		{"Hotkey", checkHotkey},
		{"Clipboard", checkClipboard},
	}
	allPass := true
	for i, c := range checks {
		fmt.Fprintln(opts.Out)
		fmt.Fprintf(opts.Out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.run(&opts) {
			allPass = false
		}
	}

	fmt.Fprintln(opts.Out)
	if allPass {
		fmt.Fprintln(opts.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(opts.Out, "Some checks failed. See details above.")
	return 1
}

func pass(o *Options, format string, args ...any) bool {
	fmt.Fprintf(o.Out, "  PASS: "+format+"\n", args...)
	return true
}

func fail(o *Options, format string, args ...any) bool {
	fmt.Fprintf(o.Out, "  FAIL: "+format+"\n", args...)
	return false
}

func checkServer(o *Options) bool {
	fmt.Fprintf(o.Out, "Connecting to %s...\n", o.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	tr, err := o.Dialer.Dial(ctx, o.URL)
	if err != nil {
		return fail(o, "%v", err)
	}
	defer tr.Close()
	dialed := time.Since(start)

	data, err := tr.Recv(ctx)
	if err != nil {
		return fail(o, "no greeting: %v", err)
	}
	hello, err := protocol.Decode(data)
	if err != nil || hello.Type != protocol.TypeConnected {
		return fail(o, "unexpected first frame: %s", data)
	}
	fmt.Fprintf(o.Out, "  Server says: %s\n", hello.Message)

	ping, _ := protocol.Encode(protocol.Ping{})
	pingAt := time.Now()
	if err := tr.Send(ctx, ping); err != nil {
		return fail(o, "ping: %v", err)
	}
	for {
		data, err := tr.Recv(ctx)
		if err != nil {
			return fail(o, "no pong: %v", err)
		}
		if msg, err := protocol.Decode(data); err == nil && msg.Type == protocol.TypePong {
			break
		}
	}
	return pass(o, "handshake %s, ping round trip %s", dialed.Round(time.Millisecond), time.Since(pingAt).Round(time.Millisecond))
}

func checkMicrophone(o *Options) bool {
	ctx := o.Audio
	if ctx == nil {
		c, err := audio.NewContext()
		if err != nil {
			return fail(o, "cannot connect to audio: %v", err)
		}
		defer c.Close()
		ctx = c
	}

	var device *audio.DeviceInfo
	if o.Device != "" {
		d, err := audio.FindDevice(ctx, o.Device)
		if err != nil {
			return fail(o, "%v", err)
		}
		device = d
		fmt.Fprintf(o.Out, "Using device: %s\n", d.Name)
		if audio.IsBluetooth(d.Name) {
			fmt.Fprintln(o.Out, "  Warning: bluetooth headsets record at reduced quality")
		}
	}

	if o.Interactive {
		fmt.Fprintf(o.Out, "Press Enter and speak for %s...", o.RecordFor)
		bufio.NewReader(o.In).ReadString('\n')
	}

	pcm, err := recordAudio(ctx, device, o.RecordFor)
	if err != nil {
		return fail(o, "recording error: %v", err)
	}
	if len(pcm) == 0 {
		return fail(o, "no audio captured")
	}

	enc, err := encoder.NewFlac()
	if err != nil {
		return fail(o, "%v", err)
	}
	if err := enc.Write(audio.Samples(pcm)); err != nil {
		return fail(o, "encode: %v", err)
	}
	flacData, err := enc.Finish()
	if err != nil {
		return fail(o, "encode: %v", err)
	}
	recorded := encoder.Duration(enc.Samples())

	speech := "n/a"
	if det, err := vad.New(vad.DefaultMode); err == nil {
		det.Process(pcm)
		speech = fmt.Sprintf("%.0f%%", 100*vad.SpeechRatio(det.Cut()))
	}
	fmt.Fprintf(o.Out, "  Recorded %s: %.1f KB PCM, %.1f KB FLAC, speech %s\n",
		recorded.Round(100*time.Millisecond), float64(len(pcm))/1024, float64(len(flacData))/1024, speech)

	if recorded > 0 {
		projected := int(float64(len(flacData)) * o.ChunkPeriod.Seconds() / recorded.Seconds())
		if projected < o.MinChunk {
			fmt.Fprintf(o.Out, "  Warning: a %s chunk would be about %d bytes, below the %d byte minimum; it would be dropped\n",
				o.ChunkPeriod, projected, o.MinChunk)
		}
	}
	return pass(o, "microphone captured and encoded")
}

func recordAudio(ctx audio.Context, device *audio.DeviceInfo, d time.Duration) ([]byte, error) {
	var mu sync.Mutex
	var pcm []byte
	want := int(d.Seconds() * encoder.SampleRate * 2)

	dev, err := ctx.NewCapture(device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if len(pcm) < want {
			pcm = append(pcm, data[:min(len(data), want-len(pcm))]...)
		}
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		return nil, err
	}

	deadline := time.After(d + 2*time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case <-deadline:
			break wait
		case <-tick.C:
			mu.Lock()
			full := len(pcm) >= want
			mu.Unlock()
			if full {
				break wait
			}
		}
	}
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	return pcm, nil
}

func checkCamera(o *Options) bool {
	cam, err := video.Open(o.Camera)
	if err != nil {
		return fail(o, "%v", err)
	}
	if err := cam.Start(); err != nil {
		return fail(o, "%v", err)
	}
	defer cam.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		img, err := cam.Snapshot()
		if err == nil {
			data, err := pipeline.EncodeFrame(img, 640, 480, 80)
			if err != nil {
				return fail(o, "%v", err)
			}
			b := img.Bounds()
			return pass(o, "camera frame %dx%d, %.1f KB as JPEG", b.Dx(), b.Dy(), float64(len(data))/1024)
		}
		if !errors.Is(err, video.ErrNoFrame) || time.Now().After(deadline) {
			return fail(o, "no frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func checkHotkey(o *Options) bool {
	b, err := hotkey.ParseBinding(o.Hotkey)
	if err != nil {
		return fail(o, "%v", err)
	}
	hk := o.NewHotkey(b)
	if err := hk.Register(); err != nil {
		return fail(o, "could not register %s: %v", b.Text, err)
	}
	defer hk.Unregister()

	if !o.Interactive {
		return pass(o, "%s registered", b.Text)
	}
	fmt.Fprintf(o.Out, "Press %s...\n", b.Text)
	select {
	case <-hk.Keydown():
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		o.restoreTerminal()
		return pass(o, "hotkey detected")
	case <-time.After(10 * time.Second):
		return fail(o, "timeout waiting for hotkey")
	}
}

func checkClipboard(o *Options) bool {
	if !clipboard.Available() {
		return fail(o, "%v", clipboard.ErrUnsupported)
	}
	prev, _ := clipboard.Read()
	defer clipboard.Copy(prev)
	if err := clipboard.CopyVerified("moodwire-doctor-test"); err != nil {
		return fail(o, "%v", err)
	}
	return pass(o, "clipboard copy verified")
}
