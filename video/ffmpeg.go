package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"moodwire/log"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const maxFrameBytes = 8 << 20

// FFmpegCamera reads an MJPEG stream from an ffmpeg child process and
// keeps the latest complete frame.
type FFmpegCamera struct {
	Binary string // default "ffmpeg"
	Device string
	Width  int
	Height int
	FPS    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	exit   error
	stderr tailBuffer
	latest atomic.Pointer[[]byte]
	frames atomic.Uint64
}

func (c *FFmpegCamera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("camera backend needs %s on PATH: %w", bin, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(runtime.GOOS, c.Device, c.Width, c.Height, c.FPS)...)
	cmd.Stderr = &c.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	log.Infof("camera: ffmpeg pid=%d device=%q", cmd.Process.Pid, c.Device)

	c.cancel = cancel
	c.done = make(chan struct{})
	c.exit = nil
	c.latest.Store(nil)

	go func(done chan struct{}) {
		defer close(done)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
		sc.Split(splitJPEG)
		for sc.Scan() {
			frame := bytes.Clone(sc.Bytes())
			c.latest.Store(&frame)
			c.frames.Add(1)
		}
		err := sc.Err()
		if werr := cmd.Wait(); err == nil && ctx.Err() == nil {
			err = werr
		}
		if err != nil {
			log.Warnf("camera: ffmpeg exited: %v: %s", err, c.stderr.String())
		}
		c.mu.Lock()
		c.exit = err
		c.mu.Unlock()
	}(c.done)
	return nil
}

func (c *FFmpegCamera) Snapshot() (image.Image, error) {
	p := c.latest.Load()
	if p == nil {
		c.mu.Lock()
		started, exit := c.cancel != nil, c.exit
		c.mu.Unlock()
		switch {
		case !started:
			return nil, ErrNotStarted
		case exit != nil:
			return nil, fmt.Errorf("camera stopped: %w", exit)
		}
		return nil, ErrNoFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(*p))
	if err != nil {
		return nil, fmt.Errorf("decoding camera frame: %w", err)
	}
	return img, nil
}

// Frames is the number of complete frames read so far.
func (c *FFmpegCamera) Frames() uint64 { return c.frames.Load() }

func (c *FFmpegCamera) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.latest.Store(nil)
}

func ffmpegArgs(goos, device string, width, height, fps int) []string {
	if fps <= 0 {
		fps = 15
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	size := ""
	if width > 0 && height > 0 {
		size = strconv.Itoa(width) + "x" + strconv.Itoa(height)
	}
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		args = append(args, "-f", "avfoundation", "-framerate", strconv.Itoa(fps))
		if size != "" {
			args = append(args, "-video_size", size)
		}
		args = append(args, "-i", device)
	case "windows":
		args = append(args, "-f", "dshow", "-i", "video="+device)
	default:
		if device == "" {
			device = "/dev/video0"
		}
		args = append(args, "-f", "v4l2", "-framerate", strconv.Itoa(fps))
		if size != "" {
			args = append(args, "-video_size", size)
		}
		args = append(args, "-i", device)
	}
	return append(args, "-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "4", "-")
}

// splitJPEG is a bufio.SplitFunc yielding one JPEG image (SOI..EOI) per
// token. Bytes outside an image are skipped.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		// keep a trailing 0xFF that may begin the next marker
		if n := len(data); !atEOF && n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// tailBuffer keeps the last few KB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailSize = 4096

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}
