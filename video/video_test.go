package video

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"slices"
	"testing"
	"testing/iotest"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSplitJPEGStream(t *testing.T) {
	a, b := encodeJPEG(t, 8, 8), encodeJPEG(t, 16, 4)
	var stream []byte
	stream = append(stream, "garbage"...)
	stream = append(stream, a...)
	stream = append(stream, b...)
	stream = append(stream, 0xFF, 0xD8, 0x00) // truncated frame

	// one byte per read so markers are cut across reads
	sc := bufio.NewScanner(iotest.OneByteReader(bytes.NewReader(stream)))
	sc.Split(splitJPEG)
	var frames [][]byte
	for sc.Scan() {
		frames = append(frames, bytes.Clone(sc.Bytes()))
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], a) || !bytes.Equal(frames[1], b) {
		t.Error("frames differ from input images")
	}
	img, err := jpeg.Decode(bytes.NewReader(frames[1]))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("decoded width = %d", img.Bounds().Dx())
	}
}

func TestSplitJPEGKeepsMarkerPrefix(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		atEOF       bool
		wantAdvance int
	}{
		{"lone 0xFF waits for more", []byte{0xFF}, false, 0},
		{"trailing 0xFF kept", []byte{0x01, 0x02, 0xFF}, false, 2},
		{"junk dropped", []byte{0x01, 0x02}, false, 2},
		{"lone 0xFF at EOF dropped", []byte{0xFF}, true, 1},
		{"empty", nil, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance, token, err := splitJPEG(tt.data, tt.atEOF)
			if err != nil || token != nil {
				t.Fatalf("token = %x, err = %v", token, err)
			}
			if advance != tt.wantAdvance {
				t.Errorf("advance = %d, want %d", advance, tt.wantAdvance)
			}
		})
	}
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		goos   string
		device string
		want   []string
	}{
		{"linux", "", []string{"-f", "v4l2", "-i", "/dev/video0"}},
		{"linux", "/dev/video2", []string{"-i", "/dev/video2"}},
		{"darwin", "", []string{"-f", "avfoundation", "-i", "0"}},
		{"windows", "Integrated Camera", []string{"-f", "dshow", "-i", "video=Integrated Camera"}},
	}
	for _, tt := range tests {
		args := ffmpegArgs(tt.goos, tt.device, 640, 480, 15)
		for i := 0; i+1 < len(tt.want); i += 2 {
			j := slices.Index(args, tt.want[i])
			if j < 0 || j+1 >= len(args) || args[j+1] != tt.want[i+1] {
				t.Errorf("%s: args %v missing %s %s", tt.goos, args, tt.want[i], tt.want[i+1])
			}
		}
		if args[len(args)-1] != "-" || !slices.Contains(args, "image2pipe") {
			t.Errorf("%s: output not piped: %v", tt.goos, args)
		}
	}
}

func TestFFmpegSnapshotBeforeStart(t *testing.T) {
	c := &FFmpegCamera{}
	if _, err := c.Snapshot(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Snapshot = %v, want ErrNotStarted", err)
	}
	c.Stop()
}

func TestFFmpegMissingBinary(t *testing.T) {
	c := &FFmpegCamera{Binary: "moodwire-no-such-ffmpeg"}
	if err := c.Start(); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestPatternCamera(t *testing.T) {
	p := NewPattern(64, 48)
	if _, err := p.Snapshot(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Snapshot before Start = %v", err)
	}
	p.Start()
	a, err := p.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.Snapshot()
	if a.Bounds() != image.Rect(0, 0, 64, 48) {
		t.Errorf("bounds = %v", a.Bounds())
	}
	if a.At(0, 0) == b.At(0, 0) {
		t.Error("consecutive frames are identical")
	}
	p.Stop()
	if p.Snapshots() != 2 {
		t.Errorf("Snapshots = %d, want 2", p.Snapshots())
	}
}

func TestOpenBackends(t *testing.T) {
	if c, err := Open(Config{Backend: "pattern"}); err != nil {
		t.Error(err)
	} else if _, ok := c.(*PatternCamera); !ok {
		t.Errorf("pattern backend gave %T", c)
	}
	if c, err := Open(Config{Backend: "ffmpeg", Device: "/dev/video1"}); err != nil {
		t.Error(err)
	} else if f, ok := c.(*FFmpegCamera); !ok || f.Device != "/dev/video1" {
		t.Errorf("ffmpeg backend gave %#v", c)
	}
	if _, err := Open(Config{Backend: "gstreamer"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
