//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// One client serves every cue; a failed connect is retried on the next cue.
var (
	clientMu sync.Mutex
	client   *pulse.Client
)

func playSamples(samples []int16) {
	clientMu.Lock()
	defer clientMu.Unlock()
	if client == nil {
		c, err := pulse.NewClient(pulse.ClientApplicationName("moodwire cues"))
		if err != nil {
			return
		}
		client = c
	}

	rest := samples
	stream, err := client.NewPlayback(pulse.Int16Reader(func(buf []int16) (int, error) {
		if len(rest) == 0 {
			return 0, pulse.EndOfData
		}
		n := copy(buf, rest)
		rest = rest[n:]
		return n, nil
	}),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		client.Close()
		client = nil
		return
	}
	stream.Start()
	stream.Drain()
	stream.Close()
}
