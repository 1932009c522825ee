//go:build !linux

package beep

import (
	"sync"

	"github.com/gen2brain/malgo"

	"moodwire/audio"
)

var (
	ctxOnce sync.Once
	ctx     *malgo.AllocatedContext
	playMu  sync.Mutex
)

func playSamples(samples []int16) {
	ctxOnce.Do(func() {
		c, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err == nil {
			ctx = c
		}
	})
	if ctx == nil {
		return
	}

	playMu.Lock()
	defer playMu.Unlock()

	data := audio.PCM(samples, 1)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var mu sync.Mutex
	pos := 0
	done := make(chan struct{})
	var doneOnce sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			mu.Lock()
			defer mu.Unlock()
			n := copy(out[:min(len(out), int(frameCount)*2)], data[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(data) {
				doneOnce.Do(func() { close(done) })
			}
		},
	}
	device, err := malgo.InitDevice(ctx.Context, config, callbacks)
	if err != nil {
		return
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return
	}
	<-done
	device.Stop()
}
