//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

// Device IDs are the hex form of the backend's opaque identifier so they
// survive a round trip through config files and flags.
func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:   hex.EncodeToString(info.ID.Pointer()[:]),
			Name: info.Name(),
		})
	}
	return devices, nil
}

func deviceID(id string) (*malgo.DeviceID, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("device id %q: %w", id, err)
	}
	var out malgo.DeviceID
	copy(out[:], raw)
	return &out, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = max(config.Channels, 1)
	cfg.SampleRate = config.SampleRate
	if device != nil {
		id, err := deviceID(device.ID)
		if err != nil {
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	c := &malgoCapture{gain: config.Gain}
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: c.onData})
	if err != nil {
		return nil, fmt.Errorf("malgo capture %v: %w", deviceName(device), err)
	}
	c.device = dev
	return c, nil
}

func deviceName(d *DeviceInfo) string {
	if d == nil {
		return "default"
	}
	return d.Name
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	gain     int
	callback atomic.Pointer[DataCallback]
}

func (c *malgoCapture) onData(_, data []byte, frames uint32) {
	cb := c.callback.Load()
	if cb == nil {
		return
	}
	if c.gain > 1 {
		data = PCM(Samples(data), c.gain)
	}
	(*cb)(data, frames)
}

func (c *malgoCapture) Start() error {
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("malgo start: %w", err)
	}
	return nil
}

func (c *malgoCapture) Stop() {
	if c.device.IsStarted() {
		c.device.Stop()
	}
}

func (c *malgoCapture) Close() {
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}
