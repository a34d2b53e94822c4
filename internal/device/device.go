// Package device wires the real-time pipeline to a physical audio
// interface via malgo, supplying and consuming stereo float32 blocks
// (malgo.FormatF32) at a fixed rate. It is the concrete implementation of the "audio
// device back-end" spec.md §1 treats as an external collaborator, and
// is grounded on the teacher's audio/capture.go (device enumeration,
// fuzzy name matching, malgo wiring) generalized from half-duplex
// capture-only to full-duplex capture+playback.
package device

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrDevice is the sentinel every failure in this package wraps.
var ErrDevice = errors.New("device: error")

// Info describes one enumerated audio device, mirroring the teacher's
// AudioDevice.
type Info struct {
	ID       string
	Name     string
	IsInput  bool
	IsOutput bool
}

// BlockHandler is invoked once per fixed-size device block with the
// de-interleaved stereo input, and must return the stereo output to
// play back. It runs on malgo's audio callback thread and must not
// block.
type BlockHandler func(input [][]float32) (output [][]float32)

// Duplex drives one full-duplex stereo stream at a fixed block size,
// the concrete I/O boundary the real-time pipeline (C7) plugs into.
type Duplex struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	blockSize  int

	mu      sync.Mutex
	running bool
}

// NewDuplex initializes the malgo context. Close must be called when
// done.
func NewDuplex() (*Duplex, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDevice, err)
	}
	return &Duplex{ctx: ctx}, nil
}

// ListDevices enumerates capture and playback devices, merging entries
// that share a name the way the teacher's ListDevices does.
func (d *Duplex) ListDevices() ([]Info, error) {
	var infos []Info

	captureDevices, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate capture devices: %v", ErrDevice, err)
	}
	for _, dev := range captureDevices {
		infos = append(infos, Info{ID: idToString(dev.ID), Name: dev.Name(), IsInput: true})
	}

	playbackDevices, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate playback devices: %v", ErrDevice, err)
	}
	for _, dev := range playbackDevices {
		name := dev.Name()
		found := false
		for i := range infos {
			if infos[i].Name == name {
				infos[i].IsOutput = true
				found = true
				break
			}
		}
		if !found {
			infos = append(infos, Info{ID: idToString(dev.ID), Name: name, IsOutput: true})
		}
	}
	return infos, nil
}

// FindByName does a case-insensitive substring match against device
// names of the given type, matching the teacher's FindDeviceByName.
func (d *Duplex) FindByName(name string, deviceType malgo.DeviceType) (*malgo.DeviceID, error) {
	devices, err := d.ctx.Devices(deviceType)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrDevice, err)
	}
	needle := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), needle) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", ErrDevice, name)
}

// Start opens a full-duplex stereo stream at sampleRate with the given
// fixed block size and invokes handler on every block. captureID and
// playbackID select specific devices; nil uses the system default.
func (d *Duplex) Start(sampleRate, blockSize int, captureID, playbackID *malgo.DeviceID, handler BlockHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("%w: already running", ErrDevice)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 2
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 2
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(blockSize)
	cfg.Alsa.NoMMap = 1
	if captureID != nil {
		cfg.Capture.DeviceID = captureID.Pointer()
	}
	if playbackID != nil {
		cfg.Playback.DeviceID = playbackID.Pointer()
	}

	onFrames := func(pOutput, pInput []byte, framecount uint32) {
		n := int(framecount)
		input := deinterleaveF32(pInput, 2, n)
		output := handler(input)
		interleaveF32(pOutput, output, 2, n)
	}

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onFrames})
	if err != nil {
		return fmt.Errorf("%w: init duplex device: %v", ErrDevice, err)
	}
	if err := dev.Start(); err != nil {
		return fmt.Errorf("%w: start duplex device: %v", ErrDevice, err)
	}

	d.device = dev
	d.sampleRate = sampleRate
	d.blockSize = blockSize
	d.running = true
	return nil
}

// Stop halts the stream, if running.
func (d *Duplex) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.device.Uninit()
	d.device = nil
	d.running = false
	return nil
}

// Close releases the malgo context.
func (d *Duplex) Close() {
	d.Stop()
	if d.ctx != nil {
		d.ctx.Uninit()
		d.ctx.Free()
	}
}

func idToString(id malgo.DeviceID) string {
	var b strings.Builder
	for _, c := range id[:32] {
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

func deinterleaveF32(buf []byte, channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	if len(buf) < frames*channels*4 {
		return out
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 4
			out[c][i] = bytesToFloat32(buf[off : off+4])
		}
	}
	return out
}

func interleaveF32(buf []byte, channels [][]float32, wantChannels, frames int) {
	if len(channels) != wantChannels || len(buf) < frames*wantChannels*4 {
		return
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < wantChannels; c++ {
			off := (i*wantChannels + c) * 4
			floatToBytes(channels[c][i], buf[off:off+4])
		}
	}
}

func bytesToFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func floatToBytes(f float32, dst []byte) {
	bits := math.Float32bits(f)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}
