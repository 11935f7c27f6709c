// ABOUTME: Malgo-based audio output implementation with 24-bit support
// ABOUTME: Uses miniaudio via malgo; PCM is passed through at its native width
package output

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// malgoBufferMs sizes the device-side ring
const malgoBufferMs = 500

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	softVolume

	mu         sync.Mutex
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	ring       *pcmRing
	sampleRate int
	channels   int
	bitDepth   int
	opened     time.Time
	playing    bool

	// Written by the audio callback
	lastCallbackUs     atomic.Int64
	lastPosition       atomic.Int64
	lastCallbackFrames atomic.Int64
	hasTimestamp       atomic.Bool
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	m := &Malgo{}
	m.softVolume.init()
	return m
}

// Open initializes the output device with specified format
func (m *Malgo) Open(sampleRate, channels, bitDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil && m.sampleRate == sampleRate && m.channels == channels && m.bitDepth == bitDepth {
		log.Debug("Audio output already initialized with same format, reusing device")
		return nil
	}

	if m.device != nil {
		log.Info("Format change detected, reinitializing device",
			"from", fmt.Sprintf("%dHz/%dch/%dbit", m.sampleRate, m.channels, m.bitDepth),
			"to", fmt.Sprintf("%dHz/%dch/%dbit", sampleRate, channels, bitDepth))
		m.closeDevice()
	}

	var format malgo.FormatType
	switch bitDepth {
	case 16:
		format = malgo.FormatS16
	case 24:
		format = malgo.FormatS24
	case 32:
		format = malgo.FormatS32
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", bitDepth)
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	bytesPerFrame := channels * bitDepth / 8
	m.ring = newPCMRing(sampleRate*malgoBufferMs/1000, bytesPerFrame)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			m.dataCallback(pOutputSample, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	m.device = device
	m.sampleRate = sampleRate
	m.channels = channels
	m.bitDepth = bitDepth
	m.opened = time.Now()
	m.playing = false
	m.hasTimestamp.Store(false)

	log.Info("Audio output initialized", "backend", "malgo", "rate", sampleRate,
		"channels", channels, "bits", bitDepth, "format", formatName(format))
	return nil
}

// Write queues whole frames into the ring without blocking
func (m *Malgo) Write(pcm []byte) (int, error) {
	m.mu.Lock()
	ring := m.ring
	bitDepth := m.bitDepth
	m.mu.Unlock()

	if ring == nil {
		return 0, ErrNotOpen
	}
	return ring.write(m.apply(pcm, bitDepth)), nil
}

// dataCallback is called by malgo on the audio thread
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	ring := m.ring
	if ring == nil {
		clear(pOutput)
		return
	}
	need := int(frameCount) * ring.bytesPerFrame
	if need > len(pOutput) {
		need = len(pOutput)
	}
	frames := ring.read(pOutput[:need])

	m.lastPosition.Store(ring.consumed.Load() - int64(frames))
	m.lastCallbackFrames.Store(int64(frames))
	m.lastCallbackUs.Store(monoMicros(m.opened))
	m.hasTimestamp.Store(true)
}

// HardwareTimestamp extrapolates the position from the last callback to now,
// never past the frames that callback handed to the device
func (m *Malgo) HardwareTimestamp() (Timestamp, bool) {
	if !m.hasTimestamp.Load() {
		return Timestamp{}, false
	}
	m.mu.Lock()
	opened, rate := m.opened, m.sampleRate
	m.mu.Unlock()

	nowUs := monoMicros(opened)
	since := (nowUs - m.lastCallbackUs.Load()) * int64(rate) / 1_000_000
	if handed := m.lastCallbackFrames.Load(); since > handed {
		since = handed
	}
	if since < 0 {
		since = 0
	}
	return Timestamp{
		HardwareTimeUs: nowUs,
		FramePosition:  m.lastPosition.Load() + since,
	}, true
}

// BufferedFrames returns frames queued in the ring
func (m *Malgo) BufferedFrames() int64 {
	m.mu.Lock()
	ring := m.ring
	m.mu.Unlock()
	if ring == nil {
		return 0
	}
	return int64(ring.bufferedFrames())
}

// Play starts the device callback
func (m *Malgo) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return ErrNotOpen
	}
	if m.playing {
		return nil
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	m.playing = true
	return nil
}

// Pause stops the callback, keeping queued frames
func (m *Malgo) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// Stop halts playback and discards queued frames
func (m *Malgo) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopLocked(); err != nil {
		return err
	}
	m.flushLocked()
	return nil
}

// Flush discards queued frames
func (m *Malgo) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ring == nil {
		return ErrNotOpen
	}
	m.flushLocked()
	return nil
}

func (m *Malgo) stopLocked() error {
	if m.device == nil {
		return ErrNotOpen
	}
	if !m.playing {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	m.playing = false
	return nil
}

func (m *Malgo) flushLocked() {
	if m.ring != nil {
		m.ring.reset()
	}
	m.lastPosition.Store(0)
	m.hasTimestamp.Store(false)
}

// Release releases output resources
func (m *Malgo) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Warn("malgo context uninit error", "err", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device == nil {
		return
	}
	if m.playing {
		if err := m.device.Stop(); err != nil {
			log.Warn("device stop error", "err", err)
		}
	}
	m.device.Uninit()
	m.device = nil
	m.ring = nil
	m.playing = false
	m.hasTimestamp.Store(false)
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
