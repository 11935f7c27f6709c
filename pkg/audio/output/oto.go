// ABOUTME: Oto-based audio output implementation
// ABOUTME: Pull-mode player fed from a frame ring, with software volume control
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

const (
	otoBufferMs       = 500
	otoPlayerBufferMs = 40
)

// Oto output implementation using oto library.
// oto allows a single context per process and only renders 16-bit here,
// so wider input is narrowed on Write.
type Oto struct {
	softVolume

	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	ring       *pcmRing
	sampleRate int
	channels   int
	bitDepth   int // input width
	opened     time.Time
	ready      bool
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	o := &Oto{}
	o.softVolume.init()
	return o
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels, bitDepth int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", bitDepth)
	}
	if bitDepth != 16 {
		log.Warn("oto renders 16-bit output, narrowing input", "bits", bitDepth)
	}

	if o.otoCtx != nil && (o.sampleRate != sampleRate || o.channels != channels) {
		return fmt.Errorf("oto context already created for %dHz %dch, cannot reopen at %dHz %dch",
			o.sampleRate, o.channels, sampleRate, channels)
	}

	if o.otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan
		o.otoCtx = ctx
	} else if err := o.otoCtx.Resume(); err != nil {
		return fmt.Errorf("failed to resume oto context: %w", err)
	}

	o.sampleRate = sampleRate
	o.channels = channels
	o.bitDepth = bitDepth
	o.ring = newPCMRing(sampleRate*otoBufferMs/1000, channels*2)

	if o.player != nil {
		o.player.Close()
	}
	o.player = o.otoCtx.NewPlayer(ringReader{o.ring})
	o.player.SetBufferSize(sampleRate * otoPlayerBufferMs / 1000 * channels * 2)
	o.opened = time.Now()
	o.ready = true

	log.Info("Audio output initialized", "backend", "oto", "rate", sampleRate, "channels", channels)
	return nil
}

// ringReader adapts the ring to the io.Reader oto pulls from
type ringReader struct{ ring *pcmRing }

func (r ringReader) Read(p []byte) (int, error) {
	n := len(p) - len(p)%r.ring.bytesPerFrame
	r.ring.read(p[:n])
	return n, nil
}

// Write narrows to 16-bit, applies volume and queues whole frames
func (o *Oto) Write(pcm []byte) (int, error) {
	o.mu.Lock()
	ring, bitDepth, channels, ready := o.ring, o.bitDepth, o.channels, o.ready
	o.mu.Unlock()

	if !ready || ring == nil {
		return 0, ErrNotOpen
	}

	inFrame := channels * bitDepth / 8
	frames := len(pcm) / inFrame
	if room := ring.rb.Free() / ring.bytesPerFrame; frames > room {
		frames = room
	}
	if frames == 0 {
		return 0, nil
	}

	out := toInt16LE(pcm[:frames*inFrame], bitDepth)
	audio.ScaleSamples(out, 16, o.multiplier())
	return ring.write(out), nil
}

// toInt16LE converts little-endian PCM of the given width to a new 16-bit buffer
func toInt16LE(pcm []byte, bitDepth int) []byte {
	if bitDepth == 16 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}
	width := bitDepth / 8
	out := make([]byte, len(pcm)/width*2)
	for i, j := 0, 0; i+width <= len(pcm); i, j = i+width, j+2 {
		s := audio.ReadSample(pcm[i:], bitDepth)
		if bitDepth == 32 {
			s >>= 8
		}
		audio.PutSample(out[j:], 16, int32(audio.SampleToInt16(s)))
	}
	return out
}

// HardwareTimestamp estimates the play position from what oto has pulled
// minus what it still holds in its own buffer
func (o *Oto) HardwareTimestamp() (Timestamp, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil || !o.player.IsPlaying() {
		return Timestamp{}, false
	}
	pos := o.ring.consumed.Load() - int64(o.player.BufferedSize()/o.ring.bytesPerFrame)
	if pos < 0 {
		pos = 0
	}
	return Timestamp{HardwareTimeUs: monoMicros(o.opened), FramePosition: pos}, true
}

// BufferedFrames returns frames in the ring plus those oto already pulled
func (o *Oto) BufferedFrames() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ring == nil {
		return 0
	}
	n := o.ring.bufferedFrames()
	if o.player != nil {
		n += o.player.BufferedSize() / o.ring.bytesPerFrame
	}
	return int64(n)
}

// Play starts pulling from the ring
func (o *Oto) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return ErrNotOpen
	}
	o.player.Play()
	return nil
}

// Pause stops pulling; queued frames are kept
func (o *Oto) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return ErrNotOpen
	}
	o.player.Pause()
	return nil
}

// Stop pauses and discards queued frames
func (o *Oto) Stop() error {
	if err := o.Pause(); err != nil {
		return err
	}
	return o.Flush()
}

// Flush discards frames still in the ring
func (o *Oto) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ring == nil {
		return ErrNotOpen
	}
	o.ring.reset()
	return nil
}

// Release closes the player and suspends the process-wide context
func (o *Oto) Release() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			log.Warn("oto player close error", "err", err)
		}
		o.player = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			log.Warn("oto context suspend error", "err", err)
		}
	}
	o.ring = nil
	o.ready = false
	return nil
}
