// ABOUTME: WAV file output that behaves like a real-time device
// ABOUTME: Paces consumption by a wall clock and records what was fed via go-audio/wav
package output

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/charmbracelet/log"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const defaultWAVBufferMs = 250

// WAV is a headless output. Frames are "played" at the sample rate while
// the device is playing; Write accepts at most BufferMs ahead of that.
type WAV struct {
	softVolume

	path     string
	bufferMs int
	now      func() time.Time

	mu         sync.Mutex
	file       *os.File
	enc        *wav.Encoder
	format     audio.Format
	opened     time.Time
	playing    bool
	lastTick   time.Time
	carryUs    int64 // sub-frame remainder of elapsed play time
	written    int64 // frames accepted since the last flush
	played     int64 // frames consumed since the last flush
	totalFed   int64
	hasStarted bool
}

// WAVOption configures a WAV output
type WAVOption func(*WAV)

// WithWAVBuffer sets how far ahead of the play position writes are accepted
func WithWAVBuffer(ms int) WAVOption {
	return func(w *WAV) {
		if ms > 0 {
			w.bufferMs = ms
		}
	}
}

// WithWAVClock replaces the wall clock (for tests and simulation)
func WithWAVClock(now func() time.Time) WAVOption {
	return func(w *WAV) { w.now = now }
}

// NewWAV creates a WAV output writing to path; an empty path records nothing
func NewWAV(path string, opts ...WAVOption) *WAV {
	w := &WAV{
		path:     path,
		bufferMs: defaultWAVBufferMs,
		now:      time.Now,
	}
	w.softVolume.init()
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open creates the file and the encoder
func (w *WAV) Open(sampleRate, channels, bitDepth int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f := audio.Format{Codec: audio.CodecPCM, SampleRate: sampleRate, Channels: channels, BitDepth: bitDepth}
	if err := f.Validate(); err != nil {
		return err
	}
	if w.file != nil {
		w.closeLocked()
	}

	if w.path != "" {
		file, err := os.Create(w.path)
		if err != nil {
			return fmt.Errorf("failed to create wav file: %w", err)
		}
		w.file = file
		w.enc = wav.NewEncoder(file, sampleRate, bitDepth, channels, 1)
	}

	w.format = f
	w.opened = w.now()
	w.playing = false
	w.written, w.played, w.carryUs = 0, 0, 0
	w.hasStarted = false

	log.Info("Audio output initialized", "backend", "wav", "path", w.path, "format", f.String())
	return nil
}

// advanceLocked moves the play position forward by the elapsed wall time.
// The position never passes what has been written (the gap plays as silence).
func (w *WAV) advanceLocked() {
	if !w.playing {
		return
	}
	now := w.now()
	elapsed := now.Sub(w.lastTick).Microseconds() + w.carryUs
	w.lastTick = now
	if elapsed <= 0 {
		w.carryUs = 0
		return
	}
	frames := w.format.MicrosToFrames(elapsed)
	w.carryUs = elapsed - w.format.FramesToMicros(frames)
	w.played += frames
	if w.played > w.written {
		w.played = w.written
	}
}

// Write accepts whole frames up to the buffer limit and records them
func (w *WAV) Write(pcm []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.format.SampleRate == 0 {
		return 0, ErrNotOpen
	}
	w.advanceLocked()

	limit := w.format.MicrosToFrames(int64(w.bufferMs) * 1000)
	room := limit - (w.written - w.played)
	frames := int64(w.format.FrameCount(pcm))
	if frames > room {
		frames = room
	}
	if frames <= 0 {
		return 0, nil
	}

	data := pcm[:frames*int64(w.format.BytesPerFrame())]
	if w.enc != nil {
		if err := w.encodeLocked(w.apply(data, w.format.BitDepth)); err != nil {
			return 0, err
		}
	}
	w.written += frames
	w.totalFed += frames
	return int(frames), nil
}

func (w *WAV) encodeLocked(pcm []byte) error {
	width := w.format.BytesPerSample()
	samples := make([]int, len(pcm)/width)
	for i := range samples {
		samples[i] = int(audio.ReadSample(pcm[i*width:], w.format.BitDepth))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.format.Channels, SampleRate: w.format.SampleRate},
		Data:           samples,
		SourceBitDepth: w.format.BitDepth,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("wav encode failed: %w", err)
	}
	return nil
}

// HardwareTimestamp reports the simulated play position
func (w *WAV) HardwareTimestamp() (Timestamp, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasStarted {
		return Timestamp{}, false
	}
	w.advanceLocked()
	return Timestamp{
		HardwareTimeUs: w.now().Sub(w.opened).Microseconds(),
		FramePosition:  w.played,
	}, true
}

// BufferedFrames returns frames written but not yet played
func (w *WAV) BufferedFrames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advanceLocked()
	return w.written - w.played
}

// Play starts the simulated clock
func (w *WAV) Play() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.format.SampleRate == 0 {
		return ErrNotOpen
	}
	if !w.playing {
		w.playing = true
		w.hasStarted = true
		w.lastTick = w.now()
		w.carryUs = 0
	}
	return nil
}

// Pause freezes the simulated clock
func (w *WAV) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.format.SampleRate == 0 {
		return ErrNotOpen
	}
	w.advanceLocked()
	w.playing = false
	return nil
}

// Stop pauses and flushes
func (w *WAV) Stop() error {
	if err := w.Pause(); err != nil {
		return err
	}
	return w.Flush()
}

// Flush forgets unplayed frames. They are already in the file; the
// recording reflects what was fed, not what was heard.
func (w *WAV) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.format.SampleRate == 0 {
		return ErrNotOpen
	}
	w.written, w.played, w.carryUs = 0, 0, 0
	if w.playing {
		w.lastTick = w.now()
	}
	return nil
}

// FramesFed returns the total frames accepted since Open
func (w *WAV) FramesFed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalFed
}

// Release finalizes the WAV header and closes the file
func (w *WAV) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *WAV) closeLocked() error {
	var err error
	if w.enc != nil {
		if cerr := w.enc.Close(); cerr != nil {
			err = fmt.Errorf("wav finalize failed: %w", cerr)
		}
		w.enc = nil
	}
	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wav close failed: %w", cerr)
		}
		w.file = nil
	}
	w.format = audio.Format{}
	w.playing = false
	return err
}
