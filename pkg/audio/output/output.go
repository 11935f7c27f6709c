// ABOUTME: Audio output interface definition
// ABOUTME: Device contract consumed by the playback engine plus shared helpers
package output

import (
	"errors"
	"time"
)

// ErrNotOpen is returned by devices used before Open
var ErrNotOpen = errors.New("output not initialized")

// Timestamp correlates a device-clock instant with the frame playing at it
type Timestamp struct {
	HardwareTimeUs int64 // Device clock, µs since the device was opened
	FramePosition  int64 // Frames of written data consumed by the device
}

// Output represents an audio output device
type Output interface {
	// Open initializes the output device for interleaved little-endian PCM
	Open(sampleRate, channels, bitDepth int) error

	// Write queues whole frames and returns how many were accepted.
	// Devices may accept fewer frames than offered when their buffer is full.
	Write(pcm []byte) (int, error)

	// HardwareTimestamp reports the current play position, if known
	HardwareTimestamp() (Timestamp, bool)

	Play() error
	Pause() error
	Stop() error

	// Flush discards queued but unplayed frames and restarts the
	// reported frame position at zero
	Flush() error

	// Release frees the device; it must be reopened before reuse
	Release() error
}

// BufferReporter is implemented by outputs that can count frames written
// but not yet played without a hardware timestamp
type BufferReporter interface {
	BufferedFrames() int64
}

// VolumeControl is implemented by outputs with software volume
type VolumeControl interface {
	SetVolume(volume int)
	SetMuted(muted bool)
	GetVolume() int
	IsMuted() bool
}

// monoMicros returns µs elapsed on the monotonic clock since start
func monoMicros(start time.Time) int64 {
	return time.Since(start).Microseconds()
}
