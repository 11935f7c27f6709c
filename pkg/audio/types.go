// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, timestamped PCM chunks and frame/time math
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// CodecPCM is the only codec the playback engine accepts
	CodecPCM = "pcm"
)

// ErrInvalidFormat is returned when a Format cannot describe interleaved PCM
var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate checks that the format can be rendered as interleaved PCM
func (f Format) Validate() error {
	if f.Codec != "" && f.Codec != CodecPCM {
		return fmt.Errorf("%w: unsupported codec %q", ErrInvalidFormat, f.Codec)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	}
	switch f.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth %d (supported: 16, 24, 32)", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// BytesPerSample returns the size of one sample of one channel
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BytesPerFrame returns the size of one interleaved frame (all channels)
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BytesPerSample()
}

// FrameCount returns the number of whole frames in pcm
func (f Format) FrameCount(pcm []byte) int {
	bpf := f.BytesPerFrame()
	if bpf <= 0 {
		return 0
	}
	return len(pcm) / bpf
}

// FramesToMicros converts a frame count to a duration in microseconds (floored)
func (f Format) FramesToMicros(frames int64) int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return frames * 1_000_000 / int64(f.SampleRate)
}

// MicrosToFrames converts a duration in microseconds to frames (floored)
func (f Format) MicrosToFrames(us int64) int64 {
	return us * int64(f.SampleRate) / 1_000_000
}

// MicrosToFramesRounded converts microseconds to the nearest whole frame count
func (f Format) MicrosToFramesRounded(us int64) int64 {
	num := us * int64(f.SampleRate)
	if num >= 0 {
		return (num + 500_000) / 1_000_000
	}
	return (num - 500_000) / 1_000_000
}

func (f Format) String() string {
	codec := f.Codec
	if codec == "" {
		codec = CodecPCM
	}
	return fmt.Sprintf("%s %dHz %dch %dbit", codec, f.SampleRate, f.Channels, f.BitDepth)
}

// Chunk is a unit of interleaved PCM with its server timestamp
type Chunk struct {
	ServerTimeUs     int64  // Origin timestamp, server clock
	ClientPlayTimeUs int64  // Local play time derived from the clock mapping
	PCM              []byte // Interleaved PCM, whole frames only
	Frames           int    // Frames (samples per channel) in PCM
	Silence          bool   // Synthesized to fill a gap
}

// DurationUs returns the chunk duration in the given format
func (c Chunk) DurationUs(f Format) int64 {
	return f.FramesToMicros(int64(c.Frames))
}

// EndTimeUs returns the server time just past the chunk's last frame
func (c Chunk) EndTimeUs(f Format) int64 {
	return c.ServerTimeUs + c.DurationUs(f)
}

// NewChunk builds a chunk from raw PCM, dropping any trailing partial frame
func NewChunk(f Format, serverTimeUs int64, pcm []byte) Chunk {
	frames := f.FrameCount(pcm)
	return Chunk{
		ServerTimeUs: serverTimeUs,
		PCM:          pcm[:frames*f.BytesPerFrame()],
		Frames:       frames,
	}
}

// NewSilence builds a zero-filled chunk of the given length
func NewSilence(f Format, serverTimeUs int64, frames int) Chunk {
	if frames < 0 {
		frames = 0
	}
	return Chunk{
		ServerTimeUs: serverTimeUs,
		PCM:          make([]byte, frames*f.BytesPerFrame()),
		Frames:       frames,
		Silence:      true,
	}
}

// TrimFront drops n frames from the start of the chunk and retimes it
func (c Chunk) TrimFront(f Format, n int, newServerTimeUs int64) Chunk {
	if n >= c.Frames {
		return Chunk{ServerTimeUs: newServerTimeUs, Silence: c.Silence}
	}
	bpf := f.BytesPerFrame()
	return Chunk{
		ServerTimeUs: newServerTimeUs,
		PCM:          c.PCM[n*bpf:],
		Frames:       c.Frames - n,
		Silence:      c.Silence,
	}
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// ReadSample decodes one little-endian sample at its native width
func ReadSample(b []byte, bitDepth int) int32 {
	switch bitDepth {
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		return SampleFrom24Bit([3]byte{b[0], b[1], b[2]})
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

// PutSample encodes one little-endian sample at its native width
func PutSample(b []byte, bitDepth int, sample int32) {
	switch bitDepth {
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(sample)))
	case 24:
		p := SampleTo24Bit(sample)
		copy(b, p[:])
	default:
		binary.LittleEndian.PutUint32(b, uint32(sample))
	}
}

// ScaleSamples multiplies every sample in pcm by gain in place, clamping to the bit depth
func ScaleSamples(pcm []byte, bitDepth int, gain float64) {
	if gain == 1.0 {
		return
	}
	width := bitDepth / 8
	var lo, hi int64
	switch bitDepth {
	case 16:
		lo, hi = -32768, 32767
	case 24:
		lo, hi = Min24Bit, Max24Bit
	default:
		lo, hi = -2147483648, 2147483647
	}
	for i := 0; i+width <= len(pcm); i += width {
		scaled := int64(float64(ReadSample(pcm[i:], bitDepth)) * gain)
		if scaled > hi {
			scaled = hi
		} else if scaled < lo {
			scaled = lo
		}
		PutSample(pcm[i:], bitDepth, int32(scaled))
	}
}
