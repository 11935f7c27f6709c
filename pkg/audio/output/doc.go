// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Output device contract and malgo, oto and WAV backends
// Package output provides audio playback devices.
//
// Every backend accepts interleaved little-endian PCM in whole frames,
// never blocks in Write, and reports a hardware timestamp the playback
// engine uses to calibrate against the device clock.
//
// Example:
//
//	out := output.NewMalgo()
//	err := out.Open(48000, 2, 24)
//	err = out.Play()
//	frames, err := out.Write(pcm)
package output

var (
	_ Output        = (*Malgo)(nil)
	_ Output        = (*Oto)(nil)
	_ Output        = (*WAV)(nil)
	_ VolumeControl = (*Malgo)(nil)
	_ VolumeControl = (*Oto)(nil)
	_ VolumeControl = (*WAV)(nil)
)
