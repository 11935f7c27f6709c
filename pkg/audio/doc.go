// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Chunk types and sample conversion functions
// Package audio provides the PCM types shared by the playback engine and its devices.
//
//   - Format: sample rate, channels and bit depth of an interleaved PCM stream
//   - Chunk: a run of whole PCM frames stamped with its server play time
//
// Frame/time conversions floor unless stated otherwise, so a 1000-frame chunk at
// 48kHz lasts 20833µs.
//
// Example:
//
//	format := audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}
//	chunk := audio.NewChunk(format, serverTimeUs, pcm)
//	next := chunk.EndTimeUs(format)
package audio
