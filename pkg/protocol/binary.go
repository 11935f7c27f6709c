// ABOUTME: Binary audio frame encoding
// ABOUTME: 1-byte type + 8-byte big-endian server timestamp + PCM payload
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BinaryMessageHeaderSize is the type byte plus the timestamp
	BinaryMessageHeaderSize = 1 + 8

	// AudioChunkMessageType is the player role's audio slot (IDs 4-7 belong to player)
	AudioChunkMessageType = 4
)

var (
	ErrShortMessage      = errors.New("binary message shorter than header")
	ErrUnknownBinaryType = errors.New("unknown binary message type")
)

// AudioChunk is a timestamped block of PCM
type AudioChunk struct {
	Timestamp int64  // µs, server clock
	Data      []byte // interleaved PCM
}

// ParseAudioChunk decodes a binary audio frame. Data aliases the input.
func ParseAudioChunk(data []byte) (AudioChunk, error) {
	if len(data) < BinaryMessageHeaderSize {
		return AudioChunk{}, ErrShortMessage
	}
	if data[0] != AudioChunkMessageType {
		return AudioChunk{}, fmt.Errorf("%w: %d", ErrUnknownBinaryType, data[0])
	}
	return AudioChunk{
		Timestamp: int64(binary.BigEndian.Uint64(data[1:BinaryMessageHeaderSize])),
		Data:      data[BinaryMessageHeaderSize:],
	}, nil
}

// EncodeAudioChunk builds a binary audio frame
func EncodeAudioChunk(timestamp int64, pcm []byte) []byte {
	buf := make([]byte, BinaryMessageHeaderSize+len(pcm))
	buf[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(buf[1:BinaryMessageHeaderSize], uint64(timestamp))
	copy(buf[BinaryMessageHeaderSize:], pcm)
	return buf
}
