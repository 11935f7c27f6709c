// ABOUTME: Sendspin wire protocol package
// ABOUTME: Message types, binary audio framing and the player-side WebSocket client
// Package protocol implements the player side of the Sendspin wire protocol.
//
// JSON control messages travel as text frames; timestamped PCM arrives as
// binary frames with a 9-byte header (type byte + big-endian server time in µs).
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8927", ClientID: id})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	for chunk := range client.AudioChunks {
//	    engine.QueueChunk(chunk.Timestamp, chunk.Data)
//	}
package protocol
