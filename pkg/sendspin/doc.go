// ABOUTME: High-level Sendspin library API
// ABOUTME: A Player that connects, syncs clocks and plays in sync with the group
// Package sendspin provides the high-level player API.
//
// The Player discovers or dials a server, keeps the clock offset fresh with
// client/time exchanges, and feeds timestamped PCM into a playback.Engine.
// When the connection drops the engine keeps playing from its buffer
// (draining) while the player reconnects.
//
// For lower-level control, see the playback, protocol, sync, and discovery packages.
//
// Example:
//
//	player, err := sendspin.NewPlayer(sendspin.PlayerConfig{
//	    ServerAddr: "localhost:8927",
//	    PlayerName: "Living Room",
//	    Volume:     80,
//	})
//	go player.Run(ctx)
//	defer player.Close()
package sendspin
