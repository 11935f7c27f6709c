// ABOUTME: Sendspin protocol message type definitions
// ABOUTME: JSON envelopes for handshake, state, commands, time sync and stream control
package protocol

import "encoding/json"

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeClientState   = "client/state"
	TypeClientTime    = "client/time"
	TypeServerTime    = "server/time"
	TypeClientGoodbye = "client/goodbye"
	TypeServerCommand = "server/command"
	TypeServerState   = "server/state"
	TypeGroupUpdate   = "group/update"
	TypeStreamStart   = "stream/start"
	TypeStreamClear   = "stream/clear"
	TypeStreamEnd     = "stream/end"
)

// Message is the top-level wrapper for outgoing messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// envelope is an incoming message whose payload is decoded once the type is known
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientHello is sent by clients to initiate the handshake.
// Roles use the versioned form "player@v1".
type ClientHello struct {
	ClientID        string           `json:"client_id"`
	Name            string           `json:"name"`
	Version         int              `json:"version"`
	SupportedRoles  []string         `json:"supported_roles"`
	DeviceInfo      *DeviceInfo      `json:"device_info,omitempty"`
	PlayerV1Support *PlayerV1Support `json:"player@v1_support,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// PlayerV1Support describes player@v1 capabilities
type PlayerV1Support struct {
	SupportedFormats  []AudioFormat `json:"supported_formats"`
	BufferCapacity    int           `json:"buffer_capacity"`
	SupportedCommands []string      `json:"supported_commands"`
}

// AudioFormat describes a supported audio format
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID         string   `json:"server_id"`
	Name             string   `json:"name"`
	Version          int      `json:"version"`
	ActiveRoles      []string `json:"active_roles"`
	ConnectionReason string   `json:"connection_reason"` // "discovery" or "playback"
}

// ClientStateMessage is sent as client/state with role-specific objects
type ClientStateMessage struct {
	Player *PlayerState `json:"player,omitempty"`
}

// Player sync states reported to the server
const (
	PlayerSynchronized = "synchronized"
	PlayerError        = "error"
)

// PlayerState reports the player's current state
type PlayerState struct {
	State  string `json:"state"`
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// ServerCommandMessage is sent as server/command with role-specific objects
type ServerCommandMessage struct {
	Player *PlayerCommand `json:"player,omitempty"`
}

// PlayerCommand is a control command for the player
type PlayerCommand struct {
	Command string `json:"command"` // "volume" or "mute"
	Volume  int    `json:"volume,omitempty"`
	Mute    bool   `json:"mute,omitempty"`
}

// StreamStartPlayer contains the audio format details
type StreamStartPlayer struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// StreamStart announces the stream format
type StreamStart struct {
	Player *StreamStartPlayer `json:"player,omitempty"`
}

// ServerStateMessage is sent as server/state with role-specific objects
type ServerStateMessage struct {
	Metadata *MetadataState `json:"metadata,omitempty"`
}

// MetadataState contains track metadata
type MetadataState struct {
	Timestamp int64   `json:"timestamp"` // server clock µs when valid
	Title     *string `json:"title,omitempty"`
	Artist    *string `json:"artist,omitempty"`
	Album     *string `json:"album,omitempty"`
}

// GroupUpdate is sent as group/update
type GroupUpdate struct {
	PlaybackState *string `json:"playback_state,omitempty"` // "playing", "paused", "stopped"
	GroupID       *string `json:"group_id,omitempty"`
	GroupName     *string `json:"group_name,omitempty"`
}

// StreamClear instructs clients to clear buffers (seek)
type StreamClear struct {
	Roles []string `json:"roles,omitempty"`
}

// StreamEnd ends streams for the given roles (omit = all)
type StreamEnd struct {
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether a role list targets role. An empty list targets all.
func HasRole(roles []string, role string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClientGoodbye is sent before a graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "another_server", "shutdown", "restart", "user_request"
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // µs, local clock
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}
