// ABOUTME: WebSocket client for Sendspin protocol communication
// ABOUTME: Handles connection, handshake, and message routing
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	ServerAddr       string
	Path             string // default "/sendspin"
	ClientID         string
	Name             string
	Version          int
	DeviceInfo       DeviceInfo
	PlayerV1Support  PlayerV1Support
	InitialState     PlayerState
	HandshakeTimeout time.Duration // default 5s
}

// StreamEventKind identifies what a StreamEvent carries
type StreamEventKind int

const (
	StreamEventAudio StreamEventKind = iota
	StreamEventStart
	StreamEventClear
	StreamEventEnd
)

// StreamEvent is one item of the ordered stream: audio interleaved with
// stream/start, stream/clear and stream/end as the server sent them
type StreamEvent struct {
	Kind  StreamEventKind
	Chunk AudioChunk
	Start StreamStart
	Clear StreamClear
	End   StreamEnd
}

// Client is a player-role WebSocket connection
type Client struct {
	config Config

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	hello     ServerHello
	err       error

	writeMu sync.Mutex

	// Stream carries audio and stream lifecycle messages in arrival order
	Stream       chan StreamEvent
	ControlMsgs  chan PlayerCommand
	TimeSyncResp chan ServerTime
	ServerState  chan ServerStateMessage
	GroupUpdate  chan GroupUpdate

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = "/sendspin"
	}
	if config.Version == 0 {
		config.Version = 1
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	if config.InitialState.State == "" {
		config.InitialState = PlayerState{State: PlayerSynchronized, Volume: 100}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:       config,
		Stream:       make(chan StreamEvent, 256),
		ControlMsgs:  make(chan PlayerCommand, 10),
		TimeSyncResp: make(chan ServerTime, 10),
		ServerState:  make(chan ServerStateMessage, 10),
		GroupUpdate:  make(chan GroupUpdate, 10),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Connect dials the server and performs the handshake. A client connects once.
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Info("Connecting", "url", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake sends client/hello, waits for server/hello, then reports state
func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:        c.config.ClientID,
		Name:            c.config.Name,
		Version:         c.config.Version,
		SupportedRoles:  []string{"player@v1"},
		DeviceInfo:      &c.config.DeviceInfo,
		PlayerV1Support: &c.config.PlayerV1Support,
	}
	if err := c.send(TypeClientHello, hello); err != nil {
		return fmt.Errorf("send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse server/hello: %w", err)
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected %s, got %s", TypeServerHello, env.Type)
	}
	var sh ServerHello
	if err := json.Unmarshal(env.Payload, &sh); err != nil {
		return fmt.Errorf("parse server/hello: %w", err)
	}

	c.mu.Lock()
	c.hello = sh
	c.mu.Unlock()
	log.Info("Handshake complete", "server", sh.Name, "server_id", sh.ServerID, "reason", sh.ConnectionReason)

	state := c.config.InitialState
	if err := c.send(TypeClientState, ClientStateMessage{Player: &state}); err != nil {
		return fmt.Errorf("send initial state: %w", err)
	}
	return nil
}

// send writes one JSON message; gorilla allows a single concurrent writer
func (c *Client) send(msgType string, payload interface{}) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(Message{Type: msgType, Payload: payload})
}

// readMessages reads and routes incoming messages until the connection ends
func (c *Client) readMessages() {
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Warn("Connection lost", "err", err)
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			log.Debug("Ignoring WebSocket message", "type", messageType)
		}
	}
}

func (c *Client) handleBinaryMessage(data []byte) {
	chunk, err := ParseAudioChunk(data)
	if err != nil {
		log.Debug("Ignoring binary message", "err", err)
		return
	}
	c.deliverStream(StreamEvent{Kind: StreamEventAudio, Chunk: chunk})
}

func (c *Client) deliverStream(ev StreamEvent) {
	select {
	case c.Stream <- ev:
	case <-c.ctx.Done():
	}
}

// handleJSONMessage routes JSON messages by type
func (c *Client) handleJSONMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("Failed to parse JSON message", "err", err)
		return
	}
	log.Debug("Received message", "type", env.Type)

	switch env.Type {
	case TypeServerCommand:
		var cmd ServerCommandMessage
		if !decodePayload(env, &cmd) || cmd.Player == nil {
			return
		}
		select {
		case c.ControlMsgs <- *cmd.Player:
		case <-c.ctx.Done():
		}

	case TypeServerTime:
		var t ServerTime
		if !decodePayload(env, &t) {
			return
		}
		select {
		case c.TimeSyncResp <- t:
		default:
			log.Debug("Time sync channel full, dropping response")
		}

	case TypeStreamStart:
		var start StreamStart
		if decodePayload(env, &start) {
			c.deliverStream(StreamEvent{Kind: StreamEventStart, Start: start})
		}

	case TypeStreamClear:
		var clear StreamClear
		if decodePayload(env, &clear) {
			c.deliverStream(StreamEvent{Kind: StreamEventClear, Clear: clear})
		}

	case TypeStreamEnd:
		var end StreamEnd
		if decodePayload(env, &end) {
			c.deliverStream(StreamEvent{Kind: StreamEventEnd, End: end})
		}

	case TypeServerState:
		var state ServerStateMessage
		if !decodePayload(env, &state) {
			return
		}
		select {
		case c.ServerState <- state:
		case <-time.After(100 * time.Millisecond):
			log.Debug("Server state channel full, dropping message")
		}

	case TypeGroupUpdate:
		var update GroupUpdate
		if !decodePayload(env, &update) {
			return
		}
		select {
		case c.GroupUpdate <- update:
		case <-time.After(100 * time.Millisecond):
			log.Debug("Group update channel full, dropping message")
		}

	default:
		log.Debug("Unknown message type", "type", env.Type)
	}
}

func decodePayload(env envelope, v interface{}) bool {
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Warn("Failed to parse payload", "type", env.Type, "err", err)
		return false
	}
	return true
}

// SendState sends a client/state message
func (c *Client) SendState(state PlayerState) error {
	return c.send(TypeClientState, ClientStateMessage{Player: &state})
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.send(TypeClientGoodbye, ClientGoodbye{Reason: reason})
}

// SendTimeSync sends a client/time message
func (c *Client) SendTimeSync(t1 int64) error {
	return c.send(TypeClientTime, ClientTime{ClientTransmitted: t1})
}

// ServerHello returns the server's handshake reply
func (c *Client) ServerHello() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// Done is closed once the connection has ended for any reason
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, or nil after Close
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		c.connected = false
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
		}
		close(c.done)
		log.Debug("Connection closed")
	})
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
