// ABOUTME: High-level Player API for Sendspin streaming
// ABOUTME: Wires the protocol client, clock sync and playback engine, with reconnect
package sendspin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-sync/internal/version"
	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
	"github.com/Sendspin/sendspin-sync/pkg/discovery"
	"github.com/Sendspin/sendspin-sync/pkg/playback"
	"github.com/Sendspin/sendspin-sync/pkg/protocol"
	clocksync "github.com/Sendspin/sendspin-sync/pkg/sync"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrConnectionLost = errors.New("connection lost")

const syncBurstSpacing = 100 * time.Millisecond

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// ServerAddr is the server address (host:port). Empty means mDNS discovery.
	ServerAddr string

	// PlayerName is the display name for this player
	PlayerName string

	// ClientID identifies this player across reconnects (default: random UUID)
	ClientID string

	// Volume is the initial volume (0-100, default 100)
	Volume int

	// StaticDelayMs trims output latency; positive plays later
	StaticDelayMs int

	// BufferCapacity is the buffer size in bytes advertised to the server
	BufferCapacity int

	// SupportedFormats lists PCM formats in preference order
	SupportedFormats []audio.Format

	// DeviceInfo provides device identification
	DeviceInfo DeviceInfo

	// Output is the audio device (default: malgo)
	Output output.Output

	// Engine tunes the playback engine; zero fields take defaults
	Engine playback.Config

	// Discovery configures mDNS browsing when ServerAddr is empty
	Discovery discovery.Config

	// ReconnectInterval is the wait between connection attempts (default 2s)
	ReconnectInterval time.Duration

	// SyncBurst is the number of quick time-sync rounds after connecting (default 5)
	SyncBurst int

	// SyncInterval is the steady time-sync cadence (default 1s)
	SyncInterval time.Duration

	// OnStateChange is called when connection, format or volume change
	OnStateChange func(PlayerState)

	// OnMetadata is called when track metadata arrives
	OnMetadata func(Metadata)

	// OnError is called for asynchronous failures
	OnError func(error)
}

// DeviceInfo describes the player device
type DeviceInfo struct {
	ProductName     string
	Manufacturer    string
	SoftwareVersion string
}

// Metadata contains track information
type Metadata struct {
	Title  string
	Artist string
	Album  string
}

// PlayerState describes the current state
type PlayerState struct {
	Connected  bool
	ServerName string
	Format     audio.Format
	Playback   playback.State
	Volume     int
	Muted      bool
}

// PlayerStats contains playback and sync statistics
type PlayerStats struct {
	Engine      playback.Stats
	SyncRTT     int64
	SyncQuality clocksync.Quality
}

// Player plays a Sendspin stream in sync with the server clock
type Player struct {
	config PlayerConfig

	clock  *clocksync.ClockSync
	engine *playback.Engine
	out    output.Output

	mu     sync.Mutex
	state  PlayerState
	client *protocol.Client

	audioLog logEvery
}

// NewPlayer creates a player; Run connects it
func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.Volume < 0 || config.Volume > 100 {
		return nil, fmt.Errorf("volume %d out of range 0-100", config.Volume)
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.PlayerName == "" {
		config.PlayerName = "Sendspin Player"
	}
	if config.BufferCapacity == 0 {
		config.BufferCapacity = 1048576
	}
	if len(config.SupportedFormats) == 0 {
		config.SupportedFormats = DefaultFormats()
	}
	if config.DeviceInfo.ProductName == "" {
		config.DeviceInfo.ProductName = version.Product
	}
	if config.DeviceInfo.Manufacturer == "" {
		config.DeviceInfo.Manufacturer = version.Manufacturer
	}
	if config.DeviceInfo.SoftwareVersion == "" {
		config.DeviceInfo.SoftwareVersion = version.Version
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = 2 * time.Second
	}
	if config.SyncBurst == 0 {
		config.SyncBurst = 5
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = time.Second
	}
	if config.Output == nil {
		config.Output = output.NewMalgo()
	}

	clock := clocksync.NewClockSync()
	clock.SetStaticDelayMs(config.StaticDelayMs)

	if vc, ok := config.Output.(output.VolumeControl); ok {
		vc.SetVolume(config.Volume)
	}

	return &Player{
		config:   config,
		clock:    clock,
		engine:   playback.NewEngine(clock, config.Output, config.Engine),
		out:      config.Output,
		state:    PlayerState{Volume: config.Volume},
		audioLog: logEvery{n: 500},
	}, nil
}

// DefaultFormats returns the PCM formats advertised when none are configured
func DefaultFormats() []audio.Format {
	return []audio.Format{
		{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24},
		{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
		{Codec: "pcm", SampleRate: 44100, Channels: 2, BitDepth: 16},
	}
}

// Run connects and keeps reconnecting until ctx is cancelled. While the
// connection is down the engine drains its buffer.
func (p *Player) Run(ctx context.Context) error {
	for {
		err := p.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.notifyError(err)
		}

		log.Info("Reconnecting", "in", p.config.ReconnectInterval)
		select {
		case <-time.After(p.config.ReconnectInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Player) connectOnce(ctx context.Context) error {
	addr, path, err := p.resolve(ctx)
	if err != nil {
		return err
	}

	client := protocol.NewClient(p.clientConfig(addr, path))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	return p.session(ctx, client, addr)
}

// resolve returns the server address, browsing mDNS when none is configured
func (p *Player) resolve(ctx context.Context) (string, string, error) {
	if p.config.ServerAddr != "" {
		return p.config.ServerAddr, "", nil
	}

	log.Info("Browsing for servers")
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	server, err := discovery.Discover(dctx, p.config.Discovery)
	if err != nil {
		return "", "", fmt.Errorf("discover server: %w", err)
	}
	return server.Addr(), server.Path, nil
}

func (p *Player) clientConfig(addr, path string) protocol.Config {
	formats := make([]protocol.AudioFormat, 0, len(p.config.SupportedFormats))
	for _, f := range p.config.SupportedFormats {
		formats = append(formats, protocol.AudioFormat{
			Codec: "pcm", Channels: f.Channels, SampleRate: f.SampleRate, BitDepth: f.BitDepth,
		})
	}

	p.mu.Lock()
	initial := protocol.PlayerState{State: protocol.PlayerSynchronized, Volume: p.state.Volume, Muted: p.state.Muted}
	p.mu.Unlock()

	return protocol.Config{
		ServerAddr: addr,
		Path:       path,
		ClientID:   p.config.ClientID,
		Name:       p.config.PlayerName,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     p.config.DeviceInfo.ProductName,
			Manufacturer:    p.config.DeviceInfo.Manufacturer,
			SoftwareVersion: p.config.DeviceInfo.SoftwareVersion,
		},
		PlayerV1Support: protocol.PlayerV1Support{
			SupportedFormats:  formats,
			BufferCapacity:    p.config.BufferCapacity,
			SupportedCommands: []string{"volume", "mute"},
		},
		InitialState: initial,
	}
}

// session runs one connection until it drops or ctx ends
func (p *Player) session(ctx context.Context, client *protocol.Client, addr string) error {
	p.mu.Lock()
	p.client = client
	p.state.Connected = true
	p.state.ServerName = client.ServerHello().Name
	if p.state.ServerName == "" {
		p.state.ServerName = addr
	}
	p.mu.Unlock()
	p.notifyStateChange()
	log.Info("Connected", "server", addr)

	if p.engine.ExitDraining() {
		log.Info("Reconnected before the buffer ran dry")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.timeSyncLoop(gctx, client) })
	g.Go(func() error { return p.streamLoop(gctx, client) })
	g.Go(func() error { return p.controlLoop(gctx, client) })
	g.Go(func() error { return p.serverStateLoop(gctx, client) })
	g.Go(func() error {
		select {
		case <-client.Done():
			if err := client.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			return ErrConnectionLost
		case <-gctx.Done():
			if ctx.Err() != nil {
				client.SendGoodbye("shutdown")
			}
			return nil
		}
	})

	err := g.Wait()
	client.Close()

	p.mu.Lock()
	p.client = nil
	p.state.Connected = false
	p.mu.Unlock()
	p.notifyStateChange()

	if ctx.Err() == nil && p.engine.EnterDraining() {
		log.Warn("Connection lost, playing from buffer")
	}
	return err
}

// timeSyncLoop sends a quick burst of time requests, then settles to a
// steady cadence
func (p *Player) timeSyncLoop(ctx context.Context, client *protocol.Client) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	sent := 0

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			p.clock.CheckQuality()
			if err := client.SendTimeSync(time.Now().UnixMicro()); err != nil {
				// The connection watcher reports the loss
				log.Debug("Time sync send failed", "err", err)
			}
			sent++
			next := p.config.SyncInterval
			if sent < p.config.SyncBurst {
				next = syncBurstSpacing
			}
			timer.Reset(next)

		case resp := <-client.TimeSyncResp:
			t4 := time.Now().UnixMicro()
			p.clock.ProcessSyncResponse(resp.ClientTransmitted, resp.ServerReceived, resp.ServerTransmitted, t4)
		}
	}
}

// streamLoop feeds audio and stream lifecycle messages to the engine in order
func (p *Player) streamLoop(ctx context.Context, client *protocol.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-client.Stream:
			p.handleStreamEvent(client, ev)
		}
	}
}

func (p *Player) handleStreamEvent(client *protocol.Client, ev protocol.StreamEvent) {
	switch ev.Kind {
	case protocol.StreamEventAudio:
		err := p.engine.QueueChunk(ev.Chunk.Timestamp, ev.Chunk.Data)
		if err != nil && p.audioLog.allow() {
			log.Debug("Dropping audio chunk", "err", err)
		}

	case protocol.StreamEventStart:
		if ev.Start.Player == nil {
			log.Debug("Ignoring stream/start without player format")
			return
		}
		sp := ev.Start.Player
		format := audio.Format{Codec: sp.Codec, SampleRate: sp.SampleRate, Channels: sp.Channels, BitDepth: sp.BitDepth}

		if p.engine.Started() && p.engine.Format() == format {
			log.Info("Stream continues", "format", format.String())
			return
		}
		if err := p.engine.Start(format); err != nil {
			p.notifyError(fmt.Errorf("start stream: %w", err))
			client.SendState(p.protocolState(protocol.PlayerError))
			return
		}
		client.SendState(p.protocolState(protocol.PlayerSynchronized))

		p.mu.Lock()
		p.state.Format = format
		p.mu.Unlock()
		p.notifyStateChange()

	case protocol.StreamEventClear:
		if protocol.HasRole(ev.Clear.Roles, "player") {
			if err := p.engine.ClearBuffer(); err != nil {
				p.notifyError(fmt.Errorf("clear buffer: %w", err))
			}
		}

	case protocol.StreamEventEnd:
		if protocol.HasRole(ev.End.Roles, "player") {
			if err := p.engine.Stop(); err != nil {
				p.notifyError(fmt.Errorf("stop stream: %w", err))
			}
			p.mu.Lock()
			p.state.Format = audio.Format{}
			p.mu.Unlock()
			p.notifyStateChange()
		}
	}
}

// controlLoop applies server commands
func (p *Player) controlLoop(ctx context.Context, client *protocol.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-client.ControlMsgs:
			switch cmd.Command {
			case "volume":
				p.SetVolume(cmd.Volume)
			case "mute":
				p.Mute(cmd.Mute)
			default:
				log.Debug("Ignoring unsupported command", "command", cmd.Command)
			}
		}
	}
}

// serverStateLoop forwards metadata and logs group changes
func (p *Player) serverStateLoop(ctx context.Context, client *protocol.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-client.ServerState:
			if state.Metadata != nil && p.config.OnMetadata != nil {
				p.config.OnMetadata(Metadata{
					Title:  deref(state.Metadata.Title),
					Artist: deref(state.Metadata.Artist),
					Album:  deref(state.Metadata.Album),
				})
			}
		case update := <-client.GroupUpdate:
			log.Info("Group update", "group", deref(update.GroupName), "state", deref(update.PlaybackState))
		}
	}
}

// SetVolume sets the software volume (0-100) and reports it to the server
func (p *Player) SetVolume(volume int) error {
	volume = max(0, min(100, volume))

	if vc, ok := p.out.(output.VolumeControl); ok {
		vc.SetVolume(volume)
	}

	p.mu.Lock()
	p.state.Volume = volume
	p.mu.Unlock()

	p.reportState()
	p.notifyStateChange()
	return nil
}

// Mute sets the mute state and reports it to the server
func (p *Player) Mute(muted bool) error {
	if vc, ok := p.out.(output.VolumeControl); ok {
		vc.SetMuted(muted)
	}

	p.mu.Lock()
	p.state.Muted = muted
	p.mu.Unlock()

	p.reportState()
	p.notifyStateChange()
	return nil
}

func (p *Player) reportState() {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client != nil {
		if err := client.SendState(p.protocolState(protocol.PlayerSynchronized)); err != nil {
			log.Debug("Failed to report state", "err", err)
		}
	}
}

func (p *Player) protocolState(state string) protocol.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return protocol.PlayerState{State: state, Volume: p.state.Volume, Muted: p.state.Muted}
}

// Status returns the current player state
func (p *Player) Status() PlayerState {
	p.mu.Lock()
	s := p.state
	p.mu.Unlock()
	s.Playback = p.engine.State()
	return s
}

// Stats returns playback and sync statistics
func (p *Player) Stats() PlayerStats {
	rtt, quality := p.clock.GetStats()
	return PlayerStats{
		Engine:      p.engine.Stats(),
		SyncRTT:     rtt,
		SyncQuality: quality,
	}
}

// Engine exposes the playback engine
func (p *Player) Engine() *playback.Engine {
	return p.engine
}

// Clock exposes the clock synchronizer
func (p *Player) Clock() *clocksync.ClockSync {
	return p.clock
}

// Close stops playback and releases the device. Cancel Run's context first.
func (p *Player) Close() error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client != nil {
		client.SendGoodbye("shutdown")
		client.Close()
	}
	return p.engine.Close()
}

func (p *Player) notifyStateChange() {
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(p.Status())
	}
}

func (p *Player) notifyError(err error) {
	log.Error("Player error", "err", err)
	if p.config.OnError != nil {
		p.config.OnError(err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// logEvery lets one in n events through
type logEvery struct {
	mu    sync.Mutex
	n     int
	count int
}

func (l *logEvery) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	return l.count%l.n == 1
}
