// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Shows connection, sync quality, engine state and correction activity
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/playback"
	"github.com/Sendspin/sendspin-sync/pkg/sendspin"
	clocksync "github.com/Sendspin/sendspin-sync/pkg/sync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	volumeStep = 5
	innerWidth = 54
)

var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(innerWidth)
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string

	// Stream
	format   audio.Format
	playback playback.State

	// Metadata
	title  string
	artist string
	album  string

	// Controls
	volume int
	muted  bool

	// Stats
	stats       playback.Stats
	syncRTT     int64
	syncQuality clocksync.Quality

	showDebug  bool
	volumeCtrl *VolumeControl

	width  int
	height int
}

// StateMsg carries a player state change
type StateMsg sendspin.PlayerState

// MetadataMsg carries new track metadata
type MetadataMsg sendspin.Metadata

// StatsMsg carries a periodic statistics snapshot
type StatsMsg sendspin.PlayerStats

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.connected = msg.Connected
		m.serverName = msg.ServerName
		m.format = msg.Format
		m.playback = msg.Playback
		m.volume = msg.Volume
		m.muted = msg.Muted
	case MetadataMsg:
		m.title, m.artist, m.album = msg.Title, msg.Artist, msg.Album
	case StatsMsg:
		m.stats = msg.Engine
		m.playback = msg.Engine.State
		m.syncRTT = msg.SyncRTT
		m.syncQuality = msg.SyncQuality
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderStreamInfo(),
		m.renderControls(),
		m.renderSync(),
	}
	if m.showDebug {
		sections = append(sections, m.renderDebug())
	}
	sections = append(sections, dimStyle.Render("↑/↓:Volume  m:Mute  d:Debug  q:Quit"))

	return frameStyle.Render(strings.Join(sections, "\n\n")) + "\n"
}

func (m Model) renderHeader() string {
	status := "Disconnected"
	if m.connected {
		status = "Connected to " + m.serverName
	}

	var syncText string
	switch m.syncQuality {
	case clocksync.QualityGood:
		syncText = fmt.Sprintf("✓ Synced (offset %+.1fms, rtt %.1fms)",
			float64(m.stats.ClockOffsetUs)/1000, float64(m.syncRTT)/1000)
	case clocksync.QualityDegraded:
		syncText = warnStyle.Render(fmt.Sprintf("⚠ Degraded (rtt %.1fms)", float64(m.syncRTT)/1000))
	default:
		syncText = "✗ Lost"
	}

	return titleStyle.Render("Sendspin Player") + "\n" +
		"Status: " + status + "\n" +
		"Clock:  " + syncText
}

func (m Model) renderStreamInfo() string {
	if !m.connected || m.format.Codec == "" {
		return "No stream"
	}

	var b strings.Builder
	if m.title != "" {
		fmt.Fprintf(&b, "Track:  %s\n", truncate(m.title, innerWidth-8))
		fmt.Fprintf(&b, "Artist: %s\n", truncate(m.artist, innerWidth-8))
		fmt.Fprintf(&b, "Album:  %s\n", truncate(m.album, innerWidth-8))
	} else {
		b.WriteString("(No metadata)\n")
	}
	fmt.Fprintf(&b, "Format: %s %dHz %s %d-bit", m.format.Codec, m.format.SampleRate,
		channelName(m.format.Channels), m.format.BitDepth)
	return b.String()
}

func (m Model) renderControls() string {
	mute := ""
	if m.muted {
		mute = " (muted)"
	}
	return fmt.Sprintf("Volume: [%s] %d%%%s\nState:  %s  Buffer: %dms",
		renderBar(m.volume, 100, 10), m.volume, mute, m.playback, m.stats.BufferedMs)
}

func (m Model) renderSync() string {
	s := m.stats
	correction := "none"
	switch {
	case s.InsertEveryNFrames > 0:
		correction = fmt.Sprintf("insert 1/%d", s.InsertEveryNFrames)
	case s.DropEveryNFrames > 0:
		correction = fmt.Sprintf("drop 1/%d", s.DropEveryNFrames)
	}

	line := fmt.Sprintf("Sync error: %+.2fms  Correction: %s", float64(s.SmoothedErrorUs)/1000, correction)
	if s.StabilizationRemaining > 0 {
		line += "\n" + warnStyle.Render(fmt.Sprintf("Stabilizing after reconnect (%s)", s.StabilizationRemaining.Round(100*time.Millisecond)))
	}
	return line + fmt.Sprintf("\nRX: %d  Played: %d  Dropped: %d  Underruns: %d",
		s.ChunksReceived, s.ChunksPlayed, s.ChunksDropped, s.BufferUnderruns)
}

func (m Model) renderDebug() string {
	s := m.stats
	return dimStyle.Render(fmt.Sprintf(
		"Frames: written %d  +%d  -%d\n"+
			"Gaps filled %d  Overlaps trimmed %d\n"+
			"Reanchors %d  Hard resyncs %d  Device errors %d\n"+
			"Drift %+.2fppm  Clock error %dµs  Calibration %d",
		s.FramesWritten, s.FramesInserted, s.FramesDropped,
		s.GapsFilled, s.OverlapsTrimmed,
		s.Reanchors, s.HardResyncs, s.DeviceErrors,
		s.ClockDriftPPM, s.ClockErrorUs, s.CalibrationCount))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.sendVolume()
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.sendVolume()
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

func renderBar(value, total, width int) string {
	filled := (value * width) / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
