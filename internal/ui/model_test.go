// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests message handling, key bindings and rendering helpers
package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/playback"
	"github.com/Sendspin/sendspin-sync/pkg/sendspin"
	clocksync "github.com/Sendspin/sendspin-sync/pkg/sync"
	tea "github.com/charmbracelet/bubbletea"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestNewModel(t *testing.T) {
	model := NewModel(nil, 80)

	if model.connected {
		t.Error("expected connected to be false initially")
	}
	if model.volume != 80 {
		t.Errorf("expected volume 80, got %d", model.volume)
	}
	if model.muted || model.showDebug {
		t.Error("expected mute and debug off initially")
	}
}

func TestStateMsg(t *testing.T) {
	model := NewModel(nil, 100)
	format := audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}

	model = update(t, model, StateMsg{
		Connected:  true,
		ServerName: "living-room",
		Format:     format,
		Playback:   playback.StatePlaying,
		Volume:     35,
		Muted:      true,
	})

	if !model.connected || model.serverName != "living-room" {
		t.Errorf("connection not applied: %+v", model)
	}
	if model.format != format {
		t.Errorf("expected format %v, got %v", format, model.format)
	}
	if model.volume != 35 || !model.muted {
		t.Errorf("expected volume 35 muted, got %d muted=%v", model.volume, model.muted)
	}

	model = update(t, model, StateMsg{Volume: 35})
	if model.connected {
		t.Error("expected disconnect to apply")
	}
}

func TestMetadataMsg(t *testing.T) {
	model := update(t, NewModel(nil, 100), MetadataMsg{Title: "Song", Artist: "Artist", Album: "Album"})
	if model.title != "Song" || model.artist != "Artist" || model.album != "Album" {
		t.Errorf("metadata not applied: %q %q %q", model.title, model.artist, model.album)
	}
}

func TestStatsMsg(t *testing.T) {
	model := update(t, NewModel(nil, 100), StatsMsg(sendspin.PlayerStats{
		Engine: playback.Stats{
			State:          playback.StateDraining,
			ChunksReceived: 500,
			BufferedMs:     180,
		},
		SyncRTT:     4000,
		SyncQuality: clocksync.QualityGood,
	}))

	if model.playback != playback.StateDraining {
		t.Errorf("expected DRAINING, got %v", model.playback)
	}
	if model.stats.ChunksReceived != 500 || model.syncRTT != 4000 {
		t.Errorf("stats not applied: %+v", model.stats)
	}
	if model.syncQuality != clocksync.QualityGood {
		t.Errorf("expected good quality, got %v", model.syncQuality)
	}
}

func TestVolumeKeys(t *testing.T) {
	tests := []struct {
		name       string
		start      int
		key        tea.KeyMsg
		wantVolume int
		wantMuted  bool
	}{
		{"up", 50, tea.KeyMsg{Type: tea.KeyUp}, 55, false},
		{"up clamps", 98, tea.KeyMsg{Type: tea.KeyUp}, 100, false},
		{"down", 50, tea.KeyMsg{Type: tea.KeyDown}, 45, false},
		{"down clamps", 3, tea.KeyMsg{Type: tea.KeyDown}, 0, false},
		{"mute", 50, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")}, 50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := NewVolumeControl()
			model := update(t, NewModel(ctrl, tt.start), tt.key)

			if model.volume != tt.wantVolume || model.muted != tt.wantMuted {
				t.Errorf("expected %d muted=%v, got %d muted=%v", tt.wantVolume, tt.wantMuted, model.volume, model.muted)
			}
			select {
			case change := <-ctrl.Changes:
				if change.Volume != tt.wantVolume || change.Muted != tt.wantMuted {
					t.Errorf("unexpected change %+v", change)
				}
			default:
				t.Error("expected a volume change to be sent")
			}
		})
	}
}

func TestQuitKey(t *testing.T) {
	_, cmd := NewModel(nil, 100).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestDebugToggle(t *testing.T) {
	model := NewModel(nil, 100)
	model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if !model.showDebug {
		t.Error("expected debug on")
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if model.showDebug {
		t.Error("expected debug off")
	}
}

func TestViewShowsCorrection(t *testing.T) {
	model := NewModel(nil, 100)
	model = update(t, model, tea.WindowSizeMsg{Width: 80, Height: 30})
	model = update(t, model, StatsMsg(sendspin.PlayerStats{
		Engine: playback.Stats{
			State:                  playback.StatePlaying,
			InsertEveryNFrames:     480,
			StabilizationRemaining: 2 * time.Second,
		},
	}))

	view := model.View()
	for _, want := range []string{"insert 1/480", "Stabilizing", "PLAYING"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestViewBeforeResize(t *testing.T) {
	if got := NewModel(nil, 100).View(); got != "Loading..." {
		t.Errorf("expected loading view, got %q", got)
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"this is longer than allowed", 10, "this is..."},
		{"", 10, ""},
		{"abcd", 4, "abcd"},
		{"abcde", 4, "a..."},
	}

	for _, tt := range tests {
		if result := truncate(tt.input, tt.maxLen); result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestRenderBar(t *testing.T) {
	if got := renderBar(50, 100, 10); got != "█████░░░░░" {
		t.Errorf("unexpected bar %q", got)
	}
	if got := renderBar(0, 100, 4); got != "░░░░" {
		t.Errorf("unexpected bar %q", got)
	}
}

func TestChannelNameFunction(t *testing.T) {
	if channelName(1) != "Mono" || channelName(2) != "Stereo" {
		t.Error("unexpected channel names")
	}
}
