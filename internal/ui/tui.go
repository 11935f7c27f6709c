// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels back to the player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg is a volume or mute change requested from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// VolumeControl holds channels for volume control communication
type VolumeControl struct {
	Changes chan VolumeChangeMsg
}

// NewVolumeControl creates a new volume control handler
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan VolumeChangeMsg, 10),
	}
}

// NewModel creates a new TUI model
func NewModel(volCtrl *VolumeControl, volume int) Model {
	return Model{
		volume:     volume,
		volumeCtrl: volCtrl,
	}
}

// Run creates the TUI program; the caller runs it
func Run(volCtrl *VolumeControl, volume int) *tea.Program {
	return tea.NewProgram(NewModel(volCtrl, volume), tea.WithAltScreen())
}
