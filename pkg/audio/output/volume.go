// ABOUTME: Software volume shared by the output backends
// ABOUTME: Applies gain in place to outgoing PCM with clipping protection
package output

import (
	"sync/atomic"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/charmbracelet/log"
)

type softVolume struct {
	volume atomic.Int32
	muted  atomic.Bool
}

func (v *softVolume) init() {
	v.volume.Store(100)
	v.muted.Store(false)
}

// SetVolume sets the volume (0-100)
func (v *softVolume) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	v.volume.Store(int32(volume))
	log.Info("Volume set", "volume", volume)
}

// SetMuted sets mute state
func (v *softVolume) SetMuted(muted bool) {
	v.muted.Store(muted)
	log.Info("Mute changed", "muted", muted)
}

// GetVolume returns current volume
func (v *softVolume) GetVolume() int {
	return int(v.volume.Load())
}

// IsMuted returns mute state
func (v *softVolume) IsMuted() bool {
	return v.muted.Load()
}

func (v *softVolume) multiplier() float64 {
	if v.muted.Load() {
		return 0.0
	}
	return float64(v.volume.Load()) / 100.0
}

// apply returns pcm scaled by the current volume.
// The input is never modified; a copy is made only when gain != 1.
func (v *softVolume) apply(pcm []byte, bitDepth int) []byte {
	gain := v.multiplier()
	if gain == 1.0 {
		return pcm
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	audio.ScaleSamples(out, bitDepth, gain)
	return out
}
