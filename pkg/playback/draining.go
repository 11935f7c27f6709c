// ABOUTME: Draining mode checks run by the render loop
// ABOUTME: Low-buffer warnings and the exhaustion reset while the network is down
package playback

import (
	"github.com/charmbracelet/log"
)

// checkDrain reports low buffer and resets to INITIALIZING once nothing is left
func (e *Engine) checkDrain(rs *renderState, now int64) {
	frames := e.queue.queuedFrames() + rs.w.pendingFrames() + e.inFlightFrames(rs)
	remainingUs := rs.format.FramesToMicros(frames)

	if frames <= 0 {
		e.exhaust(rs)
		return
	}

	if remainingUs < e.cfg.DrainLowWater.Microseconds() &&
		(rs.lastLowUs == 0 || now-rs.lastLowUs >= e.cfg.DrainLowInterval.Microseconds()) {
		rs.lastLowUs = now
		remainingMs := remainingUs / 1000
		log.Debug("Draining: buffer low", "remaining_ms", remainingMs)
		if e.cfg.OnBufferLow != nil {
			e.cfg.OnBufferLow(remainingMs)
		}
	}
}

// exhaust stops output after the drained buffer ran dry
func (e *Engine) exhaust(rs *renderState) {
	if !e.mu.TryLock() {
		return
	}
	defer e.mu.Unlock()

	if !e.state.transition(StateDraining, StateInitializing) {
		return
	}
	e.pauseFlushLocked()
	e.startGate.Store(false)
	rs.w.deviceFlushed()
	rs.resetTiming()
	rs.lastLowUs = 0

	e.ingressMu.Lock()
	e.normalizer.Reset()
	e.ingressMu.Unlock()

	log.Warn("Draining: buffer exhausted, waiting for fresh audio")
	if e.cfg.OnBufferExhausted != nil {
		e.cfg.OnBufferExhausted()
	}
}
