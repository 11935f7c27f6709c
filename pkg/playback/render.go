// ABOUTME: Render loop owned by the engine
// ABOUTME: Start gating, chunk rendering, sync measurement and desync recovery
package playback

import (
	"context"
	"math"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
	"github.com/charmbracelet/log"
)

// renderState is private to one render goroutine and rebuilt on every
// loop start
type renderState struct {
	format   audio.Format
	calib    *Calibration
	est      *syncEstimator
	schedule Schedule
	w        *writer

	hardResyncArmed bool
	holdUntilUs     int64
	wasStarved      bool
	lastLowUs       int64
	calibBase       int64 // calibration total carried across resets
}

func newRenderState(cfg Config, format audio.Format, out output.Output) *renderState {
	return &renderState{
		format: format,
		calib: NewCalibration(cfg.CalibrationWindow,
			cfg.CalibrationInterval.Microseconds(), cfg.CalibrationMaxAge.Microseconds()),
		est:             newSyncEstimator(cfg.SyncCheckEvery, cfg.ErrorFilterGain, cfg.ErrorFilterDriftGain),
		w:               newWriter(out, format),
		hardResyncArmed: true,
	}
}

// resetTiming forgets calibration, error history and any cadence
func (rs *renderState) resetTiming() {
	rs.calibBase += rs.calib.Total()
	rs.calib = NewCalibration(rs.calib.max, rs.calib.intervalUs, rs.calib.maxAgeUs)
	rs.est.reset()
	rs.schedule.Clear()
	rs.holdUntilUs = 0
}

func (e *Engine) run(ctx context.Context, rs *renderState, done chan struct{}) {
	defer close(done)
	defer e.retire(rs)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(rs)
		}
	}
}

// step runs one tick on the current render state (manual rendering only)
func (e *Engine) step() {
	if e.rs != nil {
		e.tick(e.rs)
	}
}

func (e *Engine) tick(rs *renderState) {
	if e.paused.Load() {
		return
	}
	now := e.nowUs()

	e.replayPending()

	switch state := e.state.Load(); state {
	case StateWaitingForStart:
		if e.tickWaiting(rs, now) {
			e.tickPlaying(rs, now)
		}
	case StatePlaying, StateDraining:
		if e.startGate.Load() && !e.startWhenDue(rs, now, false) {
			if state == StateDraining && e.queue.queuedFrames() == 0 {
				e.exhaust(rs)
			}
			break
		}
		e.tickPlaying(rs, now)
	}

	e.publish(rs)
}

// tickWaiting drops stale audio and starts the device once enough is
// buffered and the head is due. Reports whether playback began.
func (e *Engine) tickWaiting(rs *renderState, now int64) bool {
	return e.startWhenDue(rs, now, true)
}

// startWhenDue starts the device on the frame that is due now. Leaving
// WAITING_FOR_START also needs StartBuffer queued; a gated start (draining
// began before the device ran) keeps its state and only waits for the head.
func (e *Engine) startWhenDue(rs *renderState, now int64, waiting bool) bool {
	if n, _ := e.dropStale(now, rs.format); n > 0 {
		log.Debug("Dropped stale chunks while waiting to start", "chunks", n)
	}

	head, ok := e.queue.peek()
	if !ok {
		return false
	}
	if waiting && rs.format.FramesToMicros(e.queue.queuedFrames()) < e.cfg.StartBuffer.Microseconds() {
		return false
	}
	playAt := e.playTimeUs(head.ServerTimeUs)
	if now < playAt {
		return false
	}

	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()

	if (waiting && e.state.Load() != StateWaitingForStart) || (!waiting && !e.startGate.Load()) {
		return false
	}
	if err := e.out.Play(); err != nil {
		e.deviceError("play", err)
		return false
	}
	e.deviceRunning.Store(true)
	if waiting {
		e.state.transition(StateWaitingForStart, StatePlaying)
	} else {
		e.startGate.Store(false)
	}
	e.graceUntilUs.Store(now + e.cfg.StartupGrace.Microseconds())

	// Start exactly on the frame that is due now
	if late := rs.format.MicrosToFrames(now - playAt); late > 0 {
		e.queue.trimHead(rs.format, late)
	}

	log.Info("Playback starting", "state", e.state.Load(), "late_us", now-playAt,
		"buffered_ms", rs.format.FramesToMicros(e.queue.queuedFrames())/1000)
	return true
}

// tickPlaying feeds the device and runs the periodic sync checks
func (e *Engine) tickPlaying(rs *renderState, now int64) {
	e.sampleCalibration(rs, now)

	if !e.deviceRunning.Load() {
		if !e.tryDevice(func() error { return e.out.Play() }, "play") {
			return
		}
		e.deviceRunning.Store(true)
	}

	if now >= rs.holdUntilUs {
		e.render(rs, now)
	}

	state := e.state.Load()
	starved := e.queue.queuedFrames() == 0 && !rs.w.hasPending()
	if starved && !rs.wasStarved && state == StatePlaying {
		e.counters.underruns.Add(1)
		log.Debug("Buffer underrun")
	}
	rs.wasStarved = starved

	if state == StateDraining {
		e.checkDrain(rs, now)
	}
}

// render moves queued chunks into the device until it stops accepting
func (e *Engine) render(rs *renderState, now int64) {
	for {
		done, err := rs.w.flush()
		if err != nil {
			e.deviceError("write", err)
			return
		}
		if !done {
			return
		}

		c, ok := e.queue.pop()
		if !ok {
			return
		}
		rs.w.stage(c, &rs.schedule)
		e.counters.chunksPlayed.Add(1)

		if rs.est.chunkRendered() {
			e.measure(rs, now)
			if s := e.state.Load(); s != StatePlaying && s != StateDraining {
				return
			}
			if now < rs.holdUntilUs {
				return
			}
		}
	}
}

// sampleCalibration pairs the device clock with the local clock
func (e *Engine) sampleCalibration(rs *renderState, now int64) {
	if !e.deviceRunning.Load() {
		return
	}
	ts, ok := e.out.HardwareTimestamp()
	if !ok {
		return
	}
	rs.calib.Add(ts.HardwareTimeUs, now)
}

// measure computes the sync error and updates the correction cadence
func (e *Engine) measure(rs *renderState, now int64) {
	if !rs.calib.Ready() || !rs.w.hasFed {
		return
	}
	ts, ok := e.out.HardwareTimestamp()
	if !ok {
		return
	}

	audibleLocal, _ := rs.calib.Map(ts.HardwareTimeUs)
	audibleLocal -= int64(e.clock.StaticDelayMs()) * 1000
	audibleServer := e.clock.ClientToServer(audibleLocal)

	inFlightUs := rs.format.FramesToMicros(rs.w.fedFrames - ts.FramePosition)
	raw := float64(audibleServer - readCursorUs(rs.w.lastFedServerUs, inFlightUs))
	smoothed := rs.est.update(raw, now)

	if !e.correctionsEnabled(rs, now) {
		rs.schedule.Clear()
	} else {
		interval := correctionInterval(smoothed, rs.format.SampleRate,
			e.cfg.Deadband, e.cfg.CorrectionHorizon, e.cfg.MaxCorrectionRatio)
		rs.schedule.apply(smoothed, interval)
	}

	if math.Abs(smoothed) > float64(e.cfg.ReanchorThreshold.Microseconds()) {
		e.recoverDesync(rs, smoothed, now)
	}
}

func (e *Engine) correctionsEnabled(rs *renderState, now int64) bool {
	return rs.calib.Ready() &&
		now >= e.graceUntilUs.Load() &&
		now >= e.stabilizeUntilUs.Load()
}

// recoverDesync reanchors when allowed, otherwise fires the one-shot hard resync
func (e *Engine) recoverDesync(rs *renderState, errorUs float64, now int64) {
	cooled := now-e.lastReanchorUs.Load() >= e.cfg.ReanchorCooldown.Microseconds()
	if e.state.Load() == StatePlaying && cooled && e.mu.TryLock() {
		reanchored := e.reanchorLocked(rs, errorUs, now)
		e.mu.Unlock()
		if reanchored {
			return
		}
	}

	if !rs.hardResyncArmed {
		return
	}
	rs.hardResyncArmed = false
	e.counters.hardResyncs.Add(1)

	if errorUs > 0 {
		// Behind: skip queued audio covering the error
		remaining := int64(errorUs)
		n, frames := e.queue.dropWhile(func(c audio.Chunk) bool {
			if remaining <= 0 {
				return false
			}
			remaining -= c.DurationUs(rs.format)
			return true
		})
		e.counters.chunksDropped.Add(int64(n))
		log.Warn("Hard resync: dropped queued audio", "error_ms", int64(errorUs)/1000, "chunks", n, "frames", frames)
	} else {
		// Ahead: hold output until the device catches up
		rs.holdUntilUs = now + int64(-errorUs)
		log.Warn("Hard resync: holding output", "error_ms", int64(errorUs)/1000)
	}
	rs.est.reset()
	rs.schedule.Clear()
}

// reanchorLocked throws away all timing state and waits for the next chunk
// to anchor on (mu held)
func (e *Engine) reanchorLocked(rs *renderState, errorUs float64, now int64) bool {
	e.ingressMu.Lock()
	if !e.state.transition(StatePlaying, StateReanchoring) {
		e.ingressMu.Unlock()
		return false
	}
	dropped := e.queue.clear()
	e.pending.clear()
	e.counters.pendingChunks.Store(0)
	e.normalizer.Reset()
	e.ingressMu.Unlock()

	e.pauseFlushLocked()
	e.startGate.Store(false)
	rs.w.deviceFlushed()
	rs.resetTiming()
	rs.hardResyncArmed = true
	e.counters.reanchors.Add(1)
	e.counters.chunksDropped.Add(int64(dropped))
	e.lastReanchorUs.Store(now)

	log.Warn("Reanchoring after severe desync", "error_ms", int64(errorUs)/1000, "dropped_chunks", dropped)

	// A chunk that arrived since the clear has already moved us on
	e.state.transition(StateReanchoring, StateInitializing)
	return true
}

// tryDevice runs a device call if mu is free; otherwise it is retried
// next tick
func (e *Engine) tryDevice(call func() error, op string) bool {
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()

	if err := call(); err != nil {
		e.deviceError(op, err)
		return false
	}
	return true
}

// inFlightFrames returns frames fed to the device but not yet played.
// Without a timestamp the device's own buffer count is used.
func (e *Engine) inFlightFrames(rs *renderState) int64 {
	if !rs.w.hasFed {
		return 0
	}
	ts, ok := e.out.HardwareTimestamp()
	if !ok {
		if br, ok := e.out.(output.BufferReporter); ok {
			return max(br.BufferedFrames(), 0)
		}
		return 0
	}
	if n := rs.w.fedFrames - ts.FramePosition; n > 0 {
		return n
	}
	return 0
}

// publish copies render-side values into the shared counters
func (e *Engine) publish(rs *renderState) {
	c := &e.counters
	c.framesWritten.Store(c.framesWrittenBase.Load() + rs.w.framesWritten)
	c.framesInserted.Store(c.framesInsertedBase.Load() + rs.w.framesInserted)
	c.framesDropped.Store(c.framesDroppedBase.Load() + rs.w.framesDropped)
	c.calibrationCount.Store(c.calibrationBase.Load() + rs.calibBase + rs.calib.Total())
	c.rawErrorUs.Store(int64(rs.est.rawUs))
	c.smoothedErrorUs.Store(int64(rs.est.smoothedUs))
	c.insertEvery.Store(rs.schedule.InsertEvery)
	c.dropEvery.Store(rs.schedule.DropEvery)

	frames := e.queue.queuedFrames() + rs.w.pendingFrames() + e.inFlightFrames(rs)
	c.bufferedUs.Store(rs.format.FramesToMicros(frames))
}
