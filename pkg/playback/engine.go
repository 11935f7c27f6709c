// ABOUTME: Synchronized playback engine
// ABOUTME: Public lifecycle, chunk ingress and diagnostics around the render loop
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
	"github.com/charmbracelet/log"
)

var (
	// ErrNotStarted is returned when an operation needs a running engine
	ErrNotStarted = errors.New("playback engine not started")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("playback engine closed")
	// ErrInvalidFormat is returned by Start for formats that are not PCM
	ErrInvalidFormat = audio.ErrInvalidFormat
)

// ClockSource maps between the server clock and the local clock.
// Times are microseconds; local time is Unix time.
type ClockSource interface {
	IsReady() bool
	IsConverged() bool
	ServerToClient(serverUs int64) int64
	ClientToServer(clientUs int64) int64
	OffsetMicros() int64
	DriftPPM() float64
	ErrorMicros() int64
	StaticDelayMs() int
	MeasurementCount() int
}

// Engine renders timestamped PCM to an output device in sync with a
// server clock.
//
// Lock order: mu, then ingressMu, then the queue's own mutex. The render
// goroutine only ever TryLocks mu.
type Engine struct {
	cfg   Config
	clock ClockSource
	out   output.Output

	mu            sync.Mutex // lifecycle and device control
	closed        bool
	cancel        context.CancelFunc
	done          chan struct{}
	manualRender  bool // tests drive ticks through step()
	rs            *renderState
	deviceRunning atomic.Bool
	started       atomic.Bool
	paused        atomic.Bool
	startGate     atomic.Bool // device not started yet; wait for the head's play time

	state stateMachine

	ingressMu  sync.Mutex
	format     audio.Format
	normalizer *Normalizer
	pending    *pendingList

	queue chunkQueue

	// Local µs deadlines, written by lifecycle calls and the render loop
	graceUntilUs     atomic.Int64
	stabilizeUntilUs atomic.Int64
	lastReanchorUs   atomic.Int64
	drainingSinceUs  atomic.Int64

	counters   counters
	writeLog   logLimiter
	pendingLog logLimiter
}

// NewEngine creates an engine. Zero Config fields take their defaults.
func NewEngine(clock ClockSource, out output.Output, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:        cfg,
		clock:      clock,
		out:        out,
		normalizer: NewNormalizer(audio.Format{}, cfg.GapThreshold.Microseconds(), cfg.MaxGapFill.Microseconds()),
		pending:    newPendingList(cfg.PendingCapacity),
		writeLog:   logLimiter{first: 5, every: 100},
		pendingLog: logLimiter{first: 1, every: 100},
	}
	e.state.onChange = func(s State) {
		log.Debug("Playback state changed", "state", s)
		if cfg.OnPlaybackStateChanged != nil {
			cfg.OnPlaybackStateChanged(s)
		}
	}
	e.counters.normalizer.Store(&NormalizerStats{})
	return e
}

func (e *Engine) nowUs() int64 {
	return e.cfg.Now().UnixMicro()
}

// playTimeUs maps a server timestamp to the local time it should be heard
func (e *Engine) playTimeUs(serverUs int64) int64 {
	return e.clock.ServerToClient(serverUs) + int64(e.clock.StaticDelayMs())*1000
}

// State returns the current playback state
func (e *Engine) State() State {
	return e.state.Load()
}

// Started reports whether Start succeeded and no Stop followed
func (e *Engine) Started() bool {
	return e.started.Load()
}

// Format returns the active stream format
func (e *Engine) Format() audio.Format {
	e.ingressMu.Lock()
	defer e.ingressMu.Unlock()
	return e.format
}

// Start opens the device for format and starts the render loop.
// A running engine is stopped first.
func (e *Engine) Start(format audio.Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	if e.started.Load() {
		e.stopLocked()
	}

	if err := e.out.Open(format.SampleRate, format.Channels, format.BitDepth); err != nil {
		return fmt.Errorf("open output device: %w", err)
	}

	e.ingressMu.Lock()
	e.format = format
	e.normalizer.SetFormat(format)
	e.pending.clear()
	e.counters.pendingChunks.Store(0)
	e.queue.clear()
	e.ingressMu.Unlock()

	e.state.reset()
	e.paused.Store(false)
	e.deviceRunning.Store(false)
	e.startGate.Store(false)
	e.started.Store(true)
	e.startLoopLocked()

	log.Info("Playback started", "format", format.String())
	return nil
}

// Stop halts rendering, stops the device and discards all buffered audio
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started.Load() {
		e.state.reset()
		return nil
	}
	e.stopLocked()
	log.Info("Playback stopped")
	return nil
}

func (e *Engine) stopLocked() {
	e.stopLoopLocked()
	if err := e.out.Stop(); err != nil {
		e.deviceError("stop", err)
	}
	e.deviceRunning.Store(false)
	e.startGate.Store(false)
	e.clearIngress()
	e.state.reset()
	e.paused.Store(false)
	e.started.Store(false)
}

// ClearBuffer discards all buffered audio and returns to INITIALIZING
// without closing the device
func (e *Engine) ClearBuffer() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started.Load() {
		e.state.reset()
		return nil
	}

	e.stopLoopLocked()
	e.pauseFlushLocked()
	e.startGate.Store(false)
	e.clearIngress()
	e.state.reset()
	e.startLoopLocked()

	log.Info("Playback buffer cleared")
	return nil
}

// Pause suspends the device and rendering; the state is unchanged and
// incoming chunks keep buffering
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started.Load() || e.paused.Load() {
		return nil
	}
	e.stopLoopLocked()
	if err := e.out.Pause(); err != nil {
		e.deviceError("pause", err)
	}
	e.deviceRunning.Store(false)
	e.paused.Store(true)

	log.Info("Playback paused", "state", e.state.Load())
	return nil
}

// Resume restarts rendering after Pause with fresh calibration and a new
// startup grace window. Audio that went stale while paused is dropped.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started.Load() || !e.paused.Load() {
		return nil
	}

	// The device still holds audio from before the pause
	if err := e.out.Flush(); err != nil {
		e.deviceError("flush", err)
	}
	now := e.nowUs()
	if n, _ := e.dropStale(now, e.format); n > 0 {
		log.Info("Dropped stale chunks after pause", "chunks", n)
	}

	e.paused.Store(false)
	e.startLoopLocked()

	switch e.state.Load() {
	case StatePlaying, StateDraining:
		if e.startGate.Load() {
			break
		}
		if err := e.out.Play(); err != nil {
			e.deviceError("play", err)
		} else {
			e.deviceRunning.Store(true)
		}
		e.graceUntilUs.Store(now + e.cfg.StartupGrace.Microseconds())
	}

	log.Info("Playback resumed", "state", e.state.Load())
	return nil
}

// EnterDraining keeps rendering from the buffer alone while the network
// recovers. It succeeds only from PLAYING or WAITING_FOR_START. From
// WAITING_FOR_START the device still starts on the head chunk's play time.
func (e *Engine) EnterDraining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.state.Load()
	if from != StatePlaying && from != StateWaitingForStart {
		return false
	}
	if !e.state.transition(from, StateDraining) {
		return false
	}

	e.drainingSinceUs.Store(e.nowUs())
	if from == StateWaitingForStart {
		e.startGate.Store(true)
	}

	log.Info("Entered draining mode", "from", from, "buffered_ms", e.bufferedMs())
	return true
}

// ExitDraining returns to PLAYING after a reconnect. Corrections stay off
// for the stabilization window.
func (e *Engine) ExitDraining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.transition(StateDraining, StatePlaying) {
		return false
	}
	now := e.nowUs()
	e.stabilizeUntilUs.Store(now + e.cfg.ReconnectStabilization.Microseconds())

	log.Info("Exited draining mode",
		"drained_for", time.Duration(now-e.drainingSinceUs.Load())*time.Microsecond,
		"buffered_ms", e.bufferedMs())
	return true
}

// Close stops the engine and releases the device
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if e.started.Load() {
		e.stopLocked()
	}
	e.closed = true
	if err := e.out.Release(); err != nil {
		return fmt.Errorf("release output device: %w", err)
	}
	return nil
}

// QueueChunk accepts one unit of interleaved PCM stamped with server time.
// It never waits for the render loop.
func (e *Engine) QueueChunk(serverTimeUs int64, pcm []byte) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.ingressMu.Lock()
	defer e.ingressMu.Unlock()

	e.counters.chunksReceived.Add(1)

	if !e.clock.IsReady() {
		before := e.pending.dropped
		e.pending.push(serverTimeUs, pcm)
		e.counters.pendingChunks.Store(int64(e.pending.len()))
		if e.pending.dropped > before {
			e.counters.pendingDropped.Add(e.pending.dropped - before)
			if e.pendingLog.allow() {
				log.Warn("Clock not ready, pending list full; dropping oldest chunk", "capacity", e.cfg.PendingCapacity)
			}
		}
		return nil
	}

	e.replayPendingLocked()
	e.ingestLocked(serverTimeUs, pcm)
	return nil
}

// replayPending moves held chunks into the queue once the clock is ready.
// The render loop only takes ingressMu when there is something to replay.
func (e *Engine) replayPending() {
	if e.counters.pendingChunks.Load() == 0 || !e.clock.IsReady() {
		return
	}
	e.ingressMu.Lock()
	defer e.ingressMu.Unlock()

	if e.pending.len() == 0 || !e.clock.IsReady() {
		return
	}
	e.replayPendingLocked()
}

func (e *Engine) replayPendingLocked() {
	if e.pending.len() == 0 {
		return
	}
	items := e.pending.take()
	e.counters.pendingChunks.Store(0)
	for _, p := range items {
		e.ingestLocked(p.serverTimeUs, p.pcm)
	}
	log.Debug("Replayed pending chunks", "chunks", len(items))
}

// ingestLocked normalizes one chunk into the queue (ingressMu held)
func (e *Engine) ingestLocked(serverTimeUs int64, pcm []byte) {
	chunks := e.normalizer.Process(serverTimeUs, pcm)
	stats := e.normalizer.Stats()
	e.counters.normalizer.Store(&stats)
	if len(chunks) == 0 {
		return
	}

	for i := range chunks {
		chunks[i].ClientPlayTimeUs = e.playTimeUs(chunks[i].ServerTimeUs)
	}
	e.queue.push(chunks...)

	switch e.state.Load() {
	case StateInitializing:
		if e.state.transition(StateInitializing, StateWaitingForStart) {
			log.Debug("First chunk queued", "server_us", chunks[0].ServerTimeUs,
				"play_in", time.Duration(chunks[0].ClientPlayTimeUs-e.nowUs())*time.Microsecond)
		}
	case StateReanchoring:
		e.state.transition(StateReanchoring, StateWaitingForStart)
	}
}

// clearIngress drops queued and pending audio and re-seeds the normalizer
func (e *Engine) clearIngress() {
	e.ingressMu.Lock()
	defer e.ingressMu.Unlock()

	e.queue.clear()
	e.pending.clear()
	e.counters.pendingChunks.Store(0)
	e.normalizer.Reset()
}

// dropStale removes head chunks whose audio already lies in the past
func (e *Engine) dropStale(nowUs int64, format audio.Format) (int, int64) {
	n, frames := e.queue.dropWhile(func(c audio.Chunk) bool {
		return e.playTimeUs(c.ServerTimeUs)+c.DurationUs(format) < nowUs
	})
	e.counters.chunksDropped.Add(int64(n))
	return n, frames
}

// pauseFlushLocked pauses and empties the device (mu held)
func (e *Engine) pauseFlushLocked() {
	if err := e.out.Pause(); err != nil {
		e.deviceError("pause", err)
	}
	if err := e.out.Flush(); err != nil {
		e.deviceError("flush", err)
	}
	e.deviceRunning.Store(false)
}

func (e *Engine) deviceError(op string, err error) {
	e.counters.deviceErrors.Add(1)
	if e.writeLog.allow() {
		log.Warn("Output device error", "op", op, "err", err, "total", e.counters.deviceErrors.Load())
	}
}

// startLoopLocked starts a render goroutine with fresh render state (mu held)
func (e *Engine) startLoopLocked() {
	rs := newRenderState(e.cfg, e.format, e.out)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.rs = rs

	if e.manualRender {
		close(done)
		return
	}
	go e.run(ctx, rs, done)
}

// stopLoopLocked cancels the render goroutine and waits for it, bounded by
// JoinTimeout (mu held)
func (e *Engine) stopLoopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(e.cfg.JoinTimeout):
		// The goroutine folds its own totals in when it finally exits
		log.Error("Render loop did not stop in time", "timeout", e.cfg.JoinTimeout)
	}
	if e.manualRender && e.rs != nil {
		e.retire(e.rs)
	}
	e.cancel = nil
	e.done = nil
	e.rs = nil
}

// retire folds a finished render loop's totals into the engine counters.
// Called by the render goroutine itself before it signals done.
func (e *Engine) retire(rs *renderState) {
	c := &e.counters
	c.framesWrittenBase.Add(rs.w.framesWritten)
	c.framesInsertedBase.Add(rs.w.framesInserted)
	c.framesDroppedBase.Add(rs.w.framesDropped)
	c.calibrationBase.Add(rs.calibBase + rs.calib.Total())
}

func (e *Engine) bufferedMs() int64 {
	return e.counters.bufferedUs.Load() / 1000
}

// Stats returns a snapshot of all counters and gauges
func (e *Engine) Stats() Stats {
	now := e.nowUs()
	remaining := func(untilUs int64) time.Duration {
		if d := untilUs - now; d > 0 {
			return time.Duration(d) * time.Microsecond
		}
		return 0
	}

	c := &e.counters
	s := Stats{
		State:                  e.state.Load(),
		Paused:                 e.paused.Load(),
		ChunksReceived:         c.chunksReceived.Load(),
		ChunksPlayed:           c.chunksPlayed.Load(),
		ChunksDropped:          c.chunksDropped.Load(),
		PendingDropped:         c.pendingDropped.Load(),
		PendingChunks:          c.pendingChunks.Load(),
		QueuedChunks:           int64(e.queue.len()),
		NormalizerStats:        *c.normalizer.Load(),
		FramesWritten:          c.framesWritten.Load(),
		FramesInserted:         c.framesInserted.Load(),
		FramesDropped:          c.framesDropped.Load(),
		Reanchors:              c.reanchors.Load(),
		HardResyncs:            c.hardResyncs.Load(),
		BufferUnderruns:        c.underruns.Load(),
		CalibrationCount:       c.calibrationCount.Load(),
		RawErrorUs:             c.rawErrorUs.Load(),
		SmoothedErrorUs:        c.smoothedErrorUs.Load(),
		InsertEveryNFrames:     c.insertEvery.Load(),
		DropEveryNFrames:       c.dropEvery.Load(),
		GraceRemaining:         remaining(e.graceUntilUs.Load()),
		StabilizationRemaining: remaining(e.stabilizeUntilUs.Load()),
		BufferedMs:             c.bufferedUs.Load() / 1000,
		ClockOffsetUs:          e.clock.OffsetMicros(),
		ClockDriftPPM:          e.clock.DriftPPM(),
		ClockErrorUs:           e.clock.ErrorMicros(),
		ClockConverged:         e.clock.IsConverged(),
		DeviceErrors:           c.deviceErrors.Load(),
	}
	return s
}
