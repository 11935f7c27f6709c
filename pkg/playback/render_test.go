// ABOUTME: Tests for render-loop timing behaviour
// ABOUTME: Reanchor, hard resync, draining, correction gating and start alignment
package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
)

var chunkDur = time.Duration(chunkUs) * time.Microsecond

func TestStartAlignsToDueFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.nextTs = h.now.Micros() + 100_000
	h.feed(12)
	h.e.step()

	// 5ms past the play time: the first 240 frames are already history
	h.advance(105 * time.Millisecond)
	if h.e.State() != StatePlaying {
		t.Fatalf("expected PLAYING, got %v", h.e.State())
	}

	h.out.mu.Lock()
	first := audio.ReadSample(h.out.data, 16)
	h.out.mu.Unlock()
	if first != 240 {
		t.Errorf("expected playback to begin at frame 240, got frame %d", first)
	}
}

func TestReanchorOnSevereDesync(t *testing.T) {
	h := newHarness(t, nil)
	h.startPlaying()
	h.playFor(300 * time.Millisecond)

	// The server clock jumps a full second
	h.clock.setOffset(time.Second.Microseconds())
	for i := 0; i < 200 && h.e.Stats().Reanchors == 0; i++ {
		h.playFor(chunkDur)
	}

	stats := h.e.Stats()
	if stats.Reanchors != 1 {
		t.Fatalf("expected 1 reanchor, got %d", stats.Reanchors)
	}
	if h.e.State() != StateInitializing {
		t.Errorf("expected INITIALIZING after reanchor, got %v", h.e.State())
	}
	if h.e.queue.queuedFrames() != 0 {
		t.Errorf("expected queue to be cleared, got %d frames", h.e.queue.queuedFrames())
	}
	if _, _, flushes := h.out.counts(); flushes == 0 {
		t.Error("expected device flush on reanchor")
	}

	states := h.recordedStates()
	n := len(states)
	if n < 2 || states[n-2] != StateReanchoring || states[n-1] != StateInitializing {
		t.Errorf("expected ... REANCHORING, INITIALIZING; got %v", states)
	}

	// The next chunk re-anchors
	h.feed(1)
	if h.e.State() != StateWaitingForStart {
		t.Errorf("expected WAITING_FOR_START on the next chunk, got %v", h.e.State())
	}
}

func TestHardResyncDuringCooldownIsOneShot(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ReanchorCooldown = time.Minute })
	h.startPlaying()
	h.playFor(300 * time.Millisecond)
	h.e.lastReanchorUs.Store(h.now.Micros())

	h.clock.setOffset(time.Second.Microseconds())
	for i := 0; i < 200 && h.e.Stats().HardResyncs == 0; i++ {
		h.playFor(chunkDur)
	}
	if h.e.Stats().HardResyncs != 1 {
		t.Fatalf("expected a hard resync, got %d", h.e.Stats().HardResyncs)
	}
	if h.e.Stats().ChunksDropped == 0 {
		t.Error("expected queued audio to be dropped for a positive error")
	}

	h.playFor(2 * time.Second)
	stats := h.e.Stats()
	if stats.HardResyncs != 1 {
		t.Errorf("expected the hard resync to fire once, got %d", stats.HardResyncs)
	}
	if stats.Reanchors != 0 {
		t.Errorf("expected no reanchor during cooldown, got %d", stats.Reanchors)
	}
	if h.e.State() != StatePlaying {
		t.Errorf("expected to keep PLAYING, got %v", h.e.State())
	}
}

func TestHardResyncHoldsOutputWhenAhead(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ReanchorCooldown = time.Minute })
	h.startPlaying()
	h.playFor(300 * time.Millisecond)
	h.e.lastReanchorUs.Store(h.now.Micros())

	h.clock.setOffset(-time.Second.Microseconds())
	for i := 0; i < 200 && h.e.Stats().HardResyncs == 0; i++ {
		h.playFor(chunkDur)
	}
	if h.e.Stats().HardResyncs != 1 {
		t.Fatalf("expected a hard resync, got %d", h.e.Stats().HardResyncs)
	}
	if h.e.rs.holdUntilUs <= h.now.Micros() {
		t.Fatal("expected output to be held")
	}

	written := h.e.Stats().FramesWritten
	h.playFor(300 * time.Millisecond)
	if h.e.Stats().FramesWritten != written {
		t.Error("expected no writes while holding")
	}
}

func TestDrainingUntilExhausted(t *testing.T) {
	var (
		mu        sync.Mutex
		lowTimes  []int64
		exhausted int
	)
	var h *harness
	h = newHarness(t, func(c *Config) {
		c.OnBufferLow = func(remainingMs int64) {
			mu.Lock()
			lowTimes = append(lowTimes, h.now.Micros())
			mu.Unlock()
			if remainingMs >= 1000 {
				t.Errorf("low-buffer callback with %dms remaining", remainingMs)
			}
		}
		c.OnBufferExhausted = func() {
			mu.Lock()
			exhausted++
			mu.Unlock()
		}
	})
	h.startPlaying()
	h.playFor(200 * time.Millisecond)
	h.feed(50) // about a second of headroom

	if !h.e.EnterDraining() {
		t.Fatal("expected draining to start")
	}
	for i := 0; i < 200 && h.e.State() == StateDraining; i++ {
		h.advance(20 * time.Millisecond)
	}

	if h.e.State() != StateInitializing {
		t.Fatalf("expected INITIALIZING after exhaustion, got %v", h.e.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if exhausted != 1 {
		t.Errorf("expected 1 exhaustion callback, got %d", exhausted)
	}
	if len(lowTimes) < 2 {
		t.Fatalf("expected repeated low-buffer callbacks, got %d", len(lowTimes))
	}
	for i := 1; i < len(lowTimes); i++ {
		if gap := lowTimes[i] - lowTimes[i-1]; gap < 500_000 {
			t.Errorf("low-buffer callbacks %dµs apart", gap)
		}
	}
	if stats := h.e.Stats(); stats.BufferUnderruns != 0 {
		t.Errorf("expected draining not to count underruns, got %d", stats.BufferUnderruns)
	}
	if _, pauses, flushes := h.out.counts(); pauses == 0 || flushes == 0 {
		t.Error("expected device pause and flush on exhaustion")
	}
}

func TestDrainingSplicesAfterReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.startPlaying()
	h.playFor(200 * time.Millisecond)

	h.e.EnterDraining()
	// Network down: time passes with no new chunks
	for i := 0; i < 5; i++ {
		h.advance(chunkDur)
	}
	h.nextTs += 5 * chunkUs
	h.e.ExitDraining()
	h.playFor(200 * time.Millisecond)

	stats := h.e.Stats()
	if stats.GapsFilled != 1 {
		t.Errorf("expected the outage to be filled once, got %d", stats.GapsFilled)
	}
	if h.e.State() != StatePlaying {
		t.Errorf("expected PLAYING, got %v", h.e.State())
	}
}

func TestCorrectionsGatedByGraceAndStabilization(t *testing.T) {
	h := newHarness(t, nil)
	h.startPlaying()

	// A 20ms delay trim leaves the device behind the fed audio
	h.clock.mu.Lock()
	h.clock.staticDelayMs = 20
	h.clock.mu.Unlock()

	h.playFor(400 * time.Millisecond)
	if s := h.e.Stats(); s.InsertEveryNFrames != 0 || s.DropEveryNFrames != 0 {
		t.Errorf("expected no correction during startup grace, got insert=%d drop=%d",
			s.InsertEveryNFrames, s.DropEveryNFrames)
	}

	h.playFor(1500 * time.Millisecond)
	s := h.e.Stats()
	if s.InsertEveryNFrames == 0 || s.DropEveryNFrames != 0 {
		t.Fatalf("expected insert-only correction, got insert=%d drop=%d", s.InsertEveryNFrames, s.DropEveryNFrames)
	}
	if s.FramesInserted == 0 {
		t.Error("expected frames to be inserted")
	}

	h.e.EnterDraining()
	h.e.ExitDraining()
	h.playFor(500 * time.Millisecond)
	s = h.e.Stats()
	if s.InsertEveryNFrames != 0 {
		t.Errorf("expected no correction during stabilization, got insert=%d", s.InsertEveryNFrames)
	}
	if s.StabilizationRemaining <= 0 {
		t.Error("expected stabilization window to be running")
	}
}

func TestRenderDoesNotWaitOnIngress(t *testing.T) {
	h := newHarness(t, nil)
	h.startPlaying()
	h.playFor(100 * time.Millisecond)
	h.feed(10)
	written := h.e.Stats().FramesWritten

	h.e.ingressMu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			h.advance(chunkDur)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		h.e.ingressMu.Unlock()
		t.Fatal("render tick blocked behind a chunk being queued")
	}
	h.e.ingressMu.Unlock()

	if h.e.Stats().FramesWritten <= written {
		t.Error("expected rendering to continue while a chunk is being queued")
	}
}

func TestDrainingWithoutTimestampsPlaysDeviceBuffer(t *testing.T) {
	h := newHarness(t, nil)
	h.startPlaying()
	h.playFor(200 * time.Millisecond)
	h.feed(5)

	h.out.mu.Lock()
	h.out.noTimestamp = true
	h.out.mu.Unlock()

	if !h.e.EnterDraining() {
		t.Fatal("expected draining to start")
	}
	var before int64
	for i := 0; i < 400 && h.e.State() == StateDraining; i++ {
		before = h.out.BufferedFrames()
		h.advance(5 * time.Millisecond)
	}

	if h.e.State() != StateInitializing {
		t.Fatalf("expected INITIALIZING after exhaustion, got %v", h.e.State())
	}
	// At most one tick of audio may still have been in the device
	if limit := testFormat.MicrosToFrames(5000); before > limit {
		t.Errorf("exhausted with %d frames still buffered in the device", before)
	}
}
