// ABOUTME: Test doubles for the playback engine
// ABOUTME: Manual time, a controllable clock source and a recording output device
package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
)

var testFormat = audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}

const chunkFrames = 1000

// chunkUs is the duration of one test chunk (1000 frames at 48kHz)
var chunkUs = testFormat.FramesToMicros(chunkFrames)

type manualTime struct {
	mu sync.Mutex
	t  time.Time
}

func newManualTime() *manualTime {
	return &manualTime{t: time.Unix(1_700_000_000, 0)}
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

func (m *manualTime) Micros() int64 {
	return m.Now().UnixMicro()
}

// fakeClock maps server = client + offset
type fakeClock struct {
	mu            sync.Mutex
	ready         bool
	offsetUs      int64
	staticDelayMs int
}

func (c *fakeClock) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeClock) setReady(r bool) {
	c.mu.Lock()
	c.ready = r
	c.mu.Unlock()
}

func (c *fakeClock) setOffset(us int64) {
	c.mu.Lock()
	c.offsetUs = us
	c.mu.Unlock()
}

func (c *fakeClock) IsConverged() bool { return c.IsReady() }

func (c *fakeClock) ServerToClient(serverUs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return serverUs - c.offsetUs
}

func (c *fakeClock) ClientToServer(clientUs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clientUs + c.offsetUs
}

func (c *fakeClock) OffsetMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsetUs
}

func (c *fakeClock) DriftPPM() float64     { return 0 }
func (c *fakeClock) ErrorMicros() int64    { return 0 }
func (c *fakeClock) MeasurementCount() int { return 10 }

func (c *fakeClock) StaticDelayMs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staticDelayMs
}

// fakeOutput is a paced WAV device that records calls and can fail on demand
type fakeOutput struct {
	*output.WAV

	mu        sync.Mutex
	bpf       int
	data      []byte
	openErr   error
	writeErr  error
	plays     int
	pauses    int
	flushes   int
	maxFrames int // per Write; 0 = unlimited

	noTimestamp bool
}

func newFakeOutput(mt *manualTime) *fakeOutput {
	return &fakeOutput{WAV: output.NewWAV("", output.WithWAVClock(mt.Now))}
}

func (f *fakeOutput) Open(sampleRate, channels, bitDepth int) error {
	f.mu.Lock()
	err := f.openErr
	f.bpf = channels * bitDepth / 8
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.WAV.Open(sampleRate, channels, bitDepth)
}

func (f *fakeOutput) Write(pcm []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.maxFrames > 0 && len(pcm) > f.maxFrames*f.bpf {
		pcm = pcm[:f.maxFrames*f.bpf]
	}
	n, err := f.WAV.Write(pcm)
	f.data = append(f.data, pcm[:n*f.bpf]...)
	return n, err
}

func (f *fakeOutput) Play() error {
	f.mu.Lock()
	f.plays++
	f.mu.Unlock()
	return f.WAV.Play()
}

func (f *fakeOutput) Pause() error {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
	return f.WAV.Pause()
}

func (f *fakeOutput) Flush() error {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return f.WAV.Flush()
}

func (f *fakeOutput) HardwareTimestamp() (output.Timestamp, bool) {
	f.mu.Lock()
	off := f.noTimestamp
	f.mu.Unlock()
	if off {
		return output.Timestamp{}, false
	}
	return f.WAV.HardwareTimestamp()
}

func (f *fakeOutput) counts() (plays, pauses, flushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays, f.pauses, f.flushes
}

// harness drives an engine with manual time and manual render ticks
type harness struct {
	t      *testing.T
	now    *manualTime
	clock  *fakeClock
	out    *fakeOutput
	e      *Engine
	nextTs int64

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		now:   newManualTime(),
		clock: &fakeClock{ready: true},
	}
	h.out = newFakeOutput(h.now)

	cfg := DefaultConfig()
	cfg.Now = h.now.Now
	cfg.OnPlaybackStateChanged = func(s State) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	}
	if configure != nil {
		configure(&cfg)
	}

	h.e = NewEngine(h.clock, h.out, cfg)
	h.e.manualRender = true
	h.nextTs = h.now.Micros()
	return h
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.e.Start(testFormat); err != nil {
		h.t.Fatalf("start: %v", err)
	}
}

// pcmFrames returns n frames whose first sample encodes the frame index
func pcmFrames(n int, base int) []byte {
	bpf := testFormat.BytesPerFrame()
	pcm := make([]byte, n*bpf)
	for i := 0; i < n; i++ {
		audio.PutSample(pcm[i*bpf:], 16, int32((base+i)%30000))
	}
	return pcm
}

// feed queues n back-to-back chunks
func (h *harness) feed(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		if err := h.e.QueueChunk(h.nextTs, pcmFrames(chunkFrames, 0)); err != nil {
			h.t.Fatalf("queue chunk: %v", err)
		}
		h.nextTs += chunkUs
	}
}

// advance moves time forward and runs one render tick
func (h *harness) advance(d time.Duration) {
	h.now.Advance(d)
	h.e.step()
}

// startPlaying gets the engine to PLAYING with a 100ms lead
func (h *harness) startPlaying() {
	h.t.Helper()
	h.start()
	h.nextTs = h.now.Micros() + 100_000
	h.feed(20)
	h.e.step()
	if s := h.e.State(); s != StateWaitingForStart {
		h.t.Fatalf("expected WAITING_FOR_START, got %v", s)
	}
	h.advance(100 * time.Millisecond)
	if s := h.e.State(); s != StatePlaying {
		h.t.Fatalf("expected PLAYING, got %v", s)
	}
}

// playFor keeps the feed real-time for d, one chunk per tick
func (h *harness) playFor(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Duration(chunkUs) * time.Microsecond {
		h.feed(1)
		h.advance(time.Duration(chunkUs) * time.Microsecond)
	}
}

func (h *harness) recordedStates() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}
