// ABOUTME: Offline harness that drives the playback engine with a synthetic server
// ABOUTME: Injects jitter, gaps, overlaps, clock drift and an outage, then prints engine stats
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
	"github.com/Sendspin/sendspin-sync/pkg/playback"
	clocksync "github.com/Sendspin/sendspin-sync/pkg/sync"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	duration     time.Duration
	chunk        time.Duration
	lead         time.Duration
	jitter       time.Duration
	gapEvery     int
	overlapEvery int
	offset       time.Duration
	driftPPM     float64
	outageAt     time.Duration
	outageFor    time.Duration
	wavPath      string
	verbose      bool
}

func main() {
	var o options
	pflag.DurationVar(&o.duration, "duration", 20*time.Second, "How long to run")
	pflag.DurationVar(&o.chunk, "chunk", 20*time.Millisecond, "Chunk duration")
	pflag.DurationVar(&o.lead, "lead", 300*time.Millisecond, "How far ahead of play time chunks are sent")
	pflag.DurationVar(&o.jitter, "jitter", 2*time.Millisecond, "Max timestamp jitter per chunk")
	pflag.IntVar(&o.gapEvery, "gap-every", 97, "Skip one chunk every N (0 = never)")
	pflag.IntVar(&o.overlapEvery, "overlap-every", 131, "Resend overlapping audio every N chunks (0 = never)")
	pflag.DurationVar(&o.offset, "offset", 3*time.Second, "Server clock offset from local")
	pflag.Float64Var(&o.driftPPM, "drift-ppm", 40, "Server clock drift")
	pflag.DurationVar(&o.outageAt, "outage-at", 8*time.Second, "When the simulated connection drops (0 = never)")
	pflag.DurationVar(&o.outageFor, "outage-for", 1500*time.Millisecond, "How long the outage lasts")
	pflag.StringVar(&o.wavPath, "wav", "", "Write rendered audio to this WAV file")
	pflag.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging")
	pflag.Parse()

	if o.verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := simulate(ctx, o)
	if err != nil {
		log.Error("Simulation failed", "err", err)
		os.Exit(1)
	}
	printStats(stats)
}

// serverClock is local time scaled by drift and shifted by offset
type serverClock struct {
	start    int64
	offsetUs int64
	drift    float64
}

func (s serverClock) at(localUs int64) int64 {
	return localUs + s.offsetUs + int64(float64(localUs-s.start)*s.drift)
}

func simulate(ctx context.Context, o options) (playback.Stats, error) {
	format := audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}

	server := serverClock{
		start:    time.Now().UnixMicro(),
		offsetUs: o.offset.Microseconds(),
		drift:    o.driftPPM / 1e6,
	}
	clock := clocksync.NewClockSync()
	out := output.NewWAV(o.wavPath)

	engine := playback.NewEngine(clock, out, playback.Config{
		OnPlaybackStateChanged: func(s playback.State) {
			log.Info("Playback state", "state", s)
		},
		OnBufferLow: func(remainingMs int64) {
			log.Info("Draining low", "remaining_ms", remainingMs)
		},
		OnBufferExhausted: func() {
			log.Warn("Drain exhausted")
		},
	})
	defer engine.Close()

	if err := engine.Start(format); err != nil {
		return playback.Stats{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncLoop(ctx, clock, server) })
	g.Go(func() error { return feedLoop(ctx, o, format, engine, server) })
	g.Go(func() error { return reportLoop(ctx, engine) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return playback.Stats{}, err
	}
	return engine.Stats(), nil
}

// syncLoop answers time sync exchanges with a 2-6ms round trip
func syncLoop(ctx context.Context, clock *clocksync.ClockSync, server serverClock) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		t1 := time.Now().UnixMicro()
		rtt := 2000 + rand.Int64N(4000)
		t2 := server.at(t1 + rtt/2)
		clock.ProcessSyncResponse(t1, t2, t2+50, t1+rtt+50)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// feedLoop sends a 440Hz tone in real time, with injected faults
func feedLoop(ctx context.Context, o options, format audio.Format, engine *playback.Engine, server serverClock) error {
	frames := format.MicrosToFrames(o.chunk.Microseconds())
	chunkUs := format.FramesToMicros(frames)
	start := time.Now()

	nextTs := server.at(start.UnixMicro()) + o.lead.Microseconds()
	var phase float64
	outageDone := o.outageAt <= 0

	ticker := time.NewTicker(o.chunk)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !outageDone && time.Since(start) >= o.outageAt {
			outageDone = true
			log.Warn("Simulating connection loss", "for", o.outageFor)
			engine.EnterDraining()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(o.outageFor):
			}
			engine.ExitDraining()
			// The server kept streaming; resume at its current timeline
			nextTs = server.at(time.Now().UnixMicro()) + o.lead.Microseconds()
			log.Info("Connection restored")
		}

		ts := nextTs
		nextTs += chunkUs

		if o.gapEvery > 0 && i%o.gapEvery == 0 {
			phase += float64(frames)
			continue
		}
		if o.overlapEvery > 0 && i%o.overlapEvery == 0 {
			ts -= chunkUs / 4
		}
		if o.jitter > 0 {
			ts += rand.Int64N(2*o.jitter.Microseconds()+1) - o.jitter.Microseconds()
		}

		pcm := tone(format, frames, &phase)
		if err := engine.QueueChunk(ts, pcm); err != nil {
			return fmt.Errorf("queue chunk: %w", err)
		}
	}
}

func tone(format audio.Format, frames int64, phase *float64) []byte {
	bpf := format.BytesPerFrame()
	pcm := make([]byte, int(frames)*bpf)
	step := 2 * math.Pi * 440 / float64(format.SampleRate)
	for i := 0; i < int(frames); i++ {
		v := int32(math.Sin(*phase*step) * 8000)
		for ch := 0; ch < format.Channels; ch++ {
			audio.PutSample(pcm[i*bpf+ch*format.BitDepth/8:], format.BitDepth, v)
		}
		*phase++
	}
	return pcm
}

func reportLoop(ctx context.Context, engine *playback.Engine) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := engine.Stats()
			log.Info("Engine", "state", s.State, "buffered_ms", s.BufferedMs,
				"error_us", s.SmoothedErrorUs, "insert_every", s.InsertEveryNFrames,
				"drop_every", s.DropEveryNFrames, "drift_ppm", fmt.Sprintf("%.1f", s.ClockDriftPPM))
		}
	}
}

func printStats(s playback.Stats) {
	rows := []struct {
		name  string
		value any
	}{
		{"state", s.State},
		{"chunks received", s.ChunksReceived},
		{"chunks played", s.ChunksPlayed},
		{"chunks dropped", s.ChunksDropped},
		{"gaps filled", s.GapsFilled},
		{"silence frames", s.SilenceFramesInserted},
		{"overlaps trimmed", s.OverlapsTrimmed},
		{"overlap chunks dropped", s.OverlapChunksDropped},
		{"timeline resets", s.TimelineResets},
		{"frames written", s.FramesWritten},
		{"frames inserted", s.FramesInserted},
		{"frames dropped", s.FramesDropped},
		{"reanchors", s.Reanchors},
		{"hard resyncs", s.HardResyncs},
		{"underruns", s.BufferUnderruns},
		{"smoothed error (us)", s.SmoothedErrorUs},
		{"clock drift (ppm)", fmt.Sprintf("%.2f", s.ClockDriftPPM)},
	}
	fmt.Println("=== Sync simulation ===")
	for _, r := range rows {
		fmt.Printf("%-24s %v\n", r.name, r.value)
	}
}
