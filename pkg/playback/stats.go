// ABOUTME: Engine diagnostics
// ABOUTME: Atomic counters updated by ingress and render, copied into a Stats snapshot
package playback

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of engine counters and gauges
type Stats struct {
	State  State
	Paused bool

	// Ingress
	ChunksReceived int64
	ChunksPlayed   int64
	ChunksDropped  int64
	PendingDropped int64
	PendingChunks  int64
	QueuedChunks   int64

	// Normalizer
	NormalizerStats

	// Writer
	FramesWritten  int64
	FramesInserted int64
	FramesDropped  int64

	// Timing
	Reanchors              int64
	HardResyncs            int64
	BufferUnderruns        int64
	CalibrationCount       int64
	RawErrorUs             int64
	SmoothedErrorUs        int64
	InsertEveryNFrames     int64
	DropEveryNFrames       int64
	GraceRemaining         time.Duration
	StabilizationRemaining time.Duration
	BufferedMs             int64

	// Clock collaborator
	ClockOffsetUs  int64
	ClockDriftPPM  float64
	ClockErrorUs   int64
	ClockConverged bool

	DeviceErrors int64
}

// counters are shared between goroutines; gauges are published by the
// render goroutine at the end of every tick
type counters struct {
	chunksReceived atomic.Int64
	chunksPlayed   atomic.Int64
	chunksDropped  atomic.Int64
	pendingDropped atomic.Int64
	pendingChunks  atomic.Int64
	normalizer     atomic.Pointer[NormalizerStats]

	framesWritten  atomic.Int64
	framesInserted atomic.Int64
	framesDropped  atomic.Int64

	reanchors        atomic.Int64
	hardResyncs      atomic.Int64
	underruns        atomic.Int64
	calibrationCount atomic.Int64
	rawErrorUs       atomic.Int64
	smoothedErrorUs  atomic.Int64
	insertEvery      atomic.Int64
	dropEvery        atomic.Int64
	bufferedUs       atomic.Int64

	deviceErrors atomic.Int64

	// Totals from finished render loops
	framesWrittenBase  atomic.Int64
	framesInsertedBase atomic.Int64
	framesDroppedBase  atomic.Int64
	calibrationBase    atomic.Int64
}

// logLimiter lets the first few events through, then every Nth
type logLimiter struct {
	first int64
	every int64
	n     atomic.Int64
}

func (l *logLimiter) allow() bool {
	n := l.n.Add(1)
	return n <= l.first || (l.every > 0 && n%l.every == 0)
}
