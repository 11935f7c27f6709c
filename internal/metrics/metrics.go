// ABOUTME: Prometheus exposition of playback engine and clock sync statistics
// ABOUTME: A collector snapshots engine Stats on every scrape
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sendspin/sendspin-sync/pkg/playback"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sendspin"

// StatsFunc returns the current engine statistics
type StatsFunc func() playback.Stats

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(playback.Stats) float64
}

// Collector implements prometheus.Collector over engine statistics
type Collector struct {
	stats   StatsFunc
	state   *prometheus.Desc
	metrics []metric
}

func counter(name, help string, v func(playback.Stats) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "playback", name), help, nil, nil),
		kind:  prometheus.CounterValue,
		value: v,
	}
}

func gauge(name, help string, v func(playback.Stats) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "playback", name), help, nil, nil),
		kind:  prometheus.GaugeValue,
		value: v,
	}
}

// NewCollector creates a collector reading from stats
func NewCollector(stats StatsFunc) *Collector {
	return &Collector{
		stats: stats,
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "playback", "state"),
			"Current playback state (1 for the active state)", []string{"state"}, nil),
		metrics: []metric{
			counter("chunks_received_total", "Chunks accepted at ingress", func(s playback.Stats) float64 { return float64(s.ChunksReceived) }),
			counter("chunks_played_total", "Chunks handed to the writer", func(s playback.Stats) float64 { return float64(s.ChunksPlayed) }),
			counter("chunks_dropped_total", "Chunks discarded as stale or skipped", func(s playback.Stats) float64 { return float64(s.ChunksDropped) }),
			counter("pending_dropped_total", "Chunks evicted from the pending buffer", func(s playback.Stats) float64 { return float64(s.PendingDropped) }),
			counter("gaps_filled_total", "Timeline gaps filled with silence", func(s playback.Stats) float64 { return float64(s.GapsFilled) }),
			counter("overlaps_trimmed_total", "Overlapping chunks trimmed", func(s playback.Stats) float64 { return float64(s.OverlapsTrimmed) }),
			counter("timeline_resets_total", "Timestamp jumps that restarted the stream timeline", func(s playback.Stats) float64 { return float64(s.TimelineResets) }),
			counter("frames_written_total", "Frames written to the output device", func(s playback.Stats) float64 { return float64(s.FramesWritten) }),
			counter("frames_inserted_total", "Frames duplicated by sync correction", func(s playback.Stats) float64 { return float64(s.FramesInserted) }),
			counter("frames_dropped_total", "Frames skipped by sync correction", func(s playback.Stats) float64 { return float64(s.FramesDropped) }),
			counter("reanchors_total", "Full timing reanchors after severe desync", func(s playback.Stats) float64 { return float64(s.Reanchors) }),
			counter("hard_resyncs_total", "One-shot hard resyncs", func(s playback.Stats) float64 { return float64(s.HardResyncs) }),
			counter("underruns_total", "Buffer underruns while playing", func(s playback.Stats) float64 { return float64(s.BufferUnderruns) }),
			counter("device_errors_total", "Output device call failures", func(s playback.Stats) float64 { return float64(s.DeviceErrors) }),
			gauge("queued_chunks", "Chunks waiting in the playback queue", func(s playback.Stats) float64 { return float64(s.QueuedChunks) }),
			gauge("pending_chunks", "Chunks held until clock sync is ready", func(s playback.Stats) float64 { return float64(s.PendingChunks) }),
			gauge("buffered_seconds", "Audio buffered ahead of the speaker", func(s playback.Stats) float64 { return float64(s.BufferedMs) / 1000 }),
			gauge("sync_error_seconds", "Smoothed sync error (positive = behind)", func(s playback.Stats) float64 { return float64(s.SmoothedErrorUs) / 1e6 }),
			gauge("raw_sync_error_seconds", "Last raw sync error measurement", func(s playback.Stats) float64 { return float64(s.RawErrorUs) / 1e6 }),
			gauge("insert_every_frames", "Frame insertion cadence (0 = off)", func(s playback.Stats) float64 { return float64(s.InsertEveryNFrames) }),
			gauge("drop_every_frames", "Frame drop cadence (0 = off)", func(s playback.Stats) float64 { return float64(s.DropEveryNFrames) }),
			gauge("clock_offset_seconds", "Server minus local clock offset", func(s playback.Stats) float64 { return float64(s.ClockOffsetUs) / 1e6 }),
			gauge("clock_drift_ppm", "Server clock drift relative to local", func(s playback.Stats) float64 { return s.ClockDriftPPM }),
			gauge("clock_error_seconds", "Estimated clock mapping error", func(s playback.Stats) float64 { return float64(s.ClockErrorUs) / 1e6 }),
		},
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for _, st := range playback.States() {
		v := 0.0
		if st == s.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.String())
	}
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s))
	}
}

// Handler returns an HTTP handler serving the collector on its own registry
func Handler(stats StatsFunc) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(stats))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, stats StatsFunc) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(stats))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
