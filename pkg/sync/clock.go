// ABOUTME: Clock synchronization with drift compensation
// ABOUTME: Tracks offset AND drift between the server clock and the local clock
package sync

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	maxSyncRTT         = 100_000 // µs; samples above are discarded as congested
	maxSyncResidual    = 50_000  // µs; larger jumps after warm-up are outliers
	degradedRTT        = 50_000  // µs
	lostAfter          = 5 * time.Second
	convergedSamples   = 5
	convergedErrorUs   = 5_000
	residualSmoothing  = 0.2
	defaultSmoothing   = 0.1
	defaultDriftWeight = 0.1
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// ClockSync maps between server time and local time (both Unix µs).
// It is the clock-offset collaborator consumed by the playback engine.
type ClockSync struct {
	mu       sync.RWMutex
	filter   *OffsetDriftFilter // offset = server - client
	rtt      int64
	errorUs  float64 // smoothed |residual|
	quality  Quality
	lastSync time.Time

	staticDelayMs atomic.Int64
}

// NewClockSync creates a new clock synchronizer
func NewClockSync() *ClockSync {
	return &ClockSync{
		filter:  NewOffsetDriftFilter(defaultSmoothing, defaultDriftWeight),
		quality: QualityLost,
	}
}

// ProcessSyncResponse processes a server/time response.
// t1/t4 are client transmit/receive (local µs), t2/t3 server receive/transmit (server µs).
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measuredOffset := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.lastSync = time.Now()

	if rtt > maxSyncRTT {
		log.Debug("Discarding sync sample", "rtt_us", rtt)
		return
	}

	count := cs.filter.Count()
	if count >= 2 {
		residual := cs.filter.Residual(float64(measuredOffset), t4)
		if math.Abs(residual) > maxSyncResidual {
			log.Warn("Discarding sync sample: large residual (possible clock jump)", "residual_us", int64(residual))
			return
		}
		cs.errorUs += residualSmoothing * (math.Abs(residual) - cs.errorUs)
	} else {
		// Until drift is known, the RTT bounds the error
		cs.errorUs = float64(rtt) / 2
	}

	cs.filter.Update(float64(measuredOffset), t4)

	if rtt < degradedRTT {
		cs.quality = QualityGood
	} else {
		cs.quality = QualityDegraded
	}

	if n := cs.filter.Count(); n <= 3 || n%30 == 0 {
		log.Debug("Clock sync", "n", n, "offset_us", int64(cs.filter.Offset()),
			"drift_ppm", cs.filter.Drift()*1e6, "rtt_us", rtt, "error_us", int64(cs.errorUs))
	}
}

// calculateOffset computes RTT and clock offset
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	// Positive = server ahead of client
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// IsReady reports whether at least one sync sample was accepted
func (cs *ClockSync) IsReady() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.filter.Count() > 0
}

// IsConverged reports whether the estimate is stable enough for tight sync
func (cs *ClockSync) IsConverged() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.filter.Count() >= convergedSamples && cs.errorUs < convergedErrorUs
}

// ServerToClient converts a server timestamp to local time (µs)
func (cs *ClockSync) ServerToClient(serverUs int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.filter.Count() == 0 {
		return serverUs
	}

	// server = client + offset + drift*(client - last)
	// client = (server - offset + drift*last) / (1 + drift)
	drift := cs.filter.Drift()
	numerator := float64(serverUs) - cs.filter.Offset() + drift*float64(cs.filter.LastTime())
	return int64(numerator / (1.0 + drift))
}

// ClientToServer converts a local timestamp (µs) to server time
func (cs *ClockSync) ClientToServer(clientUs int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.filter.Count() == 0 {
		return clientUs
	}
	return clientUs + int64(cs.filter.Predict(clientUs))
}

// ServerNow returns the current time in the server's reference frame
func (cs *ClockSync) ServerNow() int64 {
	return cs.ClientToServer(time.Now().UnixMicro())
}

// OffsetMicros returns the filtered offset (server - client)
func (cs *ClockSync) OffsetMicros() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return int64(cs.filter.Offset())
}

// DriftPPM returns the filtered drift in parts per million
func (cs *ClockSync) DriftPPM() float64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.filter.Drift() * 1e6
}

// ErrorMicros returns the estimated mapping error
func (cs *ClockSync) ErrorMicros() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return int64(cs.errorUs)
}

// MeasurementCount returns the number of accepted sync samples
func (cs *ClockSync) MeasurementCount() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.filter.Count()
}

// StaticDelayMs returns the manual output delay trim
func (cs *ClockSync) StaticDelayMs() int {
	return int(cs.staticDelayMs.Load())
}

// SetStaticDelayMs sets the manual output delay trim (positive plays later)
func (cs *ClockSync) SetStaticDelayMs(ms int) {
	cs.staticDelayMs.Store(int64(ms))
}

// GetStats returns sync statistics
func (cs *ClockSync) GetStats() (rtt int64, quality Quality) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.rtt, cs.quality
}

// CheckQuality updates quality based on time since last sync
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if time.Since(cs.lastSync) > lostAfter {
		cs.quality = QualityLost
	}
	return cs.quality
}

// Reset forgets all sync state (static delay is kept)
func (cs *ClockSync) Reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.filter.Reset()
	cs.rtt = 0
	cs.errorUs = 0
	cs.quality = QualityLost
	log.Debug("Clock sync reset")
}
