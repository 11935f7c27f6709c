// ABOUTME: Sync-error estimator
// ABOUTME: Compares the audible server time with the server time of the frame being heard
package playback

import (
	clocksync "github.com/Sendspin/sendspin-sync/pkg/sync"
)

// syncEstimator measures every few rendered chunks and smooths the result.
// Positive error means the device is ahead of the fed data (drop);
// negative means it is behind (insert).
type syncEstimator struct {
	every      int
	sinceCheck int
	filter     *clocksync.OffsetDriftFilter
	rawUs      float64
	smoothedUs float64
	valid      bool
}

func newSyncEstimator(every int, gain, driftGain float64) *syncEstimator {
	return &syncEstimator{
		every:  every,
		filter: clocksync.NewOffsetDriftFilter(gain, driftGain),
	}
}

// chunkRendered counts a rendered chunk and reports whether a measurement is due
func (e *syncEstimator) chunkRendered() bool {
	e.sinceCheck++
	if e.sinceCheck < e.every {
		return false
	}
	e.sinceCheck = 0
	return true
}

// readCursorUs is the server time of the frame the device is playing:
// the last fed server time minus what is still in flight.
func readCursorUs(lastFedServerUs int64, inFlightUs int64) int64 {
	return lastFedServerUs - inFlightUs
}

// update feeds one raw error and returns the filtered value
func (e *syncEstimator) update(rawUs float64, atUs int64) float64 {
	e.rawUs = rawUs
	e.smoothedUs = e.filter.Update(rawUs, atUs)
	e.valid = true
	return e.smoothedUs
}

func (e *syncEstimator) reset() {
	e.sinceCheck = 0
	e.filter.Reset()
	e.rawUs = 0
	e.smoothedUs = 0
	e.valid = false
}
