// ABOUTME: Correction scheduler
// ABOUTME: Turns smoothed sync error into an exclusive insert or drop cadence
package playback

import (
	"math"
	"time"
)

// Schedule is the active correction cadence. At most one of InsertEvery and
// DropEvery is non-zero.
type Schedule struct {
	InsertEvery int64 // duplicate a frame every N frames
	DropEvery   int64 // skip a frame every N frames

	insertCountdown int64
	dropCountdown   int64
}

// Active reports whether any correction is scheduled
func (s *Schedule) Active() bool {
	return s.InsertEvery > 0 || s.DropEvery > 0
}

// Clear cancels all correction
func (s *Schedule) Clear() {
	*s = Schedule{}
}

// correctionInterval returns frames between corrections for an error, or 0
// when the error is inside the deadband. The rate works the error off over
// the horizon, capped at maxRatio of the sample rate.
func correctionInterval(errorUs float64, sampleRate int, deadband, horizon time.Duration, maxRatio float64) int64 {
	absErr := math.Abs(errorUs)
	if absErr <= float64(deadband.Microseconds()) || sampleRate <= 0 {
		return 0
	}
	errorFrames := absErr * float64(sampleRate) / 1e6
	desiredRate := errorFrames / horizon.Seconds()
	maxRate := maxRatio * float64(sampleRate)
	rate := math.Min(desiredRate, maxRate)
	if rate <= 0 {
		return 0
	}
	interval := int64(math.Floor(float64(sampleRate) / rate))
	if interval < 1 {
		interval = 1
	}
	return interval
}

// apply sets the cadence for an error. A countdown already in flight is
// left running; it is only armed when zero.
func (s *Schedule) apply(errorUs float64, interval int64) {
	if interval == 0 {
		s.Clear()
		return
	}
	if errorUs > 0 {
		s.InsertEvery, s.insertCountdown = 0, 0
		s.DropEvery = interval
		if s.dropCountdown == 0 {
			s.dropCountdown = interval
		}
		return
	}
	s.DropEvery, s.dropCountdown = 0, 0
	s.InsertEvery = interval
	if s.insertCountdown == 0 {
		s.insertCountdown = interval
	}
}
