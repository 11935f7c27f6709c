// ABOUTME: Tests for the offset+drift filter
// ABOUTME: Verifies initialization, drift tracking and noise smoothing
package sync

import (
	"math"
	"testing"
)

func TestFilterFirstSampleInitializes(t *testing.T) {
	f := NewOffsetDriftFilter(0.1, 0.1)
	if got := f.Update(1234, 1000); got != 1234 {
		t.Errorf("expected first sample to pass through, got %f", got)
	}
	if f.Count() != 1 {
		t.Errorf("expected count 1, got %d", f.Count())
	}
}

func TestFilterIgnoresNonMonotonicTime(t *testing.T) {
	f := NewOffsetDriftFilter(0.5, 0.5)
	f.Update(100, 1000)
	f.Update(5000, 1000)
	f.Update(5000, 500)

	if f.Count() != 1 || f.Offset() != 100 {
		t.Errorf("expected state untouched, count=%d offset=%f", f.Count(), f.Offset())
	}
}

func TestFilterTracksLinearDrift(t *testing.T) {
	f := NewOffsetDriftFilter(0.3, 0.3)

	// 50 ppm drift: value grows 50µs per second
	var ts int64
	for i := 0; i < 400; i++ {
		ts = int64(i) * 100_000
		f.Update(float64(ts)*50e-6, ts)
	}

	if drift := f.Drift() * 1e6; math.Abs(drift-50) > 2 {
		t.Errorf("expected drift ≈50ppm, got %.2f", drift)
	}
	if pred := f.Predict(ts + 1_000_000); math.Abs(pred-float64(ts+1_000_000)*50e-6) > 5 {
		t.Errorf("prediction off: %f", pred)
	}
}

func TestFilterSmoothsNoise(t *testing.T) {
	f := NewOffsetDriftFilter(0.1, 0.01)

	// Alternating ±1000 around 5000
	for i := 0; i < 200; i++ {
		noise := 1000.0
		if i%2 == 1 {
			noise = -1000
		}
		f.Update(5000+noise, int64(i)*10_000)
	}

	if math.Abs(f.Offset()-5000) > 200 {
		t.Errorf("expected smoothed offset near 5000, got %f", f.Offset())
	}
}

func TestFilterReset(t *testing.T) {
	f := NewOffsetDriftFilter(0.1, 0.1)
	f.Update(1, 1)
	f.Update(2, 2)
	f.Reset()
	if f.Count() != 0 || f.Offset() != 0 || f.Drift() != 0 || f.Predict(10) != 0 {
		t.Error("expected zero state after reset")
	}
}
