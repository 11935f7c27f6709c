// ABOUTME: Tests for DAC calibration
// ABOUTME: Rate limiting, window eviction and hardware-to-local mapping
package playback

import "testing"

func TestCalibrationMap(t *testing.T) {
	c := NewCalibration(50, 0, 0)
	if _, ok := c.Map(1000); ok {
		t.Fatal("expected no mapping without samples")
	}

	c.Add(1_000, 501_000)
	if got, _ := c.Map(3_000); got != 503_000 {
		t.Errorf("expected constant offset with one sample, got %d", got)
	}

	// Device clock runs at half speed relative to local time
	c.Add(11_000, 521_000)
	c.Add(21_000, 541_000)

	tests := []struct {
		name string
		hw   int64
		want int64
	}{
		{"exact sample", 11_000, 521_000},
		{"interpolated", 16_000, 531_000},
		{"before first", 0, 499_000},
		{"after last", 31_000, 561_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := c.Map(tt.hw); !ok || got != tt.want {
				t.Errorf("Map(%d) = %d, want %d", tt.hw, got, tt.want)
			}
		})
	}
}

func TestCalibrationRateLimit(t *testing.T) {
	c := NewCalibration(50, 10_000, 0)
	if !c.Add(0, 0) {
		t.Fatal("expected first sample to be accepted")
	}
	if c.Add(5_000, 5_000) {
		t.Error("expected sample inside the interval to be rejected")
	}
	if !c.Add(10_000, 10_000) {
		t.Error("expected sample at the interval to be accepted")
	}
	if c.Len() != 2 || c.Total() != 2 {
		t.Errorf("expected 2 samples, got len=%d total=%d", c.Len(), c.Total())
	}
}

func TestCalibrationWindowBounds(t *testing.T) {
	c := NewCalibration(3, 0, 0)
	for i := int64(0); i < 5; i++ {
		c.Add(i*1000, i*1000+10)
	}
	if c.Len() != 3 {
		t.Errorf("expected window of 3, got %d", c.Len())
	}
	if c.Total() != 5 {
		t.Errorf("expected 5 accepted in total, got %d", c.Total())
	}

	aged := NewCalibration(50, 0, 30_000)
	aged.Add(0, 0)
	aged.Add(10_000, 10_000)
	aged.Add(50_000, 50_000)
	if aged.Len() != 1 {
		t.Errorf("expected samples older than the max age to be evicted, got %d", aged.Len())
	}
}

func TestCalibrationDuplicateHardwareTime(t *testing.T) {
	c := NewCalibration(50, 0, 0)
	c.Add(1_000, 2_000)
	c.Add(1_000, 2_500)

	// The later sample's offset wins for a stalled device clock
	if got, _ := c.Map(1_000); got != 2_500 {
		t.Errorf("expected 2500, got %d", got)
	}
	if got, _ := c.Map(2_000); got != 3_500 {
		t.Errorf("expected 3500, got %d", got)
	}
}

func TestCalibrationReset(t *testing.T) {
	c := NewCalibration(50, 0, 0)
	c.Add(0, 0)
	c.Reset()
	if c.Ready() {
		t.Error("expected not ready after reset")
	}
	if c.Total() != 1 {
		t.Errorf("expected total to survive reset, got %d", c.Total())
	}
}
