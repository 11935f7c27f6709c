// ABOUTME: DAC clock calibration
// ABOUTME: Maps device hardware time onto the local clock from a bounded sample window
package playback

import (
	"slices"
	"sort"
)

type calibrationPoint struct {
	hardwareUs int64
	localUs    int64
}

// Calibration holds (hardware time, local time) pairs taken from the output
// device. The window is bounded by count and by age. Not safe for concurrent use.
type Calibration struct {
	points     []calibrationPoint // insertion order
	sorted     []calibrationPoint // by hardware time, rebuilt lazily
	dirty      bool
	max        int
	intervalUs int64
	maxAgeUs   int64
	total      int64
}

// NewCalibration creates an empty calibration window
func NewCalibration(window int, intervalUs, maxAgeUs int64) *Calibration {
	return &Calibration{max: window, intervalUs: intervalUs, maxAgeUs: maxAgeUs}
}

// Add records a pair unless one was taken less than the interval ago
func (c *Calibration) Add(hardwareUs, localUs int64) bool {
	if n := len(c.points); n > 0 && localUs-c.points[n-1].localUs < c.intervalUs {
		return false
	}

	if c.maxAgeUs > 0 {
		cutoff := localUs - c.maxAgeUs
		i := 0
		for i < len(c.points) && c.points[i].localUs < cutoff {
			i++
		}
		c.points = c.points[i:]
	}
	if len(c.points) >= c.max {
		c.points = c.points[len(c.points)-c.max+1:]
	}

	c.points = append(c.points, calibrationPoint{hardwareUs: hardwareUs, localUs: localUs})
	c.dirty = true
	c.total++
	return true
}

// Map converts a hardware time to local time. With a single pair the offset
// is constant; otherwise the bracketing (or nearest) pair is interpolated.
func (c *Calibration) Map(hardwareUs int64) (int64, bool) {
	switch len(c.points) {
	case 0:
		return 0, false
	case 1:
		p := c.points[0]
		return hardwareUs + (p.localUs - p.hardwareUs), true
	}

	pts := c.byHardwareTime()
	i := sort.Search(len(pts), func(i int) bool { return pts[i].hardwareUs >= hardwareUs })

	var a, b calibrationPoint
	switch {
	case i == 0:
		a, b = pts[0], pts[1]
	case i == len(pts):
		a, b = pts[len(pts)-2], pts[len(pts)-1]
	case pts[i].hardwareUs == hardwareUs:
		return pts[i].localUs, true
	default:
		a, b = pts[i-1], pts[i]
	}

	if b.hardwareUs == a.hardwareUs {
		return hardwareUs + (b.localUs - b.hardwareUs), true
	}
	slope := float64(b.localUs-a.localUs) / float64(b.hardwareUs-a.hardwareUs)
	return a.localUs + int64(float64(hardwareUs-a.hardwareUs)*slope), true
}

func (c *Calibration) byHardwareTime() []calibrationPoint {
	if c.dirty || len(c.sorted) != len(c.points) {
		c.sorted = append(c.sorted[:0], c.points...)
		slices.SortStableFunc(c.sorted, func(x, y calibrationPoint) int {
			switch {
			case x.hardwareUs < y.hardwareUs:
				return -1
			case x.hardwareUs > y.hardwareUs:
				return 1
			}
			return 0
		})
		c.dirty = false
	}
	return c.sorted
}

// Ready reports whether at least one pair is held
func (c *Calibration) Ready() bool {
	return len(c.points) > 0
}

// Len returns the number of pairs in the window
func (c *Calibration) Len() int {
	return len(c.points)
}

// Total returns how many pairs were ever accepted
func (c *Calibration) Total() int64 {
	return c.total
}

// Reset empties the window; Total keeps counting
func (c *Calibration) Reset() {
	c.points = nil
	c.sorted = nil
	c.dirty = false
}
