// ABOUTME: Two-state offset+drift smoothing filter
// ABOUTME: Fixed-gain predict/correct filter shared by clock sync and sync-error estimation
package sync

// OffsetDriftFilter smooths a noisy measurement that is expected to move
// linearly over time. State is [offset, drift] where drift is in units per µs.
//
// Not safe for concurrent use; owners serialize access.
type OffsetDriftFilter struct {
	offsetGain float64
	driftGain  float64

	offset   float64
	drift    float64
	lastTime int64
	count    int
}

// NewOffsetDriftFilter creates a filter. offsetGain weights the residual applied
// to the offset, driftGain the residual rate applied to the drift (both 0..1).
func NewOffsetDriftFilter(offsetGain, driftGain float64) *OffsetDriftFilter {
	return &OffsetDriftFilter{
		offsetGain: offsetGain,
		driftGain:  driftGain,
	}
}

// Update feeds one measurement taken at timeUs and returns the filtered offset.
// Measurements that do not move time forward are ignored.
func (f *OffsetDriftFilter) Update(value float64, timeUs int64) float64 {
	if f.count == 0 {
		f.offset = value
		f.drift = 0
		f.lastTime = timeUs
		f.count = 1
		return f.offset
	}

	dt := float64(timeUs - f.lastTime)
	if dt <= 0 {
		return f.offset
	}

	predicted := f.offset + f.drift*dt
	residual := value - predicted

	f.offset = predicted + f.offsetGain*residual
	f.drift += f.driftGain * residual / dt
	f.lastTime = timeUs
	f.count++

	return f.offset
}

// Residual returns how far value at timeUs is from the current prediction
func (f *OffsetDriftFilter) Residual(value float64, timeUs int64) float64 {
	return value - f.Predict(timeUs)
}

// Predict extrapolates the offset to timeUs
func (f *OffsetDriftFilter) Predict(timeUs int64) float64 {
	if f.count == 0 {
		return 0
	}
	return f.offset + f.drift*float64(timeUs-f.lastTime)
}

// Offset returns the filtered offset at the last update
func (f *OffsetDriftFilter) Offset() float64 { return f.offset }

// Drift returns the filtered drift in units per µs
func (f *OffsetDriftFilter) Drift() float64 { return f.drift }

// LastTime returns the timestamp of the last accepted measurement
func (f *OffsetDriftFilter) LastTime() int64 { return f.lastTime }

// Count returns the number of accepted measurements
func (f *OffsetDriftFilter) Count() int { return f.count }

// Reset forgets all state
func (f *OffsetDriftFilter) Reset() {
	f.offset = 0
	f.drift = 0
	f.lastTime = 0
	f.count = 0
}
