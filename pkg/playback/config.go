// ABOUTME: Engine configuration and defaults
// ABOUTME: Timing thresholds, buffer sizes and observer callbacks
package playback

import "time"

// Config tunes the engine. Zero fields take the DefaultConfig value.
type Config struct {
	// Start gating
	StartBuffer time.Duration // queued audio required before leaving WAITING_FOR_START

	// Gap/overlap normalization
	GapThreshold time.Duration // gaps larger than this are filled with silence
	MaxGapFill   time.Duration // jumps beyond this restart the timeline unfilled

	// Correction controller
	Deadband               time.Duration // |error| at or below this is left alone
	CorrectionHorizon      time.Duration // time over which an error is worked off
	MaxCorrectionRatio     float64       // cap on corrected frames per second, as a fraction of the sample rate
	StartupGrace           time.Duration // no corrections right after entering PLAYING
	ReconnectStabilization time.Duration // no corrections right after leaving DRAINING

	// Severe desync handling
	ReanchorThreshold time.Duration
	ReanchorCooldown  time.Duration

	// DAC calibration
	CalibrationWindow   int
	CalibrationInterval time.Duration
	CalibrationMaxAge   time.Duration

	// Sync-error estimation
	SyncCheckEvery       int     // rendered chunks between measurements
	ErrorFilterGain      float64 // offset gain of the error filter
	ErrorFilterDriftGain float64 // drift gain of the error filter

	// Draining
	DrainLowWater    time.Duration
	DrainLowInterval time.Duration

	// Ingress
	PendingCapacity int // chunks held while the clock is not ready

	// Render loop
	TickInterval time.Duration
	JoinTimeout  time.Duration

	// Now replaces the wall clock (tests and simulation)
	Now func() time.Time

	// Callbacks run on the goroutine that triggered them and must not block
	OnPlaybackStateChanged func(State)
	OnBufferLow            func(remainingMs int64)
	OnBufferExhausted      func()
}

// DefaultConfig returns the standard engine tuning
func DefaultConfig() Config {
	return Config{
		StartBuffer:            200 * time.Millisecond,
		GapThreshold:           10 * time.Millisecond,
		MaxGapFill:             5 * time.Second,
		Deadband:               2 * time.Millisecond,
		CorrectionHorizon:      3 * time.Second,
		MaxCorrectionRatio:     0.02,
		StartupGrace:           500 * time.Millisecond,
		ReconnectStabilization: 2 * time.Second,
		ReanchorThreshold:      500 * time.Millisecond,
		ReanchorCooldown:       5 * time.Second,
		CalibrationWindow:      50,
		CalibrationInterval:    10 * time.Millisecond,
		CalibrationMaxAge:      30 * time.Second,
		SyncCheckEvery:         8,
		ErrorFilterGain:        0.1,
		ErrorFilterDriftGain:   0.01,
		DrainLowWater:          time.Second,
		DrainLowInterval:       500 * time.Millisecond,
		PendingCapacity:        512,
		TickInterval:           5 * time.Millisecond,
		JoinTimeout:            2 * time.Second,
		Now:                    time.Now,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	setDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setDur(&c.StartBuffer, d.StartBuffer)
	setDur(&c.GapThreshold, d.GapThreshold)
	setDur(&c.MaxGapFill, d.MaxGapFill)
	setDur(&c.Deadband, d.Deadband)
	setDur(&c.CorrectionHorizon, d.CorrectionHorizon)
	setDur(&c.StartupGrace, d.StartupGrace)
	setDur(&c.ReconnectStabilization, d.ReconnectStabilization)
	setDur(&c.ReanchorThreshold, d.ReanchorThreshold)
	setDur(&c.ReanchorCooldown, d.ReanchorCooldown)
	setDur(&c.CalibrationInterval, d.CalibrationInterval)
	setDur(&c.CalibrationMaxAge, d.CalibrationMaxAge)
	setDur(&c.DrainLowWater, d.DrainLowWater)
	setDur(&c.DrainLowInterval, d.DrainLowInterval)
	setDur(&c.TickInterval, d.TickInterval)
	setDur(&c.JoinTimeout, d.JoinTimeout)

	if c.MaxCorrectionRatio <= 0 {
		c.MaxCorrectionRatio = d.MaxCorrectionRatio
	}
	if c.CalibrationWindow <= 0 {
		c.CalibrationWindow = d.CalibrationWindow
	}
	if c.SyncCheckEvery <= 0 {
		c.SyncCheckEvery = d.SyncCheckEvery
	}
	if c.ErrorFilterGain <= 0 {
		c.ErrorFilterGain = d.ErrorFilterGain
	}
	if c.ErrorFilterDriftGain <= 0 {
		c.ErrorFilterDriftGain = d.ErrorFilterDriftGain
	}
	if c.PendingCapacity <= 0 {
		c.PendingCapacity = d.PendingCapacity
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}
