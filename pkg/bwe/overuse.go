package bwe

import "math"

// OveruseConfig tunes OverUseDetector's adaptive threshold. The default
// values (initial threshold 12.5ms, asymmetric gains, [6,600]ms clamp,
// 10ms sustain requirement) are the constants this kind of detector has
// shipped with since the threshold-adaptation technique was first
// published for real-time congestion control.
type OveruseConfig struct {
	InitialThreshold     float64
	KUp                  float64
	KDown                float64
	MinThreshold         float64
	MaxThreshold         float64
	OveruseTimeThreshold int64
	MinConsecutive       int
}

// DefaultOveruseConfig returns the standard tuning.
func DefaultOveruseConfig() OveruseConfig {
	return OveruseConfig{
		InitialThreshold:     12.5,
		KUp:                  0.01,
		KDown:                0.00018,
		MinThreshold:         6.0,
		MaxThreshold:         600.0,
		OveruseTimeThreshold: 10,
		MinConsecutive:       1,
	}
}

// OverUseDetector classifies the Kalman-filtered delay offset into
// {normal, over, under} using an adaptive threshold gamma that tracks
// the recent magnitude of the offset signal itself.
type OverUseDetector struct {
	cfg   OveruseConfig
	gamma float64

	timeOverUsingMs int64
	overuseCounter  int
	lastOffset      float64
}

// NewOverUseDetector constructs a detector with the given config.
func NewOverUseDetector(cfg OveruseConfig) *OverUseDetector {
	return &OverUseDetector{cfg: cfg, gamma: cfg.InitialThreshold}
}

// Reset returns the detector to its construction-time state. Called by
// the orchestrator alongside InterArrival.Reset and DelayEstimator.Reset.
func (d *OverUseDetector) Reset() {
	d.gamma = d.cfg.InitialThreshold
	d.timeOverUsingMs = 0
	d.overuseCounter = 0
	d.lastOffset = 0
}

// Detect runs one classification step. dSendMs is the send-time delta
// of the group pair that produced offset; numDeltas is
// DelayEstimator.NumOfDeltas() as of this measurement.
func (d *OverUseDetector) Detect(offset float64, dSendMs int64, numDeltas int) BandwidthUsage {
	t := math.Min(float64(numDeltas), 60) * offset
	absT := math.Abs(t)

	state := BwNormal
	switch {
	case t > d.gamma:
		d.timeOverUsingMs += dSendMs
		d.overuseCounter++
		if d.timeOverUsingMs > d.cfg.OveruseTimeThreshold &&
			d.overuseCounter >= d.cfg.MinConsecutive &&
			offset >= d.lastOffset {
			state = BwOverusing
			d.timeOverUsingMs = 0
			d.overuseCounter = 0
		}
	case t < -d.gamma:
		state = BwUnderusing
		d.timeOverUsingMs = 0
		d.overuseCounter = 0
	default:
		d.timeOverUsingMs = 0
		d.overuseCounter = 0
	}

	d.updateThreshold(absT, float64(dSendMs))
	d.lastOffset = offset
	return state
}

// updateThreshold adapts gamma toward |T|, resisting outliers more than
// 15 units away and growing faster than it shrinks.
func (d *OverUseDetector) updateThreshold(absT, dSendMs float64) {
	if math.Abs(absT-d.gamma) > 15 {
		return
	}
	k := d.cfg.KDown
	if absT > d.gamma {
		k = d.cfg.KUp
	}
	d.gamma += k * dSendMs * (absT - d.gamma)
	if d.gamma < d.cfg.MinThreshold {
		d.gamma = d.cfg.MinThreshold
	}
	if d.gamma > d.cfg.MaxThreshold {
		d.gamma = d.cfg.MaxThreshold
	}
}

// Threshold returns the current adaptive gamma, for diagnostics and
// tests.
func (d *OverUseDetector) Threshold() float64 { return d.gamma }
