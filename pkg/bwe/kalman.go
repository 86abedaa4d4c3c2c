package bwe

import "math"

// KalmanConfig tunes the 2-state delay filter. Defaults mirror the
// adaptive-threshold constants used throughout this package: a slow
// process noise on the slope term, a faster one on the offset term, and
// a noise-inflation multiplier applied while the link is flagged
// over-using so the filter reacts less eagerly to loss-driven jitter.
type KalmanConfig struct {
	ProcessNoiseSlope  float64
	ProcessNoiseOffset float64
	// Chi weights the previous var_noise estimate when exponentially
	// smoothing the residual; closer to 1 means slower adaptation.
	Chi float64
	// OveruseVarNoiseMultiplier inflates the effective measurement noise
	// variance used for the Kalman gain while the detector reports
	// over-use.
	OveruseVarNoiseMultiplier float64
	InitialVarNoise           float64
	InitialCovSlope           float64
	InitialCovOffset          float64
}

// DefaultKalmanConfig returns the constants this package has shipped
// with since its first delay-based estimator.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		ProcessNoiseSlope:         1e-13,
		ProcessNoiseOffset:        1e-3,
		Chi:                       0.99,
		OveruseVarNoiseMultiplier: 2.0,
		InitialVarNoise:           50.0,
		InitialCovSlope:           100.0,
		InitialCovOffset:          0.1,
	}
}

// DelayEstimator Kalman-filters the one-way delay variation signal
// produced by InterArrival into a smoothed offset, the sign and
// magnitude of which the OverUseDetector classifies. State is the pair
// (slope, offset); measurement sensitivity is H = [Δsize, 1], so the
// slope term captures how delay variation scales with how much the
// group's payload size changed.
type DelayEstimator struct {
	cfg KalmanConfig

	slope      float64
	offset     float64
	prevOffset float64

	// cov is the 2x2 state error covariance, indexed [row][col] in
	// (slope, offset) order.
	cov [2][2]float64

	varNoise    float64
	numOfDeltas int
}

// NewDelayEstimator constructs a DelayEstimator with the given config.
func NewDelayEstimator(cfg KalmanConfig) *DelayEstimator {
	e := &DelayEstimator{cfg: cfg}
	e.reset()
	return e
}

func (e *DelayEstimator) reset() {
	e.slope = 0
	e.offset = 0
	e.prevOffset = 0
	e.cov = [2][2]float64{
		{e.cfg.InitialCovSlope, 0},
		{0, e.cfg.InitialCovOffset},
	}
	e.varNoise = e.cfg.InitialVarNoise
	e.numOfDeltas = 0
}

// Reset discards all filter state, as if no measurement had ever been
// fused. Called by the orchestrator alongside InterArrival.Reset.
func (e *DelayEstimator) Reset() {
	e.reset()
}

// Update runs one Kalman step given one InterArrival delta. dRecvMs and
// dSendMs are the group-pair deltas in milliseconds; dSize is the
// group-pair payload size delta in bytes; state is the OverUseDetector's
// classification as of the previous packet, used to decide whether to
// inflate the effective measurement noise for this step.
func (e *DelayEstimator) Update(dRecvMs int64, dSendMs float64, dSize int, state BandwidthUsage) {
	measuredDelay := float64(dRecvMs) - dSendMs

	// Predict: add process noise to the covariance.
	e.cov[0][0] += e.cfg.ProcessNoiseSlope
	e.cov[1][1] += e.cfg.ProcessNoiseOffset

	h := [2]float64{float64(dSize), 1.0}
	eh := [2]float64{
		e.cov[0][0]*h[0] + e.cov[0][1]*h[1],
		e.cov[1][0]*h[0] + e.cov[1][1]*h[1],
	}

	varNoiseEff := e.varNoise
	if state == BwOverusing {
		varNoiseEff *= e.cfg.OveruseVarNoiseMultiplier
	}
	denom := varNoiseEff + h[0]*eh[0] + h[1]*eh[1]
	if denom <= 0 {
		denom = 1
	}
	k := [2]float64{eh[0] / denom, eh[1] / denom}

	residual := measuredDelay - e.offset

	e.slope += k[0] * residual
	e.prevOffset = e.offset
	e.offset += k[1] * residual

	ikh00 := 1 - k[0]*h[0]
	ikh01 := -k[0] * h[1]
	ikh10 := -k[1] * h[0]
	ikh11 := 1 - k[1]*h[1]
	e00, e01, e10, e11 := e.cov[0][0], e.cov[0][1], e.cov[1][0], e.cov[1][1]
	e.cov[0][0] = ikh00*e00 + ikh01*e10
	e.cov[0][1] = ikh00*e01 + ikh01*e11
	e.cov[1][0] = ikh10*e00 + ikh11*e10
	e.cov[1][1] = ikh10*e01 + ikh11*e11

	e.numOfDeltas++
	floor := math.Max(1.0, 50.0/float64(e.numOfDeltas))
	e.varNoise = math.Max(e.cfg.Chi*e.varNoise+(1-e.cfg.Chi)*residual*residual, floor)
}

// Offset returns the current smoothed one-way delay variation.
func (e *DelayEstimator) Offset() float64 { return e.offset }

// PrevOffset returns the offset as it stood before the most recent
// Update, which OverUseDetector needs to require offset monotonicity
// before declaring over-use.
func (e *DelayEstimator) PrevOffset() float64 { return e.prevOffset }

// VarNoise returns the current measurement noise variance estimate.
func (e *DelayEstimator) VarNoise() float64 { return e.varNoise }

// NumOfDeltas returns the count of measurements fused since the last
// Reset.
func (e *DelayEstimator) NumOfDeltas() int { return e.numOfDeltas }
