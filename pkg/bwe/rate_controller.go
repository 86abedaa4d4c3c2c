package bwe

import "math"

// RateControllerConfig tunes the AIMD controller. Beta=0.85 is the
// standard multiplicative-decrease factor; DecreaseEMAAlpha weights the
// exponential moving average of bitrates observed during decrease,
// which increase() uses to detect whether the incoming rate has
// returned to the last stable point.
type RateControllerConfig struct {
	MinBitrate       uint32
	MaxBitrate       uint32
	InitialBitrate   uint32
	Beta             float64
	DecreaseEMAAlpha float64
}

// DefaultRateControllerConfig returns the standard tuning.
func DefaultRateControllerConfig() RateControllerConfig {
	return RateControllerConfig{
		MinBitrate:       10_000,
		MaxBitrate:       30_000_000,
		InitialBitrate:   300_000,
		Beta:             0.85,
		DecreaseEMAAlpha: 0.95,
	}
}

// RateControlInput is what the orchestrator hands RateController.Update
// on every triggered estimate update.
type RateControlInput struct {
	State           BandwidthUsage
	IncomingRateBps *uint32
	VarNoise        float64
}

// stablePointStats is an exponential moving average of bitrates observed
// while decreasing, letting the increase step decide whether the
// incoming rate has settled back near the last point it was reduced to.
type stablePointStats struct {
	average      float64
	variance     float64
	stdDeviation float64
}

func (s *stablePointStats) update(value float64, alpha float64) {
	if s.average == 0 {
		s.average = value
		return
	}
	x := value - s.average
	s.average += alpha * x
	s.variance = (1 - alpha) * (s.variance + alpha*x*x)
	s.stdDeviation = math.Sqrt(s.variance)
}

// RateController implements the aggregate-increase / multiplicative- or
// additive-increase, multiplicative-decrease controller: on over-use it
// drops to beta times the incoming rate and remembers that as the new
// stable point; on normal use it grows back either additively (if the
// incoming rate is within 3 standard deviations of the last stable
// point) or multiplicatively otherwise.
type RateController struct {
	cfg RateControllerConfig

	state      RateControlState
	estimate   uint32
	minBitrate uint32
	rttMs      int64

	lastChangeMs    int64
	lastReductionMs int64
	lastVarNoise    float64
	validEstimate   bool

	pendingInput RateControlInput
	stablePoint  stablePointStats
}

// NewRateController constructs a controller with the given config. It
// starts in the increase state so that the first normal-use update
// begins growing the initial estimate, matching this package's
// longstanding behavior.
func NewRateController(cfg RateControllerConfig) *RateController {
	return &RateController{
		cfg:        cfg,
		state:      RateIncrease,
		estimate:   cfg.InitialBitrate,
		minBitrate: cfg.MinBitrate,
	}
}

// Update transitions the controller's state from the detector's latest
// classification and records the inputs UpdateBandwidthEstimate will
// use. It does not itself change the estimate.
func (rc *RateController) Update(input RateControlInput, nowMs int64) {
	rc.pendingInput = input
	rc.lastVarNoise = input.VarNoise
	rc.state = transitionRateState(rc.state, input.State)
}

// transitionRateState is the hold/increase/decrease transition table:
// over-use always moves to decrease, under-use always moves to (or
// stays at) hold, and normal-use resumes increase from hold or decrease.
func transitionRateState(cur RateControlState, usage BandwidthUsage) RateControlState {
	switch cur {
	case RateHold:
		switch usage {
		case BwOverusing:
			return RateDecrease
		case BwNormal:
			return RateIncrease
		default:
			return RateHold
		}
	case RateIncrease:
		switch usage {
		case BwOverusing:
			return RateDecrease
		case BwUnderusing:
			return RateHold
		default:
			return RateIncrease
		}
	case RateDecrease:
		switch usage {
		case BwOverusing:
			return RateDecrease
		default:
			return RateHold
		}
	default:
		return cur
	}
}

// UpdateBandwidthEstimate applies the transition decided by the most
// recent Update and returns the new target bitrate.
func (rc *RateController) UpdateBandwidthEstimate(nowMs int64) uint32 {
	switch rc.state {
	case RateDecrease:
		if rc.pendingInput.IncomingRateBps != nil {
			incoming := float64(*rc.pendingInput.IncomingRateBps)
			rc.stablePoint.update(incoming, rc.cfg.DecreaseEMAAlpha)
			rc.estimate = clampU32(uint32(rc.cfg.Beta*incoming), rc.minBitrate, rc.cfg.MaxBitrate)
		}
		rc.lastReductionMs = nowMs
	case RateIncrease:
		rc.estimate = clampU32(rc.increase(nowMs), rc.minBitrate, rc.cfg.MaxBitrate)
	case RateHold:
		// Estimate unchanged while holding.
	}
	rc.lastChangeMs = nowMs
	rc.validEstimate = true
	return rc.estimate
}

// increase computes the next estimate while in the increase state,
// choosing between additive growth near the last stable point and
// multiplicative growth otherwise.
func (rc *RateController) increase(nowMs int64) uint32 {
	incoming := rc.pendingInput.IncomingRateBps
	elapsedMs := float64(nowMs - rc.lastChangeMs)

	if incoming != nil && rc.stablePoint.average > 0 &&
		float64(*incoming) > rc.stablePoint.average-3*rc.stablePoint.stdDeviation &&
		float64(*incoming) < rc.stablePoint.average+3*rc.stablePoint.stdDeviation {
		bitsPerFrame := float64(rc.estimate) / 30.0
		packetsPerFrame := math.Ceil(bitsPerFrame / (1200 * 8))
		expectedPacketSizeBits := bitsPerFrame / packetsPerFrame
		responseTimeMs := 100.0 + float64(rc.rttMs)
		alpha := 0.5 * math.Min(elapsedMs/responseTimeMs, 1.0)
		increase := math.Max(1000.0, alpha*expectedPacketSizeBits)
		next := rc.estimate + uint32(increase)
		capAt := uint32(1.5 * float64(*incoming))
		if next > capAt {
			next = capAt
		}
		return next
	}

	elapsedS := math.Min(elapsedMs/1000.0, 1.0)
	eta := math.Pow(1.05, elapsedS)
	rate := uint32(eta * float64(rc.estimate))
	if incoming != nil {
		capAt := uint32(1.5 * float64(*incoming))
		if rate > capAt && capAt > rc.estimate {
			return capAt
		}
	}
	if rate < rc.estimate {
		return rc.estimate
	}
	return rate
}

// FeedbackIntervalMs is the minimum spacing between estimate updates,
// shrinking as the measurement noise variance grows so the controller
// reacts faster under a noisier signal.
func (rc *RateController) FeedbackIntervalMs() int64 {
	interval := 1000.0 / (1.0 + rc.lastVarNoise/100.0)
	return int64(clampF(interval, 200, 1000))
}

// TimeToReduceFurther reports whether the controller is in a decrease
// and enough time has passed since the last reduction to warrant
// another immediate pass, used by the orchestrator to force
// reassessment mid over-use instead of waiting a full feedback interval.
func (rc *RateController) TimeToReduceFurther(nowMs int64, incomingRateBps uint32) bool {
	if rc.state != RateDecrease {
		return false
	}
	return nowMs-rc.lastReductionMs >= rc.FeedbackIntervalMs() && incomingRateBps > 0
}

// SetEstimate forces the estimate directly, clamped to the configured
// bounds, and marks it valid. Used by the probe-cluster bootstrap path,
// which computes its own candidate bitrate outside the normal AIMD
// update.
func (rc *RateController) SetEstimate(bps uint32) {
	rc.estimate = clampU32(bps, rc.minBitrate, rc.cfg.MaxBitrate)
	rc.validEstimate = true
}

// SetMinBitrate mutates the configured floor.
func (rc *RateController) SetMinBitrate(bps uint32) { rc.minBitrate = bps }

// SetRtt mutates the round-trip time used by the additive-increase step.
func (rc *RateController) SetRtt(rttMs int64) { rc.rttMs = rttMs }

// ValidEstimate reports whether UpdateBandwidthEstimate or SetEstimate has
// ever run.
func (rc *RateController) ValidEstimate() bool { return rc.validEstimate }

// Estimate returns the current target bitrate without recomputing it.
func (rc *RateController) Estimate() uint32 { return rc.estimate }

// State returns the controller's current AIMD state.
func (rc *RateController) State() RateControlState { return rc.state }

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
