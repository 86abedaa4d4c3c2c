package bwe

import (
	"sync"

	"github.com/pion/logging"
)

// Option configures a DelayBasedBwe at construction time.
type Option func(*DelayBasedBwe)

// WithInitialBitrate overrides the controller's starting estimate.
func WithInitialBitrate(bps uint32) Option {
	return func(b *DelayBasedBwe) { b.rcConfig.InitialBitrate = bps }
}

// WithMinBitrate overrides the controller's floor.
func WithMinBitrate(bps uint32) Option {
	return func(b *DelayBasedBwe) { b.rcConfig.MinBitrate = bps }
}

// WithMaxBitrate overrides the controller's ceiling.
func WithMaxBitrate(bps uint32) Option {
	return func(b *DelayBasedBwe) { b.rcConfig.MaxBitrate = bps }
}

// WithRateControllerConfig replaces the rate controller's tuning wholesale.
func WithRateControllerConfig(cfg RateControllerConfig) Option {
	return func(b *DelayBasedBwe) { b.rcConfig = cfg }
}

// WithKalmanConfig replaces the delay filter's tuning wholesale.
func WithKalmanConfig(cfg KalmanConfig) Option {
	return func(b *DelayBasedBwe) { b.kalmanConfig = cfg }
}

// WithOveruseConfig replaces the over-use detector's tuning wholesale.
func WithOveruseConfig(cfg OveruseConfig) Option {
	return func(b *DelayBasedBwe) { b.overuseConfig = cfg }
}

// WithRateMeterConfig replaces the incoming-rate meter's window.
func WithRateMeterConfig(cfg IncomingRateMeterConfig) Option {
	return func(b *DelayBasedBwe) { b.rateMeterConfig = cfg }
}

// WithLoggerFactory overrides the pion/logging factory used to build this
// estimator's logger, matching the rest of this package's logging idiom.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(b *DelayBasedBwe) { b.loggerFactory = f }
}

// DelayBasedBwe is the receive-side congestion controller: it turns a
// stream of received packets' send/arrival timestamps into a target
// bitrate, pushing updates to an Observer whenever the controller's AIMD
// state machine or a probe-cluster bootstrap moves the estimate.
//
// All mutable state is guarded by a single mutex; the observer callback
// is always invoked with that mutex released so it may safely call back
// into this type (e.g. LatestEstimate) without deadlocking.
type DelayBasedBwe struct {
	mu sync.Mutex

	observer Observer
	log      logging.LeveledLogger

	rcConfig        RateControllerConfig
	kalmanConfig    KalmanConfig
	overuseConfig   OveruseConfig
	rateMeterConfig IncomingRateMeterConfig
	loggerFactory   logging.LoggerFactory

	interArrival   *InterArrival
	delayEstimator *DelayEstimator
	overuse        *OverUseDetector
	rateController *RateController
	rateMeter      *IncomingRateMeter
	probeAnalyzer  *ProbeAnalyzer

	ssrcs             map[uint32]int64
	firstPacketTimeMs int64
	hasFirstPacket    bool

	lastUpdateMs  int64
	hasLastUpdate bool

	lastOverallState BandwidthUsage
}

// New constructs a DelayBasedBwe that reports estimate changes to
// observer. observer may be nil, in which case updates are computed but
// never reported, matching a caller who only polls LatestEstimate.
func New(observer Observer, opts ...Option) *DelayBasedBwe {
	b := &DelayBasedBwe{
		observer:        observer,
		rcConfig:        DefaultRateControllerConfig(),
		kalmanConfig:    DefaultKalmanConfig(),
		overuseConfig:   DefaultOveruseConfig(),
		rateMeterConfig: DefaultIncomingRateMeterConfig(),
		loggerFactory:   logging.NewDefaultLoggerFactory(),
		ssrcs:           make(map[uint32]int64),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.log = b.loggerFactory.NewLogger("gcc_delay_bwe")
	b.interArrival = NewInterArrival()
	b.delayEstimator = NewDelayEstimator(b.kalmanConfig)
	b.overuse = NewOverUseDetector(b.overuseConfig)
	b.rateController = NewRateController(b.rcConfig)
	b.rateMeter = NewIncomingRateMeter(b.rateMeterConfig)
	b.probeAnalyzer = NewProbeAnalyzer()
	return b
}

// IncomingPacketInfo feeds one received RTP packet's resolved fields into
// the estimator. sendTime24 is the raw 24-bit abs-send-time extension
// value; callers that lack the extension must not call this for that
// packet (the interceptor package's processRTP drops such packets).
func (b *DelayBasedBwe) IncomingPacketInfo(p PacketArrival) {
	sendTimeTicks := ShiftSendTime(p.SendTime24)
	sendTimeMs := float64(sendTimeTicks) * timestampToMs
	b.process(p.ArrivalMs, sendTimeTicks, sendTimeMs, p.PayloadSize, p.SSRC, p.ProbeClusterID)
}

// IncomingPacketFeedbackVector feeds a batch of transport-feedback
// entries whose send times have already been resolved to milliseconds,
// one at a time and in order, through the same pipeline as
// IncomingPacketInfo.
func (b *DelayBasedBwe) IncomingPacketFeedbackVector(feedback []FeedbackPacket) {
	for _, fp := range feedback {
		sendTimeTicks := uint32(fp.SendTimeMs / timestampToMs)
		b.process(fp.ArrivalTimeMs, sendTimeTicks, fp.SendTimeMs, fp.PayloadSize, fp.SSRC, fp.ProbeClusterID)
	}
}

func (b *DelayBasedBwe) process(arrivalMs int64, sendTimeTicks uint32, sendTimeMs float64, payloadSize int, ssrc uint32, probeClusterID int) {
	b.mu.Lock()

	if !b.hasFirstPacket {
		b.firstPacketTimeMs = arrivalMs
		b.hasFirstPacket = true
	}

	b.rateMeter.Update(payloadSize, arrivalMs)
	b.ageStreamsLocked(ssrc, arrivalMs)

	triggerUpdate := false

	if probeClusterID != ProbeClusterNone {
		if ShouldRecord(probeClusterID, payloadSize, b.rateController.ValidEstimate(), arrivalMs, b.firstPacketTimeMs) {
			result, bitrate := b.probeAnalyzer.Observe(int64(sendTimeMs), arrivalMs, payloadSize, probeClusterID, b.rateController.ValidEstimate(), b.rateController.Estimate())
			if result == ProbeBitrateUpdated {
				b.rateController.SetEstimate(bitrate)
				b.log.Infof("probe cluster %d bootstrapped estimate to %d bps", probeClusterID, bitrate)
				triggerUpdate = true
			}
		}
	}

	dSendTicks, dRecvMs, dSize, ok := b.interArrival.ComputeDeltas(sendTimeTicks, arrivalMs, payloadSize)
	if ok {
		dSendMs := float64(dSendTicks) * timestampToMs
		b.delayEstimator.Update(dRecvMs, dSendMs, dSize, b.lastOverallState)
		b.lastOverallState = b.overuse.Detect(b.delayEstimator.Offset(), int64(dSendMs), b.delayEstimator.NumOfDeltas())
	}

	if !b.hasLastUpdate {
		b.hasLastUpdate = true
		b.lastUpdateMs = arrivalMs
	}
	feedbackIntervalMs := b.rateController.FeedbackIntervalMs()
	if arrivalMs-b.lastUpdateMs > feedbackIntervalMs {
		triggerUpdate = true
	}

	incomingRate, hasRate := b.rateMeter.Rate(arrivalMs)
	if b.lastOverallState == BwOverusing && hasRate && b.rateController.TimeToReduceFurther(arrivalMs, incomingRate) {
		triggerUpdate = true
	}

	if !triggerUpdate {
		b.mu.Unlock()
		return
	}

	var incomingRatePtr *uint32
	if hasRate {
		incomingRatePtr = &incomingRate
	}
	b.rateController.Update(RateControlInput{
		State:           b.lastOverallState,
		IncomingRateBps: incomingRatePtr,
		VarNoise:        b.delayEstimator.VarNoise(),
	}, arrivalMs)
	bitrate := b.rateController.UpdateBandwidthEstimate(arrivalMs)
	b.lastUpdateMs = arrivalMs

	activeSSRCs := b.activeSSRCsLocked()
	observer := b.observer
	b.mu.Unlock()

	if observer != nil {
		observer.OnReceiveBitrateChanged(activeSSRCs, bitrate)
	}
}

// ageStreamsLocked evicts ssrcs not seen within streamTimeoutMs of
// arrivalMs, resets the shared delay pipeline if that aging empties the
// active set entirely, and then records ssrc as seen at arrivalMs.
// Evaluating emptiness before recording the current packet is what makes
// a stream reappearing after a long gap trigger a flush: its own stale
// entry is what gets aged out.
func (b *DelayBasedBwe) ageStreamsLocked(ssrc uint32, arrivalMs int64) {
	hadActive := len(b.ssrcs) > 0
	for s, last := range b.ssrcs {
		if arrivalMs-last > streamTimeoutMs {
			delete(b.ssrcs, s)
		}
	}
	if hadActive && len(b.ssrcs) == 0 {
		b.interArrival.Reset()
		b.delayEstimator.Reset()
		b.overuse.Reset()
	}
	b.ssrcs[ssrc] = arrivalMs
}

func (b *DelayBasedBwe) activeSSRCsLocked() []uint32 {
	out := make([]uint32, 0, len(b.ssrcs))
	for s := range b.ssrcs {
		out = append(out, s)
	}
	return out
}

// OnRttUpdate feeds the transport's latest round-trip time estimate into
// the rate controller's additive-increase response time. maxRtt is
// accepted to match the feedback the transport provides but is not
// currently used by the increase step, which reacts to the average.
func (b *DelayBasedBwe) OnRttUpdate(avgRttMs, maxRttMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rateController.SetRtt(avgRttMs)
	_ = maxRttMs
}

// RemoveStream drops ssrc from the active set immediately, without
// waiting for it to time out, and flushes the shared delay pipeline if
// that was the last active stream.
func (b *DelayBasedBwe) RemoveStream(ssrc uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ssrcs, ssrc)
	if len(b.ssrcs) == 0 {
		b.interArrival.Reset()
		b.delayEstimator.Reset()
		b.overuse.Reset()
	}
}

// SetMinBitrate lowers or raises the controller's floor.
func (b *DelayBasedBwe) SetMinBitrate(bps uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rateController.SetMinBitrate(bps)
}

// LatestEstimate returns the controller's current target bitrate and the
// set of streams it was computed over. ok is false until the controller
// has produced at least one estimate.
func (b *DelayBasedBwe) LatestEstimate() (Estimate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.rateController.ValidEstimate() {
		return Estimate{}, false
	}
	return Estimate{SSRCs: b.activeSSRCsLocked(), BitrateBps: b.rateController.Estimate()}, true
}

// Process is a no-op: this estimator's work is entirely event-driven by
// IncomingPacketInfo and IncomingPacketFeedbackVector, with nothing left
// to do on a periodic tick. It exists so callers built around a
// poll-or-push processor interface have something to call.
func (b *DelayBasedBwe) Process() {}

// TimeUntilNextProcess reports how long a caller driving Process on a
// timer may wait before calling it again. Since Process does no work,
// this is a fixed nominal interval rather than a computed deadline.
func (b *DelayBasedBwe) TimeUntilNextProcess() int64 {
	return 1000
}
