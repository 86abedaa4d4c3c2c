// Package bwe implements the delay-based receive-side bandwidth estimator:
// inter-arrival grouping, a 2-state Kalman delay filter, an adaptive
// over-use detector, an AIMD rate controller, a probe-cluster bootstrap
// analyzer, and the orchestrator that wires them together on every
// received packet.
package bwe

import "fmt"

// BandwidthUsage is the classification an OverUseDetector assigns to the
// current delay signal.
type BandwidthUsage int

const (
	BwNormal BandwidthUsage = iota
	BwUnderusing
	BwOverusing
)

func (b BandwidthUsage) String() string {
	switch b {
	case BwNormal:
		return "normal"
	case BwUnderusing:
		return "underusing"
	case BwOverusing:
		return "overusing"
	default:
		return fmt.Sprintf("BandwidthUsage(%d)", int(b))
	}
}

// RateControlState is the AIMD state of a RateController.
type RateControlState int

const (
	RateHold RateControlState = iota
	RateIncrease
	RateDecrease
)

func (s RateControlState) String() string {
	switch s {
	case RateHold:
		return "hold"
	case RateIncrease:
		return "increase"
	case RateDecrease:
		return "decrease"
	default:
		return fmt.Sprintf("RateControlState(%d)", int(s))
	}
}

// ProbeResult reports whether a ProbeAnalyzer call produced a usable
// bitrate.
type ProbeResult int

const (
	ProbeNoUpdate ProbeResult = iota
	ProbeBitrateUpdated
)

// ProbeClusterNone is the probe_cluster_id sentinel meaning "this packet
// is not part of a probe cluster."
const ProbeClusterNone = -1

// Fixed-point constants for the 24-bit absolute-send-time extension
// (6 integer bits, 18 fractional bits of seconds) and its upshift into
// the 32-bit inter-arrival tick domain.
const (
	absSendTimeFraction           = 18
	absSendTimeInterArrivalUpshift = 8
	interArrivalShift              = absSendTimeFraction + absSendTimeInterArrivalUpshift

	// AbsSendTimeMax is one past the largest value the 24-bit field can
	// hold; used for half-range wraparound comparisons.
	AbsSendTimeMax = 1 << 24
)

// timestampToMs converts one inter-arrival tick (1/2^26 s) to
// milliseconds.
const timestampToMs = 1000.0 / float64(int64(1)<<interArrivalShift)

// timestampGroupLengthMs is the nominal width, in milliseconds, of an
// InterArrival send-time group.
const timestampGroupLengthMs = 5

// groupLengthTicks is timestampGroupLengthMs expressed in inter-arrival
// ticks.
var timestampToMsVar = timestampToMs

var groupLengthTicks = uint32(float64(timestampGroupLengthMs) / timestampToMsVar)

// ShiftSendTime upshifts a 24-bit truncated send time into the high bits
// of a 32-bit tick value so that wraparound arithmetic on the 24-bit
// field behaves correctly once embedded in a wider domain.
func ShiftSendTime(sendTime24 uint32) uint32 {
	return sendTime24 << absSendTimeInterArrivalUpshift
}

// TicksToMs converts a duration expressed in inter-arrival ticks to
// milliseconds.
func TicksToMs(ticks int64) int64 {
	return int64(float64(ticks) * timestampToMs)
}

const (
	minProbePacketSize      = 200
	initialProbingIntervalMs = 2000
	minClusterSize           = 4
	maxProbePackets          = 15
	expectedNumberOfProbes   = 3
)

// streamTimeoutMs is how long an ssrc may go unseen before it is
// dropped from the active set.
const streamTimeoutMs = 2000

// PacketArrival is the tuple IncomingPacketInfo consumes: everything the
// orchestrator needs to know about one received packet.
type PacketArrival struct {
	ArrivalMs     int64
	SendTime24    uint32
	PayloadSize   int
	SSRC          uint32
	ProbeClusterID int
}

// FeedbackPacket is one entry of a batch fed through
// IncomingPacketFeedbackVector. Unlike PacketArrival its send time has
// already been resolved to milliseconds by the transport-feedback path,
// so no 24-bit shift is needed.
type FeedbackPacket struct {
	ArrivalTimeMs  int64
	SendTimeMs     float64
	PayloadSize    int
	SSRC           uint32
	ProbeClusterID int
}

// Estimate is what LatestEstimate returns: the active stream set and the
// controller's current target bitrate.
type Estimate struct {
	SSRCs      []uint32
	BitrateBps uint32
}

// Observer is notified whenever the orchestrator promotes a new
// bandwidth estimate. It is always called with the orchestrator's
// mutex released.
type Observer interface {
	OnReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint32)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ssrcs []uint32, bitrateBps uint32)

// OnReceiveBitrateChanged implements Observer.
func (f ObserverFunc) OnReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint32) {
	f(ssrcs, bitrateBps)
}
