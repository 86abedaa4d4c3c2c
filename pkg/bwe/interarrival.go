package bwe

// tsGroup is one send-time cohort: every packet whose (upshifted) send
// time falls within groupLength ticks of the group's first packet,
// subject to the burst-merge rule in belongsToBurst.
type tsGroup struct {
	firstTimestamp uint32
	timestamp      uint32 // highest send time seen in this group
	completeTimeMs int64  // arrival time of the last packet in this group, -1 if empty
	size           int
}

// InterArrival groups an incoming packet stream into send-time cohorts
// and reports one (Δsend, Δrecv, Δsize) triple per completed group pair.
// All arithmetic on send times happens in the 32-bit upshifted tick
// domain so that 24-bit wraparound resolves correctly via signed
// wraparound comparison.
type InterArrival struct {
	groupLength            uint32
	current                tsGroup
	prev                   tsGroup
	numConsecutiveReorders int
	firstPacket            bool
}

// NewInterArrival constructs an InterArrival using the standard
// 5ms group length.
func NewInterArrival() *InterArrival {
	ia := &InterArrival{groupLength: groupLengthTicks}
	ia.Reset()
	return ia
}

// Reset flushes all accumulated group state, as if no packets had ever
// been seen. Called by the orchestrator when the active ssrc set empties.
func (ia *InterArrival) Reset() {
	ia.current = tsGroup{completeTimeMs: -1}
	ia.prev = tsGroup{completeTimeMs: -1}
	ia.numConsecutiveReorders = 0
	ia.firstPacket = true
}

// ComputeDeltas feeds one packet's (send_time_24b_shifted, arrival_ms,
// payload_size) into the grouping state machine. ok is true only when
// this packet closed a group and a complete previous group existed to
// diff against, in which case the returned triple is valid.
func (ia *InterArrival) ComputeDeltas(sendTimeTicks uint32, arrivalMs int64, payloadSize int) (dSendTicks int64, dRecvMs int64, dSize int, ok bool) {
	if ia.firstPacket {
		ia.current = tsGroup{firstTimestamp: sendTimeTicks, timestamp: sendTimeTicks, completeTimeMs: arrivalMs, size: payloadSize}
		ia.firstPacket = false
		return 0, 0, 0, false
	}

	if tickDiff(sendTimeTicks, ia.current.timestamp) < 0 {
		// Out of order relative to the current group's latest packet.
		ia.numConsecutiveReorders++
		if tickDiff(sendTimeTicks, ia.current.firstTimestamp) < -int32(ia.groupLength) {
			// More than group_length behind: discard, no delta.
			return 0, 0, 0, false
		}
		// Minor reorder within tolerance: fold into the current group
		// without moving its high-water timestamp backward.
		ia.current.size += payloadSize
		ia.current.completeTimeMs = arrivalMs
		return 0, 0, 0, false
	}
	ia.numConsecutiveReorders = 0

	newGroup := tickDiff(sendTimeTicks, ia.current.firstTimestamp) > int32(ia.groupLength)
	if newGroup && ia.belongsToBurst(arrivalMs, sendTimeTicks) {
		newGroup = false
	}

	if newGroup {
		if ia.prev.completeTimeMs >= 0 {
			dSendTicks = int64(tickDiff(ia.current.timestamp, ia.prev.timestamp))
			dRecvMs = ia.current.completeTimeMs - ia.prev.completeTimeMs
			dSize = ia.current.size - ia.prev.size
			ok = true
		}
		ia.prev = ia.current
		ia.current = tsGroup{firstTimestamp: sendTimeTicks, timestamp: sendTimeTicks, completeTimeMs: arrivalMs, size: payloadSize}
		return dSendTicks, dRecvMs, dSize, ok
	}

	if tickDiff(sendTimeTicks, ia.current.timestamp) > 0 {
		ia.current.timestamp = sendTimeTicks
	}
	ia.current.size += payloadSize
	ia.current.completeTimeMs = arrivalMs
	return 0, 0, 0, false
}

// belongsToBurst implements the burst-continuation rule: a group that
// would otherwise close is instead merged into the current group when
// its packets arrived back-to-back faster than they were sent, within
// one group-length window. This suppresses the spurious negative offset
// a coalesced burst would otherwise produce.
func (ia *InterArrival) belongsToBurst(arrivalMs int64, sendTimeTicks uint32) bool {
	if ia.current.completeTimeMs < 0 {
		return false
	}
	arrivalDeltaMs := arrivalMs - ia.current.completeTimeMs
	if arrivalDeltaMs < 0 {
		return false
	}
	sendDeltaMs := TicksToMs(int64(tickDiff(sendTimeTicks, ia.current.timestamp)))
	if sendDeltaMs == 0 {
		return true
	}
	propagationDeltaMs := arrivalDeltaMs - sendDeltaMs
	return propagationDeltaMs < 0 && arrivalDeltaMs <= int64(timestampGroupLengthMs)
}

// tickDiff returns a-b interpreted as a signed difference in the 32-bit
// tick domain, correctly handling wraparound.
func tickDiff(a, b uint32) int32 {
	return int32(a - b)
}
