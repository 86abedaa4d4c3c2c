package bwe

import "math"

// probeRecord is one accepted probe packet.
type probeRecord struct {
	sendMs    int64
	recvMs    int64
	size      int
	clusterID int
}

// probeClusterStats summarizes one maximal run of probes sharing a
// cluster id.
type probeClusterStats struct {
	clusterID        int
	count            int
	sendMeanMs       float64
	recvMeanMs       float64
	meanSize         float64
	numAboveMinDelta int
}

func (c probeClusterStats) valid() bool {
	if c.count < minClusterSize {
		return false
	}
	pairs := c.count - 1
	if pairs <= 0 {
		return false
	}
	if float64(c.numAboveMinDelta) <= float64(pairs)/2.0 {
		return false
	}
	if c.recvMeanMs-c.sendMeanMs > 2 {
		return false
	}
	if c.sendMeanMs-c.recvMeanMs > 5 {
		return false
	}
	return true
}

func (c probeClusterStats) sendRateBps() float64 {
	if c.sendMeanMs <= 0 {
		return 0
	}
	return c.meanSize * 8 * 1000 / c.sendMeanMs
}

func (c probeClusterStats) recvRateBps() float64 {
	if c.recvMeanMs <= 0 {
		return 0
	}
	return c.meanSize * 8 * 1000 / c.recvMeanMs
}

// ProbeAnalyzer bootstraps an initial bitrate from bursts of
// sender-paced probe packets, before the delay-based signal has
// converged on its own. It clusters consecutive probes sharing a
// cluster id and proposes the best cluster's bitrate to the caller.
type ProbeAnalyzer struct {
	probes []probeRecord
}

// NewProbeAnalyzer constructs an empty analyzer.
func NewProbeAnalyzer() *ProbeAnalyzer {
	return &ProbeAnalyzer{}
}

// ShouldRecord reports whether a packet with the given cluster id and
// payload size qualifies as a probe worth recording: it must carry a
// real cluster id, be larger than the minimum probe size, and either
// the caller has no valid estimate yet or the stream is still within
// its initial probing window.
func ShouldRecord(clusterID, payloadSize int, estimateValid bool, nowMs, firstPacketTimeMs int64) bool {
	if clusterID == ProbeClusterNone {
		return false
	}
	if payloadSize <= minProbePacketSize {
		return false
	}
	if estimateValid && nowMs-firstPacketTimeMs >= initialProbingIntervalMs {
		return false
	}
	return true
}

// Observe records one qualifying probe and re-clusters the probe list.
// If the best cluster improves on the caller's current estimate, it
// returns ProbeBitrateUpdated and the proposed bitrate.
func (p *ProbeAnalyzer) Observe(sendMs, recvMs int64, size, clusterID int, estimateValid bool, currentEstimateBps uint32) (ProbeResult, uint32) {
	p.probes = append(p.probes, probeRecord{sendMs: sendMs, recvMs: recvMs, size: size, clusterID: clusterID})

	clusters := computeProbeClusters(p.probes)
	best, found, validCount := findBestProbeCluster(clusters)

	result := ProbeNoUpdate
	var bitrate uint32
	if found {
		candidate := math.Min(best.sendRateBps(), best.recvRateBps())
		if isBitrateImproving(estimateValid, currentEstimateBps, candidate) {
			bitrate = uint32(candidate)
			result = ProbeBitrateUpdated
		}
	}

	// validCount is the number of distinct valid clusters in the current
	// snapshot, not a running total: computeProbeClusters re-partitions
	// the whole probe list on every call, so a single growing cluster
	// must not be counted once per Observe call that sees it.
	switch {
	case validCount >= expectedNumberOfProbes:
		p.probes = nil
	case len(p.probes) >= maxProbePackets && !found:
		p.probes = p.probes[1:]
	}

	return result, bitrate
}

// Reset discards all accumulated probe history.
func (p *ProbeAnalyzer) Reset() {
	p.probes = nil
}

// computeProbeClusters partitions an ordered probe list into maximal
// runs sharing a cluster id and summarizes each run.
func computeProbeClusters(probes []probeRecord) []probeClusterStats {
	var clusters []probeClusterStats
	i := 0
	for i < len(probes) {
		j := i
		id := probes[i].clusterID
		for j < len(probes) && probes[j].clusterID == id {
			j++
		}
		clusters = append(clusters, summarizeCluster(probes[i:j]))
		i = j
	}
	return clusters
}

func summarizeCluster(group []probeRecord) probeClusterStats {
	c := probeClusterStats{clusterID: group[0].clusterID, count: len(group)}
	var sizeSum float64
	for _, p := range group {
		sizeSum += float64(p.size)
	}
	c.meanSize = sizeSum / float64(len(group))
	if len(group) > 1 {
		n := float64(len(group) - 1)
		c.sendMeanMs = float64(group[len(group)-1].sendMs-group[0].sendMs) / n
		c.recvMeanMs = float64(group[len(group)-1].recvMs-group[0].recvMs) / n
	}
	for k := 1; k < len(group); k++ {
		dSend := group[k].sendMs - group[k-1].sendMs
		dRecv := group[k].recvMs - group[k-1].recvMs
		if dSend >= 1 && dRecv >= 1 {
			c.numAboveMinDelta++
		}
	}
	return c
}

// findBestProbeCluster scans clusters in order and halts at the first
// invalid one, matching the pipelined-probes model where later clusters
// in an interleaved valid/invalid sequence are never considered. Among
// the valid clusters examined, it returns the one with the highest
// min(send_rate, recv_rate).
func findBestProbeCluster(clusters []probeClusterStats) (probeClusterStats, bool, int) {
	var best probeClusterStats
	bestRate := -1.0
	found := false
	validCount := 0
	for _, c := range clusters {
		if !c.valid() {
			break
		}
		validCount++
		rate := math.Min(c.sendRateBps(), c.recvRateBps())
		if rate > bestRate {
			bestRate = rate
			best = c
			found = true
		}
	}
	return best, found, validCount
}

// isBitrateImproving reports whether a candidate probe bitrate should
// replace the caller's current estimate: either no valid estimate
// exists yet and the candidate is positive, or the candidate exceeds
// the current estimate outright. A probe can never lower the estimate.
func isBitrateImproving(estimateValid bool, currentBps uint32, candidateBps float64) bool {
	if !estimateValid {
		return candidateBps > 0
	}
	return candidateBps > float64(currentBps)
}
