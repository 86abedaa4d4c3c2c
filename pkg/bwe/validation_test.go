// This file exercises the estimator against the testutil trace generators
// and, where a real reference trace is available, against recorded
// libwebrtc estimates.
package bwe

import (
	"os"
	"strings"
	"testing"

	"github.com/rtpflow/gccbwe/pkg/bwe/testutil"
)

func replayTrace(packets []testutil.PacketInfo) []uint32 {
	estimates := make([]uint32, len(packets))
	var last uint32
	b := New(ObserverFunc(func(_ []uint32, bitrateBps uint32) {
		last = bitrateBps
	}))
	for i, p := range packets {
		b.IncomingPacketInfo(PacketArrival{
			ArrivalMs:      p.ArrivalMs,
			SendTime24:     p.SendTime24,
			PayloadSize:    p.Size,
			SSRC:           p.SSRC,
			ProbeClusterID: ProbeClusterNone,
		})
		estimates[i] = last
	}
	return estimates
}

func TestValidation_StableNetworkConverges(t *testing.T) {
	packets := testutil.StableNetworkTrace(300, 20)
	estimates := replayTrace(packets)
	if estimates[len(estimates)-1] == 0 {
		t.Fatalf("no estimate produced over a stable 6s run")
	}
}

func TestValidation_CongestingNetworkDecreases(t *testing.T) {
	packets := testutil.CongestingNetworkTrace(300, 20, 3.0)
	estimates := replayTrace(packets)

	var peak uint32
	for _, e := range estimates[:100] {
		if e > peak {
			peak = e
		}
	}
	final := estimates[len(estimates)-1]
	if peak == 0 {
		t.Fatalf("no early estimate to compare against")
	}
	if final >= peak {
		t.Errorf("final estimate %d did not decrease below early peak %d under sustained congestion", final, peak)
	}
}

func TestValidation_DrainingNetworkRecovers(t *testing.T) {
	congesting := testutil.CongestingNetworkTrace(150, 20, 3.0)
	draining := testutil.DrainingNetworkTrace(150, 20, 3.0)

	var last uint32
	b := New(ObserverFunc(func(_ []uint32, bitrateBps uint32) { last = bitrateBps }))
	for _, p := range congesting {
		b.IncomingPacketInfo(PacketArrival{ArrivalMs: p.ArrivalMs, SendTime24: p.SendTime24, PayloadSize: p.Size, SSRC: p.SSRC, ProbeClusterID: ProbeClusterNone})
	}
	troughEstimate := last

	offsetMs := congesting[len(congesting)-1].ArrivalMs + 20
	for _, p := range draining {
		b.IncomingPacketInfo(PacketArrival{ArrivalMs: p.ArrivalMs + offsetMs, SendTime24: p.SendTime24, PayloadSize: p.Size, SSRC: p.SSRC, ProbeClusterID: ProbeClusterNone})
	}
	recovered := last

	if recovered <= troughEstimate {
		t.Errorf("estimate did not recover after congestion drained: trough=%d recovered=%d", troughEstimate, recovered)
	}
}

func TestValidation_WraparoundDoesNotDiverge(t *testing.T) {
	packets := testutil.WraparoundTrace(250)
	estimates := replayTrace(packets)
	if estimates[len(estimates)-1] == 0 {
		t.Fatalf("estimator produced no estimate across the abs-send-time wraparound boundary")
	}
}

func TestValidation_BurstTraceDoesNotPanic(t *testing.T) {
	packets := testutil.BurstTrace(10, 5, 100, 1)
	_ = replayTrace(packets)
}

// TestValidation_ReferenceDivergence compares this estimator's output
// against recorded libwebrtc estimates, when a reference trace is present.
// Reference traces are extracted from Chrome RTC event logs and are not
// checked in; this test is a skip-by-default harness for that workflow.
func TestValidation_ReferenceDivergence(t *testing.T) {
	tracePath := "../../testdata/reference_congestion.json"

	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Skip("reference trace not available at", tracePath)
	}

	trace, err := testutil.LoadTrace(tracePath)
	if err != nil {
		t.Fatalf("failed to load reference trace: %v", err)
	}

	isSynthetic := strings.Contains(strings.ToLower(trace.Description), "synthetic") ||
		strings.Contains(strings.ToLower(trace.Description), "placeholder")

	b := New(nil)
	processor := func(arrivalMs int64, sendTime24 uint32, size int, ssrc uint32) int64 {
		b.IncomingPacketInfo(PacketArrival{ArrivalMs: arrivalMs, SendTime24: sendTime24, PayloadSize: size, SSRC: ssrc, ProbeClusterID: ProbeClusterNone})
		est, _ := b.LatestEstimate()
		return int64(est.BitrateBps)
	}
	estimates := trace.Replay(processor)

	warmupPackets := len(trace.Packets) / 5
	result := testutil.CalculateDivergence(estimates, trace, warmupPackets)

	t.Logf("compared %d/%d packets, max divergence %.2f%%, avg %.2f%%",
		result.ComparedPackets, result.TotalPackets, result.MaxDivergence, result.AvgDivergence)

	if isSynthetic {
		t.Skip("trace is synthetic placeholder data, not a real libwebrtc comparison")
	}
	if result.MaxDivergence > 10.0 {
		t.Errorf("max divergence %.2f%% exceeds 10%% threshold", result.MaxDivergence)
	}
}
