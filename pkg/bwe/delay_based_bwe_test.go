package bwe

import "testing"

func sendTime24AtMs(ms float64) uint32 {
	ticks := uint32(ms / timestampToMs)
	return ticks >> absSendTimeInterArrivalUpshift
}

func TestDelayBasedBwe_NoEstimateBeforeFirstTrigger(t *testing.T) {
	b := New(nil)
	if _, ok := b.LatestEstimate(); ok {
		t.Errorf("LatestEstimate() ok=true before any packet")
	}
}

func TestDelayBasedBwe_StableStreamConvergesAndNotifies(t *testing.T) {
	var calls int
	var lastBitrate uint32
	obs := ObserverFunc(func(ssrcs []uint32, bitrateBps uint32) {
		calls++
		lastBitrate = bitrateBps
	})
	b := New(obs, WithInitialBitrate(300_000))

	const groupMs = 20.0
	for i := 0; i < 400; i++ {
		ms := float64(i) * groupMs
		b.IncomingPacketInfo(PacketArrival{
			ArrivalMs:      int64(ms),
			SendTime24:     sendTime24AtMs(ms),
			PayloadSize:    1200,
			SSRC:           1,
			ProbeClusterID: ProbeClusterNone,
		})
	}

	if calls == 0 {
		t.Fatalf("observer was never notified over an 8s stable run")
	}
	est, ok := b.LatestEstimate()
	if !ok {
		t.Fatalf("LatestEstimate() ok=false after a stable run")
	}
	if est.BitrateBps != lastBitrate {
		t.Errorf("LatestEstimate() = %d, want last observed %d", est.BitrateBps, lastBitrate)
	}
	if len(est.SSRCs) != 1 || est.SSRCs[0] != 1 {
		t.Errorf("LatestEstimate().SSRCs = %v, want [1]", est.SSRCs)
	}
}

func TestDelayBasedBwe_RemoveStreamFlushesPipeline(t *testing.T) {
	b := New(nil)
	b.IncomingPacketInfo(PacketArrival{ArrivalMs: 0, SendTime24: sendTime24AtMs(0), PayloadSize: 1000, SSRC: 7, ProbeClusterID: ProbeClusterNone})
	b.RemoveStream(7)

	b.mu.Lock()
	empty := len(b.ssrcs)
	b.mu.Unlock()
	if empty != 0 {
		t.Errorf("ssrcs map size = %d after RemoveStream, want 0", empty)
	}
}

func TestDelayBasedBwe_StreamTimeoutFlushesAndRestarts(t *testing.T) {
	b := New(nil)
	b.IncomingPacketInfo(PacketArrival{ArrivalMs: 0, SendTime24: sendTime24AtMs(0), PayloadSize: 1000, SSRC: 9, ProbeClusterID: ProbeClusterNone})

	farFuture := int64(streamTimeoutMs) + 5000
	b.IncomingPacketInfo(PacketArrival{ArrivalMs: farFuture, SendTime24: sendTime24AtMs(float64(farFuture)), PayloadSize: 1000, SSRC: 9, ProbeClusterID: ProbeClusterNone})

	b.mu.Lock()
	firstPacket := b.interArrival.firstPacket
	b.mu.Unlock()
	if firstPacket {
		t.Errorf("interArrival should have absorbed the post-timeout packet as its own new first packet, not be waiting for one")
	}
}

func TestDelayBasedBwe_ProbeClusterBootstrapsEstimateBeforeDelaySignal(t *testing.T) {
	var gotBitrate uint32
	obs := ObserverFunc(func(ssrcs []uint32, bitrateBps uint32) { gotBitrate = bitrateBps })
	b := New(obs, WithInitialBitrate(100_000))

	for i := 0; i < 5; i++ {
		ms := float64(i) * 5
		b.IncomingPacketInfo(PacketArrival{
			ArrivalMs:      int64(ms),
			SendTime24:     sendTime24AtMs(ms),
			PayloadSize:    1200,
			SSRC:           3,
			ProbeClusterID: 0,
		})
	}

	if gotBitrate == 0 {
		t.Fatalf("observer never fired during probe bootstrap")
	}
	if gotBitrate <= 100_000 {
		t.Errorf("bootstrapped bitrate = %d, want it to exceed the initial estimate", gotBitrate)
	}
}

func TestDelayBasedBwe_TimeUntilNextProcessIsFixed(t *testing.T) {
	b := New(nil)
	if got := b.TimeUntilNextProcess(); got != 1000 {
		t.Errorf("TimeUntilNextProcess() = %d, want 1000", got)
	}
}
