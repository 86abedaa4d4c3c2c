// Package testutil provides testing utilities for the bwe package.
// It includes synthetic packet trace generators for testing various network conditions.
//
// Note: This package does not import bwe, so both external tests and the bwe
// package's own tests (validation_test.go) can import it without a cycle.
package testutil

// PacketInfo mirrors bwe.PacketArrival for trace generation without an
// import cycle. Use this struct with trace generators, then convert to
// bwe.PacketArrival in tests.
type PacketInfo struct {
	ArrivalMs  int64
	SendTime24 uint32
	Size       int
	SSRC       uint32
}

// Constants mirroring bwe package constants.
const (
	// AbsSendTimeMax is the maximum value of the 24-bit abs-send-time field.
	AbsSendTimeMax = 1 << 24 // 16777216
)

// StableNetworkTrace generates packets with constant delay (no congestion).
// Packets arrive at the same rate they were sent - no queue building or draining.
//
// Parameters:
//   - count: Number of packets to generate
//   - intervalMs: Inter-packet interval in milliseconds
//
// Returns a slice of PacketInfo simulating a stable network.
func StableNetworkTrace(count int, intervalMs int) []PacketInfo {
	packets := make([]PacketInfo, count)
	sendTime := uint32(0)
	arrivalMs := int64(0)

	for i := 0; i < count; i++ {
		packets[i] = PacketInfo{
			ArrivalMs:  arrivalMs,
			SendTime24: sendTime,
			Size:       1200,
			SSRC:       0x12345678,
		}
		// abs-send-time units: ~262 units per ms (262144 units / 1000 ms)
		sendTime += uint32(intervalMs * 262)
		arrivalMs += int64(intervalMs)
	}
	return packets
}

// CongestingNetworkTrace generates packets where receive delay increases.
// Simulates queue building: each packet arrives slightly later than expected.
// This produces positive delay variation (congestion signal).
//
// Parameters:
//   - count: Number of packets to generate
//   - intervalMs: Nominal inter-packet interval in milliseconds
//   - delayIncreaseMs: Additional delay per packet (queue growth rate)
//
// Returns a slice of PacketInfo simulating congestion.
func CongestingNetworkTrace(count int, intervalMs int, delayIncreaseMs float64) []PacketInfo {
	packets := make([]PacketInfo, count)
	sendTime := uint32(0)
	arrivalMs := float64(0)

	for i := 0; i < count; i++ {
		packets[i] = PacketInfo{
			ArrivalMs:  int64(arrivalMs),
			SendTime24: sendTime,
			Size:       1200,
			SSRC:       0x12345678,
		}
		sendTime += uint32(intervalMs * 262)
		// Receive time advances more than send time (queue building).
		arrivalMs += float64(intervalMs) + delayIncreaseMs
	}
	return packets
}

// DrainingNetworkTrace generates packets where receive delay decreases.
// Simulates queue draining: packets arrive faster than expected.
// This produces negative delay variation (underuse signal).
//
// Parameters:
//   - count: Number of packets to generate
//   - intervalMs: Nominal inter-packet interval in milliseconds
//   - delayDecreaseMs: Delay decrease per packet (queue drain rate)
//
// Returns a slice of PacketInfo simulating underuse.
func DrainingNetworkTrace(count int, intervalMs int, delayDecreaseMs float64) []PacketInfo {
	packets := make([]PacketInfo, count)
	sendTime := uint32(0)
	arrivalMs := float64(0)

	for i := 0; i < count; i++ {
		packets[i] = PacketInfo{
			ArrivalMs:  int64(arrivalMs),
			SendTime24: sendTime,
			Size:       1200,
			SSRC:       0x12345678,
		}
		sendTime += uint32(intervalMs * 262)
		advanceMs := float64(intervalMs) - delayDecreaseMs
		if advanceMs < 1 {
			advanceMs = 1 // Minimum 1ms advance to maintain monotonicity
		}
		arrivalMs += advanceMs
	}
	return packets
}

// WraparoundTrace generates packets that exercise 24-bit abs-send-time wraparound.
// The abs-send-time field wraps every 64 seconds (AbsSendTimeMax = 16777216).
//
// Parameters:
//   - count: Number of packets to generate
//
// Returns packets spanning across the 64-second wraparound boundary.
func WraparoundTrace(count int) []PacketInfo {
	packets := make([]PacketInfo, count)

	// Start 100 packets * 20ms = 2 seconds before wrap.
	sendTime := uint32(AbsSendTimeMax - 100*20*262)
	arrivalMs := int64(0)

	for i := 0; i < count; i++ {
		packets[i] = PacketInfo{
			ArrivalMs:  arrivalMs,
			SendTime24: sendTime,
			Size:       1200,
			SSRC:       0x12345678,
		}
		sendTime = (sendTime + 20*262) % uint32(AbsSendTimeMax)
		arrivalMs += 20
	}
	return packets
}

// BurstTrace generates packets in bursts that should be grouped together.
// Useful for testing burst grouping in the inter-arrival calculator.
//
// Parameters:
//   - burstCount: Number of bursts
//   - packetsPerBurst: Packets in each burst
//   - interBurstMs: Gap between bursts in milliseconds
//   - intraBurstMs: Gap within burst (should be < burst threshold, typically < 5ms)
//
// Returns packets organized in distinct bursts.
func BurstTrace(burstCount, packetsPerBurst, interBurstMs, intraBurstMs int) []PacketInfo {
	packets := make([]PacketInfo, burstCount*packetsPerBurst)
	sendTime := uint32(0)
	arrivalMs := int64(0)
	idx := 0

	for b := 0; b < burstCount; b++ {
		for p := 0; p < packetsPerBurst; p++ {
			packets[idx] = PacketInfo{
				ArrivalMs:  arrivalMs,
				SendTime24: sendTime,
				Size:       1200,
				SSRC:       0x12345678,
			}
			sendTime += uint32(intraBurstMs * 262)
			idx++

			if p < packetsPerBurst-1 {
				arrivalMs += int64(intraBurstMs)
			}
		}
		if b < burstCount-1 {
			arrivalMs += int64(interBurstMs)
			sendTime += uint32(interBurstMs * 262)
		}
	}
	return packets
}
