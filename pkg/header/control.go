package header

// IsControlPacket reports whether buf looks like an RTCP control packet
// rather than an RTP data packet, per the payload-type ranges reserved
// for RTCP. Payload types 193 and 194 are explicitly rejected here so the
// demux layer can re-examine the buffer as RTP data.
func IsControlPacket(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	if buf[0]>>6 != version {
		return false
	}
	pt := buf[1]
	switch pt {
	case 192, 195, 200, 201, 202, 203, 204, 205, 206, 207:
		return true
	default:
		return false
	}
}
