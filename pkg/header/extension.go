package header

import (
	"github.com/pion/logging"
)

// ExtensionType identifies a recognized one-byte RTP header extension.
// The zero value, ExtensionNone, means "id not present in the caller's
// ExtensionMap" and is never assigned to a decoded element.
type ExtensionType int

const (
	ExtensionNone ExtensionType = iota
	ExtensionTransmissionTimeOffset
	ExtensionAbsoluteSendTime
	ExtensionAudioLevel
	ExtensionVideoRotation
	ExtensionTransportSequenceNumber
	ExtensionPlayoutDelay
	ExtensionFrameMarking
)

// ExtensionMap resolves a one-byte extension's 4-bit id to the semantic
// type negotiated for it out of band (e.g. via SDP). It is supplied by
// the caller; the parser never constructs or owns one.
type ExtensionMap map[uint8]ExtensionType

// GetType returns the type bound to id, or ExtensionNone if the map is
// nil or has no entry for id.
func (m ExtensionMap) GetType(id uint8) ExtensionType {
	if m == nil {
		return ExtensionNone
	}
	if t, ok := m[id]; ok {
		return t
	}
	return ExtensionNone
}

// VideoRotation is the CVO (coordination of video orientation) byte
// decoded into a rotation in degrees clockwise.
type VideoRotation int

const (
	VideoRotation0 VideoRotation = iota
	VideoRotation90
	VideoRotation180
	VideoRotation270
)

func videoRotationFromCVO(b byte) VideoRotation {
	switch b & 0x03 {
	case 1:
		return VideoRotation90
	case 2:
		return VideoRotation180
	case 3:
		return VideoRotation270
	default:
		return VideoRotation0
	}
}

// PlayoutDelay holds the decoded min/max playout delay, in milliseconds.
type PlayoutDelay struct {
	MinMS int
	MaxMS int
}

// playoutDelayGranularityMs is the unit, in ms, of the two 12-bit fields.
const playoutDelayGranularityMs = 10

// FrameMarking holds the decoded frame-marking extension fields (draft
// draft-ietf-avtext-framemarking-04).
type FrameMarking struct {
	StartOfFrame    bool
	EndOfFrame      bool
	Independent     bool
	Discardable     bool
	BaseLayerSync   bool
	TemporalLayerID uint8
	SpatialLayerID  uint8
	Tl0PicIdx       uint8
}

// Extensions holds every recognized extension decoded from the one-byte
// extension block. Has* flags indicate which fields are valid.
type Extensions struct {
	HasTransmissionTimeOffset bool
	TransmissionTimeOffset    int32

	HasAbsoluteSendTime bool
	AbsoluteSendTime    uint32

	HasAudioLevel   bool
	VoiceActivity   bool
	AudioLevel      uint8

	HasVideoRotation bool
	VideoRotation    VideoRotation

	HasTransportSequenceNumber bool
	TransportSequenceNumber    uint16

	HasPlayoutDelay bool
	PlayoutDelay    PlayoutDelay

	HasFrameMarking bool
	FrameMarking    FrameMarking
}

// parseOneByteExtensions walks a one-byte-header extension block (RFC
// 5285 §4.2) and fills in h.Extensions for every element ext resolves to
// a recognized type. Unknown ids are skipped (logged, non-fatal); id 15
// stops parsing without failing the packet; an element whose declared
// length overruns the block stops parsing but keeps whatever was already
// decoded and keeps the fixed header valid.
func parseOneByteExtensions(h *Header, ext ExtensionMap, buf []byte, log logging.LeveledLogger) {
	pos := 0
	for pos < len(buf) {
		id := buf[pos] >> 4
		length := int(buf[pos]&0x0f) + 1
		pos++

		if id == 0 {
			// Padding byte, skip.
			continue
		}
		if id == 15 {
			// Soft-stop: terminate parsing without failing the packet.
			return
		}
		if pos+length > len(buf) {
			if log != nil {
				log.Warnf("header: malformed extension id %d: declared length %d exceeds remaining %d bytes", id, length, len(buf)-pos)
			}
			return
		}

		data := buf[pos : pos+length]
		typ := ext.GetType(id)
		switch typ {
		case ExtensionNone:
			if log != nil {
				log.Warnf("header: unknown extension id %d, skipping", id)
			}
		case ExtensionTransmissionTimeOffset:
			if length != 3 {
				logBadLength(log, "transmission time offset", length)
				return
			}
			h.Extensions.TransmissionTimeOffset = decodeSigned24(data)
			h.Extensions.HasTransmissionTimeOffset = true
		case ExtensionAbsoluteSendTime:
			if length != 3 {
				logBadLength(log, "absolute send time", length)
				return
			}
			h.Extensions.AbsoluteSendTime = decodeUnsigned24(data)
			h.Extensions.HasAbsoluteSendTime = true
		case ExtensionAudioLevel:
			if length != 1 {
				logBadLength(log, "audio level", length)
				return
			}
			h.Extensions.VoiceActivity = data[0]&0x80 != 0
			h.Extensions.AudioLevel = data[0] & 0x7f
			h.Extensions.HasAudioLevel = true
		case ExtensionVideoRotation:
			if length != 1 {
				logBadLength(log, "video rotation", length)
				return
			}
			h.Extensions.VideoRotation = videoRotationFromCVO(data[0])
			h.Extensions.HasVideoRotation = true
		case ExtensionTransportSequenceNumber:
			if length != 2 {
				logBadLength(log, "transport sequence number", length)
				return
			}
			h.Extensions.TransportSequenceNumber = uint16(data[0])<<8 | uint16(data[1])
			h.Extensions.HasTransportSequenceNumber = true
		case ExtensionPlayoutDelay:
			if length != 3 {
				logBadLength(log, "playout delay", length)
				return
			}
			minDelay := (int(data[0]) << 4) | (int(data[1]) >> 4)
			maxDelay := ((int(data[1]) & 0x0f) << 8) | int(data[2])
			h.Extensions.PlayoutDelay = PlayoutDelay{
				MinMS: minDelay * playoutDelayGranularityMs,
				MaxMS: maxDelay * playoutDelayGranularityMs,
			}
			h.Extensions.HasPlayoutDelay = true
		case ExtensionFrameMarking:
			if length != 2 && length != 4 {
				logBadLength(log, "frame marking", length)
				return
			}
			fm := FrameMarking{
				StartOfFrame: data[0]&0x80 != 0,
				EndOfFrame:   data[0]&0x40 != 0,
				Independent:  data[0]&0x20 != 0,
				Discardable:  data[0]&0x10 != 0,
			}
			if length == 4 {
				fm.BaseLayerSync = data[0]&0x08 != 0
				fm.TemporalLayerID = data[0] & 0x07
				fm.SpatialLayerID = data[1]
				fm.Tl0PicIdx = data[2]
			}
			h.Extensions.FrameMarking = fm
			h.Extensions.HasFrameMarking = true
		}

		pos += length
	}
}

func logBadLength(log logging.LeveledLogger, name string, got int) {
	if log != nil {
		log.Warnf("header: incorrect %s extension length %d", name, got)
	}
}

func decodeUnsigned24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func decodeSigned24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}
