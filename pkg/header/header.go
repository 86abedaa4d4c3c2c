// Package header implements a strict, bounds-checked decoder for the RTP
// transport header and its one-byte profile extensions. It extracts the
// fields the delay-based bandwidth estimator needs (SSRC, 24-bit send
// time, payload size) without depending on the rest of the estimator.
package header

import (
	"encoding/binary"
	"errors"

	"github.com/pion/logging"
)

// version is the only RTP version this parser accepts.
const version = 2

// oneByteExtensionProfile is the profile id (RFC 5285 §4.2) that selects
// the one-byte-header extension element format.
const oneByteExtensionProfile = 0xBEDE

// ErrorKind identifies why Parse failed. Distinct kinds let callers log
// and drop the packet without inspecting error text.
type ErrorKind int

const (
	// ErrShortBuffer means the buffer is smaller than the minimum 12-byte
	// fixed header.
	ErrShortBuffer ErrorKind = iota
	// ErrBadVersion means the version field was not 2.
	ErrBadVersion
	// ErrInconsistentLengths means header length plus padding length
	// exceeds the total buffer length.
	ErrInconsistentLengths
)

func (k ErrorKind) String() string {
	switch k {
	case ErrShortBuffer:
		return "short buffer"
	case ErrBadVersion:
		return "bad version"
	case ErrInconsistentLengths:
		return "inconsistent lengths"
	default:
		return "unknown"
	}
}

// ParseError reports a hard parse failure (§7: ShortBuffer, BadVersion,
// InconsistentLengths). These always cause the caller to drop the packet.
type ParseError struct {
	Kind ErrorKind
}

func (e *ParseError) Error() string { return "header: " + e.Kind.String() }

// Is allows errors.Is(err, ErrShortBuffer) style matching against the Kind.
func (e *ParseError) Is(target error) bool {
	var pe *ParseError
	if errors.As(target, &pe) {
		return pe.Kind == e.Kind
	}
	return false
}

// Header is the decoded fixed RTP header plus any recognized one-byte
// extensions. Fields not present in the packet keep their zero value and
// the corresponding Has* flag in Extensions stays false.
type Header struct {
	Version       uint8
	Padding       bool
	HasExtension  bool
	CSRCCount     uint8
	Marker        bool
	PayloadType   uint8
	SequenceNumber uint16
	Timestamp     uint32
	SSRC          uint32
	CSRC          []uint32

	// HeaderLength is the byte length of the fixed header, CSRC list, and
	// extension block combined (everything before the payload).
	HeaderLength int
	// PaddingLength is the value of the trailing padding-length byte, or 0
	// if the padding flag was not set.
	PaddingLength int

	Extensions Extensions
}

// Parse decodes buf into a Header using ext to resolve one-byte extension
// ids to semantic types. A nil or empty ExtensionMap is valid: no
// extensions will be recognized, but the fixed header still parses.
//
// log may be nil, in which case unknown-extension and malformed-extension
// conditions (§7: logged, non-fatal) are silently skipped.
func Parse(buf []byte, ext ExtensionMap, log logging.LeveledLogger) (*Header, error) {
	if len(buf) < 12 {
		return nil, &ParseError{Kind: ErrShortBuffer}
	}

	h := &Header{
		Version:        buf[0] >> 6,
		Padding:        buf[0]&0x20 != 0,
		HasExtension:   buf[0]&0x10 != 0,
		CSRCCount:      buf[0] & 0x0f,
		Marker:         buf[1]&0x80 != 0,
		PayloadType:    buf[1] & 0x7f,
		SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
		SSRC:           binary.BigEndian.Uint32(buf[8:12]),
	}

	if h.Version != version {
		return nil, &ParseError{Kind: ErrBadVersion}
	}

	offset := 12
	csrcBytes := int(h.CSRCCount) * 4
	if offset+csrcBytes > len(buf) {
		return nil, &ParseError{Kind: ErrInconsistentLengths}
	}
	if h.CSRCCount > 0 {
		h.CSRC = make([]uint32, h.CSRCCount)
		for i := 0; i < int(h.CSRCCount); i++ {
			h.CSRC[i] = binary.BigEndian.Uint32(buf[offset : offset+4])
			offset += 4
		}
	}
	h.HeaderLength = offset

	if h.Padding {
		h.PaddingLength = int(buf[len(buf)-1])
	}

	if h.HasExtension {
		if offset+4 > len(buf) {
			return nil, &ParseError{Kind: ErrInconsistentLengths}
		}
		profile := binary.BigEndian.Uint16(buf[offset : offset+2])
		lengthWords := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		offset += 4
		lengthBytes := lengthWords * 4
		if offset+lengthBytes > len(buf) {
			return nil, &ParseError{Kind: ErrInconsistentLengths}
		}
		if profile == oneByteExtensionProfile {
			parseOneByteExtensions(h, ext, buf[offset:offset+lengthBytes], log)
		}
		offset += lengthBytes
		h.HeaderLength = offset
	}

	if h.HeaderLength+h.PaddingLength > len(buf) {
		return nil, &ParseError{Kind: ErrInconsistentLengths}
	}
	return h, nil
}
