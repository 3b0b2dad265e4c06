package imgcodec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// JPEG marker type bytes (each preceded by 0xFF in the stream).
const (
	markerPrefix = 0xFF
	markerTEM    = 0x01 // standalone, no length field
	markerSOI    = 0xD8 // start of image
	markerEOI    = 0xD9 // end of image
	markerSOS    = 0xDA // start of scan; entropy-coded data follows
	markerDHT    = 0xC4 // Huffman tables
	markerDQT    = 0xDB // quantization tables
	markerCOM    = 0xFE // comment
	markerAPP0   = 0xE0 // first application-data marker
	markerAPP15  = 0xEF // last application-data marker; reserved for the certification segment
	markerRST0   = 0xD0
	markerRST7   = 0xD7
)

// jpegPayloadTag is the mandatory 8-byte ASCII signature immediately
// following the length field of a certification segment.
const jpegPayloadTag = "IMGTRUST"

// jpegSegmentCeiling is the 16-bit segment length ceiling. The length field
// covers itself, the tag, and the payload (but not the marker pair).
const jpegSegmentCeiling = 0xFFFF

// JPEG implements the codec contract over the marker-segment container.
type JPEG struct{}

// IsValid reports whether data begins with the SOI marker pair.
func (JPEG) IsValid(data []byte) bool {
	return len(data) >= 2 && data[0] == markerPrefix && data[1] == markerSOI
}

// isStandaloneJPEGMarker reports whether a marker type carries no length
// field (TEM and the restart markers).
func isStandaloneJPEGMarker(m byte) bool {
	return m == markerTEM || (m >= markerRST0 && m <= markerRST7)
}

// Strip walks the marker stream and drops every application-data and comment
// segment. This removes EXIF, ICC profiles, and any prior certification
// segment; frame, table, and scan segments are retained byte for byte. Once
// SOS is reached the remainder of the stream is copied verbatim.
//
// A length field pointing past the end of the buffer means the structure is
// truncated: the walk aborts and the bytes accumulated so far are returned.
func (j JPEG) Strip(data []byte) ([]byte, error) {
	if !j.IsValid(data) {
		return nil, fmt.Errorf("imgcodec: jpeg strip: %w", ErrInvalidFormat)
	}

	out := make([]byte, 0, len(data))
	out = append(out, markerPrefix, markerSOI)

	pos := 2
	for pos+1 < len(data) {
		if data[pos] != markerPrefix {
			// Resynchronize on stray bytes between segments.
			pos++
			continue
		}
		m := data[pos+1]
		switch {
		case m == markerSOS:
			// Scan data has no further marker structure of interest here.
			out = append(out, data[pos:]...)
			return out, nil
		case m == markerEOI:
			out = append(out, markerPrefix, markerEOI)
			return out, nil
		case m == 0x00 || m == markerPrefix:
			// Stuffed byte or fill byte.
			pos += 2
			continue
		case isStandaloneJPEGMarker(m):
			out = append(out, markerPrefix, m)
			pos += 2
			continue
		}

		if pos+4 > len(data) {
			return out, nil
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			logger.Debug("truncated JPEG segment, aborting strip walk",
				zap.Uint8("marker", m), zap.Int("length", length), zap.Int("offset", pos))
			return out, nil
		}

		if (m < markerAPP0 || m > markerAPP15) && m != markerCOM {
			out = append(out, data[pos:pos+2+length]...)
		}
		pos += 2 + length
	}
	return out, nil
}

// Embed serializes the segment carrying payload and splices it in after any
// existing application-data segments, so the new segment never precedes the
// segments a viewer expects first. A prior certification segment is removed
// before inserting the new one.
func (j JPEG) Embed(data []byte, payload json.RawMessage) ([]byte, error) {
	if !j.IsValid(data) {
		return nil, fmt.Errorf("imgcodec: jpeg embed: %w", ErrInvalidFormat)
	}

	segLength := 2 + len(jpegPayloadTag) + len(payload)
	if segLength > jpegSegmentCeiling {
		return nil, fmt.Errorf("imgcodec: jpeg embed: payload of %d bytes: %w",
			len(payload), ErrSegmentTooLarge)
	}

	base := j.removeCertSegments(data)
	insertAt := jpegInsertOffset(base)

	seg := make([]byte, 0, 2+segLength)
	seg = append(seg, markerPrefix, markerAPP15)
	seg = append(seg, byte(segLength>>8), byte(segLength))
	seg = append(seg, jpegPayloadTag...)
	seg = append(seg, payload...)

	out := make([]byte, 0, len(base)+len(seg))
	out = append(out, base[:insertAt]...)
	out = append(out, seg...)
	out = append(out, base[insertAt:]...)
	return out, nil
}

// jpegInsertOffset returns the offset just past the SOI marker and any
// application-data segments that immediately follow it.
func jpegInsertOffset(data []byte) int {
	pos := 2
	for pos+4 <= len(data) && data[pos] == markerPrefix {
		m := data[pos+1]
		if m < markerAPP0 || m > markerAPP15 {
			break
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			break
		}
		pos += 2 + length
	}
	return pos
}

// removeCertSegments returns data with every tagged certification segment
// dropped. All other bytes are preserved.
func (JPEG) removeCertSegments(data []byte) []byte {
	out := make([]byte, 0, len(data))
	out = append(out, markerPrefix, markerSOI)

	pos := 2
	for pos+1 < len(data) {
		if data[pos] != markerPrefix {
			out = append(out, data[pos])
			pos++
			continue
		}
		m := data[pos+1]
		if m == markerSOS || m == markerEOI {
			out = append(out, data[pos:]...)
			return out
		}
		if m == 0x00 || m == markerPrefix || isStandaloneJPEGMarker(m) {
			out = append(out, data[pos:pos+2]...)
			pos += 2
			continue
		}
		if pos+4 > len(data) {
			out = append(out, data[pos:]...)
			return out
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			out = append(out, data[pos:]...)
			return out
		}
		if m == markerAPP15 && hasJPEGPayloadTag(data[pos+4:pos+2+length]) {
			pos += 2 + length
			continue
		}
		out = append(out, data[pos:pos+2+length]...)
		pos += 2 + length
	}
	return out
}

func hasJPEGPayloadTag(segment []byte) bool {
	return len(segment) >= len(jpegPayloadTag) &&
		string(segment[:len(jpegPayloadTag)]) == jpegPayloadTag
}

// Extract scans segment by segment for the reserved marker carrying the
// payload tag and returns the JSON bytes that follow it. Absence, a
// malformed stream, or malformed JSON all yield nil.
func (j JPEG) Extract(data []byte) json.RawMessage {
	if !j.IsValid(data) {
		return nil
	}

	pos := 2
	for pos+1 < len(data) {
		if data[pos] != markerPrefix {
			pos++
			continue
		}
		m := data[pos+1]
		if m == markerSOS || m == markerEOI {
			return nil
		}
		if m == 0x00 || m == markerPrefix || isStandaloneJPEGMarker(m) {
			pos += 2
			continue
		}
		if pos+4 > len(data) {
			return nil
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			return nil
		}
		if m == markerAPP15 {
			segment := data[pos+4 : pos+2+length]
			if hasJPEGPayloadTag(segment) {
				raw := segment[len(jpegPayloadTag):]
				if !json.Valid(raw) {
					logger.Debug("certification segment carries malformed JSON",
						zap.Int("offset", pos))
					return nil
				}
				return json.RawMessage(bytes.Clone(raw))
			}
		}
		pos += 2 + length
	}
	return nil
}
