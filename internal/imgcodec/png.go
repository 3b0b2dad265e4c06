package imgcodec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// pngSignature is the fixed 8-byte PNG file signature.
var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// PNG chunk type tags. tRST is the reserved certification chunk: ancillary
// (lowercase first letter) so ordinary viewers ignore it, but placed next to
// the critical chunks by Embed.
const (
	chunkIHDR = "IHDR"
	chunkPLTE = "PLTE"
	chunkIDAT = "IDAT"
	chunkIEND = "IEND"
	chunkTRST = "tRST"
)

// pngChunkOverhead is the per-chunk framing cost: 4-byte length, 4-byte
// type, 4-byte CRC.
const pngChunkOverhead = 12

// PNG implements the codec contract over the chunked container.
type PNG struct{}

// IsValid reports whether data begins with the PNG signature.
func (PNG) IsValid(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// Strip reconstructs the image from its four critical chunk types only
// (IHDR, PLTE, IDAT, IEND), dropping the certification chunk and all other
// ancillary chunks. A corrupt length field aborts the walk; the bytes
// accumulated so far are returned.
func (p PNG) Strip(data []byte) ([]byte, error) {
	if !p.IsValid(data) {
		return nil, fmt.Errorf("imgcodec: png strip: %w", ErrInvalidFormat)
	}

	out := make([]byte, 0, len(data))
	out = append(out, pngSignature...)

	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if length < 0 || pos+pngChunkOverhead+length > len(data) {
			logger.Debug("corrupt PNG chunk length, aborting strip walk",
				zap.Int("length", length), zap.Int("offset", pos))
			return out, nil
		}
		typ := string(data[pos+4 : pos+8])
		switch typ {
		case chunkIHDR, chunkPLTE, chunkIDAT, chunkIEND:
			out = append(out, data[pos:pos+pngChunkOverhead+length]...)
		}
		pos += pngChunkOverhead + length
		if typ == chunkIEND {
			break
		}
	}
	return out, nil
}

// Embed builds a tRST chunk carrying payload and splices it in immediately
// before the IEND chunk, leaving every other byte untouched. Any prior
// certification chunk is removed first. A PNG without an IEND chunk is
// malformed and rejected.
func (p PNG) Embed(data []byte, payload json.RawMessage) ([]byte, error) {
	if !p.IsValid(data) {
		return nil, fmt.Errorf("imgcodec: png embed: %w", ErrInvalidFormat)
	}
	if len(payload) > math.MaxInt32 {
		return nil, fmt.Errorf("imgcodec: png embed: payload of %d bytes: %w",
			len(payload), ErrSegmentTooLarge)
	}

	base := p.removeCertChunks(data)
	iendAt := pngChunkOffset(base, chunkIEND)
	if iendAt < 0 {
		return nil, fmt.Errorf("imgcodec: png embed: no IEND chunk: %w", ErrMissingStructure)
	}

	chunk := make([]byte, 0, pngChunkOverhead+len(payload))
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(payload)))
	chunk = append(chunk, chunkTRST...)
	chunk = append(chunk, payload...)
	// CRC over type bytes ++ data bytes, per the PNG definition.
	chunk = binary.BigEndian.AppendUint32(chunk, CRC32(chunk[4:]))

	out := make([]byte, 0, len(base)+len(chunk))
	out = append(out, base[:iendAt]...)
	out = append(out, chunk...)
	out = append(out, base[iendAt:]...)
	return out, nil
}

// pngChunkOffset returns the byte offset of the first chunk with the given
// type tag, or -1 if the walk ends without finding one.
func pngChunkOffset(data []byte, typ string) int {
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if length < 0 || pos+pngChunkOverhead+length > len(data) {
			return -1
		}
		if string(data[pos+4:pos+8]) == typ {
			return pos
		}
		pos += pngChunkOverhead + length
	}
	return -1
}

// removeCertChunks returns data with every tRST chunk dropped and all other
// bytes preserved.
func (PNG) removeCertChunks(data []byte) []byte {
	out := make([]byte, 0, len(data))
	out = append(out, pngSignature...)

	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if length < 0 || pos+pngChunkOverhead+length > len(data) {
			out = append(out, data[pos:]...)
			return out
		}
		if string(data[pos+4:pos+8]) != chunkTRST {
			out = append(out, data[pos:pos+pngChunkOverhead+length]...)
		}
		pos += pngChunkOverhead + length
	}
	out = append(out, data[pos:]...)
	return out
}

// Extract walks the chunk stream for a tRST chunk and returns its data
// region. Absence, a corrupt stream, or malformed JSON all yield nil. The
// chunk CRC is not re-verified on read; Embed already guarantees it.
func (p PNG) Extract(data []byte) json.RawMessage {
	if !p.IsValid(data) {
		return nil
	}

	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if length < 0 || pos+pngChunkOverhead+length > len(data) {
			return nil
		}
		if string(data[pos+4:pos+8]) == chunkTRST {
			raw := data[pos+8 : pos+8+length]
			if !json.Valid(raw) {
				logger.Debug("certification chunk carries malformed JSON",
					zap.Int("offset", pos))
				return nil
			}
			return json.RawMessage(bytes.Clone(raw))
		}
		pos += pngChunkOverhead + length
	}
	return nil
}
