package imgcodec_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgtrust/imgtrust/internal/imgcodec"
)

// jpegSegment frames data as a marker segment: FF <marker> <len16> <data>.
func jpegSegment(marker byte, data []byte) []byte {
	seg := []byte{0xFF, marker}
	seg = binary.BigEndian.AppendUint16(seg, uint16(2+len(data)))
	return append(seg, data...)
}

// buildJPEG assembles SOI, the given segments, a minimal scan, and EOI.
func buildJPEG(segments ...[]byte) []byte {
	img := []byte{0xFF, 0xD8}
	for _, seg := range segments {
		img = append(img, seg...)
	}
	img = append(img, jpegSegment(0xDA, []byte{0x01, 0x00})...) // SOS header
	img = append(img, 0x12, 0x34, 0x56)                         // entropy-coded data
	img = append(img, 0xFF, 0xD9)                               // EOI
	return img
}

func TestJPEGEmbedExtractRoundTrip(t *testing.T) {
	codec := imgcodec.JPEG{}
	img := buildJPEG(jpegSegment(0xDB, []byte{0x00, 0x01}))
	payload := json.RawMessage(`{"signature":"abc","payload":{"imageHash":"deadbeef"}}`)

	certified, err := codec.Embed(img, payload)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(certified, []byte("IMGTRUST")), "embedded segment carries the tag")

	got := codec.Extract(certified)
	require.NotNil(t, got)
	assert.JSONEq(t, string(payload), string(got))
}

func TestJPEGExtractAbsent(t *testing.T) {
	codec := imgcodec.JPEG{}
	assert.Nil(t, codec.Extract(buildJPEG()))
	assert.Nil(t, codec.Extract([]byte{0x00, 0x01}))
}

func TestJPEGStripRemovesMetadataSegments(t *testing.T) {
	codec := imgcodec.JPEG{}
	dqt := jpegSegment(0xDB, []byte{0x00, 0x01})
	img := buildJPEG(
		jpegSegment(0xE0, []byte("JFIF")),
		jpegSegment(0xE1, []byte("Exif")),
		jpegSegment(0xFE, []byte("a comment")),
		dqt,
	)

	stripped, err := codec.Strip(img)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(stripped, []byte("JFIF")))
	assert.False(t, bytes.Contains(stripped, []byte("Exif")))
	assert.False(t, bytes.Contains(stripped, []byte("a comment")))
	assert.True(t, bytes.Contains(stripped, dqt), "table segments survive")
	assert.True(t, bytes.HasSuffix(stripped, []byte{0x12, 0x34, 0x56, 0xFF, 0xD9}), "scan data copied verbatim")
}

func TestJPEGStripIdempotent(t *testing.T) {
	codec := imgcodec.JPEG{}
	img := buildJPEG(jpegSegment(0xE1, []byte("Exif")), jpegSegment(0xC4, []byte{0x00}))

	once, err := codec.Strip(img)
	require.NoError(t, err)
	twice, err := codec.Strip(once)
	require.NoError(t, err)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second strip changed bytes (-once +twice):\n%s", diff)
	}
}

func TestJPEGStripRemovesCertificationSegment(t *testing.T) {
	codec := imgcodec.JPEG{}
	certified, err := codec.Embed(buildJPEG(), json.RawMessage(`{"v":1}`))
	require.NoError(t, err)

	stripped, err := codec.Strip(certified)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(stripped, []byte("IMGTRUST")))

	plain, err := codec.Strip(buildJPEG())
	require.NoError(t, err)
	if diff := cmp.Diff(plain, stripped); diff != "" {
		t.Errorf("stripping a certified image diverged from the uncertified baseline:\n%s", diff)
	}
}

func TestJPEGReEmbedReplacesPriorPayload(t *testing.T) {
	codec := imgcodec.JPEG{}
	img := buildJPEG()

	first, err := codec.Embed(img, json.RawMessage(`{"version":1}`))
	require.NoError(t, err)
	second, err := codec.Embed(first, json.RawMessage(`{"version":2}`))
	require.NoError(t, err)

	assert.Equal(t, 1, bytes.Count(second, []byte("IMGTRUST")), "exactly one certification segment")
	got := codec.Extract(second)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"version":2}`, string(got))
}

func TestJPEGEmbedAfterExistingAppSegments(t *testing.T) {
	codec := imgcodec.JPEG{}
	app0 := jpegSegment(0xE0, []byte("JFIF"))
	img := buildJPEG(app0)

	certified, err := codec.Embed(img, json.RawMessage(`{"v":1}`))
	require.NoError(t, err)

	// SOI and the existing APP0 segment stay in front of the new segment.
	require.True(t, bytes.HasPrefix(certified, append([]byte{0xFF, 0xD8}, app0...)))
	assert.Equal(t, 2+len(app0), bytes.Index(certified, []byte{0xFF, 0xEF}))
}

func TestJPEGEmbedPayloadTooLarge(t *testing.T) {
	codec := imgcodec.JPEG{}
	// Segment length field ceiling is 0xFFFF; the tag and the length field
	// itself leave room for 65525 payload bytes at most.
	big := bytes.Repeat([]byte("x"), 65526)
	payload, err := json.Marshal(string(big))
	require.NoError(t, err)

	_, err = codec.Embed(buildJPEG(), payload)
	assert.ErrorIs(t, err, imgcodec.ErrSegmentTooLarge)
}

func TestJPEGStripTruncatedSegment(t *testing.T) {
	codec := imgcodec.JPEG{}
	// DQT segment whose length field points past the end of the buffer.
	img := []byte{0xFF, 0xD8, 0xFF, 0xDB, 0xFF, 0x00, 0x01}

	stripped, err := codec.Strip(img)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, stripped, "accumulated bytes up to the corruption point")
}

func TestJPEGWrongFormat(t *testing.T) {
	codec := imgcodec.JPEG{}
	notJPEG := []byte{0x89, 0x50, 0x4E, 0x47}

	_, err := codec.Strip(notJPEG)
	assert.ErrorIs(t, err, imgcodec.ErrInvalidFormat)
	_, err = codec.Embed(notJPEG, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, imgcodec.ErrInvalidFormat)
	assert.Nil(t, codec.Extract(notJPEG))
}

func TestJPEGExtractIgnoresForeignApp15(t *testing.T) {
	codec := imgcodec.JPEG{}
	// APP15 segment without the tag, then a real certification segment.
	img := buildJPEG(jpegSegment(0xEF, []byte("OTHERDATA")))
	certified, err := codec.Embed(img, json.RawMessage(`{"v":3}`))
	require.NoError(t, err)

	got := codec.Extract(certified)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"v":3}`, string(got))
	assert.True(t, bytes.Contains(certified, []byte("OTHERDATA")), "foreign segment preserved")
}
