package imgcodec

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// init initializes the package logger.
func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "imgcodec"))
}

// Error taxonomy for the binary codecs. Embed and Strip fail loudly on a
// structurally invalid container (that is a caller routing error); Extract
// never fails, because most images carry no payload.
var (
	// ErrInvalidFormat indicates the input does not start with the magic
	// bytes the codec expects.
	ErrInvalidFormat = errors.New("imgcodec: not a valid container for this codec")
	// ErrUnknownFormat indicates no codec recognizes the input.
	ErrUnknownFormat = errors.New("imgcodec: unrecognized image format")
	// ErrSegmentTooLarge indicates the payload exceeds the format's
	// length-field ceiling.
	ErrSegmentTooLarge = errors.New("imgcodec: payload exceeds segment length ceiling")
	// ErrMissingStructure indicates a required container structure (such as
	// the PNG end chunk) was not found.
	ErrMissingStructure = errors.New("imgcodec: required container structure not found")
)

// Format identifies a supported image container.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatUnknown Format = "unknown"
)

// MIME types accepted as detection hints.
const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// Codec is the capability set shared by the container formats.
type Codec interface {
	// IsValid reports whether data begins with this format's magic bytes.
	IsValid(data []byte) bool

	// Strip returns a copy of data with all non-essential metadata removed,
	// suitable for content hashing. A truncated or corrupt stream yields the
	// bytes accumulated up to the corruption point, not an error; only a
	// wrong-format input fails.
	Strip(data []byte) ([]byte, error)

	// Embed returns a copy of data carrying payload in the format's reserved
	// certification segment. Any prior certification payload is replaced.
	// Every other byte of the container is preserved unmodified.
	Embed(data []byte, payload json.RawMessage) ([]byte, error)

	// Extract returns the embedded certification payload, or nil when the
	// image carries none or it is unreadable. It never fails.
	Extract(data []byte) json.RawMessage
}

// Compile-time contract checks.
var (
	_ Codec = JPEG{}
	_ Codec = PNG{}
)

// Detect sniffs the container format from magic bytes. A MIME hint is
// honored only when it agrees with the bytes; the bytes always win.
func Detect(data []byte, mimeHint string) Format {
	format := FormatUnknown
	switch {
	case (JPEG{}).IsValid(data):
		format = FormatJPEG
	case (PNG{}).IsValid(data):
		format = FormatPNG
	}
	if mimeHint != "" {
		hinted := FormatUnknown
		switch mimeHint {
		case mimeJPEG:
			hinted = FormatJPEG
		case mimePNG:
			hinted = FormatPNG
		}
		if hinted != format {
			logger.Debug("MIME hint disagrees with magic bytes, trusting bytes",
				zap.String("hint", mimeHint), zap.String("detected", string(format)))
		}
	}
	return format
}

// For returns the codec for a detected format, or nil for FormatUnknown.
func For(format Format) Codec {
	switch format {
	case FormatJPEG:
		return JPEG{}
	case FormatPNG:
		return PNG{}
	default:
		return nil
	}
}

// Strip routes data to the matching codec's Strip. Unrecognized input is
// returned unchanged.
func Strip(data []byte) ([]byte, error) {
	codec := For(Detect(data, ""))
	if codec == nil {
		return data, nil
	}
	return codec.Strip(data)
}

// Embed routes data to the matching codec's Embed. Unrecognized input fails.
func Embed(data []byte, payload json.RawMessage) ([]byte, error) {
	codec := For(Detect(data, ""))
	if codec == nil {
		return nil, fmt.Errorf("imgcodec: cannot embed payload: %w", ErrUnknownFormat)
	}
	return codec.Embed(data, payload)
}

// Extract routes data to the matching codec's Extract. Unrecognized input
// yields nil.
func Extract(data []byte) json.RawMessage {
	codec := For(Detect(data, ""))
	if codec == nil {
		return nil
	}
	return codec.Extract(data)
}
