// Package exif defines the camera-metadata port consumed by the
// certification protocol. Real TIFF/IFD extraction is an external
// collaborator; its output is only ever embedded as an opaque value in the
// signed payload.
package exif

import (
	"github.com/imgtrust/imgtrust/internal/model"
)

// Reader extracts EXIF metadata from raw image bytes. Implementations must
// return defaults rather than fail when an image carries no metadata.
type Reader interface {
	Extract(image []byte) (*model.ExifData, error)
}

// Defaults returns the value used when no EXIF data is available.
func Defaults() *model.ExifData {
	return &model.ExifData{}
}

// NopReader satisfies Reader without parsing anything; it always reports
// defaults. The production reader is injected by the caller.
type NopReader struct{}

var _ Reader = NopReader{}

func (NopReader) Extract([]byte) (*model.ExifData, error) {
	return Defaults(), nil
}
