package services

import (
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// EXIFService extracts capture metadata from images
type EXIFService struct{}

// NewEXIFService creates a new EXIFService
func NewEXIFService() *EXIFService {
	return &EXIFService{}
}

// DateTaken extracts the capture time from an image's EXIF block. Returns
// nil when the image carries no usable EXIF data; the caller falls back to
// the current time.
func (s *EXIFService) DateTaken(r io.Reader) *time.Time {
	x, err := exif.Decode(r)
	if err != nil {
		return nil
	}

	taken, err := x.DateTime()
	if err != nil {
		return nil
	}

	taken = taken.UTC()
	return &taken
}
