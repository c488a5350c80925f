package fwimage

import (
	"errors"
	"fmt"
)

// ErrInvalidImage is returned for any malformed or truncated update image.
// It is never recoverable by retrying.
var ErrInvalidImage = errors.New("invalid update image")

// BlobSizeError indicates that a blob handed to the encoder does not have
// the exact size required by the layout.
type BlobSizeError struct {
	Region Region
	Got    int
	Want   int
}

func (e *BlobSizeError) Error() string {
	return fmt.Sprintf("%s blob is %d bytes, layout requires exactly %d", e.Region, e.Got, e.Want)
}

// Is reports ErrInvalidImage so callers can treat size violations like any
// other format error.
func (e *BlobSizeError) Is(target error) bool {
	return target == ErrInvalidImage
}
