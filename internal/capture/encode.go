package capture

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrCapture means a still could not be produced from the current frame.
var ErrCapture = errors.New("capture produced no image data")

// Snapshot copies frame into a new raster at the frame's native
// resolution, so the still survives the camera being released.
// The caller must close the result.
func Snapshot(frame *gocv.Mat) (gocv.Mat, error) {
	if frame == nil || frame.Empty() {
		return gocv.NewMat(), ErrCapture
	}
	return frame.Clone(), nil
}

// EncodeJPEG serializes frame as JPEG bytes.
func EncodeJPEG(frame *gocv.Mat) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrCapture
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	defer buf.Close()

	if buf.Len() == 0 {
		return nil, ErrCapture
	}

	// The buffer's bytes live in C memory that Close frees.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
