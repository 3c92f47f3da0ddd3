package session

import (
	"errors"
	"fmt"

	"github.com/ayusman/palmreader/internal/predict"
)

// ErrBusy is returned by Read and Reset while a session is running.
var ErrBusy = errors.New("a palm reading is already in progress")

// Kind classifies why a session failed.
type Kind int

const (
	KindCamera Kind = iota + 1
	KindDetector
	KindCapture
	KindPrediction
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindDetector:
		return "detector"
	case KindCapture:
		return "capture"
	case KindPrediction:
		return "prediction"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Message is the text shown to the user for a failure of this kind.
func (k Kind) Message() string {
	switch k {
	case KindCamera:
		return "Failed to access camera."
	case KindDetector:
		return "Failed to detect hand."
	case KindCapture:
		return "Failed to capture image."
	case KindPrediction:
		return predict.FallbackMessage
	case KindCanceled:
		return "Reading canceled."
	default:
		return "Something went wrong."
	}
}

// Error is a failed session. Message is safe to display; Err is the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: kind.Message(), Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
