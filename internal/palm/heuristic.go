// Package palm decides whether a detected hand is an open palm.
package palm

import (
	"fmt"

	"github.com/ayusman/palmreader/internal/detector"
)

// Default tolerances for the relaxed policy, in normalized image units.
const (
	DefaultThumbMargin     = 0.02
	DefaultFingerTolerance = 0.01
	DefaultMinDigits       = 3
)

// Frame is one analyzed set of landmarks. Points must hold exactly
// detector.NumLandmarks entries to be considered at all.
type Frame struct {
	Points     []detector.Point3D
	Handedness string
}

// FrameOf converts a detector result into a Frame. A nil hand yields nil.
func FrameOf(hand *detector.HandLandmarks) *Frame {
	if hand == nil {
		return nil
	}
	return &Frame{Points: hand.Points[:], Handedness: hand.Handedness}
}

func (f *Frame) valid() bool {
	return f != nil && len(f.Points) == detector.NumLandmarks
}

// ThumbDirection says which way along X an extended thumb points.
//
// The thumb rule only compares X coordinates, so it is correct for one
// hand orientation at a time. Which orientation a camera produces
// depends on mirroring and handedness; the default keeps the observed
// tip.x < joint.x rule rather than guessing.
type ThumbDirection int

const (
	// ThumbLowerX treats the thumb as extended when its tip has a lower X than its IP joint.
	ThumbLowerX ThumbDirection = iota
	// ThumbHigherX treats the thumb as extended when its tip has a higher X than its IP joint.
	ThumbHigherX
	// ThumbByHandedness uses ThumbLowerX for "Right" hands and ThumbHigherX for "Left".
	ThumbByHandedness
)

// ParseThumbDirection maps a config value to a ThumbDirection.
func ParseThumbDirection(s string) (ThumbDirection, error) {
	switch s {
	case "", "lower-x":
		return ThumbLowerX, nil
	case "higher-x":
		return ThumbHigherX, nil
	case "handedness":
		return ThumbByHandedness, nil
	}
	return 0, fmt.Errorf("unknown thumb direction %q", s)
}

// outward returns how far the thumb tip lies beyond its IP joint in the
// extended direction. Positive means extended.
func (d ThumbDirection) outward(f *Frame) float64 {
	delta := f.Points[detector.ThumbIP].X - f.Points[detector.ThumbTip].X
	switch d {
	case ThumbHigherX:
		return -delta
	case ThumbByHandedness:
		if f.Handedness == "Left" {
			return -delta
		}
	}
	return delta
}

// fingerTips are the non-thumb fingertips; each PIP joint sits two indices below.
var fingerTips = [4]int{detector.IndexTip, detector.MiddleTip, detector.RingTip, detector.PinkyTip}

// Digits reports which digits are extended, thumb first.
// thumbMargin is the outward distance the thumb tip must exceed;
// fingerTolerance lets a fingertip sit that far below its PIP joint
// and still count. Both are zero for the strict rule.
func Digits(f *Frame, dir ThumbDirection, thumbMargin, fingerTolerance float64) [5]bool {
	var out [5]bool
	if !f.valid() {
		return out
	}

	out[0] = dir.outward(f) > thumbMargin
	for i, tip := range fingerTips {
		pip := tip - 2
		out[i+1] = f.Points[tip].Y < f.Points[pip].Y+fingerTolerance
	}
	return out
}

// Heuristic classifies a frame as an open palm or not.
type Heuristic interface {
	IsOpen(f *Frame) bool
}

// Strict requires the thumb and all four fingers to be extended.
type Strict struct {
	Thumb ThumbDirection
}

// IsOpen implements Heuristic.
func (s Strict) IsOpen(f *Frame) bool {
	if !f.valid() {
		return false
	}
	for _, ok := range Digits(f, s.Thumb, 0, 0) {
		if !ok {
			return false
		}
	}
	return true
}

// Relaxed counts digits using small tolerances and accepts the hand
// once MinDigits of them are extended.
type Relaxed struct {
	Thumb           ThumbDirection
	ThumbMargin     float64
	FingerTolerance float64
	MinDigits       int
}

// NewRelaxed returns a Relaxed heuristic with the default tolerances.
func NewRelaxed(thumb ThumbDirection) Relaxed {
	return Relaxed{
		Thumb:           thumb,
		ThumbMargin:     DefaultThumbMargin,
		FingerTolerance: DefaultFingerTolerance,
		MinDigits:       DefaultMinDigits,
	}
}

// Count returns how many digits pass the relaxed checks.
func (r Relaxed) Count(f *Frame) int {
	n := 0
	for _, ok := range Digits(f, r.Thumb, r.ThumbMargin, r.FingerTolerance) {
		if ok {
			n++
		}
	}
	return n
}

// IsOpen implements Heuristic.
func (r Relaxed) IsOpen(f *Frame) bool {
	if !f.valid() {
		return false
	}
	return r.Count(f) >= r.MinDigits
}

// New builds the heuristic named by policy ("strict" or "relaxed").
func New(policy string, thumb ThumbDirection) (Heuristic, error) {
	switch policy {
	case "", "strict":
		return Strict{Thumb: thumb}, nil
	case "relaxed":
		return NewRelaxed(thumb), nil
	}
	return nil, fmt.Errorf("unknown palm heuristic %q", policy)
}
