package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It returns queued results in order, then repeats the fallback result.
type MockDetector struct {
	mu     sync.Mutex
	queue  [][]HandLandmarks
	hands  []HandLandmarks
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands returned once the queue is drained.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// Enqueue appends per-frame results consumed one per Detect call.
func (m *MockDetector) Enqueue(frames ...[]HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, frames...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next queued result, the fallback hands, or the configured error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.hands, nil
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// OpenPalmLandmarks returns a right hand facing the camera with all five
// digits extended. The thumb points toward lower X, the orientation
// assumed by the default thumb rule.
func OpenPalmLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}

	landmarks.Points[ThumbCMC] = Point3D{X: 0.45, Y: 0.75, Z: 0.02}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.38, Y: 0.70, Z: 0.03}
	landmarks.Points[ThumbIP] = Point3D{X: 0.32, Y: 0.65, Z: 0.03}
	landmarks.Points[ThumbTip] = Point3D{X: 0.27, Y: 0.60, Z: 0.03}

	landmarks.Points[IndexMCP] = Point3D{X: 0.45, Y: 0.68}
	landmarks.Points[IndexPIP] = Point3D{X: 0.43, Y: 0.55}
	landmarks.Points[IndexDIP] = Point3D{X: 0.42, Y: 0.45}
	landmarks.Points[IndexTip] = Point3D{X: 0.42, Y: 0.35}

	landmarks.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.66}
	landmarks.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.52}
	landmarks.Points[MiddleDIP] = Point3D{X: 0.50, Y: 0.40}
	landmarks.Points[MiddleTip] = Point3D{X: 0.50, Y: 0.28}

	landmarks.Points[RingMCP] = Point3D{X: 0.55, Y: 0.68}
	landmarks.Points[RingPIP] = Point3D{X: 0.57, Y: 0.55}
	landmarks.Points[RingDIP] = Point3D{X: 0.58, Y: 0.45}
	landmarks.Points[RingTip] = Point3D{X: 0.58, Y: 0.35}

	landmarks.Points[PinkyMCP] = Point3D{X: 0.60, Y: 0.70}
	landmarks.Points[PinkyPIP] = Point3D{X: 0.63, Y: 0.60}
	landmarks.Points[PinkyDIP] = Point3D{X: 0.65, Y: 0.50}
	landmarks.Points[PinkyTip] = Point3D{X: 0.66, Y: 0.42}

	return landmarks
}

// FistLandmarks returns a closed right hand: every fingertip is curled
// below its PIP joint and the thumb is tucked across the palm.
func FistLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.93,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}

	landmarks.Points[ThumbCMC] = Point3D{X: 0.45, Y: 0.75}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.42, Y: 0.70}
	landmarks.Points[ThumbIP] = Point3D{X: 0.44, Y: 0.66}
	landmarks.Points[ThumbTip] = Point3D{X: 0.49, Y: 0.66}

	landmarks.Points[IndexMCP] = Point3D{X: 0.45, Y: 0.66, Z: -0.02}
	landmarks.Points[IndexPIP] = Point3D{X: 0.45, Y: 0.62, Z: -0.05}
	landmarks.Points[IndexDIP] = Point3D{X: 0.46, Y: 0.66, Z: -0.04}
	landmarks.Points[IndexTip] = Point3D{X: 0.46, Y: 0.69, Z: -0.02}

	landmarks.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.65, Z: -0.02}
	landmarks.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.61, Z: -0.05}
	landmarks.Points[MiddleDIP] = Point3D{X: 0.51, Y: 0.65, Z: -0.04}
	landmarks.Points[MiddleTip] = Point3D{X: 0.51, Y: 0.68, Z: -0.02}

	landmarks.Points[RingMCP] = Point3D{X: 0.55, Y: 0.66, Z: -0.02}
	landmarks.Points[RingPIP] = Point3D{X: 0.55, Y: 0.62, Z: -0.05}
	landmarks.Points[RingDIP] = Point3D{X: 0.56, Y: 0.66, Z: -0.04}
	landmarks.Points[RingTip] = Point3D{X: 0.56, Y: 0.69, Z: -0.02}

	landmarks.Points[PinkyMCP] = Point3D{X: 0.60, Y: 0.68, Z: -0.02}
	landmarks.Points[PinkyPIP] = Point3D{X: 0.60, Y: 0.65, Z: -0.05}
	landmarks.Points[PinkyDIP] = Point3D{X: 0.61, Y: 0.68, Z: -0.04}
	landmarks.Points[PinkyTip] = Point3D{X: 0.61, Y: 0.71, Z: -0.02}

	return landmarks
}
