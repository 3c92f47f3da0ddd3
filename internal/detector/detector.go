package detector

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to track.
	MaxHands int

	// ModelComplexity selects the landmark model (0 = lite, 1 = full).
	ModelComplexity int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath overrides discovery of the MediaPipe service script.
	ScriptPath string

	// Python overrides discovery of the interpreter.
	Python string

	// IdleTimeout stops the service after this long without a frame.
	IdleTimeout time.Duration

	// JPEGQuality is used for frames sent to the service.
	JPEGQuality int
}

// DefaultConfig returns the settings used for palm capture: a single
// hand, full model, 0.7 confidence thresholds.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		ModelComplexity: 1,
		MinConfidence:   0.7,
		MinTrackingConf: 0.7,
		IdleTimeout:     DefaultIdleTimeout,
		JPEGQuality:     80,
	}
}

// Validate reports out-of-range settings.
func (c Config) Validate() error {
	if c.MaxHands < 1 {
		return fmt.Errorf("max hands must be at least 1, got %d", c.MaxHands)
	}
	if c.ModelComplexity < 0 || c.ModelComplexity > 1 {
		return fmt.Errorf("model complexity must be 0 or 1, got %d", c.ModelComplexity)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min detection confidence out of range: %v", c.MinConfidence)
	}
	if c.MinTrackingConf < 0 || c.MinTrackingConf > 1 {
		return fmt.Errorf("min tracking confidence out of range: %v", c.MinTrackingConf)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality out of range: %d", c.JPEGQuality)
	}
	return nil
}

// args renders the config as service command-line flags.
func (c Config) args() []string {
	return []string{
		"--max-hands", fmt.Sprint(c.MaxHands),
		"--model-complexity", fmt.Sprint(c.ModelComplexity),
		"--min-detection-confidence", fmt.Sprint(c.MinConfidence),
		"--min-tracking-confidence", fmt.Sprint(c.MinTrackingConf),
	}
}
