// Package config loads palm reader settings from the environment.
//
// Values are read from PALMREADER_* environment variables, optionally
// seeded from a .env file, and may be overridden by command-line flags
// before Validate is called.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Default settings.
const (
	DefaultPredictorURL = "http://127.0.0.1:8000"
	DefaultAddr         = ":8080"
	DefaultCountdown    = 3
	DefaultDebounce     = 2
	DefaultDelay        = 3 * time.Second
	DefaultDetectFPS    = 15
)

// Config holds all runtime settings.
type Config struct {
	PredictorURL string `validate:"required,url"`
	// URLMode selects how image paths returned by the predictor become URLs.
	URLMode string `validate:"oneof=host relative"`

	CameraID int `validate:"gte=0"`

	// Trigger is "palm" (detector + heuristic) or "delay" (fixed timer).
	Trigger   string        `validate:"oneof=palm delay"`
	Heuristic string        `validate:"oneof=strict relaxed"`
	Thumb     string        `validate:"oneof=lower-x higher-x handedness"`
	Debounce  int           `validate:"gte=1,lte=30"`
	Countdown int           `validate:"gte=0,lte=10"`
	Delay     time.Duration `validate:"gt=0"`
	DetectFPS int           `validate:"gte=1,lte=60"`

	// DetectorScript overrides the MediaPipe service script location.
	DetectorScript string

	Addr    string `validate:"required"`
	DataDir string
	WebDir  string
	Tray    bool

	LogLevel string `validate:"oneof=trace debug info warn warning error"`
	LogDir   string
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		PredictorURL: DefaultPredictorURL,
		URLMode:      "host",
		CameraID:     0,
		Trigger:      "palm",
		Heuristic:    "strict",
		Thumb:        "lower-x",
		Debounce:     DefaultDebounce,
		Countdown:    DefaultCountdown,
		Delay:        DefaultDelay,
		DetectFPS:    DefaultDetectFPS,
		Addr:         DefaultAddr,
		LogLevel:     "info",
	}
}

// Load reads an optional .env file and the environment on top of the defaults.
// A missing .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the defaults and the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PALMREADER_PREDICTOR_URL", &c.PredictorURL)
	str("PALMREADER_URL_MODE", &c.URLMode)
	num("PALMREADER_CAMERA_ID", &c.CameraID)
	str("PALMREADER_TRIGGER", &c.Trigger)
	str("PALMREADER_HEURISTIC", &c.Heuristic)
	str("PALMREADER_THUMB", &c.Thumb)
	num("PALMREADER_DEBOUNCE", &c.Debounce)
	num("PALMREADER_COUNTDOWN", &c.Countdown)
	num("PALMREADER_DETECT_FPS", &c.DetectFPS)
	str("PALMREADER_DETECTOR_SCRIPT", &c.DetectorScript)
	str("PALMREADER_ADDR", &c.Addr)
	str("PALMREADER_DATA_DIR", &c.DataDir)
	str("PALMREADER_WEB_DIR", &c.WebDir)
	str("PALMREADER_LOG_LEVEL", &c.LogLevel)
	str("PALMREADER_LOG_DIR", &c.LogDir)

	if v := getenv("PALMREADER_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PALMREADER_DELAY: %w", err))
		} else {
			c.Delay = d
		}
	}
	if v := getenv("PALMREADER_TRAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PALMREADER_TRAY: %w", err))
		} else {
			c.Tray = b
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return c, nil
}

var validate = validator.New()

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DatabasePath returns the reading history database path, or "" when
// history is disabled.
func (c Config) DatabasePath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "palmreader.db")
}

// DefaultDataDir returns ~/.palmreader, or "" if the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".palmreader")
}
