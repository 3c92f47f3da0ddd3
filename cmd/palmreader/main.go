// Command palmreader captures an open palm from the webcam and shows a
// palm reading from the prediction service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/palmreader/internal/config"
	"github.com/ayusman/palmreader/internal/log"
)

var (
	envFile      string
	predictorURL string
	urlMode      string
	trigger      string
	heuristic    string
	thumb        string
	cameraID     int
	countdown    int
	delay        time.Duration
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:          "palmreader",
	Short:        "Palm Reader - webcam palm capture and reading",
	SilenceUsage: true,
	Long: `Palm Reader waits for an open palm in front of the webcam, counts down,
captures a still and sends it to the prediction service.

Settings come from PALMREADER_* environment variables, an optional .env
file, and the flags below, in increasing order of precedence.`,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", "", "Load settings from this .env file (default .env)")
	flags.StringVar(&predictorURL, "predictor-url", config.DefaultPredictorURL, "Prediction service base URL")
	flags.StringVar(&urlMode, "url-mode", "host", "How image paths become URLs: host or relative")
	flags.StringVar(&trigger, "trigger", "palm", "Capture trigger: palm or delay")
	flags.StringVar(&heuristic, "heuristic", "strict", "Open palm rule: strict or relaxed")
	flags.StringVar(&thumb, "thumb", "lower-x", "Thumb direction: lower-x, higher-x or handedness")
	flags.IntVar(&cameraID, "camera", 0, "Camera device index")
	flags.IntVar(&countdown, "countdown", config.DefaultCountdown, "Countdown seconds before capture")
	flags.DurationVar(&delay, "delay", config.DefaultDelay, "Capture delay when the trigger is delay")
	flags.StringVar(&logLevel, "log-level", "info", "Log level")
}

// loadConfig reads the environment and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("predictor-url") {
		cfg.PredictorURL = predictorURL
	}
	if flags.Changed("url-mode") {
		cfg.URLMode = urlMode
	}
	if flags.Changed("trigger") {
		cfg.Trigger = trigger
	}
	if flags.Changed("heuristic") {
		cfg.Heuristic = heuristic
	}
	if flags.Changed("thumb") {
		cfg.Thumb = thumb
	}
	if flags.Changed("camera") {
		cfg.CameraID = cameraID
	}
	if flags.Changed("countdown") {
		cfg.Countdown = countdown
	}
	if flags.Changed("delay") {
		cfg.Delay = delay
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	return cfg, nil
}

// setup loads and validates the configuration and starts logging.
func setup(cmd *cobra.Command, apply func(*config.Config)) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, err
	}
	if apply != nil {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	log.Init(log.Options{Level: cfg.LogLevel, Dir: cfg.LogDir})
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	fmt.Fprintln(os.Stderr, "Palm Reader")
	Execute()
}
