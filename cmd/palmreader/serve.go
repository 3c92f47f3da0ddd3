package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/palmreader/internal/app"
	"github.com/ayusman/palmreader/internal/config"
	"github.com/ayusman/palmreader/internal/log"
)

var (
	serveAddr    string
	serveTray    bool
	serveWebDir  string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the viewer server and the tray menu",
	Long: `Serve starts the browser viewer and, with --tray, a menu bar item.
A reading is started from the viewer's button or the tray's "Read My Palm".`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", config.DefaultAddr, "Viewer listen address")
	serveCmd.Flags().BoolVar(&serveTray, "tray", false, "Show the tray menu")
	serveCmd.Flags().StringVar(&serveWebDir, "web-dir", "", "Viewer static files (default: search web, ../web, ~/.palmreader/web)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Reading history directory (default ~/.palmreader)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd, func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("addr") {
			c.Addr = serveAddr
		}
		if flags.Changed("tray") {
			c.Tray = serveTray
		}
		if flags.Changed("web-dir") {
			c.WebDir = serveWebDir
		}
		if flags.Changed("data-dir") {
			c.DataDir = serveDataDir
		}
		if c.WebDir == "" {
			c.WebDir = findWebDir()
		}
	})
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fields := log.Fields{"addr": cfg.Addr, "viewer": a.ViewerURL(), "trigger": string(a.Controller().Trigger())}
	if cfg.WebDir != "" {
		fields["web_dir"] = cfg.WebDir
	}
	log.Info(fields, "palm reader started")

	return a.Serve(ctx)
}

// findWebDir searches for the viewer's static files in common locations:
// "web", "../web", "../../web" and ~/.palmreader/web. It returns "" if
// none exists.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return ""
	}
	homeWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
