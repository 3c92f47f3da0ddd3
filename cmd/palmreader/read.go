package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/palmreader/internal/app"
	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/session"
)

var readSave string

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Take one reading and print it",
	Long: `Read runs a single session in the terminal: it opens the camera, waits
for an open palm (or the delay), counts down, captures and prints the
prediction. With --save the annotated image is written to a file.`,
	Args: cobra.NoArgs,
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVar(&readSave, "save", "", "Write the annotated hand image to this file")
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd, nil)
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

	out := cmd.OutOrStdout()
	unsubscribe := a.Controller().Subscribe(func(v session.View) {
		switch {
		case v.State == session.StateCountdown && v.Countdown > 0:
			fmt.Fprintf(out, "%d...\n", v.Countdown)
		case v.State == session.StateDetecting:
			fmt.Fprintln(out, "Show an open palm to the camera.")
		}
	})
	defer unsubscribe()

	pred, err := a.ReadOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, pred.Text)
	if pred.Summary != "" {
		fmt.Fprintln(out, pred.Summary)
	}

	if readSave == "" || pred.ImageURL == "" {
		return nil
	}
	img, err := a.FetchImage(ctx, pred.ImageURL)
	if err != nil {
		log.Warn(log.Fields{"url": pred.ImageURL, "error": err.Error()}, "downloading annotated image")
		return nil
	}
	if err := os.WriteFile(readSave, img, 0644); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	fmt.Fprintf(out, "Saved %s\n", readSave)
	return nil
}
