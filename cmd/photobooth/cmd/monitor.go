package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
	"github.com/snapbooth/photobooth-agent/internal/monitor"
	"github.com/snapbooth/photobooth-agent/internal/signal"
)

func newMonitorCmd(load configLoader) *cobra.Command {
	var (
		controllerURL string
		room          string
		stillsOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the camera monitor against a remote booth controller",
		Long: `monitor joins the controller's signaling room over websocket and answers
capture requests with stills and short clips from the local camera.`,
		Example: `  # Camera on a second machine next to the kiosk
  photobooth monitor --controller ws://kiosk.local:8787/ws

  # Stills only, explicit room
  photobooth monitor --controller ws://10.0.0.5:8787/ws --room booth-2 --stills-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if room == "" {
				room = cfg.BoothID()
			}
			if controllerURL == "" {
				controllerURL = fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Port())
			}

			logger := logging.NewLogger(cfg.LogLevel())
			runner := media.NewRunner(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
			if err := runner.Check(); err != nil {
				return err
			}

			tmpDir := filepath.Join(os.TempDir(), "photobooth-monitor")
			if err := os.MkdirAll(tmpDir, 0755); err != nil {
				return fmt.Errorf("failed to create tmp dir: %w", err)
			}

			ctx := cmd.Context()
			client, err := signal.Dial(ctx, controllerURL, room, "monitor", logger)
			if err != nil {
				return fmt.Errorf("connect to controller: %w", err)
			}
			defer client.Close()

			camera := monitor.NewFFmpegCamera(runner, cfg.CameraDevice(), cfg.CameraFormat(), tmpDir, logger)
			m := monitor.New(camera, monitor.Options{
				Room:         room,
				DisableClips: stillsOnly,
				Logger:       logger,
			})

			logger.Info("camera monitor connected", "controller", controllerURL, "room", room)
			m.Run(ctx, client)
			logger.Info("camera monitor stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&controllerURL, "controller", "", "controller websocket URL (default ws://127.0.0.1:<port>/ws)")
	cmd.Flags().StringVar(&room, "room", "", "signaling room (default the configured booth id)")
	cmd.Flags().BoolVar(&stillsOnly, "stills-only", false, "capture stills without video clips")

	return cmd
}
