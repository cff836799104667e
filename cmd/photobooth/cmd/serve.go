package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapbooth/photobooth-agent/internal/api"
	"github.com/snapbooth/photobooth-agent/internal/artifacts"
	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/cloud"
	"github.com/snapbooth/photobooth-agent/internal/compose"
	"github.com/snapbooth/photobooth-agent/internal/config"
	"github.com/snapbooth/photobooth-agent/internal/db"
	"github.com/snapbooth/photobooth-agent/internal/finalize"
	"github.com/snapbooth/photobooth-agent/internal/history"
	"github.com/snapbooth/photobooth-agent/internal/layout"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
	"github.com/snapbooth/photobooth-agent/internal/monitor"
	"github.com/snapbooth/photobooth-agent/internal/signal"
	"github.com/snapbooth/photobooth-agent/internal/ui"
	"github.com/snapbooth/photobooth-agent/internal/watcher"
)

const (
	controllerPeerID = "controller"
	localMonitorID   = "local-monitor"
	shutdownTimeout  = 10 * time.Second
)

func newServeCmd(version string, load configLoader) *cobra.Command {
	var (
		headless bool
		noCamera bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the booth controller, HTTP API and signaling hub",
		Example: `  # Start the kiosk with the tray icon and the local camera
  photobooth serve

  # Run without a tray, camera on a separate machine
  photobooth serve --headless --no-camera`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, serveOptions{
				version:  version,
				headless: headless || cfg.Headless(),
				camera:   cfg.LocalCamera() && !noCamera,
			})
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run without the system tray")
	cmd.Flags().BoolVar(&noCamera, "no-camera", false, "do not start the local camera monitor")

	return cmd
}

type serveOptions struct {
	version  string
	headless bool
	camera   bool
}

func runServe(ctx context.Context, cfg *config.EnvConfig, opts serveOptions) error {
	startTime := time.Now()

	for _, dir := range []string{cfg.DataDir(), cfg.ArtifactsDir(), cfg.FramesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting photobooth agent",
		"version", opts.version,
		"data_dir", cfg.DataDir(),
		"booth_id", cfg.BoothID(),
	)

	database, err := db.New(ctx, cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	historyRepo := history.NewRepository(database.Conn())
	deviceID, err := historyRepo.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	cloudClient := newCloudClient(cfg, logger)

	registry := layout.NewRegistry()
	if n, err := registry.LoadYAML(filepath.Join(cfg.FramesDir(), layout.LayoutsFilename)); err != nil {
		logger.Warn("custom layouts not loaded", "error", err)
	} else if n > 0 {
		logger.Info("custom layouts loaded", "count", n)
	}

	runner := media.NewRunner(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	doctor := media.NewDoctor(runner, logger)
	caps, err := doctor.Refresh(ctx)
	if err != nil {
		logger.Warn("toolchain probe failed", "error", err)
	} else if !caps.Video() {
		logger.Warn("ffmpeg toolchain incomplete, recap videos and local camera disabled",
			"ffmpeg", caps.FFmpeg, "ffprobe", caps.FFprobe)
	} else {
		logger.Info("ffmpeg toolchain detected", "version", caps.Version)
	}

	tmpDir := filepath.Join(cfg.DataDir(), "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("failed to create tmp dir: %w", err)
	}

	assets := compose.NewFrameAssets(cfg.FramesDir(), cfg.MediaLoadTimeout(), logger)
	strip := compose.NewStripCompositor(registry, assets, cfg.DefaultMessage(), logger)
	store := artifacts.NewStore(cfg.ArtifactsDir())

	orchestrator := finalize.NewOrchestrator(cloudClient, finalize.OrchestratorOptions{
		WaitTimeout:  cfg.CompositorWait(),
		ShareBaseURL: cfg.ShareBaseURL(),
		Logger:       logger,
	})
	pipeline := finalize.NewPipeline(finalize.PipelineOptions{
		Strip: strip,
		Video: compose.VideoOptions{
			Registry:       registry,
			Assets:         assets,
			Opener:         compose.NewFFmpegClipOpener(runner, logger),
			Encoders:       compose.NewFFmpegEncoders(runner, tmpDir, logger),
			FPS:            cfg.VideoFPS(),
			LoadTimeout:    cfg.MediaLoadTimeout(),
			DefaultMessage: cfg.DefaultMessage(),
			Logger:         logger,
		},
		Store:        store,
		Orchestrator: orchestrator,
		History:      historyRepo,
		Room:         cfg.BoothID(),
		DeviceType:   cfg.DeviceType(),
		Logger:       logger,
	})

	hub := signal.NewHub(logger, 0)
	defer hub.Close()

	machine := booth.NewMachine(booth.Options{
		Registry:        registry,
		Sessions:        cloudClient,
		Finalizer:       pipeline,
		Preview:         media.PreviewDataURL,
		Room:            cfg.BoothID(),
		CaptureInterval: cfg.CaptureInterval(),
		CaptureTimeout:  cfg.CaptureTimeout(),
		Logger:          logger,
	})

	controller, err := hub.Join(cfg.BoothID(), controllerPeerID)
	if err != nil {
		return fmt.Errorf("failed to join signaling room: %w", err)
	}
	machine.SetBroadcaster(controller)
	pipeline.SetBroadcaster(controller)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		machine.Listen(runCtx, controller)
	}()

	frameWatcher := watcher.NewFSWatcher(logger)
	frameWatcher.OnChange(func(path string, event watcher.EventType) {
		reloadFrames(registry, assets, path, event, logger)
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := frameWatcher.Watch(runCtx, cfg.FramesDir()); err != nil {
			logger.Warn("frames directory not watched", "error", err)
		}
	}()

	autoCapture := booth.NewAutoCapture(machine)
	wg.Add(1)
	go func() {
		defer wg.Done()
		autoCapture.Start(runCtx)
	}()

	if opts.camera && caps.Video() {
		if err := startLocalMonitor(runCtx, &wg, hub, runner, tmpDir, cfg, logger); err != nil {
			logger.Warn("local camera monitor not started", "error", err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:            cfg.Port(),
		Machine:         machine,
		Strip:           strip,
		Artifacts:       artifacts.NewServer(store, logger),
		History:         historyRepo,
		Cloud:           cloudClient,
		Hub:             hub,
		Doctor:          doctor,
		AllowedOrigins:  cfg.AllowedOrigins(),
		HistoryLimit:    cfg.HistoryLimit(),
		PreviewDebounce: cfg.PreviewDebounce(),
		Logger:          logger,
		StartTime:       startTime,
		DeviceID:        deviceID,
		BoothID:         cfg.BoothID(),
		Version:         opts.version,
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("booth API available", "url", fmt.Sprintf("http://127.0.0.1:%d", cfg.Port()))
		if err := apiServer.Start(); err != nil {
			serverErr <- err
		}
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case err := <-serverErr:
			logger.Error("HTTP server error", "error", err)
		case <-quitCh:
		}
		quit()
	}()

	if opts.headless {
		logger.Info("running in headless mode (no system tray)")
		<-quitCh
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Booth:   machine,
			Capture: autoCapture,
			Logger:  logger,
			OnQuit:  quit,
		})
		go func() {
			<-quitCh
			tray.Quit()
		}()
		// systray needs the main goroutine on macOS.
		tray.Run()
		<-quitCh
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	hub.Close()
	wg.Wait()
	machine.Wait()

	logger.Info("shutdown complete")
	return nil
}

func newCloudClient(cfg config.Config, logger *slog.Logger) cloud.Client {
	if cfg.CloudEnabled() && cfg.CloudBaseURL() != "" && cfg.CloudToken() != "" {
		logger.Info("session API enabled", "base_url", cfg.CloudBaseURL())
		return cloud.NewHTTPClient(cfg.CloudBaseURL(), cfg.CloudToken(), cfg.BoothID(), cfg.DeviceType(), cfg.CloudRequestTimeout(), logger)
	}
	logger.Info("session API disabled, sessions stay local")
	return cloud.NewStubClient(logger)
}

// reloadFrames picks up edits to layouts.yaml and overlay PNGs without a
// restart. Frames removed from layouts.yaml stay registered until then.
func reloadFrames(registry *layout.Registry, assets *compose.FrameAssets, path string, event watcher.EventType, logger *slog.Logger) {
	switch {
	case filepath.Base(path) == layout.LayoutsFilename && event != watcher.EventDelete:
		n, err := registry.LoadYAML(path)
		if err != nil {
			logger.Warn("layouts reload failed", "path", path, "error", err)
			return
		}
		logger.Info("layouts reloaded", "count", n)
	case filepath.Ext(path) == ".png":
		assets.Invalidate()
		logger.Info("frame overlay changed", "path", path, "event", event.String())
	}
}

// startLocalMonitor attaches a camera monitor on this machine to the hub
// in-process, so a single kiosk needs no second websocket client.
func startLocalMonitor(ctx context.Context, wg *sync.WaitGroup, hub *signal.Hub, runner *media.Runner, tmpDir string, cfg config.Config, logger *slog.Logger) error {
	if err := runner.Check(); err != nil {
		return err
	}
	camera := monitor.NewFFmpegCamera(runner, cfg.CameraDevice(), cfg.CameraFormat(), tmpDir, logger)
	peer, err := hub.Join(cfg.BoothID(), localMonitorID)
	if err != nil {
		return err
	}
	m := monitor.New(camera, monitor.Options{Room: cfg.BoothID(), Logger: logger})
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx, peer)
	}()
	logger.Info("local camera monitor started", "device", cfg.CameraDevice())
	return nil
}
