package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/acquisition"
	"github.com/bryanchriswhite/stereocam/internal/api"
	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/device"
	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/bryanchriswhite/stereocam/internal/output"
	"github.com/bryanchriswhite/stereocam/internal/rig"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stereo camera node",
	Long: `Start the acquisition loop and the HTTP server.

Capture stays off until an activation request arrives, unless
camera.start_active is set. Images are published on the websocket
streams /api/stream/left, /api/stream/right and /api/stream/stereo.`,
	Example: `  # Start on the default port (8080) with real cameras
  stereocam serve

  # Run without hardware
  STEREOCAM_DRIVER=simulated stereocam serve

  # Start on a custom port with debug logging
  stereocam serve --port 9090 --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func deviceFactory(driver config.Driver) device.Factory {
	if driver == config.DriverSimulated {
		return device.NewSimulatedFactory()
	}
	return device.NewV4L2
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("driver", string(cfg.Driver)).
		Str("camera", cfg.Camera.String()).
		Bool("start_active", cfg.Camera.StartActive).
		Msg("Starting stereocam")

	r := rig.New(deviceFactory(cfg.Driver), rig.WithPollInterval(cfg.Loop.PollInterval))
	state := acquisition.NewState(cfg.Camera.CameraConfig, cfg.Camera.StartActive)

	hub := output.NewHub()
	if err := hub.Start(); err != nil {
		return err
	}
	defer hub.Stop()

	loop := acquisition.NewLoop(r, state, hub, cfg.Loop)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(ctx)
	}()

	server := api.NewServer(r, state, loop, hub, configMgr)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("sd_notify failed")
	}
	go watchdog(ctx, loop)

	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("stereocam is running, API on http://localhost:%d/api", cfg.ServerPort)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	// the loop releases both cameras on return
	stop()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Acquisition loop ended with error")
	}
	return runErr
}

// watchdog pings systemd only while the acquisition loop keeps iterating
func watchdog(ctx context.Context, loop *acquisition.Loop) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := loop.Stats().LastIteration
			if time.Since(last) > interval {
				logger.WithComponent("serve").Warn().
					Time("last_iteration", last).
					Msg("Acquisition loop stalled, withholding watchdog ping")
				continue
			}
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
