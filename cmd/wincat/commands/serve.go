package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/wincat/internal/api"
	"github.com/bryanchriswhite/wincat/internal/config"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/module"
)

// tickPeriod is how often sources get their liveness callback.
const tickPeriod = 100 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start capturing and serve the API",
	Long: `Start the wincat server.

Every source in the config file is created and starts selecting and
capturing windows. The config file is watched and changes are applied
live. Previews are served as MJPEG at /stream/{source-id}.`,
	Example: `  # Start server on default port (8080)
  wincat serve

  # Start server on custom port
  wincat serve --port 9090

  # Start with specific config file
  wincat serve --config /path/to/config.yaml

  # Start with debug logging
  wincat serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	// Flags override the file for this run only
	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")

	log.Info().Str("path", configMgr.Path()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m, err := module.NewPlatform(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize capture module: %w", err)
	}
	defer m.Unload()

	if err := m.Load(ctx); err != nil {
		return fmt.Errorf("failed to load capture module: %w", err)
	}
	if err := m.Apply(cfg, configMgr.Dir()); err != nil {
		log.Warn().Err(err).Msg("Some sources are misconfigured")
	}

	go runTicks(ctx, m)

	go func() {
		err := configMgr.Watch(ctx, func(next *config.Config) {
			if err := m.Apply(next, configMgr.Dir()); err != nil {
				log.Warn().Err(err).Msg("Some sources are misconfigured")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watching disabled")
		}
	}()

	server := api.NewServer(m, configMgr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("sources", len(m.Sources())).
		Str("web_ui", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Msg("wincat is running, press Ctrl+C to stop")

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}
	// Stop ticks and config reloads before the deferred Unload.
	cancel()

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return serveErr
}

// runTicks drives the sources' liveness callbacks until ctx is done.
func runTicks(ctx context.Context, m *module.Module) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Tick(now.Sub(last))
			last = now
		}
	}
}
