package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core/ratelimit"
	errwrap "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/feed"
	"github.com/deadlinecal/deadlinecal/internal/metrics"
	"github.com/deadlinecal/deadlinecal/internal/observability"
	"github.com/deadlinecal/deadlinecal/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the deadline calendar feeds",
	Long: `Serve the deadline calendar feeds over HTTP with graceful shutdown.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate the config file (restart to apply changes)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "listen port (overrides server.port)")
}

// bindCommandFlags lets explicitly set flags override config and env.
func bindCommandFlags(v *viper.Viper) {
	for key, name := range map[string]string{
		"server.host": "host",
		"server.port": "port",
	} {
		if flag := serveCmd.Flags().Lookup(name); flag != nil && flag.Changed {
			v.Set(key, flag.Value.String())
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(err)
	}

	observability.InitServerLogger(appName, cfg.Logging, verbose)
	logger := observability.ServerLogger

	if err := observability.InitMetrics(appName, cfg.Metrics); err != nil {
		logger.Error("Failed to initialize metrics", zap.Error(err))
		return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "metrics initialization failed")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open deadline store",
			zap.String("path", cfg.Store.Path),
			zap.String("allowed_root", cfg.Store.AllowedRoot),
			zap.Error(err))
		return err
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		_ = db.Close()
		return configError(err)
	}
	renderer, err := feed.New(cfg.Feed)
	if err != nil {
		_ = db.Close()
		return configError(err)
	}

	srv, err := server.New(cfg, server.Deps{
		Store:    db,
		Limiter:  limiter,
		Renderer: renderer,
		Version:  versionInfo.Version,
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	if err := limiter.Start(func(removed int) {
		stats := limiter.Stats()
		metrics.SetRateLimitClients(stats.TrackedClients, removed)
		logger.Debug("Swept idle rate limit clients",
			zap.Int("removed", removed),
			zap.Int("tracked", stats.TrackedClients))
	}); err != nil {
		_ = db.Close()
		return configError(err)
	}

	logger.Info("Initializing server",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.String("store_driver", db.Driver()),
		zap.Bool("rate_limit", limiter.Enabled()),
		zap.Int("rate_limit_max", cfg.RateLimit.MaxRequests),
		zap.Duration("rate_limit_window", cfg.RateLimit.Window()),
		zap.Int("metrics_port", observability.GetMetricsPort()))

	registerShutdown(cfg, srv, limiter, db)

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: validating configuration")
		if err := settings.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				logger.Info("No config file found - using defaults and environment variables")
				return nil
			}
			return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
		}
		if _, err := config.Load(settings); err != nil {
			return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "reloaded config is invalid")
		}
		logger.Info("Configuration is valid; restart to apply changes",
			zap.String("file", settings.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	metrics.SetServerStartTime(time.Now())

	errChan := make(chan error, 2)
	go func() {
		err := srv.Start()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errChan <- err
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server error")
	}
	return nil
}

// registerShutdown registers the shutdown handlers. They run last
// registered first: HTTP server, then limiter and store, then logger flush.
func registerShutdown(cfg config.Config, srv *server.Server, limiter *ratelimit.Limiter, db interface{ Close() error }) {
	logger := observability.ServerLogger

	signals.OnShutdown(func(ctx context.Context) error {
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		limiter.Stop()
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close deadline store", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})
}
