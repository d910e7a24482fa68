package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"slidegen/internal/config"
	"slidegen/internal/db"
	"slidegen/internal/gemini"
	"slidegen/internal/generation"
	"slidegen/internal/handlers"
	"slidegen/internal/services"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend API and image task workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	database, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	var generator generation.ImageGenerator
	if cfg.Gemini.APIKey != "" {
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			ImageModels: cfg.Gemini.ImageModels,
			TextModel:   cfg.Gemini.TextModel,
			ImageSize:   cfg.Gemini.ImageSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}
		generator = client
	} else {
		logger.Warn("GEMINI_API_KEY not set, image tasks will fail")
	}

	store := services.NewPresentationStore(database, cfg.Storage.DataPath, logger)
	hub := services.NewHub(logger)
	tasks := services.NewImageTaskService(database, store, generator, hub, services.TaskServiceConfig{
		Workers:   cfg.Tasks.Workers,
		QueueSize: cfg.Tasks.QueueSize,
	}, logger)
	if err := tasks.Start(ctx); err != nil {
		return err
	}
	defer tasks.Stop()

	reaper, err := services.NewTaskReaper(tasks, cfg.Tasks.ReapSchedule, cfg.GetTaskTimeout(), logger)
	if err != nil {
		return err
	}
	reaper.Start()
	defer reaper.Stop()

	router := handlers.SetupRoutes(
		handlers.NewPresentationHandler(store, logger),
		handlers.NewImageHandler(tasks, logger),
		handlers.NewWebSocketHandler(hub, store, logger),
		cfg.Storage.DataPath,
		logger,
	)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS.Enabled {
		server.TLSConfig = &tls.Config{
			MinVersion: getTLSVersion(cfg.TLS.MinVersion),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.TLS.Enabled {
			logger.Info("Starting HTTPS server",
				zap.String("addr", server.Addr),
				zap.String("cert", cfg.TLS.CertFile),
				zap.String("min_version", cfg.TLS.MinVersion))
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
			logger.Warn("HTTP mode is not recommended for production")
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server")
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath, logger, func(next *config.Config) {
			level, err := zapcore.ParseLevel(next.Logging.Level)
			if err != nil || verbose {
				return
			}
			if level != logLevel.Level() {
				logLevel.SetLevel(level)
				logger.Info("Log level changed", zap.Stringer("level", level))
			}
		})
		if err != nil {
			logger.Warn("Config watch disabled", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// getTLSVersion converts string version to tls.Version constant
func getTLSVersion(version string) uint16 {
	switch version {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
