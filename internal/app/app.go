package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/auth"
	"github.com/airwavehq/airwave-server/internal/cleanup"
	"github.com/airwavehq/airwave-server/internal/config"
	"github.com/airwavehq/airwave-server/internal/radio"
	"github.com/airwavehq/airwave-server/internal/recorder"
	"github.com/airwavehq/airwave-server/internal/store"
	"github.com/airwavehq/airwave-server/internal/store/sqlite"
	transporthttp "github.com/airwavehq/airwave-server/internal/transport/http"
)

// App wires together storage, the radio core, and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	cleanup         *cleanup.Service
	cleanupEnabled  bool
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour, // 24 hour token expiry
	}
	authService := auth.NewService(st, jwtConfig)

	rec, err := recorder.New(cfg.RecordsDir, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init recorder: %w", err)
	}

	manager := radio.New(st, st, rec, logger)
	server := transporthttp.NewServer(manager, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		cleanup:         cleanup.New(cfg.RecordsDir, st, logger),
		cleanupEnabled:  cfg.CleanupEnabled,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	if a.cleanupEnabled {
		go func() {
			if err := a.cleanup.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("cleanup service stopped")
			}
		}()
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.close()
			return err
		}

		a.close()
		return <-serverErr
	}
}

// close releases database and other resources.
func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
