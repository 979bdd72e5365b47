package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/rideops/console/internal/console/http"
	"github.com/rideops/console/internal/console/identity"
	"github.com/rideops/console/internal/console/session"
	"github.com/rideops/console/internal/console/store/drivers/sqlite"
	"github.com/rideops/console/pkg/cryptox"
	"github.com/rideops/console/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the console service together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	creds       *sqlite.Store
	coordinator *session.Coordinator
	keeper      *session.Keeper

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if cfg.IdentityURL == "" {
		return nil, errors.New("IDENTITY_URL is required")
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "console",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetMasterKeyPath(cfg.MasterKeyPath)

	if err := app.initCredentialCache(); err != nil {
		return nil, err
	}

	client := identity.NewClient(cfg.IdentityURL)
	app.coordinator = session.New(client, app.creds, app.logger, session.Config{})
	app.keeper = session.NewKeeper(app.coordinator, app.logger, cfg.KeepaliveInterval, cfg.RefreshThreshold)

	app.initHTTP()
	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.coordinator.Initialize(context.Background(), app.cfg.LaunchURL)
	app.keeper.Start()

	app.logger.Info("console starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"state", app.coordinator.Snapshot().State.String(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the server, the keeper, and the credential cache in order.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down console...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.keeper.Stop()
	app.coordinator.Close()

	if err := app.creds.Close(); err != nil {
		app.logger.Error("error closing credential cache", "error", err)
		return err
	}

	app.logger.Info("console stopped")
	return nil
}

func (app *Application) initCredentialCache() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.CredentialsFile)
	creds, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to open credential cache: %w", err)
	}
	app.creds = creds

	if err := creds.ApplyMigrations(); err != nil {
		_ = creds.Close()
		return fmt.Errorf("failed to apply credential cache migrations: %w", err)
	}

	app.logger.Info("credential cache ready")
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.logger)
	router.Coordinator = app.coordinator
	router.Readiness = app.creds.Ping
	router.ApplyRoutes()

	app.router = router
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
