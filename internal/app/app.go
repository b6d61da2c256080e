// Package app wires the login flow, session store and import pipeline into
// the shared Telegram bot runtime.
package app

import (
	"context"
	"fmt"
	"time"

	"contactbot/core/bootstrap"
	"contactbot/core/cmd"
	coredatabase "contactbot/core/database"
	"contactbot/core/logger"
	coretelegram "contactbot/core/telegram"
	"contactbot/core/telegram/commands"
	"contactbot/core/telegram/router"
	"contactbot/core/telegram/state"
	"contactbot/core/telegram/ui"
	"contactbot/internal/auth"
	"contactbot/internal/platform"
	"contactbot/internal/session"

	"github.com/jmoiron/sqlx"
	"log/slog"
)

// shutdownTimeout bounds the final session checkpoint on shutdown.
const shutdownTimeout = 10 * time.Second

// App holds the application's long-lived components.
type App struct {
	cfg    *Config
	db     *sqlx.DB
	states state.Manager
	reg    *session.Registry
	store  session.Store
	dial   platform.Dialer
	flow   *auth.Flow
}

// LoadConfig adapts Load to the runner's ConfigCarrier contract.
func LoadConfig(path string) (cmd.ConfigCarrier, error) {
	return Load(path)
}

// Bootstrap builds the application from a loaded configuration.
func Bootstrap(carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	return New(cfg)
}

// New initializes infrastructure and wires the application services.
func New(cfg *Config) (*App, error) {
	var dbCfg *coredatabase.Config
	if cfg.Sessions.Backend == BackendPostgres {
		dbCfg = &cfg.Database
	}

	infra, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: dbCfg,
	})
	if err != nil {
		return nil, err
	}

	var store session.Store
	switch cfg.Sessions.Backend {
	case BackendPostgres:
		store = session.NewPGStore(infra.DB)
	default:
		store = session.NewFileStore(cfg.Sessions.FilePath)
	}

	dial := platform.NewDialer(platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		Timeout: time.Duration(cfg.Platform.TimeoutSeconds) * time.Second,
	})

	a := &App{
		cfg:    cfg,
		db:     infra.DB,
		states: state.NewMemoryManager(),
		reg:    session.NewRegistry(cfg.Sessions.MaxActive),
		store:  store,
		dial:   dial,
	}
	a.flow = auth.NewFlow(a.states, a.reg, a.store, a.dial)
	a.registerFlowHandlers()
	return a, nil
}

// TelegramRunOptions assembles routes, middlewares and lifecycle hooks for
// the shared bot runtime.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Start or restart the login flow",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     a.handleHelp,
		Description: "How this bot works",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.handleCancel,
		Description: "Cancel the current login flow",
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     a.handleStatus,
		Description: "Show your current login step",
	})
	reg.RegisterCommand("/upload_vcf", commands.Command{
		Handler:     a.handleUploadVCF,
		Description: "How to import contacts from a .vcf file",
	})
	reg.RegisterCommand("/sessions", commands.Command{
		Handler:     a.handleSessions,
		Description: "Active session counts",
		AdminOnly:   true,
		Hidden:      true,
	})

	if err := reg.RegisterCallback(callbackCancel, a.handleCancelCallback); err != nil {
		return coretelegram.RunOptions{}, err
	}

	var fb ui.FallbackProvider = fallbacks{a}
	reg.SetTextFallback(fb.UnknownText())

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.TextRoutes(a.states, reg, router.TextOptions{
		UnknownText:     fb.UnknownText(),
		UnknownDocument: fb.UnknownDocument(),
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{
		NotFound: fb.UnknownCallback(),
	}))

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), nil),
		Routes:      routes,
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, _ coretelegram.Runtime) error {
	restored, err := session.Restore(ctx, a.reg, a.store, a.dial,
		a.cfg.Platform.AppID, a.cfg.Platform.AppSecret)
	if err != nil {
		return fmt.Errorf("app: session restore failed: %w", err)
	}
	for _, userID := range restored {
		a.states.SetState(userID, auth.StateAuthenticated)
	}

	go a.janitor(ctx)
	return nil
}

func (a *App) onStop(ctx context.Context, _ coretelegram.Runtime) error {
	// The runtime hands over the already-canceled signal context; the final
	// checkpoint still has to reach the store.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := session.Checkpoint(ctx, a.reg, a.store); err != nil {
		logger.L.With("component", "app").Error("shutdown checkpoint failed",
			slog.String("event", "shutdown"),
			slog.String("err", err.Error()),
		)
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// janitor aborts login flows stuck past the idle bound.
func (a *App) janitor(ctx context.Context) {
	idle := time.Duration(a.cfg.Sessions.IdleTimeoutMinutes) * time.Minute
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.flow.AbortStale(idle); n > 0 {
				logger.SVCSessions.Info("idle flows aborted",
					slog.String("event", "janitor"),
					slog.Int("sessions", n),
				)
			}
		}
	}
}
