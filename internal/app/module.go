// Package app wires the client core with fx: configuration, profile
// ownership, storage, gateway, push channel dialer, session and engine.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/channel"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Params selects the profile and overrides passed to the fx module.
type Params struct {
	// Program names the log file, e.g. "chatsync" or "chatctl".
	Program string
	// Profile overrides the configured default profile.
	Profile string
	// Home overrides profile.BaseDir.
	Home string
	// ServerURL overrides the configured server.
	ServerURL string
	// Console tees logs to stderr.
	Console bool
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatsync",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideProfile,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideGateway,
			provideDialer,
			provideSession,
			provideEngine,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
		fx.Invoke(registerLifecycle),
	)
}

func (p Params) home() string {
	if p.Home != "" {
		return p.Home
	}
	return profile.BaseDir()
}

func provideConfig(p Params) (*config.Config, error) {
	home := p.home()
	if err := config.LoadDotEnv(".env", filepath.Join(home, ".env")); err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(filepath.Join(home, "config.toml"))
	if err != nil {
		return nil, err
	}
	if p.ServerURL != "" {
		cfg.ServerURL = p.ServerURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideProfile(p Params, cfg *config.Config) (profile.Profile, error) {
	prof, err := profile.NewAt(p.home(), profile.Resolve(p.Profile, cfg.DefaultProfile))
	if err != nil {
		return profile.Profile{}, err
	}
	if err := prof.Ensure(); err != nil {
		return profile.Profile{}, fmt.Errorf("create profile dir: %w", err)
	}
	return prof, nil
}

func provideLogger(p Params, prof profile.Profile, cfg *config.Config) (*zap.Logger, error) {
	program := p.Program
	if program == "" {
		program = filepath.Base(os.Args[0])
	}
	return logging.New(logging.Options{
		Path:    prof.LogPath(program),
		Profile: prof.Name,
		Level:   cfg.LogLevel,
		Console: p.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(prof profile.Profile, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", prof.Name))
	l, err := lock.Acquire(prof.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the store is never opened by two
// processes.
func provideStore(prof profile.Profile, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, result, err := store.OpenMigrated(prof.DBPath())
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", prof.DBPath()))
	return db, nil
}

func provideGateway(cfg *config.Config, logger *zap.Logger) *gateway.Client {
	return gateway.New(cfg.ServerURL, cfg.RequestTimeout, logger)
}

func provideDialer(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *channel.Dialer {
	return &channel.Dialer{
		ServerURL:        cfg.ServerURL,
		HandshakeTimeout: cfg.RequestTimeout,
		Bus:              b,
		Logger:           logger,
	}
}

func provideSession(db *store.DB, gw *gateway.Client, d *channel.Dialer, b *bus.Bus, logger *zap.Logger) *session.Context {
	return session.New(store.NewCredentialStore(db), gw, session.DialWith(d), b, logger)
}

func provideEngine(gw *gateway.Client, sess *session.Context, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.New(gw, sess, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Lock, db *store.DB, sess *session.Context, engine *intsync.Engine, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			engine.Start()

			go func() {
				if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
					logger.Error("metrics endpoint error", zap.Error(err))
				}
			}()

			restored, err := sess.Restore(startCtx)
			switch {
			case err != nil:
				logger.Warn("could not restore session", zap.Error(err))
			case restored:
				logger.Info("session restored")
			default:
				logger.Info("no credentials found, login required")
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			engine.Stop()
			if err := sess.Close(); err != nil {
				logger.Warn("error closing session", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
