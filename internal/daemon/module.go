// Package daemon composes the barterd process: profile lock, cache store,
// marketplace client, session manager, and the local HTTP surface.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/config"
	"github.com/barterhub/barterd/internal/conversation"
	"github.com/barterhub/barterd/internal/httpapi"
	"github.com/barterhub/barterd/internal/lock"
	"github.com/barterhub/barterd/internal/logging"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/profile"
	"github.com/barterhub/barterd/internal/store"
	intsync "github.com/barterhub/barterd/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideMarketClient,
			provideSyncEngine,
			provideManager,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("backend", cfg.Daemon.BackendURL),
		zap.Bool("realtime", cfg.Chat.EnableRealTime),
		zap.Int("update_interval_ms", cfg.Chat.UpdateIntervalMs))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.NewBus()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMarketClient(cfg *config.Config) market.Store {
	return market.NewClient(cfg.Daemon.BackendURL, cfg.Daemon.AuthToken, nil)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, cfg.Daemon.UserID, logger)
}

func provideManager(db *store.DB, backend market.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *conversation.Manager {
	return conversation.NewManager(db, backend, b, logger, cfg)
}

func provideServer(p Params, cfg *config.Config, manager *conversation.Manager, db *store.DB, b *bus.Bus, logger *zap.Logger) *httpapi.Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Daemon.ListenAddr
	}
	return httpapi.NewServer(addr, manager, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, lk *lock.Lock, engine *intsync.Engine, manager *conversation.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingest poll batches for the whole daemon lifetime.
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.CloseAll()
			engine.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping http server", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
