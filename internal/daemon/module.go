// Package daemon composes the roomchatd server from its parts and manages
// its lifecycle through fx.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/daehyunko/roomchat/internal/config"
	"github.com/daehyunko/roomchat/internal/httpapi"
	"github.com/daehyunko/roomchat/internal/lock"
	"github.com/daehyunko/roomchat/internal/logging"
	"github.com/daehyunko/roomchat/internal/profile"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	Profile    string
	ListenAddr string // optional override; empty = use config
	DataDir    string // optional override for testing; empty = use profile default
}

// Module returns the fx module for the server, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideLock,
			provideStore,
			provideMessageService,
			providePresenceService,
			provideRoomService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.ServerLogPath(p.Profile), "roomchatd")
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Server.JWTSecret == "" {
		return nil, fmt.Errorf("server.jwt_secret must be set in %s", profile.ConfigPath())
	}
	logger.Info("config loaded", zap.String("path", profile.ConfigPath()))
	return cfg, nil
}

func dataDir(p Params) string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return profile.DataDir(p.Profile)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(dataDir(p))
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired", zap.String("dir", dataDir(p)))
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(dataDir(p), "roomchat.db")
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

func provideMessageService(db *store.DB, logger *zap.Logger) *service.MessageService {
	return service.NewMessageService(db, logger)
}

func providePresenceService(db *store.DB, logger *zap.Logger) *service.PresenceService {
	return service.NewPresenceService(db, logger)
}

func provideRoomService(db *store.DB, logger *zap.Logger) *service.RoomService {
	return service.NewRoomService(db, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func routerDeps(db *store.DB, cfg *config.Config, msgs *service.MessageService, presence *service.PresenceService, rooms *service.RoomService, logger *zap.Logger) httpapi.Deps {
	return httpapi.Deps{
		DB:        db,
		Messages:  msgs,
		Presence:  presence,
		Rooms:     rooms,
		Logger:    logger,
		JWTSecret: cfg.Server.JWTSecret,
		RateLimit: rate.Limit(cfg.Server.RatePerSec),
		RateBurst: cfg.Server.RateBurst,
	}
}
