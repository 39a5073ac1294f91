package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/plateful-app/plateful/internal/api"
	"github.com/plateful-app/plateful/internal/bus"
	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/config"
	"github.com/plateful-app/plateful/internal/docdb"
	"github.com/plateful-app/plateful/internal/identity"
	"github.com/plateful-app/plateful/internal/lock"
	"github.com/plateful-app/plateful/internal/logging"
	"github.com/plateful-app/plateful/internal/outbound"
	"github.com/plateful-app/plateful/internal/profile"
	"github.com/plateful-app/plateful/internal/remote"
	"github.com/plateful-app/plateful/internal/status"
	intsync "github.com/plateful-app/plateful/internal/sync"
	"github.com/plateful-app/plateful/internal/typing"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
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
			provideStateMachine,
			provideLock,
			provideDocDB,
			provideChangeSource,
			provideChatStore,
			provideIdentity,
			provideTracker,
			provideWriter,
			provideSweeper,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.Error(err))
		return &config.Config{}
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

func provideDocDB(p Params, logger *zap.Logger) (*docdb.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := docdb.Open(dbPath, logger)
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
	logger.Info("document backend initialized", zap.String("path", dbPath))
	return db, nil
}

func provideChangeSource(db *docdb.DB) remote.ChangeSource {
	return db
}

func provideChatStore(b *bus.Bus) *chatstore.Store {
	return chatstore.New(b)
}

func provideIdentity(b *bus.Bus) *identity.Local {
	return identity.NewLocal(b)
}

func provideTracker(src remote.ChangeSource, ids *identity.Local, store *chatstore.Store,
	machine *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Tracker {
	return intsync.NewTracker(src, ids, store, machine, cfg.ReconcileWindow(), logger)
}

func provideWriter(store *chatstore.Store, src remote.ChangeSource, b *bus.Bus, logger *zap.Logger) *outbound.Writer {
	return outbound.NewWriter(store, src, b, logger)
}

func provideSweeper(store *chatstore.Store, cfg *config.Config, logger *zap.Logger) *typing.Sweeper {
	return typing.NewSweeper(store, cfg.TypingTTL(), logger)
}

func provideHandler(store *chatstore.Store, ids *identity.Local, writer *outbound.Writer,
	machine *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(store, ids, writer, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, tracker *intsync.Tracker,
	sweeper *typing.Sweeper, machine *status.Machine, db *docdb.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Nobody is signed in on a fresh start; the session API moves
			// the machine forward from here.
			_ = machine.Transition(status.SignedOut)

			tracker.Start()
			sweeper.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			tracker.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing document backend", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
