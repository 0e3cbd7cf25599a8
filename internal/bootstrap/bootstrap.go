// Package bootstrap wires the configured backends into a scheduling service.
// Every binary under cmd/ goes through Open so they agree on the store, the
// provider lock and the notifier.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/api"
	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

// Store is what the binaries need from a backend.
type Store interface {
	appointment.Repository
	appointment.ProfileWriter
}

type App struct {
	Service      *appointment.Service
	Store        Store
	Dependencies []api.Dependency

	closers []func() error
	log     *zap.Logger
}

// Open connects every configured backend. On error, anything already opened
// is closed again.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *App, err error) {
	app := &App{log: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })
		if err := db.Migrate(connectCtx, pool, log); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		app.Store = appointment.NewPgRepository(pool)
		app.Dependencies = append(app.Dependencies, api.Dependency{Name: "postgres", Pinger: pool, Critical: true})
		log.Info("connected to postgres", zap.Int32("max_conns", cfg.Postgres.MaxConns))

	case config.BackendMongo:
		client, err := db.ConnectMongo(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error { return client.Disconnect(context.Background()) })
		repo := appointment.NewMongoRepository(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(connectCtx); err != nil {
			return nil, err
		}
		app.Store = repo
		app.Dependencies = append(app.Dependencies, api.Dependency{
			Name:     "mongo",
			Pinger:   api.PingFunc(func(ctx context.Context) error { return client.Ping(ctx, nil) }),
			Critical: true,
		})
		log.Info("connected to mongo", zap.String("database", cfg.MongoDatabase))

	case config.BackendMemory:
		app.Store = appointment.NewMemoryRepository()
		log.Warn("using in-memory store, data is lost on exit")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	var locker redisclient.Locker
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(connectCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rdb.Close)
		locker = redisclient.NewRedisProviderLocker(rdb, cfg.Scheduling.LockTTL, cfg.Scheduling.LockWait)
		app.Dependencies = append(app.Dependencies, api.Dependency{Name: "redis", Pinger: redisPinger{rdb}, Critical: true})
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		locker = redisclient.NewLocalProviderLocker(cfg.Scheduling.LockWait)
		log.Warn("REDIS_ADDR not set, provider lock is process-local")
	}

	var notifier appointment.Notifier
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, notify.DefaultQueue, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pub.Close)
		notifier = pub
		app.Dependencies = append(app.Dependencies, api.Dependency{Name: "amqp", Pinger: pub})
		log.Info("connected to amqp", zap.String("queue", notify.DefaultQueue))
	} else {
		notifier = notify.NewLogNotifier(log)
	}
	async := notify.NewAsyncNotifier(notifier, notify.DefaultBuffer, notify.DefaultTimeout, log)
	app.closers = append(app.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), notify.DefaultTimeout)
		defer cancel()
		return async.Close(ctx)
	})
	notifier = async

	app.Service = appointment.NewService(app.Store, locker, notifier, cfg.Scheduling, log)
	return app, nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("error closing backends", zap.Error(err))
	}
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }
