// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fd1az/swapengine/internal/config"
	"github.com/fd1az/swapengine/internal/database"
	"github.com/fd1az/swapengine/internal/di"
	"github.com/fd1az/swapengine/internal/health"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
)

// Monolith gives modules access to shared infrastructure.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	// DB is nil when the memory storage driver is configured.
	DB() *pgxpool.Pool
	// Redis is nil when no redis address is configured.
	Redis() *redis.Client
	Currencies() *money.Registry
	Health() *health.Server
	Services() di.ServiceRegistry
}

// Module is a bounded context that registers services and starts up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// Service keys for shared infrastructure.
const (
	ConfigKey     = "config"
	LoggerKey     = "logger"
	DBKey         = "db"
	RedisKey      = "redis"
	CurrenciesKey = "currencies"
)

type app struct {
	config     *config.Config
	logger     logger.LoggerInterface
	db         *pgxpool.Pool
	redis      *redis.Client
	currencies *money.Registry
	health     *health.Server
	container  di.Container
}

// New connects shared infrastructure according to cfg.
func New(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (*app, error) {
	a := &app{
		config:     cfg,
		logger:     log,
		currencies: money.RegistryFromCodes(cfg.Payment.Currencies),
		health:     health.NewServer(cfg.App.HealthPort, cfg.App.Name, log),
		container:  di.NewContainer(),
	}

	if cfg.Storage.Driver == "postgres" {
		poolCfg := database.DefaultPoolConfig(cfg.Storage.DSN)
		if cfg.Storage.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Storage.MaxConns
		}

		pool, err := database.Connect(ctx, poolCfg, log)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}

		a.db = pool
		a.health.RegisterCheck("postgres", pool.Ping)
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		log.Info(ctx, "connected to redis", "addr", cfg.Redis.Addr)

		a.health.RegisterCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	a.container.Register(ConfigKey, cfg)
	a.container.Register(LoggerKey, log)
	a.container.Register(DBKey, a.db)
	a.container.Register(RedisKey, a.redis)
	a.container.Register(CurrenciesKey, a.currencies)

	return a, nil
}

func (a *app) Config() *config.Config {
	return a.config
}

func (a *app) Logger() logger.LoggerInterface {
	return a.logger
}

func (a *app) DB() *pgxpool.Pool {
	return a.db
}

func (a *app) Redis() *redis.Client {
	return a.redis
}

func (a *app) Currencies() *money.Registry {
	return a.currencies
}

func (a *app) Health() *health.Server {
	return a.health
}

func (a *app) Services() di.ServiceRegistry {
	return a.container
}

// Container returns the DI container for module registration.
func (a *app) Container() di.Container {
	return a.container
}

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

// StartModules starts all provided modules.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close releases pools and clients.
func (a *app) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
