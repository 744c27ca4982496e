// Package swap implements the swap proposal and auction bounded context.
package swap

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	ledgerDI "github.com/fd1az/swapengine/business/ledger/di"
	paymentDI "github.com/fd1az/swapengine/business/payment/di"
	"github.com/fd1az/swapengine/business/swap/app"
	swapDI "github.com/fd1az/swapengine/business/swap/di"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/business/swap/infra/booking"
	"github.com/fd1az/swapengine/business/swap/infra/memory"
	"github.com/fd1az/swapengine/business/swap/infra/notify"
	"github.com/fd1az/swapengine/business/swap/infra/postgres"
	"github.com/fd1az/swapengine/business/swap/infra/redislock"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/config"
	"github.com/fd1az/swapengine/internal/di"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
	"github.com/fd1az/swapengine/internal/monolith"
)

// Module implements the swap bounded context.
type Module struct{}

// RegisterServices registers all swap services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register repositories (private)
	di.RegisterToken(c, swapDI.SwapRepository, func(sr di.ServiceRegistry) app.SwapRepository {
		if pool, ok := sr.Get(monolith.DBKey).(*pgxpool.Pool); ok && pool != nil {
			return postgres.NewSwapRepository(pool, sr.Get(monolith.CurrenciesKey).(*money.Registry))
		}
		return memory.NewSwapRepository()
	})

	di.RegisterToken(c, swapDI.ProposalRepository, func(sr di.ServiceRegistry) app.ProposalRepository {
		if pool, ok := sr.Get(monolith.DBKey).(*pgxpool.Pool); ok && pool != nil {
			return postgres.NewProposalRepository(pool, sr.Get(monolith.CurrenciesKey).(*money.Registry))
		}
		return memory.NewProposalRepository()
	})

	di.RegisterToken(c, swapDI.AuctionRepository, func(sr di.ServiceRegistry) app.AuctionRepository {
		if pool, ok := sr.Get(monolith.DBKey).(*pgxpool.Pool); ok && pool != nil {
			return postgres.NewAuctionRepository(pool, sr.Get(monolith.CurrenciesKey).(*money.Registry))
		}
		return memory.NewAuctionRepository()
	})

	di.RegisterToken(c, swapDI.TxRunner, func(sr di.ServiceRegistry) app.TxRunner {
		if pool, ok := sr.Get(monolith.DBKey).(*pgxpool.Pool); ok && pool != nil {
			return postgres.NewTxRunner(pool)
		}
		return memory.TxRunner{}
	})

	// Register collaborators (private)
	di.RegisterToken(c, swapDI.BookingService, func(sr di.ServiceRegistry) app.BookingService {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		if cfg.Booking.BaseURL == "" {
			log.Warn(context.Background(), "no booking service configured, using in-memory bookings")
			return memory.NewBookingService()
		}

		client, err := booking.New(booking.Config{
			BaseURL:           cfg.Booking.BaseURL,
			RequestTimeout:    cfg.Booking.RequestTimeout,
			RequestsPerMinute: cfg.Booking.RequestsPerMinute,
			CacheTTL:          cfg.Booking.CacheTTL,
		}, log)
		if err != nil {
			panic("failed to create booking client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, swapDI.Locker, func(sr di.ServiceRegistry) app.SwapLocker {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		if client, ok := sr.Get(monolith.RedisKey).(*redis.Client); ok && client != nil {
			lockCfg := redislock.DefaultConfig()
			lockCfg.TTL = cfg.Redis.LockTTL
			lockCfg.RetryInterval = cfg.Redis.LockRetry
			return redislock.New(client, lockCfg, log)
		}
		return memory.NewLocker()
	})

	di.RegisterToken(c, swapDI.Notifier, func(sr di.ServiceRegistry) app.Notifier {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		if cfg.Notification.WebSocketURL == "" {
			return notify.NewLogNotifier(log)
		}

		n, err := notify.NewWebSocketNotifier(cfg.Notification.WebSocketURL, log)
		if err != nil {
			panic("failed to create notifier: " + err.Error())
		}
		return n
	})

	di.RegisterToken(c, swapDI.TargetIndex, func(sr di.ServiceRegistry) *domain.TargetIndex {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		return domain.NewTargetIndex(cfg.Proposal.MaxGraphDepth)
	})

	// Register application services (private)
	di.RegisterToken(c, swapDI.TransactionManager, func(sr di.ServiceRegistry) *app.TransactionManager {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		tm, err := app.NewTransactionManager(app.TxConfig{
			LockTimeout:   cfg.Proposal.LockTimeout,
			NotifyTimeout: cfg.Proposal.NotifyTimeout,
			DefaultExpiry: cfg.Proposal.DefaultExpiry,
		}, dependencies(sr), log)
		if err != nil {
			panic("failed to create transaction manager: " + err.Error())
		}
		return tm
	})

	di.RegisterToken(c, swapDI.AuctionManager, func(sr di.ServiceRegistry) *app.AuctionManager {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		am, err := app.NewAuctionManager(app.AuctionConfig{
			MinLeadTime:     cfg.Auction.MinLead(),
			AutoSelectHours: cfg.Auction.AutoSelectHours,
		}, dependencies(sr), swapDI.GetTransactionManager(sr), log)
		if err != nil {
			panic("failed to create auction manager: " + err.Error())
		}
		return am
	})

	// Register Service and Reconciler (public - exposed to other modules)
	di.RegisterToken(c, swapDI.Service, func(sr di.ServiceRegistry) *app.Service {
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)
		deps := dependencies(sr)

		filter := app.NewEligibilityFilter(
			deps.Swaps,
			deps.Proposals,
			deps.Bookings,
			deps.Locks,
			deps.Index,
			app.NewScorer(app.DefaultWeights()),
			log,
		)

		return app.NewService(deps, filter,
			swapDI.GetTransactionManager(sr),
			swapDI.GetAuctionManager(sr),
			log)
	})

	di.RegisterToken(c, swapDI.Reconciler, func(sr di.ServiceRegistry) *app.Reconciler {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)
		return app.NewReconciler(swapDI.GetService(sr), cfg.Auction.ReconcileInterval, log)
	})

	return nil
}

func dependencies(sr di.ServiceRegistry) app.Dependencies {
	return app.Dependencies{
		Swaps:     swapDI.GetSwapRepository(sr),
		Proposals: swapDI.GetProposalRepository(sr),
		Auctions:  swapDI.GetAuctionRepository(sr),
		Tx:        swapDI.GetTxRunner(sr),
		Bookings:  swapDI.GetBookingService(sr),
		Locks:     swapDI.GetLocker(sr),
		Escrow:    paymentDI.GetOrchestrator(sr),
		Ledger:    ledgerDI.GetRecorder(sr),
		Notifier:  swapDI.GetNotifier(sr),
		Index:     swapDI.GetTargetIndex(sr),
	}
}

// Startup connects the notifier, rebuilds the target index and registers
// health checks.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	services := mono.Services()

	if n, ok := swapDI.GetNotifier(services).(*notify.WebSocketNotifier); ok {
		if err := n.Connect(ctx); err != nil {
			mono.Logger().Warn(ctx, "notification gateway unavailable, will retry", "error", err)
		}
	}

	svc := swapDI.GetService(services)
	if err := svc.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuild target index: %w", err)
	}

	if client, ok := swapDI.GetBookingService(services).(*booking.Client); ok {
		mono.Health().RegisterCheck("booking", func(ctx context.Context) error {
			_, err := client.Get(ctx, "healthcheck")
			if err != nil && !apperror.HasCode(err, apperror.CodeBookingNotFound) {
				return err
			}
			return nil
		})
	}

	mono.Logger().Info(ctx, "swap module started",
		"storage", mono.Config().Storage.Driver,
		"distributed_locks", mono.Redis() != nil,
		"booking_service", mono.Config().Booking.BaseURL != "")
	return nil
}
