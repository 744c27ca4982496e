// Package payment implements the escrow and payment bounded context.
package payment

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fd1az/swapengine/business/payment/app"
	paymentDI "github.com/fd1az/swapengine/business/payment/di"
	"github.com/fd1az/swapengine/business/payment/infra/gateway"
	"github.com/fd1az/swapengine/business/payment/infra/memory"
	"github.com/fd1az/swapengine/business/payment/infra/postgres"
	"github.com/fd1az/swapengine/internal/config"
	"github.com/fd1az/swapengine/internal/di"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
	"github.com/fd1az/swapengine/internal/monolith"
)

// Module implements the payment bounded context.
type Module struct{}

// RegisterServices registers all payment services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Gateway (private)
	di.RegisterToken(c, paymentDI.Gateway, func(sr di.ServiceRegistry) app.Gateway {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		if cfg.Payment.GatewayURL == "" {
			log.Warn(context.Background(), "no payment gateway configured, using in-memory gateway")
			return memory.NewGateway()
		}

		gw, err := gateway.New(gateway.Config{
			BaseURL:           cfg.Payment.GatewayURL,
			APIKey:            cfg.Payment.GatewayAPIKey,
			RequestTimeout:    cfg.Payment.RequestTimeout,
			RequestsPerMinute: cfg.Payment.RequestsPerMinute,
		}, log)
		if err != nil {
			panic("failed to create payment gateway: " + err.Error())
		}
		return gw
	})

	// Register repositories (private)
	di.RegisterToken(c, paymentDI.EscrowRepository, func(sr di.ServiceRegistry) app.EscrowRepository {
		if pool, ok := sr.Get(monolith.DBKey).(*pgxpool.Pool); ok && pool != nil {
			return postgres.NewEscrowRepository(pool, sr.Get(monolith.CurrenciesKey).(*money.Registry))
		}
		return memory.NewEscrowRepository()
	})

	di.RegisterToken(c, paymentDI.TransactionRepository, func(sr di.ServiceRegistry) app.TransactionRepository {
		if pool, ok := sr.Get(monolith.DBKey).(*pgxpool.Pool); ok && pool != nil {
			return postgres.NewTransactionRepository(pool)
		}
		return memory.NewTransactionRepository()
	})

	// Register Orchestrator (public - exposed to other modules)
	di.RegisterToken(c, paymentDI.Orchestrator, func(sr di.ServiceRegistry) *app.Orchestrator {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		o, err := app.NewOrchestrator(
			app.Config{
				FeeRate:   cfg.Payment.FeeRate(),
				MinAmount: cfg.Payment.MinAmountDecimal(),
				MaxAmount: cfg.Payment.MaxAmountDecimal(),
				Velocity: app.VelocityLimits{
					Window:    cfg.Payment.VelocityWindow,
					MaxCount:  cfg.Payment.VelocityMaxCount,
					MaxAmount: cfg.Payment.VelocityMaxAmountDecimal(),
				},
			},
			paymentDI.GetGateway(sr),
			paymentDI.GetEscrowRepository(sr),
			paymentDI.GetTransactionRepository(sr),
			sr.Get(monolith.CurrenciesKey).(*money.Registry),
			log,
		)
		if err != nil {
			panic("failed to create escrow orchestrator: " + err.Error())
		}
		return o
	})

	return nil
}

// Startup resolves the orchestrator so wiring errors surface at boot.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	paymentDI.GetOrchestrator(mono.Services())

	mono.Logger().Info(ctx, "payment module started",
		"currencies", mono.Currencies().Codes(),
		"gateway", mono.Config().Payment.GatewayURL != "")
	return nil
}
