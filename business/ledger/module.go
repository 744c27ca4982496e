// Package ledger implements the append-only audit ledger bounded context.
package ledger

import (
	"context"
	"fmt"

	"github.com/fd1az/swapengine/business/ledger/app"
	ledgerDI "github.com/fd1az/swapengine/business/ledger/di"
	"github.com/fd1az/swapengine/business/ledger/infra/ethereum"
	"github.com/fd1az/swapengine/business/ledger/infra/memory"
	"github.com/fd1az/swapengine/internal/backoff"
	"github.com/fd1az/swapengine/internal/config"
	"github.com/fd1az/swapengine/internal/di"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/monolith"
)

// Module implements the ledger bounded context.
type Module struct{}

// RegisterServices registers all ledger services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Submitter (private)
	di.RegisterToken(c, ledgerDI.Submitter, func(sr di.ServiceRegistry) app.Submitter {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		if cfg.Ledger.Driver != "ethereum" {
			log.Warn(context.Background(), "using in-memory ledger, events are not durable")
			return memory.NewSubmitter()
		}

		anchor, err := ethereum.NewAnchor(ethereum.DefaultAnchorConfig(
			cfg.Ledger.RPCURL,
			cfg.Ledger.PrivateKey,
			cfg.Ledger.AnchorAddressHex(),
			cfg.Ledger.ChainID,
		), log)
		if err != nil {
			panic("failed to create ledger anchor: " + err.Error())
		}
		return anchor
	})

	// Register Recorder (public - exposed to other modules)
	di.RegisterToken(c, ledgerDI.Recorder, func(sr di.ServiceRegistry) *app.Recorder {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		policy := backoff.DefaultPolicy()
		policy.MaxAttempts = cfg.Ledger.MaxAttempts
		policy.InitialBackoff = cfg.Ledger.InitialBackoff
		policy.MaxBackoff = cfg.Ledger.MaxBackoff

		r, err := app.NewRecorder(app.Config{
			Retry:               policy,
			RequestTimeout:      cfg.Ledger.RequestTimeout,
			ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout,
			SubmitsPerMinute:    cfg.Ledger.SubmitsPerMinute,
			ReceiptTTL:          cfg.Ledger.ReceiptCacheTTL,
		}, ledgerDI.GetSubmitter(sr), log)
		if err != nil {
			panic("failed to create ledger recorder: " + err.Error())
		}
		return r
	})

	return nil
}

// Startup connects the chain anchor when configured.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	submitter := ledgerDI.GetSubmitter(mono.Services())

	if anchor, ok := submitter.(*ethereum.Anchor); ok {
		if err := anchor.Connect(ctx); err != nil {
			return fmt.Errorf("connect ledger anchor: %w", err)
		}
		mono.Health().RegisterCheck("ledger", anchor.Ping)
	}

	ledgerDI.GetRecorder(mono.Services())

	mono.Logger().Info(ctx, "ledger module started", "driver", mono.Config().Ledger.Driver)
	return nil
}
