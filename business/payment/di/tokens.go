// Package di contains dependency injection tokens for the payment context.
package di

import (
	"github.com/fd1az/swapengine/business/payment/app"
	"github.com/fd1az/swapengine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Orchestrator = di.NewToken[*app.Orchestrator]("payment.Orchestrator")
)

// Private dependency tokens - internal to payment module
var (
	Gateway               = di.NewToken[app.Gateway]("payment:gateway")
	EscrowRepository      = di.NewToken[app.EscrowRepository]("payment:escrowRepository")
	TransactionRepository = di.NewToken[app.TransactionRepository]("payment:transactionRepository")
)

// Helper functions for type-safe access
func GetOrchestrator(c di.ServiceRegistry) *app.Orchestrator {
	return di.GetToken(c, Orchestrator)
}

func GetGateway(c di.ServiceRegistry) app.Gateway {
	return di.GetToken(c, Gateway)
}

func GetEscrowRepository(c di.ServiceRegistry) app.EscrowRepository {
	return di.GetToken(c, EscrowRepository)
}

func GetTransactionRepository(c di.ServiceRegistry) app.TransactionRepository {
	return di.GetToken(c, TransactionRepository)
}
