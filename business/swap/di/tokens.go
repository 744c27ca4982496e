// Package di contains dependency injection tokens for the swap context.
package di

import (
	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Service    = di.NewToken[*app.Service]("swap.Service")
	Reconciler = di.NewToken[*app.Reconciler]("swap.Reconciler")
)

// Private dependency tokens - internal to swap module
var (
	SwapRepository     = di.NewToken[app.SwapRepository]("swap:swapRepository")
	ProposalRepository = di.NewToken[app.ProposalRepository]("swap:proposalRepository")
	AuctionRepository  = di.NewToken[app.AuctionRepository]("swap:auctionRepository")
	TxRunner           = di.NewToken[app.TxRunner]("swap:txRunner")
	BookingService     = di.NewToken[app.BookingService]("swap:bookingService")
	Locker             = di.NewToken[app.SwapLocker]("swap:locker")
	Notifier           = di.NewToken[app.Notifier]("swap:notifier")
	TargetIndex        = di.NewToken[*domain.TargetIndex]("swap:targetIndex")
	TransactionManager = di.NewToken[*app.TransactionManager]("swap:transactionManager")
	AuctionManager     = di.NewToken[*app.AuctionManager]("swap:auctionManager")
)

// Helper functions for type-safe access
func GetService(c di.ServiceRegistry) *app.Service {
	return di.GetToken(c, Service)
}

func GetReconciler(c di.ServiceRegistry) *app.Reconciler {
	return di.GetToken(c, Reconciler)
}

func GetSwapRepository(c di.ServiceRegistry) app.SwapRepository {
	return di.GetToken(c, SwapRepository)
}

func GetProposalRepository(c di.ServiceRegistry) app.ProposalRepository {
	return di.GetToken(c, ProposalRepository)
}

func GetAuctionRepository(c di.ServiceRegistry) app.AuctionRepository {
	return di.GetToken(c, AuctionRepository)
}

func GetTxRunner(c di.ServiceRegistry) app.TxRunner {
	return di.GetToken(c, TxRunner)
}

func GetBookingService(c di.ServiceRegistry) app.BookingService {
	return di.GetToken(c, BookingService)
}

func GetLocker(c di.ServiceRegistry) app.SwapLocker {
	return di.GetToken(c, Locker)
}

func GetNotifier(c di.ServiceRegistry) app.Notifier {
	return di.GetToken(c, Notifier)
}

func GetTargetIndex(c di.ServiceRegistry) *domain.TargetIndex {
	return di.GetToken(c, TargetIndex)
}

func GetTransactionManager(c di.ServiceRegistry) *app.TransactionManager {
	return di.GetToken(c, TransactionManager)
}

func GetAuctionManager(c di.ServiceRegistry) *app.AuctionManager {
	return di.GetToken(c, AuctionManager)
}
