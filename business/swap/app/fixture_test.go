package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ledgerApp "github.com/fd1az/swapengine/business/ledger/app"
	ledgerMemory "github.com/fd1az/swapengine/business/ledger/infra/memory"
	paymentApp "github.com/fd1az/swapengine/business/payment/app"
	paymentDomain "github.com/fd1az/swapengine/business/payment/domain"
	paymentMemory "github.com/fd1az/swapengine/business/payment/infra/memory"
	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/business/swap/infra/memory"
	"github.com/fd1az/swapengine/internal/backoff"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func usd(s string) *money.Money {
	m, err := money.FromString(s, money.USD)
	if err != nil {
		panic(err)
	}
	return &m
}

func eur(s string) *money.Money {
	m, err := money.FromString(s, money.EUR)
	if err != nil {
		panic(err)
	}
	return &m
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type notification struct {
	eventType  string
	recipients []string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, eventType string, recipients []string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{eventType: eventType, recipients: recipients})
	return nil
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.eventType == eventType {
			c++
		}
	}
	return c
}

type fixture struct {
	svc       *app.Service
	clock     *clock
	swaps     *memory.SwapRepository
	proposals *memory.ProposalRepository
	auctions  *memory.AuctionRepository
	bookings  *memory.BookingService
	index     *domain.TargetIndex
	gateway   *paymentMemory.Gateway
	escrows   *paymentMemory.EscrowRepository
	orch      *paymentApp.Orchestrator
	ledger    *ledgerMemory.Submitter
	notifier  *recordingNotifier
}

// newFixture lists four swaps one month out:
//
//	swap-a  alice  booking or cash
//	swap-b  bob    booking only
//	swap-c  carol  booking only
//	swap-b2 bob    booking only, smaller place
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:     &clock{now: start},
		swaps:     memory.NewSwapRepository(),
		proposals: memory.NewProposalRepository(),
		auctions:  memory.NewAuctionRepository(),
		bookings:  memory.NewBookingService(),
		index:     domain.NewTargetIndex(0),
		gateway:   paymentMemory.NewGateway(),
		escrows:   paymentMemory.NewEscrowRepository(),
		ledger:    ledgerMemory.NewSubmitter(),
		notifier:  &recordingNotifier{},
	}
	log := logger.NewDiscard()

	for _, user := range []string{"bob", "carol", "dave", "erin"} {
		f.gateway.AddMethod(paymentDomain.PaymentMethod{ID: "pm-" + user, UserID: user, Kind: "card", Verified: true})
	}

	orch, err := paymentApp.NewOrchestrator(
		paymentApp.Config{
			FeeRate:   decimal.RequireFromString("0.05"),
			MinAmount: decimal.NewFromInt(1),
			MaxAmount: decimal.NewFromInt(50000),
		},
		f.gateway, f.escrows, paymentMemory.NewTransactionRepository(),
		money.RegistryFromCodes([]string{"USD", "EUR"}),
		log,
	)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	f.orch = orch

	recorder, err := ledgerApp.NewRecorder(ledgerApp.Config{
		Retry: backoff.Policy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
		RequestTimeout:      time.Second,
		ConfirmationTimeout: time.Second,
		ReceiptTTL:          time.Hour,
	}, f.ledger, log)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(recorder.Close)

	deps := app.Dependencies{
		Swaps:     f.swaps,
		Proposals: f.proposals,
		Auctions:  f.auctions,
		Tx:        memory.TxRunner{},
		Bookings:  f.bookings,
		Locks:     memory.NewLocker(),
		Escrow:    orch,
		Ledger:    recorder,
		Notifier:  f.notifier,
		Index:     f.index,
	}

	tm, err := app.NewTransactionManager(app.TxConfig{
		LockTimeout:   time.Second,
		NotifyTimeout: time.Second,
		DefaultExpiry: 72 * time.Hour,
	}, deps, log)
	if err != nil {
		t.Fatalf("NewTransactionManager: %v", err)
	}
	tm.SetClock(f.clock.Now)

	am, err := app.NewAuctionManager(app.AuctionConfig{
		MinLeadTime:     7 * 24 * time.Hour,
		AutoSelectHours: 24,
	}, deps, tm, log)
	if err != nil {
		t.Fatalf("NewAuctionManager: %v", err)
	}
	am.SetClock(f.clock.Now)

	filter := app.NewEligibilityFilter(f.swaps, f.proposals, f.bookings, deps.Locks, f.index,
		app.NewScorer(app.DefaultWeights()), log)

	f.svc = app.NewService(deps, filter, tm, am, log)
	t.Cleanup(f.svc.Wait)

	lat, lon := 48.8566, 2.3522
	checkIn := start.Add(30 * 24 * time.Hour)
	place := func(id, owner, kind string, guests int, value string) domain.Booking {
		return domain.Booking{
			ID:                id,
			OwnerID:           owner,
			Location:          domain.Location{City: "Paris", Country: "FR", Latitude: &lat, Longitude: &lon},
			CheckIn:           checkIn,
			CheckOut:          checkIn.Add(5 * 24 * time.Hour),
			Value:             *usd(value),
			AccommodationType: kind,
			Guests:            guests,
		}
	}

	f.addSwap(t, "swap-a", "alice", place("booking-a", "alice", "apartment", 2, "1000.00"),
		domain.PaymentPreference{AcceptsBooking: true, AcceptsCash: true, MinCash: usd("100.00")})
	f.addSwap(t, "swap-b", "bob", place("booking-b", "bob", "apartment", 2, "900.00"),
		domain.PaymentPreference{AcceptsBooking: true})
	f.addSwap(t, "swap-c", "carol", place("booking-c", "carol", "villa", 6, "3000.00"),
		domain.PaymentPreference{AcceptsBooking: true})
	f.addSwap(t, "swap-b2", "bob", place("booking-b2", "bob", "hostel", 1, "200.00"),
		domain.PaymentPreference{AcceptsBooking: true})

	return f
}

func (f *fixture) addSwap(t *testing.T, id, owner string, b domain.Booking, pref domain.PaymentPreference) {
	t.Helper()
	f.bookings.Put(b)
	err := f.swaps.Create(context.Background(), &domain.Swap{
		ID:         id,
		OwnerID:    owner,
		BookingID:  b.ID,
		Status:     domain.SwapAvailable,
		Payment:    pref,
		Acceptance: domain.AcceptanceStrategy{Type: domain.StrategyFirstMatch},
		CreatedAt:  start,
		UpdatedAt:  start,
	})
	if err != nil {
		t.Fatalf("create swap %s: %v", id, err)
	}
}

func (f *fixture) swap(t *testing.T, id string) *domain.Swap {
	t.Helper()
	s, err := f.swaps.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get swap %s: %v", id, err)
	}
	return s
}

func (f *fixture) proposal(t *testing.T, id string) *domain.Proposal {
	t.Helper()
	p, err := f.proposals.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get proposal %s: %v", id, err)
	}
	return p
}

func (f *fixture) escrow(t *testing.T, p *domain.Proposal) *paymentDomain.EscrowAccount {
	t.Helper()
	if !p.HasEscrow() {
		t.Fatalf("proposal %s has no escrow", p.ID)
	}
	e, err := f.escrows.Get(context.Background(), p.Cash.EscrowID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	return e
}

func (f *fixture) offerBooking(t *testing.T, proposer, source, target string) *domain.Proposal {
	t.Helper()
	res, err := f.svc.CreateProposal(context.Background(), app.CreateRequest{
		ProposerID:   proposer,
		SourceSwapID: source,
		TargetSwapID: target,
		Type:         domain.ProposalBooking,
	})
	if err != nil {
		t.Fatalf("booking proposal %s -> %s: %v", source, target, err)
	}
	return res.Proposal
}

func (f *fixture) offerCash(t *testing.T, proposer, target, amount string) *domain.Proposal {
	t.Helper()
	res, err := f.svc.CreateProposal(context.Background(), app.CreateRequest{
		ProposerID:      proposer,
		TargetSwapID:    target,
		Type:            domain.ProposalCash,
		CashAmount:      usd(amount),
		PaymentMethodID: "pm-" + proposer,
	})
	if err != nil {
		t.Fatalf("cash proposal %s by %s: %v", amount, proposer, err)
	}
	return res.Proposal
}
