package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ledgerDomain "github.com/fd1az/swapengine/business/ledger/domain"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
)

const (
	opAuctionCreate Operation = "auction_create"
	opAuctionEnd    Operation = "auction_end"
	opAuctionCancel Operation = "auction_cancel"
)

// Reasons recorded on proposals closed by auction outcomes.
const (
	ReasonAuctionLost      = "another proposal won the auction"
	ReasonAuctionCancelled = "auction cancelled"
	ReasonSwapUnavailable  = "swap no longer available"
)

// AuctionConfig holds auction timing rules.
type AuctionConfig struct {
	// MinLeadTime separates the auction end from the event.
	MinLeadTime time.Duration
	// AutoSelectHours applies when the owner sets no selection window.
	AutoSelectHours int
}

// CreateAuctionRequest opens an auction on a swap.
type CreateAuctionRequest struct {
	OwnerID  string
	SwapID   string
	Settings domain.AuctionSettings
}

type auctionMetrics struct {
	created   metric.Int64Counter
	ended     metric.Int64Counter
	cancelled metric.Int64Counter
	winners   metric.Int64Counter
}

// AuctionManager drives the auction lifecycle. Winner acceptance is delegated
// to the TransactionManager.
type AuctionManager struct {
	cfg  AuctionConfig
	deps Dependencies
	tm   *TransactionManager

	logger logger.LoggerInterface
	now    func() time.Time

	tracer  trace.Tracer
	metrics *auctionMetrics
}

// NewAuctionManager creates an AuctionManager.
func NewAuctionManager(cfg AuctionConfig, deps Dependencies, tm *TransactionManager, log logger.LoggerInterface) (*AuctionManager, error) {
	m := &AuctionManager{
		cfg:    cfg,
		deps:   deps,
		tm:     tm,
		logger: log,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return m, nil
}

// SetClock replaces the time source.
func (m *AuctionManager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *AuctionManager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &auctionMetrics{}

	m.metrics.created, err = meter.Int64Counter(
		"swap_auctions_created_total",
		metric.WithDescription("Auctions opened"),
		metric.WithUnit("{auction}"),
	)
	if err != nil {
		return err
	}

	m.metrics.ended, err = meter.Int64Counter(
		"swap_auctions_ended_total",
		metric.WithDescription("Auctions ended by reason"),
		metric.WithUnit("{auction}"),
	)
	if err != nil {
		return err
	}

	m.metrics.cancelled, err = meter.Int64Counter(
		"swap_auctions_cancelled_total",
		metric.WithDescription("Auctions cancelled"),
		metric.WithUnit("{auction}"),
	)
	if err != nil {
		return err
	}

	m.metrics.winners, err = meter.Int64Counter(
		"swap_auction_winners_total",
		metric.WithDescription("Auction winners selected"),
		metric.WithUnit("{auction}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Create opens an auction on an available first-match swap.
func (m *AuctionManager) Create(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "swap.auction.create",
		trace.WithAttributes(attribute.String("swap_id", req.SwapID)),
	)
	defer span.End()

	a, err := m.create(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return nil, err
	}

	m.metrics.created.Add(ctx, 1)
	span.SetStatus(codes.Ok, "created")
	return a, nil
}

func (m *AuctionManager) create(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	unlock, err := m.tm.lock(ctx, req.SwapID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	s, err := m.deps.Swaps.Get(ctx, req.SwapID)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != req.OwnerID {
		return nil, apperror.Forbidden(apperror.CodeNotSwapOwner, s.ID)
	}
	if err := swapOpen(s, now); err != nil {
		return nil, err
	}
	if s.InAuction() {
		existing, err := m.deps.Auctions.Get(ctx, s.Acceptance.AuctionID)
		if err != nil && !apperror.HasCode(err, apperror.CodeAuctionNotFound) {
			return nil, err
		}
		if existing != nil && live(existing) {
			return nil, apperror.New(apperror.CodeAuctionAlreadyExists,
				apperror.WithContext(s.ID),
				apperror.WithDetail("auction_id", existing.ID))
		}
	}

	booking, err := m.deps.Bookings.Get(ctx, s.BookingID)
	if err != nil {
		return nil, err
	}

	settings := req.Settings
	if settings.AutoSelectAfterHours <= 0 {
		settings.AutoSelectAfterHours = m.cfg.AutoSelectHours
	}

	a, err := domain.NewAuction(uuid.NewString(), s, settings, booking.EventDate(), now, m.cfg.MinLeadTime)
	if err != nil {
		return nil, err
	}

	swapSnap := s.Clone()
	err = m.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.deps.Auctions.Create(ctx, a); err != nil {
			return err
		}
		s.UseAuction(a.ID, a.Settings.EndDate, now)
		return m.deps.Swaps.Update(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.record(ctx, ledgerDomain.EventAuctionCreated, a, ""); err != nil {
		m.tm.compensate(ctx, opAuctionCreate, a.ID, func(ctx context.Context) error {
			return m.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
				if err := a.Cancel(now); err != nil {
					return err
				}
				if err := m.deps.Auctions.Update(ctx, a); err != nil {
					return err
				}
				return m.deps.Swaps.Update(ctx, swapSnap)
			})
		})
		return nil, ledgerFailed(err)
	}

	m.logger.Info(ctx, "auction created",
		"auction_id", a.ID,
		"swap_id", a.SwapID,
		"end_date", a.Settings.EndDate,
		"event_date", a.EventDate)

	return a, nil
}

// End closes an active auction whose end date has passed or whose event is
// closer than the minimum lead time. Ending an auction that is no longer
// active returns it unchanged. With no proposals the swap reverts to
// first-match.
func (m *AuctionManager) End(ctx context.Context, auctionID string) (*domain.Auction, domain.EndReason, error) {
	ctx, span := m.tracer.Start(ctx, "swap.auction.end",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, reason, err := m.end(ctx, auctionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return nil, domain.EndNone, err
	}

	span.SetAttributes(attribute.String("reason", string(reason)))
	span.SetStatus(codes.Ok, string(a.Status))
	return a, reason, nil
}

func (m *AuctionManager) end(ctx context.Context, auctionID string) (*domain.Auction, domain.EndReason, error) {
	a, err := m.deps.Auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, domain.EndNone, err
	}

	unlock, err := m.tm.lock(ctx, a.SwapID)
	if err != nil {
		return nil, domain.EndNone, err
	}
	defer unlock()

	a, err = m.deps.Auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, domain.EndNone, err
	}
	if a.Status != domain.AuctionActive {
		return a, domain.EndNone, nil
	}

	now := m.now()
	reason := a.DueToEnd(now, m.cfg.MinLeadTime)
	if reason == domain.EndNone {
		return nil, domain.EndNone, apperror.New(apperror.CodeAuctionNotEnded,
			apperror.WithContext(a.ID),
			apperror.WithDetail("end_date", a.Settings.EndDate))
	}

	pending, err := m.pendingEntries(ctx, a)
	if err != nil {
		return nil, domain.EndNone, err
	}

	s, err := m.deps.Swaps.Get(ctx, a.SwapID)
	if err != nil {
		return nil, domain.EndNone, err
	}
	snap := snapshot{auction: a.Clone(), swaps: []*domain.Swap{s.Clone()}}

	err = m.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		a.End(now)
		if err := m.deps.Auctions.Update(ctx, a); err != nil {
			return err
		}
		if len(pending) == 0 && s.Acceptance.AuctionID == a.ID {
			s.RevertToFirstMatch(now)
			return m.deps.Swaps.Update(ctx, s)
		}
		return nil
	})
	if err != nil {
		return nil, domain.EndNone, err
	}

	if _, err := m.record(ctx, ledgerDomain.EventAuctionEnded, a, string(reason)); err != nil {
		m.tm.compensate(ctx, opAuctionEnd, a.ID, m.restoreStep(snap))
		return nil, domain.EndNone, ledgerFailed(err)
	}

	m.metrics.ended.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	m.logger.Info(ctx, "auction ended",
		"auction_id", a.ID,
		"reason", reason,
		"proposals", len(pending))

	if len(pending) > 0 {
		m.tm.notify(ctx, "auction_ended", []string{a.OwnerID}, auctionPayload(a, string(reason)))
	}
	return a, reason, nil
}

// Cancel stops an auction on behalf of its owner and rejects its pending
// proposals.
func (m *AuctionManager) Cancel(ctx context.Context, ownerID, auctionID string) (*domain.Auction, error) {
	return m.cancel(ctx, ownerID, auctionID, false)
}

func (m *AuctionManager) cancel(ctx context.Context, actorID, auctionID string, system bool) (*domain.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "swap.auction.cancel",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.cancelLocked(ctx, actorID, auctionID, system)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return nil, err
	}

	m.metrics.cancelled.Add(ctx, 1)
	m.closePending(ctx, a, "", ReasonAuctionCancelled)

	span.SetStatus(codes.Ok, "cancelled")
	return a, nil
}

func (m *AuctionManager) cancelLocked(ctx context.Context, actorID, auctionID string, system bool) (*domain.Auction, error) {
	a, err := m.deps.Auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !system && a.OwnerID != actorID {
		return nil, apperror.Forbidden(apperror.CodeNotSwapOwner, a.SwapID)
	}

	unlock, err := m.tm.lock(ctx, a.SwapID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err = m.deps.Auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	s, err := m.deps.Swaps.Get(ctx, a.SwapID)
	if err != nil {
		return nil, err
	}
	snap := snapshot{auction: a.Clone(), swaps: []*domain.Swap{s.Clone()}}

	now := m.now()
	err = m.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := a.Cancel(now); err != nil {
			return err
		}
		if err := m.deps.Auctions.Update(ctx, a); err != nil {
			return err
		}
		if s.Acceptance.AuctionID == a.ID {
			s.RevertToFirstMatch(now)
			return m.deps.Swaps.Update(ctx, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.record(ctx, ledgerDomain.EventAuctionCancelled, a, ""); err != nil {
		m.tm.compensate(ctx, opAuctionCancel, a.ID, m.restoreStep(snap))
		return nil, ledgerFailed(err)
	}

	m.logger.Info(ctx, "auction cancelled", "auction_id", a.ID, "actor_id", actorID)
	return a, nil
}

// SelectWinner accepts proposalID as the auction winner. An active auction
// past its end date is ended first.
func (m *AuctionManager) SelectWinner(ctx context.Context, ownerID, auctionID, proposalID string) (*Result, error) {
	return m.selectWinner(ctx, ownerID, auctionID, proposalID, false)
}

func (m *AuctionManager) selectWinner(ctx context.Context, actorID, auctionID, proposalID string, system bool) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "swap.auction.select_winner",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("proposal_id", proposalID),
		),
	)
	defer span.End()

	res, err := m.doSelectWinner(ctx, actorID, auctionID, proposalID, system)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return nil, err
	}

	m.metrics.winners.Add(ctx, 1, metric.WithAttributes(attribute.Bool("auto", system)))
	span.SetStatus(codes.Ok, "winner selected")
	return res, nil
}

func (m *AuctionManager) doSelectWinner(ctx context.Context, actorID, auctionID, proposalID string, system bool) (*Result, error) {
	a, err := m.deps.Auctions.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !system && a.OwnerID != actorID {
		return nil, apperror.Forbidden(apperror.CodeNotSwapOwner, a.SwapID)
	}

	if a.Status == domain.AuctionActive {
		if a, _, err = m.End(ctx, auctionID); err != nil {
			return nil, err
		}
	}
	if a.Status != domain.AuctionEnded {
		return nil, apperror.New(apperror.CodeAuctionNotActive,
			apperror.WithContext(a.ID),
			apperror.WithDetail("status", string(a.Status)))
	}
	if _, ok := a.Find(proposalID); !ok {
		return nil, apperror.NotFound(apperror.CodeAuctionProposalNotFound, proposalID)
	}

	actor := actorID
	if system {
		actor = SystemActor
	}
	res, err := m.tm.Execute(ctx, Command{
		Op:         OpAccept,
		ProposalID: proposalID,
		ActorID:    actor,
		winnerOf:   a.ID,
		system:     system,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "auction winner selected",
		"auction_id", a.ID,
		"proposal_id", proposalID,
		"auto", system)

	m.tm.closeSiblings(ctx, res.Proposal, ReasonAuctionLost)
	return res, nil
}

// syncEventDate re-reads the booking behind an active auction and stores a
// moved event date. The stored auction is returned unchanged when the
// booking cannot be read.
func (m *AuctionManager) syncEventDate(ctx context.Context, a *domain.Auction) (*domain.Auction, error) {
	if a.Status != domain.AuctionActive {
		return a, nil
	}

	s, err := m.deps.Swaps.Get(ctx, a.SwapID)
	if err != nil {
		return a, err
	}
	booking, err := m.deps.Bookings.Get(ctx, s.BookingID)
	if err != nil {
		return a, err
	}
	if booking.EventDate().Equal(a.EventDate) {
		return a, nil
	}

	unlock, err := m.tm.lock(ctx, a.SwapID)
	if err != nil {
		return a, err
	}
	defer unlock()

	current, err := m.deps.Auctions.Get(ctx, a.ID)
	if err != nil {
		return a, err
	}
	previous := current.EventDate
	if !current.MoveEvent(booking.EventDate(), m.now()) {
		return current, nil
	}
	if err := m.deps.Auctions.Update(ctx, current); err != nil {
		return a, err
	}

	m.logger.Info(ctx, "auction event date moved",
		"auction_id", current.ID,
		"previous", previous,
		"event_date", current.EventDate)
	return current, nil
}

// pendingEntries returns the auction's proposals that are still pending.
func (m *AuctionManager) pendingEntries(ctx context.Context, a *domain.Auction) ([]domain.AuctionProposal, error) {
	var out []domain.AuctionProposal
	for _, e := range a.Ranked() {
		p, err := m.deps.Proposals.Get(ctx, e.ProposalID)
		if err != nil {
			if apperror.HasCode(err, apperror.CodeProposalNotFound) {
				continue
			}
			return nil, err
		}
		if p.Status == domain.ProposalPending {
			out = append(out, e)
		}
	}
	return out, nil
}

// closePending rejects every pending proposal of the auction except keep.
func (m *AuctionManager) closePending(ctx context.Context, a *domain.Auction, keep, reason string) int {
	pending, err := m.pendingEntries(ctx, a)
	if err != nil {
		m.logger.Error(ctx, "list auction proposals failed", "auction_id", a.ID, "error", err)
		return 0
	}

	closed := 0
	for _, e := range pending {
		if e.ProposalID == keep {
			continue
		}
		_, err := m.tm.Execute(ctx, Command{
			Op:         OpReject,
			ProposalID: e.ProposalID,
			ActorID:    SystemActor,
			Reason:     reason,
			system:     true,
		})
		if err != nil {
			m.logger.Error(ctx, "reject auction proposal failed",
				"auction_id", a.ID,
				"proposal_id", e.ProposalID,
				"error", err)
			continue
		}
		closed++
	}
	return closed
}

func (m *AuctionManager) restoreStep(snap snapshot) compensation {
	return func(ctx context.Context) error {
		return m.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := m.deps.Auctions.Update(ctx, snap.auction); err != nil {
				return err
			}
			for _, s := range snap.swaps {
				if err := m.deps.Swaps.Update(ctx, s); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

func (m *AuctionManager) record(ctx context.Context, t ledgerDomain.EventType, a *domain.Auction, reason string) (ledgerDomain.Receipt, error) {
	return m.deps.Ledger.Record(ctx, t, auctionPayload(a, reason), ledgerDomain.IdempotencyKey(a.ID, t))
}

func live(a *domain.Auction) bool {
	return a.Status == domain.AuctionActive || a.Status == domain.AuctionEnded
}

type auctionEvent struct {
	AuctionID         string    `json:"auction_id"`
	SwapID            string    `json:"swap_id"`
	OwnerID           string    `json:"owner_id"`
	Status            string    `json:"status"`
	EndDate           time.Time `json:"end_date"`
	EventDate         time.Time `json:"event_date"`
	Proposals         int       `json:"proposals"`
	WinningProposalID string    `json:"winning_proposal_id,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}

func auctionPayload(a *domain.Auction, reason string) auctionEvent {
	return auctionEvent{
		AuctionID:         a.ID,
		SwapID:            a.SwapID,
		OwnerID:           a.OwnerID,
		Status:            string(a.Status),
		EndDate:           a.Settings.EndDate,
		EventDate:         a.EventDate,
		Proposals:         len(a.Proposals),
		WinningProposalID: a.WinningProposalID,
		Reason:            reason,
	}
}
