package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apm"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
)

// ReconcileReport counts the transitions made by one pass.
type ReconcileReport struct {
	Ended        int
	ForceEnded   int
	AutoSelected int
	Cancelled    int
	Expired      int
	Refunded     int
	Failed       int
}

// Changed reports whether the pass did anything.
func (r ReconcileReport) Changed() bool {
	return r.Ended+r.ForceEnded+r.AutoSelected+r.Cancelled+r.Expired+r.Refunded+r.Failed > 0
}

// Reconcile applies time-driven transitions. Active auctions pick up moved
// event dates and end when due. Auctions past the owner's selection window
// get the best pending proposal or are cancelled. Pending proposals past
// their expiry expire. Closed proposals whose escrow refund failed get it
// retried.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	live, err := s.deps.Auctions.ListLive(ctx)
	if err != nil {
		return report, err
	}

	now := s.auctions.now()
	for _, a := range live {
		// Bookings can be rebooked to another date while the auction runs.
		if synced, err := s.auctions.syncEventDate(ctx, a); err != nil {
			s.logger.Warn(ctx, "auction event date not refreshed", "auction_id", a.ID, "error", err)
		} else {
			a = synced
		}

		if a.DueToEnd(now, s.auctions.cfg.MinLeadTime) != domain.EndNone {
			ended, reason, err := s.auctions.End(ctx, a.ID)
			if err != nil {
				report.Failed++
				s.logger.Error(ctx, "auction end failed", "auction_id", a.ID, "error", err)
				continue
			}
			switch reason {
			case domain.EndForced:
				report.ForceEnded++
			case domain.EndReached:
				report.Ended++
			}
			a = ended
		}

		if !a.AutoSelectDue(now) {
			continue
		}

		selected, err := s.autoSelect(ctx, a)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error(ctx, "auction auto-select failed", "auction_id", a.ID, "error", err)
		case selected:
			report.AutoSelected++
		default:
			report.Cancelled++
		}
	}

	expired, err := s.deps.Proposals.ListExpired(ctx, now)
	if err != nil {
		return report, err
	}
	for _, p := range expired {
		_, err := s.tm.Execute(ctx, Command{Op: OpExpire, ProposalID: p.ID, ActorID: SystemActor, system: true})
		if err != nil {
			if apperror.HasCode(err, apperror.CodeInvalidProposalStatus) {
				continue
			}
			report.Failed++
			s.logger.Error(ctx, "proposal expiry failed", "proposal_id", p.ID, "error", err)
			continue
		}
		report.Expired++
	}

	unrefunded, err := s.deps.Proposals.ListRefundPending(ctx)
	if err != nil {
		return report, err
	}
	for _, p := range unrefunded {
		done, err := s.tm.retryRefund(ctx, p.ID)
		if err != nil {
			report.Failed++
			s.logger.Error(ctx, "escrow refund retry failed", "proposal_id", p.ID, "error", err)
			continue
		}
		if done {
			report.Refunded++
		}
	}

	return report, nil
}

// autoSelect accepts the best pending proposal of an ended auction. A
// proposal that cannot be accepted is skipped; a transient failure stops
// the attempt until the next pass. Without any acceptable proposal the
// auction is cancelled.
func (s *Service) autoSelect(ctx context.Context, a *domain.Auction) (bool, error) {
	pending, err := s.auctions.pendingEntries(ctx, a)
	if err != nil {
		return false, err
	}

	for _, e := range pending {
		_, err := s.auctions.selectWinner(ctx, SystemActor, a.ID, e.ProposalID, true)
		if err == nil {
			return true, nil
		}
		if apperror.IsRetryable(err) {
			return false, err
		}
		s.logger.Warn(ctx, "auction candidate skipped",
			"auction_id", a.ID,
			"proposal_id", e.ProposalID,
			"error", err)
	}

	if _, err := s.auctions.cancel(ctx, SystemActor, a.ID, true); err != nil {
		return false, err
	}
	return false, nil
}

// Reconciler runs Reconcile on a fixed interval.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	logger   logger.LoggerInterface
	tracer   apm.Tracer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a Reconciler.
func NewReconciler(svc *Service, interval time.Duration, log logger.LoggerInterface) *Reconciler {
	return &Reconciler{
		svc:      svc,
		interval: interval,
		logger:   log,
		tracer:   apm.NewTracer(tracerName),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info(ctx, "starting reconciler", "interval", r.interval)

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "reconciler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "swap.reconcile")

	report, err := r.svc.Reconcile(ctx)
	span.SetAttributes(
		attribute.Int("ended", report.Ended+report.ForceEnded),
		attribute.Int("auto_selected", report.AutoSelected),
		attribute.Int("expired", report.Expired),
		attribute.Int("refunded", report.Refunded),
		attribute.Int("failed", report.Failed),
	)
	span.Finish(err)
	if err != nil {
		r.logger.Error(ctx, "reconcile pass failed", "error", err)
		return
	}
	if !report.Changed() {
		return
	}

	r.logger.Info(ctx, "reconcile pass",
		"ended", report.Ended,
		"force_ended", report.ForceEnded,
		"auto_selected", report.AutoSelected,
		"cancelled", report.Cancelled,
		"expired", report.Expired,
		"refunded", report.Refunded,
		"failed", report.Failed)
}

// Stop ends the loop and waits for the running pass.
func (r *Reconciler) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.logger.Info(context.Background(), "stopping reconciler")
	r.cancel()
	<-r.done
	return nil
}
