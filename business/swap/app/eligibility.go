package app

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
)

// EligibilityFilter lists the caller's swaps that can be proposed against a
// target, scored for compatibility.
type EligibilityFilter struct {
	swaps     SwapRepository
	proposals ProposalRepository
	bookings  BookingService
	locks     SwapLocker
	index     *domain.TargetIndex
	scorer    *Scorer
	logger    logger.LoggerInterface
	now       func() time.Time

	tracer trace.Tracer
}

// NewEligibilityFilter creates an EligibilityFilter.
func NewEligibilityFilter(
	swaps SwapRepository,
	proposals ProposalRepository,
	bookings BookingService,
	locks SwapLocker,
	index *domain.TargetIndex,
	scorer *Scorer,
	log logger.LoggerInterface,
) *EligibilityFilter {
	return &EligibilityFilter{
		swaps:     swaps,
		proposals: proposals,
		bookings:  bookings,
		locks:     locks,
		index:     index,
		scorer:    scorer,
		logger:    log,
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
}

// EligibleSwaps returns userID's swaps that may target targetSwapID, best
// match first.
func (f *EligibilityFilter) EligibleSwaps(ctx context.Context, userID, targetSwapID string) ([]domain.EligibleSwap, error) {
	ctx, span := f.tracer.Start(ctx, "swap.eligible",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("target_swap_id", targetSwapID),
		),
	)
	defer span.End()

	target, err := f.swaps.Get(ctx, targetSwapID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if target.OwnerID == userID {
		return nil, apperror.Validation(apperror.CodeCannotProposeOwnSwap, targetSwapID)
	}

	owned, err := f.swaps.ListByOwner(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	targetBooking := f.booking(ctx, target.BookingID)
	now := f.now()

	out := make([]domain.EligibleSwap, 0, len(owned))
	for _, s := range owned {
		ok, reason, err := f.eligible(ctx, s, target, userID, now)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !ok {
			f.logger.Debug(ctx, "swap not eligible", "swap_id", s.ID, "target_swap_id", targetSwapID, "reason", reason)
			continue
		}

		analysis := f.scorer.Analyze(s.ID, target.ID, f.booking(ctx, s.BookingID), targetBooking)
		out = append(out, domain.EligibleSwap{Swap: s, Analysis: analysis})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Analysis.OverallScore != b.Analysis.OverallScore {
			return a.Analysis.OverallScore > b.Analysis.OverallScore
		}
		if !a.Swap.CreatedAt.Equal(b.Swap.CreatedAt) {
			return a.Swap.CreatedAt.After(b.Swap.CreatedAt)
		}
		return a.Swap.ID < b.Swap.ID
	})

	span.SetAttributes(attribute.Int("eligible", len(out)))
	span.SetStatus(codes.Ok, "filtered")
	return out, nil
}

func (f *EligibilityFilter) eligible(ctx context.Context, s, target *domain.Swap, userID string, now time.Time) (bool, string, error) {
	switch {
	case s.ID == target.ID:
		return false, "target", nil
	case s.OwnerID != userID:
		return false, "foreign", nil
	case !s.IsAvailable(now):
		return false, "status " + string(s.Status), nil
	}

	existing, err := f.proposals.PendingByPair(ctx, domain.PairKey(s.ID, target.ID, userID))
	if err != nil {
		return false, "", err
	}
	if existing != nil {
		return false, "already proposed", nil
	}

	if f.locks.Held(ctx, s.ID) {
		return false, "swap locked", nil
	}
	if b := f.booking(ctx, s.BookingID); b != nil && b.Locked {
		return false, "booking locked", nil
	}
	if f.index.WouldCycle(s.ID, target.ID) {
		return false, "circular", nil
	}
	return true, "", nil
}

// Analyze scores sourceSwapID against targetSwapID.
func (f *EligibilityFilter) Analyze(ctx context.Context, sourceSwapID, targetSwapID string) (domain.CompatibilityAnalysis, error) {
	ctx, span := f.tracer.Start(ctx, "swap.analyze",
		trace.WithAttributes(
			attribute.String("source_swap_id", sourceSwapID),
			attribute.String("target_swap_id", targetSwapID),
		),
	)
	defer span.End()

	source, err := f.swaps.Get(ctx, sourceSwapID)
	if err != nil {
		span.RecordError(err)
		return domain.CompatibilityAnalysis{}, err
	}
	target, err := f.swaps.Get(ctx, targetSwapID)
	if err != nil {
		span.RecordError(err)
		return domain.CompatibilityAnalysis{}, err
	}

	analysis := f.scorer.Analyze(source.ID, target.ID, f.booking(ctx, source.BookingID), f.booking(ctx, target.BookingID))
	span.SetAttributes(attribute.Int("score", analysis.OverallScore))
	return analysis, nil
}

// booking returns nil when details cannot be loaded; scoring degrades instead
// of failing.
func (f *EligibilityFilter) booking(ctx context.Context, id string) *domain.Booking {
	b, err := f.bookings.Get(ctx, id)
	if err != nil {
		f.logger.Warn(ctx, "booking details unavailable", "booking_id", id, "error", err)
		return nil
	}
	return b
}
