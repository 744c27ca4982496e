// Package memory provides in-process swap repositories, locks and a booking
// service double.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
)

// SwapRepository stores swaps in a map.
type SwapRepository struct {
	mu    sync.RWMutex
	swaps map[string]*domain.Swap
}

var _ app.SwapRepository = (*SwapRepository)(nil)

// NewSwapRepository creates an empty repository.
func NewSwapRepository() *SwapRepository {
	return &SwapRepository{swaps: make(map[string]*domain.Swap)}
}

func (r *SwapRepository) Get(_ context.Context, id string) (*domain.Swap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.swaps[id]
	if !ok {
		return nil, apperror.NotFound(apperror.CodeSwapNotFound, "swap "+id)
	}
	return s.Clone(), nil
}

func (r *SwapRepository) ListByOwner(_ context.Context, ownerID string) ([]*domain.Swap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Swap
	for _, s := range r.swaps {
		if s.OwnerID == ownerID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SwapRepository) Create(_ context.Context, s *domain.Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.swaps[s.ID]; ok {
		return apperror.Conflict(apperror.CodeInvalidState, "swap "+s.ID+" exists")
	}
	r.swaps[s.ID] = s.Clone()
	return nil
}

func (r *SwapRepository) Update(_ context.Context, s *domain.Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.swaps[s.ID]; !ok {
		return apperror.NotFound(apperror.CodeSwapNotFound, "swap "+s.ID)
	}
	r.swaps[s.ID] = s.Clone()
	return nil
}

// ProposalRepository stores proposals in a map and keeps one pending
// proposal per pair.
type ProposalRepository struct {
	mu        sync.RWMutex
	proposals map[string]*domain.Proposal
}

var _ app.ProposalRepository = (*ProposalRepository)(nil)

// NewProposalRepository creates an empty repository.
func NewProposalRepository() *ProposalRepository {
	return &ProposalRepository{proposals: make(map[string]*domain.Proposal)}
}

func (r *ProposalRepository) Create(_ context.Context, p *domain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proposals[p.ID]; ok {
		return apperror.Conflict(apperror.CodeInvalidState, "proposal "+p.ID+" exists")
	}
	if p.Status == domain.ProposalPending {
		if existing := r.pendingByPair(p.PairKey()); existing != nil {
			return apperror.New(apperror.CodeProposalAlreadyExists,
				apperror.WithContext(p.TargetSwapID),
				apperror.WithDetail("proposal_id", existing.ID))
		}
	}
	r.proposals[p.ID] = p.Clone()
	return nil
}

func (r *ProposalRepository) Get(_ context.Context, id string) (*domain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.proposals[id]
	if !ok {
		return nil, apperror.NotFound(apperror.CodeProposalNotFound, "proposal "+id)
	}
	return p.Clone(), nil
}

func (r *ProposalRepository) Update(_ context.Context, p *domain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proposals[p.ID]; !ok {
		return apperror.NotFound(apperror.CodeProposalNotFound, "proposal "+p.ID)
	}
	if p.Status == domain.ProposalPending {
		if existing := r.pendingByPair(p.PairKey()); existing != nil && existing.ID != p.ID {
			return apperror.New(apperror.CodeProposalAlreadyExists,
				apperror.WithContext(p.TargetSwapID),
				apperror.WithDetail("proposal_id", existing.ID))
		}
	}
	r.proposals[p.ID] = p.Clone()
	return nil
}

func (r *ProposalRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.proposals, id)
	return nil
}

func (r *ProposalRepository) PendingByPair(_ context.Context, pairKey string) (*domain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.pendingByPair(pairKey); p != nil {
		return p.Clone(), nil
	}
	return nil, nil
}

func (r *ProposalRepository) pendingByPair(pairKey string) *domain.Proposal {
	for _, p := range r.proposals {
		if p.Status == domain.ProposalPending && p.PairKey() == pairKey {
			return p
		}
	}
	return nil
}

func (r *ProposalRepository) ListPendingBySwap(_ context.Context, swapID string) ([]*domain.Proposal, error) {
	return r.list(func(p *domain.Proposal) bool {
		return p.Status == domain.ProposalPending && (p.SourceSwapID == swapID || p.TargetSwapID == swapID)
	}), nil
}

func (r *ProposalRepository) ListPending(_ context.Context) ([]*domain.Proposal, error) {
	return r.list(func(p *domain.Proposal) bool {
		return p.Status == domain.ProposalPending
	}), nil
}

func (r *ProposalRepository) ListExpired(_ context.Context, now time.Time) ([]*domain.Proposal, error) {
	return r.list(func(p *domain.Proposal) bool {
		return p.Status == domain.ProposalPending && p.IsExpired(now)
	}), nil
}

func (r *ProposalRepository) ListRefundPending(_ context.Context) ([]*domain.Proposal, error) {
	return r.list(func(p *domain.Proposal) bool {
		return p.NeedsRefund()
	}), nil
}

// list returns matches oldest first.
func (r *ProposalRepository) list(match func(*domain.Proposal) bool) []*domain.Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Proposal
	for _, p := range r.proposals {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AuctionRepository stores auctions in a map and keeps one live auction per
// swap.
type AuctionRepository struct {
	mu       sync.RWMutex
	auctions map[string]*domain.Auction
}

var _ app.AuctionRepository = (*AuctionRepository)(nil)

// NewAuctionRepository creates an empty repository.
func NewAuctionRepository() *AuctionRepository {
	return &AuctionRepository{auctions: make(map[string]*domain.Auction)}
}

func (r *AuctionRepository) Create(_ context.Context, a *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.auctions {
		if existing.SwapID == a.SwapID && isLive(existing) {
			return apperror.New(apperror.CodeAuctionAlreadyExists,
				apperror.WithContext(a.SwapID),
				apperror.WithDetail("auction_id", existing.ID))
		}
	}
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *AuctionRepository) Get(_ context.Context, id string) (*domain.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[id]
	if !ok {
		return nil, apperror.NotFound(apperror.CodeAuctionNotFound, "auction "+id)
	}
	return a.Clone(), nil
}

func (r *AuctionRepository) Update(_ context.Context, a *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[a.ID]; !ok {
		return apperror.NotFound(apperror.CodeAuctionNotFound, "auction "+a.ID)
	}
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *AuctionRepository) ListLive(_ context.Context) ([]*domain.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Auction
	for _, a := range r.auctions {
		if isLive(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func isLive(a *domain.Auction) bool {
	return a.Status == domain.AuctionActive || a.Status == domain.AuctionEnded
}

// TxRunner runs fn directly. Callers restore snapshots on failure.
type TxRunner struct{}

var _ app.TxRunner = TxRunner{}

func (TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
