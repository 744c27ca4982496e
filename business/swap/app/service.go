package app

import (
	"context"

	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/logger"
)

// Service is the entry point of the swap context.
type Service struct {
	deps     Dependencies
	filter   *EligibilityFilter
	tm       *TransactionManager
	auctions *AuctionManager
	logger   logger.LoggerInterface
}

// NewService creates a Service.
func NewService(deps Dependencies, filter *EligibilityFilter, tm *TransactionManager, auctions *AuctionManager, log logger.LoggerInterface) *Service {
	return &Service{
		deps:     deps,
		filter:   filter,
		tm:       tm,
		auctions: auctions,
		logger:   log,
	}
}

// GetEligibleSwaps lists userID's swaps that can be offered for targetSwapID.
func (s *Service) GetEligibleSwaps(ctx context.Context, userID, targetSwapID string) ([]domain.EligibleSwap, error) {
	return s.filter.EligibleSwaps(ctx, userID, targetSwapID)
}

// AnalyzeCompatibility scores two swaps.
func (s *Service) AnalyzeCompatibility(ctx context.Context, sourceSwapID, targetSwapID string) (domain.CompatibilityAnalysis, error) {
	return s.filter.Analyze(ctx, sourceSwapID, targetSwapID)
}

// CreateProposal offers a booking or cash for a swap.
func (s *Service) CreateProposal(ctx context.Context, req CreateRequest) (*Result, error) {
	score := 0
	if req.SourceSwapID != "" {
		analysis, err := s.filter.Analyze(ctx, req.SourceSwapID, req.TargetSwapID)
		if err != nil {
			return nil, err
		}
		score = analysis.OverallScore
	}

	return s.tm.Execute(ctx, Command{Op: OpCreate, ActorID: req.ProposerID, Create: &req, Score: score})
}

// AcceptProposal accepts a first-match proposal. Other pending proposals on
// the exchanged swaps are closed afterwards.
func (s *Service) AcceptProposal(ctx context.Context, actorID, proposalID string) (*Result, error) {
	res, err := s.tm.Execute(ctx, Command{Op: OpAccept, ProposalID: proposalID, ActorID: actorID})
	if err != nil {
		return nil, err
	}

	s.tm.closeSiblings(ctx, res.Proposal, ReasonSwapUnavailable)
	return res, nil
}

// RejectProposal rejects a proposal on the caller's swap.
func (s *Service) RejectProposal(ctx context.Context, actorID, proposalID, reason string) (*Result, error) {
	return s.tm.Execute(ctx, Command{Op: OpReject, ProposalID: proposalID, ActorID: actorID, Reason: reason})
}

// WithdrawProposal withdraws the caller's own proposal.
func (s *Service) WithdrawProposal(ctx context.Context, actorID, proposalID string) (*Result, error) {
	return s.tm.Execute(ctx, Command{Op: OpWithdraw, ProposalID: proposalID, ActorID: actorID})
}

// GetProposal returns a proposal by id.
func (s *Service) GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	return s.deps.Proposals.Get(ctx, proposalID)
}

// CreateAuction opens an auction on the caller's swap.
func (s *Service) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	return s.auctions.Create(ctx, req)
}

// CancelAuction cancels the caller's auction.
func (s *Service) CancelAuction(ctx context.Context, ownerID, auctionID string) (*domain.Auction, error) {
	return s.auctions.Cancel(ctx, ownerID, auctionID)
}

// SelectAuctionWinner accepts a proposal as the auction winner.
func (s *Service) SelectAuctionWinner(ctx context.Context, ownerID, auctionID, proposalID string) (*Result, error) {
	return s.auctions.SelectWinner(ctx, ownerID, auctionID, proposalID)
}

// EndAuction ends an auction that is due.
func (s *Service) EndAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	a, _, err := s.auctions.End(ctx, auctionID)
	return a, err
}

// GetAuction returns an auction by id.
func (s *Service) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return s.deps.Auctions.Get(ctx, auctionID)
}

// RebuildIndex loads the edges of pending proposals into the target index.
func (s *Service) RebuildIndex(ctx context.Context) error {
	pending, err := s.deps.Proposals.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, p := range pending {
		if err := s.deps.Index.Add(p.SourceSwapID, p.TargetSwapID); err != nil {
			s.logger.Warn(ctx, "pending proposal skipped in index", "proposal_id", p.ID, "error", err)
		}
	}

	s.logger.Info(ctx, "target index rebuilt", "proposals", len(pending), "edges", s.deps.Index.Len())
	return nil
}

// Wait blocks until dispatched notifications finish.
func (s *Service) Wait() {
	s.tm.Wait()
}
