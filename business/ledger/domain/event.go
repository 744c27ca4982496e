// Package domain contains the core domain types for the ledger context.
package domain

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType names a recorded business event.
type EventType string

const (
	EventProposalCreated       EventType = "proposal_created"
	EventProposalAccepted      EventType = "proposal_accepted"
	EventProposalRejected      EventType = "proposal_rejected"
	EventProposalWithdrawn     EventType = "proposal_withdrawn"
	EventProposalExpired       EventType = "proposal_expired"
	EventAuctionCreated        EventType = "auction_created"
	EventAuctionEnded          EventType = "auction_ended"
	EventAuctionCancelled      EventType = "auction_cancelled"
	EventAuctionWinnerSelected EventType = "auction_winner_selected"
)

// IdempotencyKey derives the key for an event about subjectID.
func IdempotencyKey(subjectID string, t EventType) string {
	return subjectID + ":" + string(t)
}

// Event is one ledger entry.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewEvent encodes payload and stamps the event with a time-ordered id.
func NewEvent(t EventType, key string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Event{}, fmt.Errorf("generate event id: %w", err)
	}

	return Event{
		ID:             id.String(),
		Type:           t,
		IdempotencyKey: key,
		Payload:        raw,
		OccurredAt:     now.UTC(),
	}, nil
}

// Encode returns the canonical bytes written to the ledger.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Receipt is the ledger's acknowledgement of an event.
type Receipt struct {
	TransactionID  string
	IdempotencyKey string
	EventID        string
	// ConsensusTimestamp is nil when confirmation did not arrive in time.
	ConsensusTimestamp *time.Time
	Attempts           int
}

// Confirmed reports whether consensus was observed.
func (r Receipt) Confirmed() bool {
	return r.ConsensusTimestamp != nil
}
