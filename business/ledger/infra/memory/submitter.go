// Package memory provides an in-process ledger submitter.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fd1az/swapengine/business/ledger/app"
	"github.com/fd1az/swapengine/business/ledger/domain"
	"github.com/fd1az/swapengine/internal/apperror"
)

// Submitter appends events to an in-memory log. Failures can be queued to
// exercise retry and compensation paths.
type Submitter struct {
	mu          sync.Mutex
	events      []domain.Event
	byTx        map[string]time.Time
	failures    []error
	unconfirmed bool
	submits     int
	now         func() time.Time
}

var _ app.Submitter = (*Submitter)(nil)

// NewSubmitter creates an empty ledger.
func NewSubmitter() *Submitter {
	return &Submitter{
		byTx: make(map[string]time.Time),
		now:  time.Now,
	}
}

// FailNext queues errors returned by the next Submit calls, in order.
func (s *Submitter) FailNext(errs ...error) {
	s.mu.Lock()
	s.failures = append(s.failures, errs...)
	s.mu.Unlock()
}

// FailTransient queues n retryable failures.
func (s *Submitter) FailTransient(n int) {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = apperror.New(apperror.CodeLedgerTransient, apperror.WithContext("injected"))
	}
	s.FailNext(errs...)
}

// SetUnconfirmed makes Confirm block until its context ends.
func (s *Submitter) SetUnconfirmed(v bool) {
	s.mu.Lock()
	s.unconfirmed = v
	s.mu.Unlock()
}

func (s *Submitter) Submit(ctx context.Context, event domain.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submits++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.events = append(s.events, event)
	txID := fmt.Sprintf("0.0.%d@%d", len(s.events), s.now().UnixNano())
	s.byTx[txID] = s.now().UTC()
	return txID, nil
}

func (s *Submitter) Confirm(ctx context.Context, txID string) (time.Time, error) {
	s.mu.Lock()
	ts, ok := s.byTx[txID]
	unconfirmed := s.unconfirmed
	s.mu.Unlock()

	if !ok {
		return time.Time{}, apperror.New(apperror.CodeLedgerRejected, apperror.WithContext("unknown transaction "+txID))
	}
	if unconfirmed {
		<-ctx.Done()
		return time.Time{}, ctx.Err()
	}
	return ts, nil
}

// Events returns the recorded events in submission order.
func (s *Submitter) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType returns recorded events with type t.
func (s *Submitter) EventsOfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Submits returns how many Submit calls were made, failed ones included.
func (s *Submitter) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}
