// Package app contains the ledger recorder and port definitions for the ledger context.
package app

import (
	"context"
	"time"

	"github.com/fd1az/swapengine/business/ledger/domain"
)

// Submitter writes events to the external ledger.
//
// Transient failures must be returned as retryable AppErrors; any other
// error is treated as permanent and stops the retry loop.
type Submitter interface {
	// Submit writes event and returns the ledger transaction id.
	Submit(ctx context.Context, event domain.Event) (string, error)

	// Confirm blocks until txID reaches consensus and returns its timestamp.
	Confirm(ctx context.Context, txID string) (time.Time, error)
}
