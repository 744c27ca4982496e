package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/swapengine/business/ledger/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/backoff"
	"github.com/fd1az/swapengine/internal/cache"
	"github.com/fd1az/swapengine/internal/keylock"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/swapengine/business/ledger/app"
	meterName  = "github.com/fd1az/swapengine/business/ledger/app"
)

// Config holds the recorder's retry and timing policy.
type Config struct {
	Retry               backoff.Policy
	RequestTimeout      time.Duration // per Submit attempt
	ConfirmationTimeout time.Duration
	SubmitsPerMinute    int
	ReceiptTTL          time.Duration
}

// DefaultConfig returns five attempts from 250ms to 5s.
func DefaultConfig() Config {
	return Config{
		Retry: backoff.Policy{
			MaxAttempts:    5,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2,
			Jitter:         0.1,
		},
		RequestTimeout:      10 * time.Second,
		ConfirmationTimeout: 30 * time.Second,
		ReceiptTTL:          24 * time.Hour,
	}
}

type recorderMetrics struct {
	recorded    metric.Int64Counter
	attempts    metric.Int64Counter
	failures    metric.Int64Counter
	cacheHits   metric.Int64Counter
	unconfirmed metric.Int64Counter
}

// Recorder records events at least once with caller-supplied idempotency keys.
type Recorder struct {
	cfg       Config
	submitter Submitter
	limiter   *ratelimit.Limiter
	receipts  *cache.Cache[string, domain.Receipt]
	keys      *keylock.Locker
	logger    logger.LoggerInterface
	now       func() time.Time

	tracer  trace.Tracer
	metrics *recorderMetrics
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg Config, submitter Submitter, log logger.LoggerInterface) (*Recorder, error) {
	r := &Recorder{
		cfg:       cfg,
		submitter: submitter,
		limiter:   ratelimit.New("ledger", cfg.SubmitsPerMinute),
		receipts:  cache.New[string, domain.Receipt](10 * time.Minute),
		keys:      keylock.New(),
		logger:    log,
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}

	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return r, nil
}

func (r *Recorder) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	r.metrics = &recorderMetrics{}

	r.metrics.recorded, err = meter.Int64Counter(
		"ledger_events_recorded_total",
		metric.WithDescription("Events acknowledged by the ledger"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	r.metrics.attempts, err = meter.Int64Counter(
		"ledger_submit_attempts_total",
		metric.WithDescription("Ledger submission attempts, retries included"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	r.metrics.failures, err = meter.Int64Counter(
		"ledger_record_failures_total",
		metric.WithDescription("Events that could not be recorded"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	r.metrics.cacheHits, err = meter.Int64Counter(
		"ledger_receipt_cache_hits_total",
		metric.WithDescription("Record calls answered from the receipt cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	r.metrics.unconfirmed, err = meter.Int64Counter(
		"ledger_unconfirmed_total",
		metric.WithDescription("Submissions returned without a consensus timestamp"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Record writes the event unless a receipt for idempotencyKey is cached.
// Transient submit errors are retried with backoff; permanent errors and
// exhausted attempts fail with LEDGER_RECORDING_FAILED.
func (r *Recorder) Record(ctx context.Context, eventType domain.EventType, payload any, idempotencyKey string) (domain.Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.record",
		trace.WithAttributes(
			attribute.String("event_type", string(eventType)),
			attribute.String("idempotency_key", idempotencyKey),
		),
	)
	defer span.End()

	if receipt, ok := r.receipts.Get(ctx, idempotencyKey); ok {
		r.metrics.cacheHits.Add(ctx, 1)
		span.AddEvent("cache_hit")
		return receipt, nil
	}

	// Concurrent callers with the same key wait for the first submission.
	unlock, err := r.keys.Lock(ctx, idempotencyKey)
	if err != nil {
		return domain.Receipt{}, r.fail(ctx, span, eventType, 0, err)
	}
	defer unlock()

	if receipt, ok := r.receipts.Get(ctx, idempotencyKey); ok {
		r.metrics.cacheHits.Add(ctx, 1)
		span.AddEvent("cache_hit")
		return receipt, nil
	}

	event, err := domain.NewEvent(eventType, idempotencyKey, payload, r.now())
	if err != nil {
		return domain.Receipt{}, r.fail(ctx, span, eventType, 0, err)
	}

	var txID string
	attempts, err := backoff.Retry(ctx, r.cfg.Retry, func(ctx context.Context, attempt int) error {
		r.metrics.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(eventType))))

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		id, err := r.submit(ctx, event)
		if err != nil {
			if !r.transient(ctx, err) {
				return backoff.Permanent(err)
			}
			r.logger.Warn(ctx, "ledger submit failed, retrying",
				"event_type", eventType,
				"attempt", attempt,
				"error", err)
			return err
		}
		txID = id
		return nil
	})
	if err != nil {
		return domain.Receipt{}, r.fail(ctx, span, eventType, attempts, err)
	}

	receipt := domain.Receipt{
		TransactionID:  txID,
		IdempotencyKey: idempotencyKey,
		EventID:        event.ID,
		Attempts:       attempts,
	}

	if ts, ok := r.confirm(ctx, txID); ok {
		receipt.ConsensusTimestamp = &ts
	} else {
		r.metrics.unconfirmed.Add(ctx, 1)
		span.AddEvent("unconfirmed")
	}

	r.receipts.Set(ctx, idempotencyKey, receipt, r.cfg.ReceiptTTL)
	r.metrics.recorded.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(eventType))))

	r.logger.Info(ctx, "ledger event recorded",
		"event_type", eventType,
		"transaction_id", txID,
		"attempts", attempts,
		"confirmed", receipt.Confirmed())

	span.SetAttributes(
		attribute.String("transaction_id", txID),
		attribute.Int("attempts", attempts),
	)
	span.SetStatus(codes.Ok, "recorded")
	return receipt, nil
}

// Close stops the receipt cache sweeper.
func (r *Recorder) Close() {
	r.receipts.Close()
}

func (r *Recorder) submit(ctx context.Context, event domain.Event) (string, error) {
	if r.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
	}
	return r.submitter.Submit(ctx, event)
}

// transient reports whether a submit error may succeed on retry. A per-attempt
// timeout is transient while the caller's context is still live.
func (r *Recorder) transient(ctx context.Context, err error) bool {
	if apperror.IsRetryable(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

func (r *Recorder) confirm(ctx context.Context, txID string) (time.Time, bool) {
	if r.cfg.ConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ConfirmationTimeout)
		defer cancel()
	}

	ts, err := r.submitter.Confirm(ctx, txID)
	if err != nil {
		r.logger.Warn(ctx, "ledger confirmation not observed", "transaction_id", txID, "error", err)
		return time.Time{}, false
	}
	return ts, true
}

func (r *Recorder) fail(ctx context.Context, span trace.Span, eventType domain.EventType, attempts int, cause error) error {
	r.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(eventType))))
	r.logger.Error(ctx, "ledger recording failed",
		"event_type", eventType,
		"attempts", attempts,
		"error", cause)

	err := apperror.New(apperror.CodeLedgerRecordingFailed,
		apperror.WithContext(string(eventType)),
		apperror.WithDetail("attempts", attempts),
		apperror.WithCause(cause))

	span.RecordError(err)
	span.SetStatus(codes.Error, "recording failed")
	return err
}
