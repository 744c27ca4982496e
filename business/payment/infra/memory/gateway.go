package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fd1az/swapengine/business/payment/app"
	"github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/internal/apperror"
)

// Gateway operations, used to inject failures and count calls.
const (
	OpHold    = "hold"
	OpRelease = "release"
	OpRefund  = "refund"
	OpReverse = "reverse"
	OpCharge  = "charge"
)

// Gateway is an in-process payment processor. It accepts every verified
// method it knows about and replays idempotency keys.
type Gateway struct {
	mu       sync.Mutex
	methods  map[string]domain.PaymentMethod
	failures map[string][]error
	calls    map[string]int
	seen     map[string]string
}

var _ app.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway with no registered methods.
func NewGateway() *Gateway {
	return &Gateway{
		methods:  make(map[string]domain.PaymentMethod),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		seen:     make(map[string]string),
	}
}

// AddMethod registers a payment method.
func (g *Gateway) AddMethod(m domain.PaymentMethod) {
	g.mu.Lock()
	g.methods[m.ID] = m
	g.mu.Unlock()
}

// FailNext queues err for the next call of op.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	g.failures[op] = append(g.failures[op], err)
	g.mu.Unlock()
}

// Calls returns how many times op reached the gateway, failed calls included.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) VerifyMethod(_ context.Context, methodID string) (*domain.PaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.methods[methodID]
	if !ok {
		return nil, apperror.New(apperror.CodePaymentMethodInvalid,
			apperror.WithContext("unknown payment method"),
			apperror.WithDetail("payment_method_id", methodID))
	}
	return &m, nil
}

func (g *Gateway) Hold(_ context.Context, req app.HoldRequest) (string, error) {
	return g.do(OpHold, req.IdempotencyKey)
}

func (g *Gateway) Release(_ context.Context, req app.ReleaseRequest) (string, error) {
	return g.do(OpRelease, req.IdempotencyKey)
}

func (g *Gateway) Refund(_ context.Context, _ string, idempotencyKey string) (string, error) {
	return g.do(OpRefund, idempotencyKey)
}

func (g *Gateway) Reverse(_ context.Context, _ string, idempotencyKey string) (string, error) {
	return g.do(OpReverse, idempotencyKey)
}

func (g *Gateway) Charge(_ context.Context, req app.ChargeRequest) (string, error) {
	return g.do(OpCharge, req.IdempotencyKey)
}

func (g *Gateway) do(op, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[op]++

	if queued := g.failures[op]; len(queued) > 0 {
		g.failures[op] = queued[1:]
		return "", queued[0]
	}

	if ref, ok := g.seen[key]; ok && key != "" {
		return ref, nil
	}

	ref := op + "_" + uuid.NewString()
	if key != "" {
		g.seen[key] = ref
	}
	return ref, nil
}
