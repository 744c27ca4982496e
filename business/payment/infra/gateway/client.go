// Package gateway adapts an HTTP payment processor to the payment context.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fd1az/swapengine/business/payment/app"
	"github.com/fd1az/swapengine/business/payment/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/circuitbreaker"
	"github.com/fd1az/swapengine/internal/httpclient"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
	"github.com/fd1az/swapengine/internal/ratelimit"
)

// Config holds gateway connection settings.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestTimeout    time.Duration
	RequestsPerMinute int
}

// Client calls the payment processor's REST API.
type Client struct {
	http     httpclient.Client
	limiter  *ratelimit.Limiter
	cb       *circuitbreaker.CircuitBreaker[string]
	methodCB *circuitbreaker.CircuitBreaker[*domain.PaymentMethod]
	logger   logger.LoggerInterface
}

var _ app.Gateway = (*Client)(nil)

// New creates a gateway client.
func New(cfg Config, log logger.LoggerInterface, opts ...httpclient.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("payment gateway url is required"))
	}

	base := []httpclient.ClientOption{
		httpclient.WithProviderName("payment-gateway"),
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithRequestTimeout(cfg.RequestTimeout),
	}
	if cfg.APIKey != "" {
		base = append(base, httpclient.WithHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}))
	}

	hc, err := httpclient.NewInstrumentedClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	c := &Client{
		http:    hc,
		limiter: ratelimit.New("payment-gateway", cfg.RequestsPerMinute),
		logger:  log,
	}

	cbCfg := circuitbreaker.DefaultConfig("payment-gateway")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state changed",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	c.cb = circuitbreaker.New[string](cbCfg)

	methodCfg := circuitbreaker.DefaultConfig("payment-gateway-methods")
	methodCfg.OnStateChange = cbCfg.OnStateChange
	c.methodCB = circuitbreaker.New[*domain.PaymentMethod](methodCfg)

	return c, nil
}

type methodResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Type     string `json:"type"`
	Verified bool   `json:"verified"`
}

type refResponse struct {
	ID string `json:"id"`
}

type holdBody struct {
	PayerID         string      `json:"payer_id"`
	PaymentMethodID string      `json:"payment_method_id"`
	Amount          money.Money `json:"amount"`
}

type releaseBody struct {
	RecipientID string      `json:"recipient_id"`
	Net         money.Money `json:"net"`
	Fee         money.Money `json:"fee"`
}

type chargeBody struct {
	PayerID         string      `json:"payer_id"`
	RecipientID     string      `json:"recipient_id"`
	PaymentMethodID string      `json:"payment_method_id"`
	Amount          money.Money `json:"amount"`
	Fee             money.Money `json:"fee"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) VerifyMethod(ctx context.Context, methodID string) (*domain.PaymentMethod, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return c.methodCB.Execute(func() (*domain.PaymentMethod, error) {
		var out methodResponse
		_, err := c.http.NewRequest().
			SetResult(&out).
			SetErrorHandler(mapStatus("verify_method", true)).
			Get(ctx, "/payment-methods/"+url.PathEscape(methodID))
		if err != nil {
			return nil, normalize("verify_method", err)
		}
		return &domain.PaymentMethod{
			ID:       out.ID,
			UserID:   out.UserID,
			Kind:     out.Type,
			Verified: out.Verified,
		}, nil
	})
}

func (c *Client) Hold(ctx context.Context, req app.HoldRequest) (string, error) {
	return c.post(ctx, "hold", "/holds", req.IdempotencyKey, holdBody{
		PayerID:         req.PayerID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
	})
}

func (c *Client) Release(ctx context.Context, req app.ReleaseRequest) (string, error) {
	return c.post(ctx, "release", "/holds/"+url.PathEscape(req.HoldRef)+"/release", req.IdempotencyKey, releaseBody{
		RecipientID: req.RecipientID,
		Net:         req.Net,
		Fee:         req.Fee,
	})
}

func (c *Client) Refund(ctx context.Context, holdRef, idempotencyKey string) (string, error) {
	return c.post(ctx, "refund", "/holds/"+url.PathEscape(holdRef)+"/refund", idempotencyKey, nil)
}

func (c *Client) Reverse(ctx context.Context, transferRef, idempotencyKey string) (string, error) {
	return c.post(ctx, "reverse", "/transfers/"+url.PathEscape(transferRef)+"/reverse", idempotencyKey, nil)
}

func (c *Client) Charge(ctx context.Context, req app.ChargeRequest) (string, error) {
	return c.post(ctx, "charge", "/charges", req.IdempotencyKey, chargeBody{
		PayerID:         req.PayerID,
		RecipientID:     req.RecipientID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		Fee:             req.Fee,
	})
}

func (c *Client) post(ctx context.Context, op, path, key string, body any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	return c.cb.Execute(func() (string, error) {
		var out refResponse
		req := c.http.NewRequest().
			SetResult(&out).
			SetIdempotencyKey(key).
			SetErrorHandler(mapStatus(op, false))
		if body != nil {
			req = req.SetBody(body)
		}

		if _, err := req.Post(ctx, path); err != nil {
			c.logger.Debug(ctx, "gateway request failed", "operation", op, "error", err)
			return "", normalize(op, err)
		}
		if out.ID == "" {
			return "", apperror.New(apperror.CodeGatewayError,
				apperror.WithContext(op+": empty reference in gateway response"))
		}
		return out.ID, nil
	})
}

// mapStatus translates gateway status codes into the error taxonomy.
func mapStatus(op string, methodLookup bool) httpclient.ResponseErrorHandler {
	return func(status int, body []byte) error {
		if status < 400 {
			return nil
		}

		var eb errorBody
		_ = json.Unmarshal(body, &eb) // best effort; body may be empty
		opts := []apperror.Option{
			apperror.WithContext(op),
			apperror.WithDetail("status", status),
		}
		if eb.Code != "" {
			opts = append(opts, apperror.WithDetail("gateway_code", eb.Code))
		}
		if eb.Message != "" {
			opts = append(opts, apperror.WithDetail("gateway_message", eb.Message))
		}

		switch {
		case status == http.StatusPaymentRequired:
			return apperror.New(apperror.CodeInsufficientFunds, opts...)
		case status == http.StatusNotFound && methodLookup,
			status == http.StatusUnprocessableEntity && eb.Code == "payment_method_invalid",
			status == http.StatusUnprocessableEntity && methodLookup:
			return apperror.New(apperror.CodePaymentMethodInvalid, opts...)
		case status == http.StatusTooManyRequests, status >= 500:
			return apperror.New(apperror.CodeGatewayError, opts...)
		default:
			return apperror.New(apperror.CodeInvalidInput,
				append(opts, apperror.WithMessage("Payment gateway rejected the request"))...)
		}
	}
}

// normalize turns transport failures into GATEWAY_ERROR and keeps mapped errors.
func normalize(op string, err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	if httpclient.IsTimeout(err) {
		return apperror.New(apperror.CodeServiceTimeout,
			apperror.WithContext("payment gateway "+op),
			apperror.WithCause(err))
	}
	return apperror.External(apperror.CodeGatewayError, "payment gateway "+op, err)
}
