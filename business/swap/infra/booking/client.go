// Package booking adapts the booking lifecycle HTTP service to the swap context.
package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/business/swap/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/cache"
	"github.com/fd1az/swapengine/internal/circuitbreaker"
	"github.com/fd1az/swapengine/internal/httpclient"
	"github.com/fd1az/swapengine/internal/logger"
	"github.com/fd1az/swapengine/internal/money"
	"github.com/fd1az/swapengine/internal/ratelimit"
)

// Config holds booking service connection settings.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	// CacheTTL keeps booking details for scoring. Zero disables caching.
	CacheTTL time.Duration
}

// Client calls the booking service's REST API.
type Client struct {
	cfg     Config
	http    httpclient.Client
	limiter *ratelimit.Limiter
	getCB   *circuitbreaker.CircuitBreaker[*domain.Booking]
	lockCB  *circuitbreaker.CircuitBreaker[struct{}]
	details *cache.Cache[string, domain.Booking]
	logger  logger.LoggerInterface
}

var _ app.BookingService = (*Client)(nil)

// New creates a booking client.
func New(cfg Config, log logger.LoggerInterface, opts ...httpclient.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("booking service url is required"))
	}

	hc, err := httpclient.NewInstrumentedClient(append([]httpclient.ClientOption{
		httpclient.WithProviderName("booking-service"),
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithRequestTimeout(cfg.RequestTimeout),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		http:    hc,
		limiter: ratelimit.New("booking-service", cfg.RequestsPerMinute),
		details: cache.New[string, domain.Booking](time.Minute),
		logger:  log,
	}

	cbCfg := circuitbreaker.DefaultConfig("booking-service")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state changed",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	c.getCB = circuitbreaker.New[*domain.Booking](cbCfg)

	lockCfg := circuitbreaker.DefaultConfig("booking-service-locks")
	lockCfg.OnStateChange = cbCfg.OnStateChange
	c.lockCB = circuitbreaker.New[struct{}](lockCfg)

	return c, nil
}

type bookingResponse struct {
	ID                string      `json:"id"`
	OwnerID           string      `json:"owner_id"`
	City              string      `json:"city"`
	Country           string      `json:"country"`
	Latitude          *float64    `json:"latitude"`
	Longitude         *float64    `json:"longitude"`
	CheckIn           time.Time   `json:"check_in"`
	CheckOut          time.Time   `json:"check_out"`
	Value             money.Money `json:"value"`
	AccommodationType string      `json:"accommodation_type"`
	Guests            int         `json:"guests"`
	Locked            bool        `json:"locked"`
}

type lockBody struct {
	Holder string `json:"holder"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if b, ok := c.details.Get(ctx, bookingID); ok {
		return &b, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	b, err := c.getCB.Execute(func() (*domain.Booking, error) {
		var out bookingResponse
		_, err := c.http.NewRequest().
			SetResult(&out).
			SetErrorHandler(mapStatus("get", bookingID)).
			Get(ctx, "/bookings/"+url.PathEscape(bookingID))
		if err != nil {
			return nil, normalize("get", err)
		}
		return &domain.Booking{
			ID:      out.ID,
			OwnerID: out.OwnerID,
			Location: domain.Location{
				City:      out.City,
				Country:   out.Country,
				Latitude:  out.Latitude,
				Longitude: out.Longitude,
			},
			CheckIn:           out.CheckIn,
			CheckOut:          out.CheckOut,
			Value:             out.Value,
			AccommodationType: out.AccommodationType,
			Guests:            out.Guests,
			Locked:            out.Locked,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if c.cfg.CacheTTL > 0 && !b.Locked {
		c.details.Set(ctx, bookingID, *b, c.cfg.CacheTTL)
	}
	return b, nil
}

func (c *Client) Lock(ctx context.Context, bookingID, holder string) error {
	c.details.Delete(ctx, bookingID)
	return c.post(ctx, "lock", bookingID, holder)
}

func (c *Client) Unlock(ctx context.Context, bookingID, holder string) error {
	c.details.Delete(ctx, bookingID)
	return c.post(ctx, "unlock", bookingID, holder)
}

// Close stops the detail cache sweeper.
func (c *Client) Close() {
	c.details.Close()
}

func (c *Client) post(ctx context.Context, op, bookingID, holder string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.lockCB.Execute(func() (struct{}, error) {
		_, err := c.http.NewRequest().
			SetIdempotencyKey(bookingID+":"+op+":"+holder).
			SetErrorHandler(mapStatus(op, bookingID)).
			SetBody(lockBody{Holder: holder}).
			Post(ctx, "/bookings/"+url.PathEscape(bookingID)+"/"+op)
		if err != nil {
			c.logger.Debug(ctx, "booking request failed", "operation", op, "booking_id", bookingID, "error", err)
			return struct{}{}, normalize(op, err)
		}
		return struct{}{}, nil
	})
	return err
}

// mapStatus translates booking service status codes into the error taxonomy.
func mapStatus(op, bookingID string) httpclient.ResponseErrorHandler {
	return func(status int, body []byte) error {
		if status < 400 {
			return nil
		}

		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		opts := []apperror.Option{
			apperror.WithContext(bookingID),
			apperror.WithDetail("operation", op),
			apperror.WithDetail("status", status),
		}
		if eb.Message != "" {
			opts = append(opts, apperror.WithDetail("booking_message", eb.Message))
		}

		switch {
		case status == http.StatusNotFound:
			return apperror.New(apperror.CodeBookingNotFound, opts...)
		case status == http.StatusConflict || status == http.StatusLocked:
			return apperror.New(apperror.CodeBookingLockFailed, opts...)
		case status == http.StatusTooManyRequests, status >= 500:
			return apperror.New(apperror.CodeExternalServiceError, opts...)
		default:
			return apperror.New(apperror.CodeInvalidInput,
				append(opts, apperror.WithMessage("Booking service rejected the request"))...)
		}
	}
}

func normalize(op string, err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	if httpclient.IsTimeout(err) {
		return apperror.New(apperror.CodeServiceTimeout,
			apperror.WithContext("booking service "+op),
			apperror.WithCause(err))
	}
	return apperror.External(apperror.CodeExternalServiceError, "booking service "+op, err)
}
