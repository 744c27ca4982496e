package booking_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fd1az/swapengine/business/swap/infra/booking"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/httpclient"
	"github.com/fd1az/swapengine/internal/logger"
)

const parisJSON = `{
	"id": "bk-1",
	"owner_id": "alice",
	"city": "Paris",
	"country": "FR",
	"latitude": 48.8566,
	"longitude": 2.3522,
	"check_in": "2026-07-01T15:00:00Z",
	"check_out": "2026-07-08T15:00:00Z",
	"value": {"amount": "1200.00", "currency": "USD"},
	"accommodation_type": "apartment",
	"guests": 3,
	"locked": false
}`

type server struct {
	mu      sync.Mutex
	gets    int
	lastKey string
	holder  string
	handler http.HandlerFunc
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if r.Method == http.MethodGet {
		s.gets++
	}
	if r.Method == http.MethodPost {
		s.lastKey = r.Header.Get(httpclient.IdempotencyHeader)
		var body struct {
			Holder string `json:"holder"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.holder = body.Holder
	}
	s.mu.Unlock()
	s.handler(w, r)
}

func newClient(t *testing.T, h http.HandlerFunc, cacheTTL time.Duration) (*booking.Client, *server) {
	t.Helper()
	s := &server{handler: h}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	c, err := booking.New(booking.Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		CacheTTL:       cacheTTL,
	}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c, s
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := booking.New(booking.Config{}, logger.NewDiscard())
	if !apperror.HasCode(err, apperror.CodeConfigurationError) {
		t.Fatalf("err = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestClient_Get(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookings/bk-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(parisJSON))
	}, 0)

	b, err := c.Get(context.Background(), "bk-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if b.OwnerID != "alice" || b.Location.City != "Paris" || b.Guests != 3 {
		t.Errorf("booking = %+v", b)
	}
	if b.Location.Latitude == nil || *b.Location.Latitude != 48.8566 {
		t.Errorf("latitude = %v", b.Location.Latitude)
	}
	if b.Value.String() != "1200.00 USD" {
		t.Errorf("value = %s", b.Value.String())
	}
	if b.Nights() != 7 {
		t.Errorf("nights = %d, want 7", b.Nights())
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		lock   bool
		want   apperror.Code
	}{
		{name: "missing booking", status: http.StatusNotFound, want: apperror.CodeBookingNotFound},
		{name: "held elsewhere", status: http.StatusConflict, lock: true, want: apperror.CodeBookingLockFailed},
		{name: "locked status", status: http.StatusLocked, lock: true, want: apperror.CodeBookingLockFailed},
		{name: "server error", status: http.StatusBadGateway, want: apperror.CodeExternalServiceError},
		{name: "bad request", status: http.StatusBadRequest, lock: true, want: apperror.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"x","message":"nope"}`))
			}, 0)

			var err error
			if tt.lock {
				err = c.Lock(context.Background(), "bk-1", "p-1")
			} else {
				_, err = c.Get(context.Background(), "bk-1")
			}

			if !apperror.HasCode(err, tt.want) {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestClient_LockSendsHolder(t *testing.T) {
	var path string
	c, s := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}, 0)

	if err := c.Lock(context.Background(), "bk-1", "p-9"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if path != "/bookings/bk-1/lock" {
		t.Errorf("path = %s", path)
	}
	if s.holder != "p-9" {
		t.Errorf("holder = %q, want p-9", s.holder)
	}
	if s.lastKey != "bk-1:lock:p-9" {
		t.Errorf("idempotency key = %q", s.lastKey)
	}

	if err := c.Unlock(context.Background(), "bk-1", "p-9"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if path != "/bookings/bk-1/unlock" || s.lastKey != "bk-1:unlock:p-9" {
		t.Errorf("unlock path = %s key = %s", path, s.lastKey)
	}
}

func TestClient_CachesUnlockedDetails(t *testing.T) {
	c, s := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(parisJSON))
	}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Get(ctx, "bk-1"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if s.gets != 1 {
		t.Errorf("gets = %d, want 1", s.gets)
	}

	if err := c.Lock(ctx, "bk-1", "p-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := c.Get(ctx, "bk-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.gets != 2 {
		t.Errorf("gets after lock = %d, want 2", s.gets)
	}
}

func TestClient_LockedDetailsNotCached(t *testing.T) {
	c, s := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bk-2","owner_id":"bob","value":{"amount":"10.00","currency":"USD"},"locked":true}`))
	}, time.Minute)

	for i := 0; i < 2; i++ {
		b, err := c.Get(context.Background(), "bk-2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !b.Locked {
			t.Error("locked flag lost")
		}
	}
	if s.gets != 2 {
		t.Errorf("gets = %d, want 2", s.gets)
	}
}
