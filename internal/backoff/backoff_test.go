package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fd1az/swapengine/internal/backoff"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) backoff.Policy {
	return backoff.Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		permanent    bool
		maxAttempts  int
		wantAttempts int
		wantErr      bool
	}{
		{name: "first try", failures: 0, maxAttempts: 3, wantAttempts: 1},
		{name: "succeeds after retries", failures: 2, maxAttempts: 3, wantAttempts: 3},
		{name: "exhausted", failures: 5, maxAttempts: 3, wantAttempts: 3, wantErr: true},
		{name: "permanent stops", failures: 5, permanent: true, maxAttempts: 3, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := backoff.Retry(context.Background(), fastPolicy(tt.maxAttempts), func(ctx context.Context, attempt int) error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return backoff.Permanent(errFlaky)
					}
					return errFlaky
				}
				return nil
			})

			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errFlaky) {
				t.Errorf("err = %v, want errFlaky", err)
			}
			if err != nil && backoff.IsPermanent(err) {
				t.Error("returned error should be unwrapped from the permanent marker")
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := backoff.Policy{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	attempts, err := backoff.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		return errFlaky
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPolicy_DelayIsCapped(t *testing.T) {
	p := backoff.Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
