package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/ratelimit"
)

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := ratelimit.NewWithBurst("gateway", 0.001, 2)

	if !l.Allow() || !l.Allow() {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow() {
		t.Error("third call should be throttled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if !apperror.HasCode(err, apperror.CodeRateLimitExceeded) {
		t.Errorf("Wait err = %v, want RATE_LIMIT_EXCEEDED", err)
	}
}

func TestLimiter_DisabledWhenRateIsZero(t *testing.T) {
	l := ratelimit.New("ledger", 0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("call %d throttled on unlimited limiter", i)
		}
	}
}
