package cache

import (
	"context"
	"testing"
	"time"
)

func TestCache_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	c := New[string, int](0)
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, 0)

	if v, ok := c.Get(ctx, "a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("expected a to be expired")
	}
	if v, ok := c.Get(ctx, "b"); !ok || v != 2 {
		t.Errorf("b should never expire, got %v, %v", v, ok)
	}

	c.Delete(ctx, "b")
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("expected b deleted")
	}
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	c := New[string, string](10 * time.Millisecond)
	defer c.Close()

	c.Set(ctx, "k", "v", time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if c.Len() != 0 {
		t.Errorf("expected sweep to remove expired entry, len = %d", c.Len())
	}
}
