package memory

import (
	"context"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/internal/keylock"
)

// Locker serializes swap operations within one process.
type Locker struct {
	keys *keylock.Locker
}

var _ app.SwapLocker = (*Locker)(nil)

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{keys: keylock.New()}
}

func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	return l.keys.Lock(ctx, keys...)
}

func (l *Locker) Held(_ context.Context, key string) bool {
	return l.keys.IsLocked(key)
}
