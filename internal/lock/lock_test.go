package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

func TestLocalLockerExcludesSecondHolder(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	first, err := l.Obtain(ctx, "order:ABC123", time.Second, 0)
	if err != nil {
		t.Fatalf("first obtain: %v", err)
	}
	if _, err := l.Obtain(ctx, "order:ABC123", time.Second, 20*time.Millisecond); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected second obtain to fail, got %v", err)
	}
	if _, err := l.Obtain(ctx, "order:OTHER1", time.Second, 0); err != nil {
		t.Fatalf("expected other key to be free, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := l.Obtain(ctx, "order:ABC123", time.Second, 0)
	if err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	held, err := l.Obtain(ctx, "k", time.Second, 0)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	next, err := l.Obtain(ctx, "k", time.Second, time.Second)
	if err != nil {
		t.Fatalf("expected waiter to obtain after release, got %v", err)
	}
	_ = next.Release(ctx)
}
