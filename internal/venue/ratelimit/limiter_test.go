package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowDrainsBurstCapacity(t *testing.T) {
	l := New(3, 0.0001)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("token %d should be available within burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("bucket should be empty after burst drain")
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := New(1, 0.0001)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait on a drained bucket must fail when the context expires")
	}
}

func TestWaitRefillsOverTime(t *testing.T) {
	l := New(1, 100) // 10ms per token
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("refill took too long: %v", elapsed)
	}
}

func TestNonPositiveRateIsUnlimited(t *testing.T) {
	l := New(1, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("unlimited limiter must never refuse")
		}
	}
}

func TestNilLimiterIsPermissive(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("nil Wait: %v", err)
	}
	if !l.Allow() {
		t.Fatal("nil Allow must pass")
	}
}

func TestCapacityFloor(t *testing.T) {
	if got := New(0, 1).Capacity(); got != 1 {
		t.Fatalf("Capacity = %d, want 1", got)
	}
}
