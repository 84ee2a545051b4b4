package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Fatal("hit on an empty cache")
	}

	m.Set(ctx, "k", "v", time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || got != "v" {
		t.Fatalf("Get(k) = (%q, %v), want (v, true)", got, ok)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", "v", 5*time.Minute)

	now = now.Add(4 * time.Minute)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestMemoryOverwriteResetsTTL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", "v1", time.Minute)
	now = now.Add(50 * time.Second)
	m.Set(ctx, "k", "v2", time.Minute)

	now = now.Add(30 * time.Second)
	got, ok := m.Get(ctx, "k")
	if !ok || got != "v2" {
		t.Fatalf("Get(k) = (%q, %v), want (v2, true)", got, ok)
	}
}
