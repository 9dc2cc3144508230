package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreTTL(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "evt_1", []byte("done"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "evt_1")
	if err != nil || string(got) != "done" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Get(ctx, "evt_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "k", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = store.SetNX(ctx, "k", []byte("b"), 0)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v", ok, err)
	}
	got, _ := store.Get(ctx, "k")
	if string(got) != "a" {
		t.Fatalf("expected original value, got %q", got)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := store.Exists(ctx, "k"); exists {
		t.Fatal("expected key to be gone")
	}
}
