package blob

import (
	"context"
	"testing"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "canvas-state/cvs_1/1", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, ok, err := store.Get(ctx, "canvas-state/cvs_1/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected blob present")
	}
	if string(data) != `{"version":1}` {
		t.Fatalf("unexpected payload: %s", data)
	}
}

func TestMemoryStoreGetAbsentKey(t *testing.T) {
	store := NewMemoryStore()

	data, ok, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok || data != nil {
		t.Fatal("expected absent blob")
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected blob removed")
	}

	// removing a missing key is not an error
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove of absent key failed: %v", err)
	}
}

func TestMemoryStorePutCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("original")
	if err := store.Put(ctx, "k", payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	payload[0] = 'X'

	data, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("stored blob aliased caller buffer: %s", data)
	}
}
