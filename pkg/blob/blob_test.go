package blob

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, "artifact.parquet", []byte("payload")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	ok, err := store.Exists(ctx, "artifact.parquet")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v; want true, nil", ok, err)
	}

	data, err := store.Get(ctx, "artifact.parquet")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q, want %q", data, "payload")
	}

	if err := store.Delete(ctx, "artifact.parquet"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	ok, err = store.Exists(ctx, "artifact.parquet")
	if err != nil || ok {
		t.Fatalf("exists after delete = %v, %v; want false, nil", ok, err)
	}
}

func TestMemoryStoreMissingBlob(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("original")
	if err := store.Put(ctx, "a", data); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	data[0] = 'X'

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored blob mutated: %q", got)
	}
	got[0] = 'Y'

	again, _ := store.Get(ctx, "a")
	if string(again) != "original" {
		t.Fatalf("returned blob aliases storage: %q", again)
	}
}
