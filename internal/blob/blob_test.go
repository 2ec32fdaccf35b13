package blob

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Load(ctx, CollectionInventory); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}

	if err := s.Save(ctx, CollectionInventory, []byte(`[{"id":"a"}]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	payload, err := s.Load(ctx, CollectionInventory)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(payload) != `[{"id":"a"}]` {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "pos-data"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Load(ctx, CollectionCart); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload for unsaved collection, got %v", err)
	}

	if err := s.Save(ctx, CollectionCart, []byte(`[]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, CollectionCart, []byte(`[{"quantity":2}]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	payload, err := s.Load(ctx, CollectionCart)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(payload) != `[{"quantity":2}]` {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestFileStoreRequiresDir(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
