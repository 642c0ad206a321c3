package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
)

func TestStorePutGetRoundTrip(t *testing.T) {
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(t.TempDir(), "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	data := []byte("job manifest bytes")
	c, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(context.Background(), c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("data mismatch: got %q want %q", got, data)
	}

	ok, err := store.Has(context.Background(), c)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !ok {
		t.Fatalf("expected Has to report true")
	}
}

func TestStorePutIsContentAddressed(t *testing.T) {
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(t.TempDir(), "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	data := []byte("same bytes")
	c1, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	c2, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected identical CIDs for identical data, got %s and %s", c1, c2)
	}

	want, err := SumCID(data)
	if err != nil {
		t.Fatalf("SumCID: %v", err)
	}
	if c1 != want {
		t.Fatalf("expected Put's CID to match SumCID, got %s want %s", c1, want)
	}
}

func TestStoreGetMissingBlock(t *testing.T) {
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(t.TempDir(), "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	missing, err := SumCID([]byte("never stored"))
	if err != nil {
		t.Fatalf("SumCID: %v", err)
	}
	if _, err := store.Get(context.Background(), missing); err != ErrBlockNotFound {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestStorePruneRemovesExpiredPins(t *testing.T) {
	backend := NewMemoryBackend()
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(t.TempDir(), "cache")}, backend, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	expiring, err := store.Put(context.Background(), []byte("expiring"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	forever, err := store.Put(context.Background(), []byte("forever"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	store.Pin(expiring, time.Millisecond)
	store.Pin(forever, 0)
	time.Sleep(10 * time.Millisecond)

	n, err := store.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned block, got %d", n)
	}

	if ok, _ := backend.Has(context.Background(), expiring); ok {
		t.Fatalf("expected expiring block to be deleted from backend")
	}
	if ok, _ := backend.Has(context.Background(), forever); !ok {
		t.Fatalf("expected forever-pinned block to survive prune")
	}
}

func TestStoreRootAnchorsAreOrderDependent(t *testing.T) {
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(t.TempDir(), "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if root, err := store.Root(); err != nil || root != cid.Undef {
		t.Fatalf("expected undefined root before any anchors, got %v (err %v)", root, err)
	}

	a, _ := SumCID([]byte("receipt-a"))
	b, _ := SumCID([]byte("receipt-b"))
	store.Anchor(a)
	store.Anchor(b)
	root1, err := store.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	store2, err := NewStore(StoreConfig{CacheDir: filepath.Join(t.TempDir(), "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store2.Anchor(b)
	store2.Anchor(a)
	root2, err := store2.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root1 == root2 {
		t.Fatalf("expected anchor order to affect the root digest")
	}
}

func TestFileBackendPutGetDelete(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	data := []byte("on-disk block")
	c, err := SumCID(data)
	if err != nil {
		t.Fatalf("SumCID: %v", err)
	}
	if err := backend.Put(context.Background(), c, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := backend.Get(context.Background(), c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("data mismatch: got %q want %q", got, data)
	}
	if err := backend.Delete(context.Background(), c); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := backend.Get(context.Background(), c); err != ErrBlockNotFound {
		t.Fatalf("expected ErrBlockNotFound after delete, got %v", err)
	}
}
