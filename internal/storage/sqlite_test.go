package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "guide.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Get("active_session_id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}

	if err := store.Set("active_session_id", "sess_abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get("active_session_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sess_abc" {
		t.Errorf("Get = %q, want sess_abc", got)
	}
}

func TestStoreOverwrite(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("active_session_id", "sess_1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("active_session_id", "sess_2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := store.Get("active_session_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sess_2" {
		t.Errorf("Get = %q, want sess_2", got)
	}
}

func TestStoreDelete(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("active_session_id", "sess_1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete("active_session_id"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get("active_session_id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op.
	if err := store.Delete("active_session_id"); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Set("active_session_id", "sess_durable"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("active_session_id")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != "sess_durable" {
		t.Errorf("Get = %q, want sess_durable", got)
	}
}
