package accesscontrol

import (
	"path/filepath"
	"testing"
)

func TestFileStoreBlockAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked.json")

	store := NewFileStore(path)
	if store.IsUserBlocked("alice") {
		t.Fatalf("alice should not be blocked yet")
	}

	if err := store.BlockUser("alice"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if err := store.BlockIP("10.0.0.5"); err != nil {
		t.Fatalf("BlockIP: %v", err)
	}

	if !store.IsUserBlocked("alice") {
		t.Fatalf("alice should be blocked")
	}
	if !store.IsIPBlocked("10.0.0.5") {
		t.Fatalf("10.0.0.5 should be blocked")
	}

	reloaded := NewFileStore(path)
	if !reloaded.IsUserBlocked("alice") {
		t.Fatalf("reloaded store should still have alice blocked")
	}
	if !reloaded.IsIPBlocked("10.0.0.5") {
		t.Fatalf("reloaded store should still have 10.0.0.5 blocked")
	}
}

func TestFileStoreUnblock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked.json")
	store := NewFileStore(path)

	if err := store.BlockUser("bob"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if err := store.UnblockUser("bob"); err != nil {
		t.Fatalf("UnblockUser: %v", err)
	}
	if store.IsUserBlocked("bob") {
		t.Fatalf("bob should no longer be blocked")
	}
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store := NewFileStore(path)

	if len(store.BlockedIPs()) != 0 || len(store.BlockedUsers()) != 0 {
		t.Fatalf("expected empty block lists for missing file")
	}
}

func TestFileStoreMutationSucceedsEvenIfPersistFails(t *testing.T) {
	// A directory path can never be written to as a file, forcing save() to
	// fail; the mutation must still take effect in memory.
	dir := t.TempDir()
	store := NewFileStore(dir)

	if err := store.BlockUser("carol"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if !store.IsUserBlocked("carol") {
		t.Fatalf("carol should be blocked in memory despite persistence failure")
	}
}
