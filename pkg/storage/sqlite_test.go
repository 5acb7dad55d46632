package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/tphan267/arqut-relay/pkg/models"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) Storage {
	store, err := NewSQLiteStorage(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func addEvents(t *testing.T, store Storage, kinds ...string) {
	t.Helper()
	var events []*models.ConnectionEvent
	for i, kind := range kinds {
		events = append(events, &models.ConnectionEvent{
			Kind:         kind,
			ConnectionID: uint64(i + 1),
			SessionID:    fmt.Sprintf("session-%d", i),
		})
	}
	if err := store.EventRepo().Add(events...); err != nil {
		t.Fatalf("Failed to add events: %v", err)
	}
}

func TestEventRepositoryRecent(t *testing.T) {
	store := setupTestDB(t)
	addEvents(t, store, "open", "relay", "relay", "close")

	events, err := store.EventRepo().Recent(2, "")
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind != "close" || events[1].Kind != "relay" {
		t.Errorf("Expected newest first, got %s then %s", events[0].Kind, events[1].Kind)
	}

	relays, err := store.EventRepo().Recent(10, "relay")
	if err != nil {
		t.Fatalf("Failed to list relay events: %v", err)
	}
	if len(relays) != 2 {
		t.Errorf("Expected 2 relay events, got %d", len(relays))
	}
}

func TestEventRepositoryCountByKind(t *testing.T) {
	store := setupTestDB(t)
	addEvents(t, store, "open", "open", "relay", "parse_error")

	counts, err := store.EventRepo().CountByKind()
	if err != nil {
		t.Fatalf("Failed to count events: %v", err)
	}
	if counts["open"] != 2 || counts["relay"] != 1 || counts["parse_error"] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}
}

func TestEventRepositoryPrune(t *testing.T) {
	store := setupTestDB(t)
	addEvents(t, store, "open", "relay", "relay", "relay", "close")

	deleted, err := store.EventRepo().Prune(2)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted rows, got %d", deleted)
	}

	count, _ := store.EventRepo().Count()
	if count != 2 {
		t.Errorf("Expected 2 remaining events, got %d", count)
	}

	events, _ := store.EventRepo().Recent(10, "")
	if events[0].Kind != "close" {
		t.Errorf("Expected newest event to survive, got %s", events[0].Kind)
	}

	deleted, err = store.EventRepo().Prune(10)
	if err != nil || deleted != 0 {
		t.Errorf("Expected no-op prune, got %d (%v)", deleted, err)
	}
}

func TestEventRepositoryForConnection(t *testing.T) {
	store := setupTestDB(t)
	repo := store.EventRepo()

	for _, kind := range []string{"open", "relay", "close"} {
		if err := repo.Add(&models.ConnectionEvent{Kind: kind, ConnectionID: 7}); err != nil {
			t.Fatalf("Failed to add event: %v", err)
		}
	}
	addEvents(t, store, "open")

	events, err := repo.ForConnection(7)
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 3 || events[0].Kind != "open" || events[2].Kind != "close" {
		t.Errorf("Expected open..close for connection 7, got %d events", len(events))
	}
}

func TestSQLiteStorageOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	store, err := NewSQLiteStorage(path, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	addEvents(t, store, "open")
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	reopened, err := NewSQLiteStorage(path, nil)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.EventRepo().Count()
	if err != nil || count != 1 {
		t.Errorf("Expected 1 persisted event, got %d (%v)", count, err)
	}
}
