package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteFlagStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flags.db")

	store, err := NewSQLiteFlagStore(dbPath, "session-a", true)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.Get("reload-at"); err != nil || ok {
		t.Fatalf("expected absent flag, got ok=%v err=%v", ok, err)
	}

	if err := store.Set("reload-at", "12345"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}

	v, ok, err := store.Get("reload-at")
	if err != nil || !ok {
		t.Fatalf("expected flag present, got ok=%v err=%v", ok, err)
	}
	if v != "12345" {
		t.Errorf("expected 12345, got %s", v)
	}

	// Overwrite
	if err := store.Set("reload-at", "67890"); err != nil {
		t.Fatalf("Failed to overwrite flag: %v", err)
	}
	v, _, _ = store.Get("reload-at")
	if v != "67890" {
		t.Errorf("expected overwritten value 67890, got %s", v)
	}
}

func TestSQLiteFlagStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flags.db")

	store, err := NewSQLiteFlagStore(dbPath, "session-a", true)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Set("reload-at", "42"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	store.Close()

	// Same session, reopened after an exec-style restart: flag persists.
	reopened, err := NewSQLiteFlagStore(dbPath, "session-a", false)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get("reload-at")
	if err != nil || !ok {
		t.Fatalf("flag lost across reopen: ok=%v err=%v", ok, err)
	}
	if v != "42" {
		t.Errorf("expected 42, got %s", v)
	}
}

func TestSQLiteFlagStoreNewSessionWipesOldFlags(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flags.db")

	old, err := NewSQLiteFlagStore(dbPath, "session-old", true)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := old.Set("reload-at", "42"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	old.Close()

	// A fresh session clears everything the previous session left behind.
	fresh, err := NewSQLiteFlagStore(dbPath, "session-new", true)
	if err != nil {
		t.Fatalf("Failed to create fresh store: %v", err)
	}
	defer fresh.Close()

	if _, ok, _ := fresh.Get("reload-at"); ok {
		t.Error("expected old session's flag to be wiped")
	}

	reopenedOld, err := NewSQLiteFlagStore(dbPath, "session-old", false)
	if err != nil {
		t.Fatalf("Failed to reopen old store: %v", err)
	}
	defer reopenedOld.Close()
	if _, ok, _ := reopenedOld.Get("reload-at"); ok {
		t.Error("old session rows should be gone")
	}
}

func TestResolveNewAndResumedSession(t *testing.T) {
	os.Unsetenv(EnvVar)
	t.Cleanup(func() { os.Unsetenv(EnvVar) })

	first, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.Resumed {
		t.Error("first resolve should start a new session")
	}
	if first.ID == "" {
		t.Fatal("expected a session ID")
	}

	// The ID was exported, so a "restarted" process resumes it.
	second, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !second.Resumed {
		t.Error("second resolve should resume the session")
	}
	if second.ID != first.ID {
		t.Errorf("session ID changed across resolve: %s != %s", second.ID, first.ID)
	}
}
