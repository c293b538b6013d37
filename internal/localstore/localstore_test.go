package localstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "inkwell.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestSetGetDelete(t *testing.T) {
	db, _ := openTemp(t)

	if _, ok, err := db.Get(KeyToken); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}
	if err := db.Set(KeyToken, "ghp_1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set(KeyToken, "ghp_2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := db.Get(KeyToken)
	if err != nil || !ok || v != "ghp_2" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if err := db.Delete(KeyToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := db.Get(KeyToken); ok {
		t.Error("key should be gone after Delete")
	}
	if err := db.Delete("never-set"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}

func TestKeys(t *testing.T) {
	db, _ := openTemp(t)
	_ = db.Set(DraftKey(""), "a")
	_ = db.Set(DraftKey("2024-01-01-x"), "b")
	_ = db.Set(KeyToken, "tok")

	keys, err := db.Keys(DraftPrefix)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "draft_2024-01-01-x" || keys[1] != "draft_new" {
		t.Errorf("keys = %v", keys)
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	_, path := openTemp(t)
	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open: err = %v, want ErrLocked", err)
	}
}

func TestCloseKeepsLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkwell.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("lock file should stay in place: %v", err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("Open while held: err = %v, want ErrLocked", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkwell.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Set(DraftKey("post"), "unsaved text")
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()
	v, ok, err := ro.Get(DraftKey("post"))
	if err != nil || !ok || v != "unsaved text" {
		t.Fatalf("Get after reopen = %q, %v, %v", v, ok, err)
	}
	if err := ro.Set("x", "y"); err == nil {
		t.Error("Set on read-only store should fail")
	}
}

func TestCredentials(t *testing.T) {
	db, _ := openTemp(t)

	c := NewCredentials(db, " from-config ")
	if got := c.Token(); got != "from-config" {
		t.Fatalf("Token = %q", got)
	}
	if err := c.SetToken("ghp_saved"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if got := NewCredentials(db, "from-config").Token(); got != "ghp_saved" {
		t.Errorf("saved token should win after reload, got %q", got)
	}
	if err := c.ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if c.HasToken() {
		t.Error("token should be gone after ClearToken")
	}
	if _, ok, _ := db.Get(KeyToken); ok {
		t.Error("persisted token should be deleted")
	}
}
