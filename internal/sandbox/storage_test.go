package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "test.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	storage, err := NewStorage(setupTestDB(t))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	msg := &Message{
		ID:         "msg-1",
		From:       "noreply@example.com",
		To:         []string{"a@example.com", "b@example.com"},
		Subject:    "Hello",
		HTML:       "<p>hi</p>",
		CapturedAt: time.Now(),
	}
	if err := storage.Save(ctx, msg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := storage.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("message not found")
	}
	if got.Subject != "Hello" || len(got.To) != 2 {
		t.Errorf("got %+v", got)
	}

	missing, err := storage.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	storage, err := NewStorage(setupTestDB(t))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		msg := &Message{ID: id, CapturedAt: base.Add(time.Duration(i) * time.Second)}
		if err := storage.Save(ctx, msg); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	msgs, err := storage.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].ID != "new" || msgs[2].ID != "old" {
		t.Errorf("order = %s, %s, %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}

	limited, err := storage.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d messages with limit 2", len(limited))
	}

	n, err := storage.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	storage, err := NewStorage(db)
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	if err := storage.Save(ctx, &Message{ID: "persisted", CapturedAt: time.Now()}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file missing: %v", err)
	}

	db, err = bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()
	storage, err = NewStorage(db)
	if err != nil {
		t.Fatalf("recreate storage: %v", err)
	}

	got, err := storage.Get(ctx, "persisted")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Error("message lost across reopen")
	}
}
