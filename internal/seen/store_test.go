package seen

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hitoshi/vinefeed/internal/database"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE seen_videos (
		video_id TEXT PRIMARY KEY,
		seen_at  TIMESTAMP NOT NULL
	)`)
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return db
}

func TestStore_MarkSeenPersists(t *testing.T) {
	db := newTestDB(t)
	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := s.MarkSeen(context.Background(), "v1"); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if !s.HasSeen("v1") {
		t.Error("HasSeen(v1) = false after MarkSeen")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM seen_videos WHERE video_id = 'v1'`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("persisted rows = %d, want 1", count)
	}
}

func TestStore_MarkSeenIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	s.MarkSeen(context.Background(), "v1")
	if err := s.MarkSeen(context.Background(), "v1"); err != nil {
		t.Fatalf("second MarkSeen failed: %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM seen_videos`).Scan(&count)
	if count != 1 {
		t.Errorf("persisted rows = %d, want 1", count)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestStore_LoadsExistingHistory(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO seen_videos (video_id, seen_at) VALUES ('v1', CURRENT_TIMESTAMP), ('v2', CURRENT_TIMESTAMP)`)
	if err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if !s.HasSeen("v1") || !s.HasSeen("v2") {
		t.Error("existing history was not loaded")
	}
	if s.HasSeen("v3") {
		t.Error("HasSeen(v3) = true, want false")
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}
