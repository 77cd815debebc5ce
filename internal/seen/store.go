package seen

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Store はSQLiteバックの視聴履歴Tracker実装。
// 起動時に全視聴済みIDをメモリへロードし、HasSeenはメモリ上で応答する
// （insert経路はサスペンドしないため、参照にI/Oを挟まない）。
// MarkSeenはメモリとデータベースの両方へ書き込む。
type Store struct {
	db *sql.DB

	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewStore はStoreを生成し、視聴済みIDをデータベースからロードする。
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{
		db:   db,
		seen: make(map[string]struct{}),
	}
	if err := s.loadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load seen history: %w", err)
	}
	return s, nil
}

// loadAll は全視聴済みIDをメモリへロードする。
func (s *Store) loadAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT video_id FROM seen_videos`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.seen[id] = struct{}{}
	}
	return rows.Err()
}

// HasSeen は指定IDが視聴済みかを返す。メモリ上で応答する。
func (s *Store) HasSeen(videoID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[videoID]
	return ok
}

// MarkSeen は指定IDを視聴済みとして記録する。冪等。
// データベースへの書き込みが失敗した場合もメモリ上の記録は維持される。
func (s *Store) MarkSeen(ctx context.Context, videoID string) error {
	s.mu.Lock()
	s.seen[videoID] = struct{}{}
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_videos (video_id, seen_at) VALUES (?, ?)
		 ON CONFLICT (video_id) DO NOTHING`,
		videoID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist seen mark: %w", err)
	}
	return nil
}

// Count は視聴済みIDの件数を返す。テストおよびメトリクス用。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
