// Package seen は視聴履歴の記録と参照を提供する。
// 参照（HasSeen）はフィードの並び順計算への読み取り専用入力であり、
// insert経路から同期的に呼ばれるためメモリ上で応答する。
// 記録（MarkSeen）は再生UI側から駆動され、ストアへ書き込まれる。
package seen

import (
	"context"
	"sync"
)

// Tracker は視聴履歴のインターフェース。
type Tracker interface {
	// HasSeen は指定IDが視聴済みかを返す。
	HasSeen(videoID string) bool
	// MarkSeen は指定IDを視聴済みとして記録する。冪等。
	MarkSeen(ctx context.Context, videoID string) error
}

// MemoryTracker はメモリ上のTracker実装。テストおよび永続化無効時に使用する。
type MemoryTracker struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryTracker は空のMemoryTrackerを生成する。
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		seen: make(map[string]struct{}),
	}
}

// HasSeen は指定IDが視聴済みかを返す。
func (t *MemoryTracker) HasSeen(videoID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[videoID]
	return ok
}

// MarkSeen は指定IDを視聴済みとして記録する。
func (t *MemoryTracker) MarkSeen(ctx context.Context, videoID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[videoID] = struct{}{}
	return nil
}
