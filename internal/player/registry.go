package player

import "sync"

// PauseRegistry はアクティブな再生コントローラの明示的所有レジストリ。
// プロセス全体のグローバルシングルトンではなく、VideoFeedCacheが自身の
// ライフサイクルに合わせて1つ所有する。
type PauseRegistry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewPauseRegistry は空のPauseRegistryを生成する。
func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{
		controllers: make(map[string]*Controller),
	}
}

// Register はコントローラを登録する。同一IDは上書きされる。
func (r *PauseRegistry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[c.VideoID()] = c
}

// Unregister は指定IDのコントローラを登録解除する。
func (r *PauseRegistry) Unregister(videoID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, videoID)
}

// Get は指定IDのコントローラを返す。未登録の場合はnil。
func (r *PauseRegistry) Get(videoID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controllers[videoID]
}

// Len は登録中のコントローラ数を返す。
func (r *PauseRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// PauseAll は登録中の全コントローラを一時停止する。
// アプリのバックグラウンド遷移時などに使用する。
func (r *PauseRegistry) PauseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.controllers {
		c.Pause()
	}
}

// ResumeAll は登録中の全コントローラの再生を再開する。
func (r *PauseRegistry) ResumeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.controllers {
		c.Resume()
	}
}

// Clear は全コントローラを登録解除する。
func (r *PauseRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.controllers {
		delete(r.controllers, id)
	}
}
