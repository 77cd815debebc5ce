package player

import (
	"sync"

	"github.com/hitoshi/vinefeed/internal/model"
)

// Pool は初期化済み再生リソースの容量制限付きプール。
// VideoFeedCacheが排他的に所有し、追い出し判断もキャッシュ側が行う。
// プール自身は容量カウンタと保持ハンドルの管理のみを担う。
type Pool struct {
	capacity int

	mu   sync.Mutex
	held map[string]model.ResourceHandle
}

// NewPool は指定容量のPoolを生成する。
// capacityが0以下の場合はデフォルト値5を使用する。
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 5
	}
	return &Pool{
		capacity: capacity,
		held:     make(map[string]model.ResourceHandle),
	}
}

// Capacity はプールの最大保持数を返す。
func (p *Pool) Capacity() int {
	return p.capacity
}

// Len は現在保持しているハンドル数を返す。
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Free は空きスロット数を返す。
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - len(p.held)
}

// Put はハンドルをプールに登録する。
// 容量超過の場合はfalseを返し、ハンドルは登録されない（呼び出し側が処理を決める）。
// 同一IDの再登録は既存ハンドルを閉じてから置き換える。
func (p *Pool) Put(videoID string, h model.ResourceHandle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.held[videoID]; ok {
		existing.Close()
		p.held[videoID] = h
		return true
	}
	if len(p.held) >= p.capacity {
		return false
	}
	p.held[videoID] = h
	return true
}

// Get は保持中のハンドルを返す。未保持の場合はnil。
func (p *Pool) Get(videoID string) model.ResourceHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held[videoID]
}

// Has は指定IDのハンドルを保持しているかを返す。
func (p *Pool) Has(videoID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.held[videoID]
	return ok
}

// Release は指定IDのハンドルを閉じてプールから除去する。
// 未保持の場合は何もしない。
func (p *Pool) Release(videoID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.held[videoID]; ok {
		h.Close()
		delete(p.held, videoID)
	}
}

// ReleaseAll は保持中の全ハンドルを閉じて除去する。
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.held {
		h.Close()
		delete(p.held, id)
	}
}
