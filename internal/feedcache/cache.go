// Package feedcache は順序付き・重複排除済みの動画フィードと、
// 容量制限付き再生リソースプールの管理を提供する。
//
// 並び順の不変条件:
//   - 同一IDのエントリは常に1件のみ。
//   - ソーシャルクラスのエントリは、到着順やチャンネル遷移のタイミングに
//     かかわらず、常にすべてのディスカバリークラスのエントリに先行する。
//   - 同一クラス内では到着順が保存される。ただし未視聴のエントリは
//     視聴済みのエントリに先行する（視聴フラグ→到着順の2キー安定ソート）。
//
// 並び順はinsert呼び出しの順序と分類のみで決まり、個々のロードの完了速度には
// 依存しない。全ミューテーションは単一のミューテックスで直列化され、ID単位の
// リソース取得のみが独立した並行タスクとして実行される。
package feedcache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/vinefeed/internal/metrics"
	"github.com/hitoshi/vinefeed/internal/model"
	"github.com/hitoshi/vinefeed/internal/player"
)

// SeenChecker は視聴履歴の読み取りインターフェース。
// 並び順計算への読み取り専用入力であり、書き込みは再生UI側が担う。
type SeenChecker interface {
	// HasSeen は指定IDが視聴済みかを返す。
	HasSeen(videoID string) bool
}

// Options はフィードキャッシュの設定パラメータ。
type Options struct {
	// MaxVideos はフィードの容量。メモリ圧力トリムの基準値。
	MaxVideos int
	// PreloadAhead は現在位置より先読みするエントリ数。
	PreloadAhead int
	// PreloadBehind は現在位置より後ろに保持するエントリ数。
	PreloadBehind int
	// MaxRetries はロード失敗時の最大再試行回数。
	MaxRetries int
	// PreloadTimeout はID単位のロード1回あたりの上限時間。
	// タイムアウトはロード失敗と同一に扱われる。
	PreloadTimeout time.Duration
	// EnableMemoryManagement はメモリ圧力トリムの有効フラグ。
	EnableMemoryManagement bool
	// MemoryTrimFraction はトリム後のフィード長のMaxVideosに対する割合。
	MemoryTrimFraction float64
	// EventBuffer は購読者ごとのイベントチャンネルのバッファサイズ。
	EventBuffer int
}

// DefaultOptions はデフォルトのフィードキャッシュ設定を返す。
func DefaultOptions() Options {
	return Options{
		MaxVideos:              100,
		PreloadAhead:           3,
		PreloadBehind:          2,
		MaxRetries:             3,
		PreloadTimeout:         10 * time.Second,
		EnableMemoryManagement: true,
		MemoryTrimFraction:     0.7,
		EventBuffer:            64,
	}
}

// entry はフィード内の1レコードの内部状態。
// recordは構築後イミュータブルであり、それ以外のフィールドはCacheの
// ミューテックス保護下でのみ変更される。
type entry struct {
	record *model.VideoRecord
	class  model.PriorityClass
	seq    uint64
	seen   bool

	status     model.PlaybackStatus
	retryCount int
	err        error
	pinned     bool

	// loadSeq はロード結果の失効判定トークン。
	// dispose等で状態がリセットされた後に完了した古いロード結果を破棄する。
	loadSeq uint64
}

// Cache は順序付き・重複排除済みの動画フィードと再生リソースプールを管理する。
// 全ミューテーションは内部ミューテックスで直列化される。
type Cache struct {
	opts      Options
	logger    *slog.Logger
	collector metrics.Collector
	seen      SeenChecker
	loader    player.ResourceLoader
	pool      *player.Pool
	registry  *player.PauseRegistry

	mu      sync.Mutex
	entries []*entry
	// index はID→位置のミラー。重複排除をO(1)にする。
	index map[string]int
	// セグメントカーソル。常に
	// 0 <= socialSeenStart <= boundary <= discoverySeenStart <= len(entries)
	// が成り立つ。boundaryは先頭のディスカバリーエントリの位置。
	socialSeenStart    int
	boundary           int
	discoverySeenStart int

	arrivalSeq   uint64
	currentIndex int

	subMu       sync.Mutex
	subscribers map[int]chan model.FeedEvent
	nextSubID   int
	closed      bool
}

// New はCacheの新しいインスタンスを生成する。
// poolとregistryはキャッシュが排他的に所有する。
func New(
	opts Options,
	seen SeenChecker,
	loader player.ResourceLoader,
	pool *player.Pool,
	logger *slog.Logger,
	collector metrics.Collector,
) *Cache {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Cache{
		opts:        opts,
		logger:      logger,
		collector:   collector,
		seen:        seen,
		loader:      loader,
		pool:        pool,
		registry:    player.NewPauseRegistry(),
		index:       make(map[string]int),
		subscribers: make(map[int]chan model.FeedEvent),
	}
}

// Insert はレコードをフィードに挿入する。
// IDが既に存在する場合は何もしない（冪等）。不正なレコードはValidationErrorで拒否する。
// 挿入位置はクラス境界インデックスと視聴済みサブ位置から計算される。
// ロードは開始しない（遅延）。
func (c *Cache) Insert(rec *model.VideoRecord, class model.PriorityClass) error {
	if err := rec.Validate(); err != nil {
		c.collector.RecordValidationReject()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[rec.ID]; exists {
		c.collector.RecordDedupHit()
		return nil
	}

	c.arrivalSeq++
	e := &entry{
		record: rec,
		class:  class,
		seq:    c.arrivalSeq,
		seen:   c.seen.HasSeen(rec.ID),
		status: model.StatusNotLoaded,
	}

	pos := c.insertPositionLocked(e)
	c.spliceLocked(pos, e)

	c.collector.RecordInsert(string(class))
	c.collector.SetFeedLength(len(c.entries))

	c.emit(model.FeedEvent{
		Type:    model.EventInserted,
		VideoID: rec.ID,
		Class:   class,
		Index:   pos,
	})

	return nil
}

// insertPositionLocked はエントリの挿入位置を計算し、セグメントカーソルを更新する。
// 呼び出し側がミューテックスを保持していること。
func (c *Cache) insertPositionLocked(e *entry) int {
	var pos int
	switch {
	case e.class == model.ClassSocial && !e.seen:
		pos = c.socialSeenStart
		c.socialSeenStart++
		c.boundary++
		c.discoverySeenStart++
	case e.class == model.ClassSocial && e.seen:
		pos = c.boundary
		c.boundary++
		c.discoverySeenStart++
	case e.class == model.ClassDiscovery && !e.seen:
		pos = c.discoverySeenStart
		c.discoverySeenStart++
	default: // discovery, seen
		pos = len(c.entries)
	}
	return pos
}

// spliceLocked はエントリを指定位置に挿入し、位置ミラーを更新する。
func (c *Cache) spliceLocked(pos int, e *entry) {
	c.entries = append(c.entries, nil)
	copy(c.entries[pos+1:], c.entries[pos:])
	c.entries[pos] = e
	for i := pos; i < len(c.entries); i++ {
		c.index[c.entries[i].record.ID] = i
	}
}

// removeAtLocked は指定位置のエントリをフィードから除去し、リソースを解放する。
// Evictedイベントを発行する。呼び出し側がミューテックスを保持していること。
func (c *Cache) removeAtLocked(pos int) {
	e := c.entries[pos]
	id := e.record.ID

	e.status = model.StatusDisposing
	e.loadSeq++
	c.releaseResourceLocked(id)

	copy(c.entries[pos:], c.entries[pos+1:])
	c.entries = c.entries[:len(c.entries)-1]
	delete(c.index, id)
	for i := pos; i < len(c.entries); i++ {
		c.index[c.entries[i].record.ID] = i
	}

	if pos < c.socialSeenStart {
		c.socialSeenStart--
	}
	if pos < c.boundary {
		c.boundary--
	}
	if pos < c.discoverySeenStart {
		c.discoverySeenStart--
	}

	c.emit(model.FeedEvent{
		Type:    model.EventEvicted,
		VideoID: id,
		Class:   e.class,
		Index:   -1,
	})
}

// releaseResourceLocked は保持中のリソースハンドルとコントローラを解放する。
func (c *Cache) releaseResourceLocked(videoID string) {
	c.registry.Unregister(videoID)
	c.pool.Release(videoID)
	c.collector.SetReadyHandles(c.pool.Len())
}

// Videos は現在の描画順のレコードスナップショットを返す。
// 返されるスライスは呼び出し時点のコピーであり、以降の変更と共有されない。
func (c *Cache) Videos() []*model.VideoRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.VideoRecord, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.record
	}
	return out
}

// Len はフィードの現在長を返す。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IndexOf は指定IDの現在位置を返す。未知のIDの場合は-1, false。
func (c *Cache) IndexOf(videoID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.index[videoID]
	if !ok {
		return -1, false
	}
	return pos, true
}

// GetState は指定IDの再生状態スナップショットを返す。
// 未知のIDの場合はnil, falseを返す。
func (c *Cache) GetState(videoID string) (*model.PlaybackState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.index[videoID]
	if !ok {
		return nil, false
	}
	return c.stateSnapshotLocked(c.entries[pos]), true
}

// stateSnapshotLocked はエントリの再生状態スナップショットを構築する。
func (c *Cache) stateSnapshotLocked(e *entry) *model.PlaybackState {
	s := &model.PlaybackState{
		VideoID: e.record.ID,
		Status:  e.status,
	}
	switch e.status {
	case model.StatusReady:
		s.Handle = c.pool.Get(e.record.ID)
	case model.StatusFailed:
		s.Err = e.err
		s.CanRetry = e.retryCount < c.opts.MaxRetries
	}
	return s
}

// GetController は指定IDの再生コントローラを返す。
// Ready状態でないIDや未知のIDの場合はnilを返す。
func (c *Cache) GetController(videoID string) *player.Controller {
	return c.registry.Get(videoID)
}

// Registry はキャッシュが所有する一時停止レジストリを返す。
// アプリのバックグラウンド遷移時のPauseAll等に使用する。
func (c *Cache) Registry() *player.PauseRegistry {
	return c.registry
}

// Pin は指定IDを追い出し対象から除外する。未知のIDの場合は何もしない。
func (c *Cache) Pin(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.index[videoID]; ok {
		c.entries[pos].pinned = true
	}
}

// Unpin は指定IDのピン留めを解除する。未知のIDの場合は何もしない。
func (c *Cache) Unpin(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.index[videoID]; ok {
		c.entries[pos].pinned = false
	}
}

// DisposeVideo は指定IDのリソースを強制解放し、状態をNotLoadedにリセットする。
// 実行中のロードがあれば、その結果は完了時に破棄される。
// 未知のIDの場合はVideoNotFoundエラーを返す。
func (c *Cache) DisposeVideo(videoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.index[videoID]
	if !ok {
		return model.NewVideoNotFoundError(videoID)
	}

	e := c.entries[pos]
	e.loadSeq++
	c.releaseResourceLocked(videoID)
	e.status = model.StatusNotLoaded
	e.retryCount = 0
	e.err = nil

	c.emit(model.FeedEvent{
		Type:    model.EventStateChanged,
		VideoID: videoID,
		Class:   e.class,
		Index:   -1,
		Status:  model.StatusNotLoaded,
	})

	return nil
}

// Clear はフィード全体を破棄し、保持中の全リソースを解放する。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) > 0 {
		c.removeAtLocked(len(c.entries) - 1)
	}
	c.socialSeenStart = 0
	c.boundary = 0
	c.discoverySeenStart = 0
	c.currentIndex = 0
	c.collector.SetFeedLength(0)
}

// Close はキャッシュを閉じ、全リソースを解放して購読チャンネルを閉じる。
func (c *Cache) Close() {
	c.Clear()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}
