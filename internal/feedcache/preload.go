package feedcache

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/vinefeed/internal/model"
	"github.com/hitoshi/vinefeed/internal/player"
)

// window は現在の描画順上のプリロード対象範囲を表す。
// 保存されるエンティティではなく、preload呼び出しごとに再計算される。
type window struct {
	lo, hi int
}

// contains は指定位置がウィンドウ内かを返す。
func (w window) contains(pos int) bool {
	return pos >= w.lo && pos <= w.hi
}

// windowLocked は指定位置を中心とするウィンドウを現在の描画順に対して計算する。
func (c *Cache) windowLocked(index int) window {
	lo := index - c.opts.PreloadBehind
	if lo < 0 {
		lo = 0
	}
	hi := index + c.opts.PreloadAhead
	if hi > len(c.entries)-1 {
		hi = len(c.entries) - 1
	}
	return window{lo: lo, hi: hi}
}

// PreloadAroundIndex は指定位置周辺のウィンドウ内エントリのロードを開始する。
// ウィンドウは設定のPreloadAhead/PreloadBehindから計算される。
//
// ウィンドウ内でLoading/Ready以外のエントリごとに独立した非同期ロードを開始する。
// Failedのエントリは再試行回数が上限未満の場合のみ対象となる
// （ウィンドウ外のFailedは再突入まで放置される）。
//
// 新規ロードがプール容量を超える場合は、ウィンドウ外かつ未ピンのReadyエントリを
// 現在位置からの距離が大きい順に追い出す。それでも容量を確保できない場合、
// 最も遠い候補のロードはクラッシュせず延期される。
//
// 本メソッドはロードの完了を待たずに戻る。
func (c *Cache) PreloadAroundIndex(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(c.entries)-1 {
		index = len(c.entries) - 1
	}
	c.currentIndex = index

	w := c.windowLocked(index)

	// ウィンドウから1以上離れたReadyエントリは容量に関係なく追い出す。
	// ウィンドウ境界のちょうど外側1件分は、細かい位置移動での
	// 追い出し・再ロードの往復を避けるため猶予として保持を許す。
	slack := window{lo: w.lo - 1, hi: w.hi + 1}
	c.evictOutsideWindowLocked(slack, -1)

	// ロード候補をウィンドウ内から収集し、現在位置に近い順に並べる
	var candidates []int
	for pos := w.lo; pos <= w.hi; pos++ {
		e := c.entries[pos]
		switch e.status {
		case model.StatusNotLoaded:
			candidates = append(candidates, pos)
		case model.StatusFailed:
			if e.retryCount < c.opts.MaxRetries {
				candidates = append(candidates, pos)
			}
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return absInt(candidates[i]-index) < absInt(candidates[j]-index)
	})

	// 容量確保: 空きスロットが足りなければウィンドウ外の最遠Readyを追い出す
	free := c.pool.Capacity() - c.pool.Len() - c.loadingCountLocked()
	if free < len(candidates) {
		freed := c.evictOutsideWindowLocked(w, len(candidates)-free)
		free += freed
	}
	if free < 0 {
		free = 0
	}

	// 防御的フォールバック: 確保できなかった分は最も遠い候補から延期する
	if free < len(candidates) {
		for _, pos := range candidates[free:] {
			c.logger.Warn("preload deferred: pool capacity exhausted",
				slog.String("video_id", c.entries[pos].record.ID),
				slog.Int("position", pos),
			)
		}
		candidates = candidates[:free]
	}

	for _, pos := range candidates {
		c.startLoadLocked(pos)
	}
}

// loadingCountLocked は実行中ロード数を返す。
// 完了時にプールスロットを消費するため、容量計算で予約分として扱う。
func (c *Cache) loadingCountLocked() int {
	n := 0
	for _, e := range c.entries {
		if e.status == model.StatusLoading {
			n++
		}
	}
	return n
}

// evictOutsideWindowLocked はウィンドウ外かつ未ピンのReadyエントリを、
// 現在位置からの距離が大きい順に最大need件追い出す。解放した件数を返す。
// needが負の場合は対象全件を追い出す。
func (c *Cache) evictOutsideWindowLocked(w window, need int) int {
	type victim struct {
		pos  int
		dist int
	}
	var victims []victim
	for pos, e := range c.entries {
		if e.status != model.StatusReady || e.pinned || w.contains(pos) {
			continue
		}
		victims = append(victims, victim{pos: pos, dist: absInt(pos - c.currentIndex)})
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].dist > victims[j].dist
	})

	if need > 0 && need < len(victims) {
		victims = victims[:need]
	}

	for _, v := range victims {
		e := c.entries[v.pos]
		c.releaseResourceLocked(e.record.ID)
		e.status = model.StatusNotLoaded
		e.retryCount = 0
		e.err = nil
		e.loadSeq++
		c.collector.RecordEviction()
		c.emit(model.FeedEvent{
			Type:    model.EventStateChanged,
			VideoID: e.record.ID,
			Class:   e.class,
			Index:   -1,
			Status:  model.StatusNotLoaded,
		})
	}
	return len(victims)
}

// startLoadLocked は指定位置のエントリの非同期ロードを開始する。
// Failedからの再開は再試行としてカウントされる。
func (c *Cache) startLoadLocked(pos int) {
	e := c.entries[pos]
	if e.status == model.StatusFailed {
		c.collector.RecordRetry()
	}
	e.status = model.StatusLoading
	e.err = nil
	e.loadSeq++

	token := e.loadSeq
	rec := e.record

	c.emit(model.FeedEvent{
		Type:    model.EventStateChanged,
		VideoID: rec.ID,
		Class:   e.class,
		Index:   -1,
		Status:  model.StatusLoading,
	})

	go c.load(rec, token)
}

// load はID単位の非同期ロード本体。設定されたタイムアウトで制限され、
// 結果は直列化されたミューテーション経路（applyLoadResult）経由でのみ反映される。
func (c *Cache) load(rec *model.VideoRecord, token uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PreloadTimeout)
	defer cancel()

	start := time.Now()
	handle, err := c.loader.Load(ctx, rec)
	c.collector.RecordLoadLatency(time.Since(start))

	c.applyLoadResult(rec.ID, token, handle, err)
}

// applyLoadResult はロード結果を直列化経路で反映する。
// 対象IDが既にフィードから除去されている場合（ロード中の追い出し）、
// または状態がリセットされトークンが失効している場合、結果は破棄される。
func (c *Cache) applyLoadResult(videoID string, token uint64, handle model.ResourceHandle, loadErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.index[videoID]
	if !ok {
		// ロード中に追い出された: map lookup miss = no-op
		if handle != nil {
			handle.Close()
		}
		return
	}
	e := c.entries[pos]
	if e.loadSeq != token || e.status != model.StatusLoading {
		if handle != nil {
			handle.Close()
		}
		return
	}

	if loadErr != nil {
		e.status = model.StatusFailed
		e.retryCount++
		e.err = loadErr
		c.collector.RecordLoadFailure()
		c.logger.Warn("resource load failed",
			slog.String("video_id", videoID),
			slog.Int("position", pos),
			slog.Bool("can_retry", e.retryCount < c.opts.MaxRetries),
			slog.String("error", loadErr.Error()),
		)
		c.emit(model.FeedEvent{
			Type:    model.EventStateChanged,
			VideoID: videoID,
			Class:   e.class,
			Index:   -1,
			Status:  model.StatusFailed,
		})
		return
	}

	// 容量の最終確認: 他のロード完了と競合した場合はウィンドウ外を追い出す
	if c.pool.Capacity()-c.pool.Len() == 0 {
		w := c.windowLocked(c.currentIndex)
		if c.evictOutsideWindowLocked(w, 1) == 0 {
			// 防御的フォールバック: 解放できなければロードを延期する
			handle.Close()
			e.status = model.StatusNotLoaded
			capErr := model.NewCapacityExceededError(videoID)
			c.logger.Warn("load deferred: could not free pool capacity",
				slog.String("video_id", videoID),
				slog.String("code", capErr.Code),
			)
			c.emit(model.FeedEvent{
				Type:    model.EventStateChanged,
				VideoID: videoID,
				Class:   e.class,
				Index:   -1,
				Status:  model.StatusNotLoaded,
			})
			return
		}
	}

	if !c.pool.Put(videoID, handle) {
		// Putは上の容量確保後には失敗しないはずだが、防御的に延期扱いとする
		handle.Close()
		e.status = model.StatusNotLoaded
		return
	}

	e.status = model.StatusReady
	e.retryCount = 0
	e.err = nil
	c.registry.Register(player.NewController(videoID, handle))

	c.collector.RecordLoadSuccess()
	c.collector.SetReadyHandles(c.pool.Len())

	c.emit(model.FeedEvent{
		Type:    model.EventStateChanged,
		VideoID: videoID,
		Class:   e.class,
		Index:   -1,
		Status:  model.StatusReady,
	})
}

// absInt は整数の絶対値を返す。
func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
