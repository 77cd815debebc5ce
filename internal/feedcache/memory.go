package feedcache

import (
	"log/slog"
	"math"
	"sort"
)

// HandleMemoryPressure はメモリ圧力の外部シグナルを処理する。
// フィード長をMaxVideosのMemoryTrimFraction倍（切り上げ）まで削減する。
// 現在のウィンドウから最も遠いレコードから順に破棄し、そのリソースも破棄する。
// アクティブウィンドウ内のレコードは決して破棄しない。
// EnableMemoryManagementが無効の場合は何もしない。
func (c *Cache) HandleMemoryPressure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opts.EnableMemoryManagement {
		return
	}

	target := int(math.Ceil(c.opts.MemoryTrimFraction * float64(c.opts.MaxVideos)))
	if len(c.entries) <= target {
		return
	}

	w := c.windowLocked(c.currentIndex)

	// 現在位置のIDを控えておき、削除による位置ずれ後に復元する
	var currentID string
	if c.currentIndex < len(c.entries) {
		currentID = c.entries[c.currentIndex].record.ID
	}

	// ウィンドウ外の破棄候補を距離の降順で収集する。
	// 位置は削除のたびにずれるため、IDで追跡する。
	type victim struct {
		id   string
		dist int
	}
	var victims []victim
	for pos, e := range c.entries {
		if w.contains(pos) {
			continue
		}
		victims = append(victims, victim{id: e.record.ID, dist: absInt(pos - c.currentIndex)})
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].dist > victims[j].dist
	})

	removed := 0
	for _, v := range victims {
		if len(c.entries) <= target {
			break
		}
		pos, ok := c.index[v.id]
		if !ok {
			continue
		}
		c.removeAtLocked(pos)
		removed++
	}

	// 現在位置を追跡中のIDに合わせて補正する
	if pos, ok := c.index[currentID]; ok {
		c.currentIndex = pos
	} else if c.currentIndex > len(c.entries)-1 {
		c.currentIndex = len(c.entries) - 1
		if c.currentIndex < 0 {
			c.currentIndex = 0
		}
	}

	c.collector.RecordMemoryTrim(removed)
	c.collector.SetFeedLength(len(c.entries))

	c.logger.Info("memory pressure trim completed",
		slog.Int("removed", removed),
		slog.Int("remaining", len(c.entries)),
		slog.Int("target", target),
	)
}
