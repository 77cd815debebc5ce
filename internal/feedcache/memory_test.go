package feedcache

import (
	"testing"

	"github.com/hitoshi/vinefeed/internal/model"
)

func TestMemoryPressure_TrimsToTargetPreservingWindow(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxVideos = 10
	opts.MemoryTrimFraction = 0.5
	opts.PreloadAhead = 1
	opts.PreloadBehind = 1
	c := newTestCache(t, opts, nil, nil, 10)

	ids := insertN(t, c, 10)

	c.PreloadAroundIndex(0)
	waitForStatus(t, c, ids[0], model.StatusReady)

	c.HandleMemoryPressure()

	// 目標 ceil(0.5*10)=5。遠い側から破棄され、ウィンドウ0..1は残る
	if c.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", c.Len())
	}
	assertOrder(t, c, []string{"v0", "v1", "v2", "v3", "v4"})

	// ウィンドウ内のロード状態は維持される
	state, _ := c.GetState(ids[0])
	if state.Status != model.StatusReady {
		t.Errorf("current video status = %s, want %s", state.Status, model.StatusReady)
	}
}

func TestMemoryPressure_CurrentIndexTracksRecord(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxVideos = 10
	opts.MemoryTrimFraction = 0.5
	opts.PreloadAhead = 1
	opts.PreloadBehind = 1
	c := newTestCache(t, opts, nil, nil, 10)

	ids := insertN(t, c, 10)

	// 現在位置をフィード後方に置く。前方の破棄で位置がずれても、
	// 現在のレコードのウィンドウは維持される。
	c.PreloadAroundIndex(8)
	waitForStatus(t, c, ids[8], model.StatusReady)

	c.HandleMemoryPressure()

	if c.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", c.Len())
	}
	// ウィンドウ7..9は破棄対象にならない
	for _, id := range []string{"v7", "v8", "v9"} {
		if _, ok := c.IndexOf(id); !ok {
			t.Errorf("window video %s was trimmed", id)
		}
	}
	state, _ := c.GetState("v8")
	if state.Status != model.StatusReady {
		t.Errorf("current video status = %s, want %s", state.Status, model.StatusReady)
	}
}

func TestMemoryPressure_TrimReleasesReadyResources(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxVideos = 6
	opts.MemoryTrimFraction = 0.5
	opts.PreloadAhead = 0
	opts.PreloadBehind = 0
	c := newTestCache(t, opts, nil, nil, 10)

	ids := insertN(t, c, 6)

	// 末尾をReadyにし、ピンでプリロード側の追い出しから保護したまま
	// ウィンドウを先頭へ戻す。トリムはピンに関係なくウィンドウ外を破棄する。
	c.PreloadAroundIndex(5)
	waitForStatus(t, c, ids[5], model.StatusReady)
	c.Pin("v5")
	c.PreloadAroundIndex(0)
	waitForStatus(t, c, ids[0], model.StatusReady)

	c.HandleMemoryPressure()

	// 目標 ceil(0.5*6)=3。遠い側からv5,v4,v3が破棄される
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.IndexOf("v5"); ok {
		t.Fatal("v5 should be trimmed")
	}
	if c.pool.Has("v5") {
		t.Error("pool still holds trimmed video v5")
	}
	if c.GetController("v5") != nil {
		t.Error("controller still registered for trimmed video v5")
	}
}

func TestMemoryPressure_DisabledIsNoop(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxVideos = 4
	opts.EnableMemoryManagement = false
	c := newTestCache(t, opts, nil, nil, 5)

	insertN(t, c, 8)
	c.HandleMemoryPressure()

	if c.Len() != 8 {
		t.Errorf("Len() = %d, want 8 (trim disabled)", c.Len())
	}
}

func TestMemoryPressure_BelowTargetIsNoop(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxVideos = 10
	opts.MemoryTrimFraction = 0.5
	c := newTestCache(t, opts, nil, nil, 5)

	insertN(t, c, 3)
	c.HandleMemoryPressure()

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}
