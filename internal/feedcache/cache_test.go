package feedcache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/vinefeed/internal/model"
	"github.com/hitoshi/vinefeed/internal/player"
)

// --- モック ---

type mockSeen struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMockSeen(ids ...string) *mockSeen {
	m := &mockSeen{seen: make(map[string]struct{})}
	for _, id := range ids {
		m.seen[id] = struct{}{}
	}
	return m
}

func (m *mockSeen) HasSeen(videoID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[videoID]
	return ok
}

type mockLoader struct {
	loadFn func(ctx context.Context, rec *model.VideoRecord) (model.ResourceHandle, error)
	calls  atomic.Int64
}

func (m *mockLoader) Load(ctx context.Context, rec *model.VideoRecord) (model.ResourceHandle, error) {
	m.calls.Add(1)
	if m.loadFn != nil {
		return m.loadFn(ctx, rec)
	}
	return player.NewHandle(rec.ID, "video/mp4", 1024), nil
}

// trackedHandle はClose呼び出しを観測できるテスト用ハンドル。
type trackedHandle struct {
	videoID string
	closed  atomic.Bool
}

func (h *trackedHandle) VideoID() string      { return h.videoID }
func (h *trackedHandle) ContentType() string  { return "video/mp4" }
func (h *trackedHandle) ContentLength() int64 { return 1024 }
func (h *trackedHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// --- ヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, opts Options, seen SeenChecker, loader player.ResourceLoader, poolCap int) *Cache {
	t.Helper()
	if seen == nil {
		seen = newMockSeen()
	}
	if loader == nil {
		loader = &mockLoader{}
	}
	c := New(opts, seen, loader, player.NewPool(poolCap), testLogger(), nil)
	t.Cleanup(c.Close)
	return c
}

func vid(id string) *model.VideoRecord {
	return &model.VideoRecord{
		ID:       id,
		Author:   "author-" + id,
		MediaURL: "https://cdn.example.com/" + id + ".mp4",
	}
}

func mustInsert(t *testing.T, c *Cache, id string, class model.PriorityClass) {
	t.Helper()
	if err := c.Insert(vid(id), class); err != nil {
		t.Fatalf("Insert(%s) failed: %v", id, err)
	}
}

func feedIDs(c *Cache) []string {
	records := c.Videos()
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}

func assertOrder(t *testing.T, c *Cache, want []string) {
	t.Helper()
	got := feedIDs(c)
	if len(got) != len(want) {
		t.Fatalf("feed length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feed[%d] = %s, want %s (got %v)", i, got[i], want[i], got)
		}
	}
}

// waitForStatus は指定IDが指定ステータスになるまで待つ。
func waitForStatus(t *testing.T, c *Cache, id string, want model.PlaybackStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := c.GetState(id); ok && state.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, ok := c.GetState(id)
	if !ok {
		t.Fatalf("video %s not in feed", id)
	}
	t.Fatalf("video %s status = %s, want %s", id, state.Status, want)
}

// --- テスト ---

func TestInsert_DuplicateIsIgnored(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)

	mustInsert(t, c, "v1", model.ClassDiscovery)
	// 同一IDの再挿入はクラスが違っても無視される
	mustInsert(t, c, "v1", model.ClassSocial)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	assertOrder(t, c, []string{"v1"})
}

func TestInsert_InvalidRecordRejected(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)

	tests := []struct {
		name string
		rec  *model.VideoRecord
	}{
		{"missing id", &model.VideoRecord{Author: "a", MediaURL: "https://cdn.example.com/v.mp4"}},
		{"missing author", &model.VideoRecord{ID: "v1", MediaURL: "https://cdn.example.com/v.mp4"}},
		{"missing media url", &model.VideoRecord{ID: "v1", Author: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Insert(tt.rec, model.ClassDiscovery)
			if !model.IsCode(err, model.ErrCodeValidationFailed) {
				t.Errorf("Insert error = %v, want VALIDATION_FAILED", err)
			}
		})
	}

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after rejected inserts", c.Len())
	}
}

func TestInsert_SocialPrecedesDiscovery(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)

	// ディスカバリーが先に到着してもソーシャルが常に先行する
	mustInsert(t, c, "d1", model.ClassDiscovery)
	mustInsert(t, c, "d2", model.ClassDiscovery)
	mustInsert(t, c, "s1", model.ClassSocial)
	assertOrder(t, c, []string{"s1", "d1", "d2"})

	// 後着のソーシャルはソーシャルセグメントの末尾に入る
	mustInsert(t, c, "s2", model.ClassSocial)
	assertOrder(t, c, []string{"s1", "s2", "d1", "d2"})

	// 後着のディスカバリーは全体の末尾に入る
	mustInsert(t, c, "d3", model.ClassDiscovery)
	assertOrder(t, c, []string{"s1", "s2", "d1", "d2", "d3"})
}

func TestInsert_ArrivalOrderPreservedWithinClass(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)

	mustInsert(t, c, "s1", model.ClassSocial)
	mustInsert(t, c, "d1", model.ClassDiscovery)
	mustInsert(t, c, "s2", model.ClassSocial)
	mustInsert(t, c, "d2", model.ClassDiscovery)
	mustInsert(t, c, "s3", model.ClassSocial)

	assertOrder(t, c, []string{"s1", "s2", "s3", "d1", "d2"})
}

func TestInsert_SeenDeprioritizedWithinClass(t *testing.T) {
	seen := newMockSeen("s2", "d1")
	c := newTestCache(t, DefaultOptions(), seen, nil, 5)

	mustInsert(t, c, "s1", model.ClassSocial)
	mustInsert(t, c, "s2", model.ClassSocial) // 視聴済み
	mustInsert(t, c, "s3", model.ClassSocial)
	mustInsert(t, c, "d1", model.ClassDiscovery) // 視聴済み
	mustInsert(t, c, "d2", model.ClassDiscovery)

	// クラス内で未視聴→視聴済みの順。クラス境界は維持される。
	assertOrder(t, c, []string{"s1", "s3", "s2", "d2", "d1"})
}

func TestInsert_SeenSocialStillPrecedesUnseenDiscovery(t *testing.T) {
	seen := newMockSeen("s1")
	c := newTestCache(t, DefaultOptions(), seen, nil, 5)

	mustInsert(t, c, "d1", model.ClassDiscovery)
	mustInsert(t, c, "s1", model.ClassSocial) // 視聴済みでもソーシャルが先行

	assertOrder(t, c, []string{"s1", "d1"})
}

func TestIndexOf(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)
	mustInsert(t, c, "v1", model.ClassDiscovery)
	mustInsert(t, c, "v2", model.ClassDiscovery)

	if pos, ok := c.IndexOf("v2"); !ok || pos != 1 {
		t.Errorf("IndexOf(v2) = %d, %v, want 1, true", pos, ok)
	}
	if _, ok := c.IndexOf("unknown"); ok {
		t.Error("IndexOf(unknown) = true, want false")
	}
}

func TestGetState_InitialStatusIsNotLoaded(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)
	mustInsert(t, c, "v1", model.ClassDiscovery)

	state, ok := c.GetState("v1")
	if !ok {
		t.Fatal("GetState(v1) = false, want true")
	}
	if state.Status != model.StatusNotLoaded {
		t.Errorf("status = %s, want %s", state.Status, model.StatusNotLoaded)
	}
	if state.Handle != nil {
		t.Error("handle should be nil before load")
	}

	if _, ok := c.GetState("unknown"); ok {
		t.Error("GetState(unknown) = true, want false")
	}
}

func TestDisposeVideo(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)
	mustInsert(t, c, "v1", model.ClassDiscovery)

	c.PreloadAroundIndex(0)
	waitForStatus(t, c, "v1", model.StatusReady)

	if err := c.DisposeVideo("v1"); err != nil {
		t.Fatalf("DisposeVideo failed: %v", err)
	}

	state, _ := c.GetState("v1")
	if state.Status != model.StatusNotLoaded {
		t.Errorf("status after dispose = %s, want %s", state.Status, model.StatusNotLoaded)
	}
	if c.GetController("v1") != nil {
		t.Error("controller should be unregistered after dispose")
	}

	// レコード自体はフィードに残る
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	if err := c.DisposeVideo("unknown"); !model.IsCode(err, model.ErrCodeVideoNotFound) {
		t.Errorf("DisposeVideo(unknown) = %v, want VIDEO_NOT_FOUND", err)
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)
	mustInsert(t, c, "v1", model.ClassSocial)
	mustInsert(t, c, "v2", model.ClassDiscovery)

	c.PreloadAroundIndex(0)
	waitForStatus(t, c, "v1", model.StatusReady)

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if c.Registry().Len() != 0 {
		t.Errorf("registry len = %d, want 0", c.Registry().Len())
	}

	// クリア後も挿入を受け付ける
	mustInsert(t, c, "v3", model.ClassDiscovery)
	assertOrder(t, c, []string{"v3"})
}

func TestSubscribe_DeliversInsertedEvent(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	mustInsert(t, c, "v1", model.ClassSocial)

	select {
	case ev := <-events:
		if ev.Type != model.EventInserted {
			t.Errorf("event type = %s, want %s", ev.Type, model.EventInserted)
		}
		if ev.VideoID != "v1" {
			t.Errorf("event video_id = %s, want v1", ev.VideoID)
		}
		if ev.Index != 0 {
			t.Errorf("event index = %d, want 0", ev.Index)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	c := newTestCache(t, DefaultOptions(), nil, nil, 5)

	events, unsubscribe := c.Subscribe()
	unsubscribe()

	// 購読解除後のチャンネルは閉じられている
	if _, open := <-events; open {
		t.Error("channel should be closed after unsubscribe")
	}

	// 解除後の挿入でpanicしないこと
	mustInsert(t, c, "v1", model.ClassSocial)
}

func TestSubscribe_SlowSubscriberDoesNotBlockInsert(t *testing.T) {
	opts := DefaultOptions()
	opts.EventBuffer = 1
	c := newTestCache(t, opts, nil, nil, 5)

	_, unsubscribe := c.Subscribe()
	defer unsubscribe()

	// バッファ1の購読者を放置したまま挿入を続けてもブロックしない
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.Insert(vid("v"+string(rune('a'+i))), model.ClassDiscovery)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("insert blocked by slow subscriber")
	}
}

func TestPinPreventsEviction(t *testing.T) {
	opts := DefaultOptions()
	opts.PreloadAhead = 1
	opts.PreloadBehind = 0
	c := newTestCache(t, opts, nil, nil, 5)

	for _, id := range []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7"} {
		mustInsert(t, c, id, model.ClassDiscovery)
	}

	c.PreloadAroundIndex(0)
	waitForStatus(t, c, "v0", model.StatusReady)
	c.Pin("v0")

	// ウィンドウを遠くへ移すと、未ピンのReadyは追い出されるがピン済みは残る
	c.PreloadAroundIndex(7)
	waitForStatus(t, c, "v7", model.StatusReady)

	state, _ := c.GetState("v0")
	if state.Status != model.StatusReady {
		t.Errorf("pinned video status = %s, want %s", state.Status, model.StatusReady)
	}

	c.Unpin("v0")
	c.PreloadAroundIndex(7)

	state, _ = c.GetState("v0")
	if state.Status != model.StatusNotLoaded {
		t.Errorf("unpinned video status = %s, want %s", state.Status, model.StatusNotLoaded)
	}
}
