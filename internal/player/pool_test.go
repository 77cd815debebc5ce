package player

import (
	"sync/atomic"
	"testing"
)

type countingHandle struct {
	videoID string
	closed  atomic.Bool
}

func (h *countingHandle) VideoID() string      { return h.videoID }
func (h *countingHandle) ContentType() string  { return "video/mp4" }
func (h *countingHandle) ContentLength() int64 { return 100 }
func (h *countingHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func TestPool_PutRespectsCapacity(t *testing.T) {
	p := NewPool(2)

	if !p.Put("v1", &countingHandle{videoID: "v1"}) {
		t.Fatal("Put(v1) = false, want true")
	}
	if !p.Put("v2", &countingHandle{videoID: "v2"}) {
		t.Fatal("Put(v2) = false, want true")
	}
	// 容量超過のPutは拒否され、ハンドルは登録されない
	if p.Put("v3", &countingHandle{videoID: "v3"}) {
		t.Fatal("Put(v3) = true, want false at capacity")
	}

	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
	if p.Free() != 0 {
		t.Errorf("Free() = %d, want 0", p.Free())
	}
	if p.Has("v3") {
		t.Error("Has(v3) = true, want false")
	}
}

func TestPool_PutReplacesExistingHandle(t *testing.T) {
	p := NewPool(1)

	old := &countingHandle{videoID: "v1"}
	p.Put("v1", old)

	// 同一IDの再登録は容量消費なしで置き換え、旧ハンドルを閉じる
	replacement := &countingHandle{videoID: "v1"}
	if !p.Put("v1", replacement) {
		t.Fatal("replacing Put = false, want true")
	}
	if !old.closed.Load() {
		t.Error("old handle was not closed on replace")
	}
	if p.Get("v1") != replacement {
		t.Error("Get(v1) should return replacement handle")
	}
}

func TestPool_ReleaseClosesHandle(t *testing.T) {
	p := NewPool(2)
	h := &countingHandle{videoID: "v1"}
	p.Put("v1", h)

	p.Release("v1")

	if !h.closed.Load() {
		t.Error("handle was not closed on release")
	}
	if p.Has("v1") {
		t.Error("Has(v1) = true after release")
	}

	// 未保持IDのReleaseは何もしない
	p.Release("unknown")
}

func TestPool_ReleaseAll(t *testing.T) {
	p := NewPool(3)
	handles := []*countingHandle{
		{videoID: "v1"}, {videoID: "v2"}, {videoID: "v3"},
	}
	for _, h := range handles {
		p.Put(h.videoID, h)
	}

	p.ReleaseAll()

	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
	for _, h := range handles {
		if !h.closed.Load() {
			t.Errorf("handle %s was not closed", h.videoID)
		}
	}
}

func TestPool_DefaultCapacity(t *testing.T) {
	p := NewPool(0)
	if p.Capacity() != 5 {
		t.Errorf("Capacity() = %d, want default 5", p.Capacity())
	}
}
