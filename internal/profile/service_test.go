package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/vinefeed/internal/model"
)

// --- モック ---

type mockFetcher struct {
	fetchFn func(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error)
	calls   atomic.Int64
}

func (m *mockFetcher) FetchProfiles(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error) {
	m.calls.Add(1)
	if m.fetchFn != nil {
		return m.fetchFn(ctx, pubkeys)
	}
	out := make(map[string]*model.Profile, len(pubkeys))
	for _, pk := range pubkeys {
		out[pk] = &model.Profile{Pubkey: pk, Name: "name-" + pk}
	}
	return out, nil
}

func newTestService(t *testing.T, fetcher *mockFetcher) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewService(fetcher, 16, time.Second, logger, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return s
}

func TestResolveMany_FetchesAndCaches(t *testing.T) {
	fetcher := &mockFetcher{}
	s := newTestService(t, fetcher)

	got := s.ResolveMany(context.Background(), []string{"pk1", "pk2"})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got["pk1"].Name != "name-pk1" {
		t.Errorf("pk1 Name = %s, want name-pk1", got["pk1"].Name)
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls.Load())
	}

	// 2回目はキャッシュから解決され、取得は発生しない
	got = s.ResolveMany(context.Background(), []string{"pk1", "pk2"})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1 (cache hit)", fetcher.calls.Load())
	}
	if s.CachedCount() != 2 {
		t.Errorf("CachedCount() = %d, want 2", s.CachedCount())
	}
}

func TestResolveMany_PartialCacheFetchesOnlyMissing(t *testing.T) {
	fetcher := &mockFetcher{}
	s := newTestService(t, fetcher)

	s.ResolveMany(context.Background(), []string{"pk1"})

	var lastBatch []string
	fetcher.fetchFn = func(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error) {
		lastBatch = pubkeys
		out := make(map[string]*model.Profile, len(pubkeys))
		for _, pk := range pubkeys {
			out[pk] = &model.Profile{Pubkey: pk, Name: "name-" + pk}
		}
		return out, nil
	}

	got := s.ResolveMany(context.Background(), []string{"pk1", "pk2", "pk3"})
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if len(lastBatch) != 2 {
		t.Errorf("fetch batch = %v, want only the 2 uncached pubkeys", lastBatch)
	}
	for _, pk := range lastBatch {
		if pk == "pk1" {
			t.Error("cached pubkey pk1 was refetched")
		}
	}
}

func TestResolveMany_DeduplicatesAndSkipsEmpty(t *testing.T) {
	var lastBatch []string
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error) {
			lastBatch = pubkeys
			return map[string]*model.Profile{}, nil
		},
	}
	s := newTestService(t, fetcher)

	got := s.ResolveMany(context.Background(), []string{"pk1", "pk1", "", "pk2"})

	if len(lastBatch) != 2 {
		t.Errorf("fetch batch = %v, want 2 distinct pubkeys", lastBatch)
	}
	if _, ok := got[""]; ok {
		t.Error("empty pubkey should not appear in result")
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

func TestResolveMany_PlaceholderOnFetchError(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error) {
			return nil, errors.New("relay connection lost")
		},
	}
	s := newTestService(t, fetcher)

	pk := "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	got := s.ResolveMany(context.Background(), []string{pk})

	p := got[pk]
	if p == nil {
		t.Fatal("placeholder profile should be returned on fetch error")
	}
	if p.Name != model.ShortPubkey(pk) {
		t.Errorf("placeholder Name = %s, want %s", p.Name, model.ShortPubkey(pk))
	}
	// プレースホルダーはキャッシュされず、後続バッチで再解決できる
	if s.CachedCount() != 0 {
		t.Errorf("CachedCount() = %d, want 0", s.CachedCount())
	}

	fetcher.fetchFn = nil
	got = s.ResolveMany(context.Background(), []string{pk})
	if got[pk].Name != "name-"+pk {
		t.Errorf("Name = %s, want resolved profile after retry", got[pk].Name)
	}
}

func TestResolveMany_MissingPubkeyGetsPlaceholder(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error) {
			// リレーに存在しないpubkeyは結果に含まれない
			return map[string]*model.Profile{}, nil
		},
	}
	s := newTestService(t, fetcher)

	got := s.ResolveMany(context.Background(), []string{"unknown-pk"})
	p := got["unknown-pk"]
	if p == nil {
		t.Fatal("missing pubkey should get a placeholder")
	}
	if p.Name != model.ShortPubkey("unknown-pk") {
		t.Errorf("placeholder Name = %s, want %s", p.Name, model.ShortPubkey("unknown-pk"))
	}
}

func TestResolve_SinglePubkey(t *testing.T) {
	fetcher := &mockFetcher{}
	s := newTestService(t, fetcher)

	p := s.Resolve(context.Background(), "pk1")
	if p == nil || p.Name != "name-pk1" {
		t.Errorf("Resolve(pk1) = %+v, want name-pk1", p)
	}
}
