// Package profile は作者プロフィールの解決とキャッシュを提供する。
// 複数レコードの一括配信時には、未解決の作者pubkey集合に対して1回の
// 一括取得を発行し、外部呼び出しをO(レコード数)ではなく
// O(バッチ内の未解決作者数)に抑える。
package profile

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/vinefeed/internal/metrics"
	"github.com/hitoshi/vinefeed/internal/model"
)

// Fetcher はプロフィール一括取得のインターフェース。
// リレー実装がkind-0イベントを収集して満たす。テスト時にモックに差し替え可能。
type Fetcher interface {
	// FetchProfiles は指定pubkey集合のプロフィールを一括取得する。
	// 見つからなかったpubkeyは結果マップに含まれない。
	FetchProfiles(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error)
}

// Service はプロフィール解決サービス。
// LRUキャッシュで解決済みプロフィールを保持し、同一バッチの並行取得は
// singleflightで1回にまとめる。
type Service struct {
	fetcher   Fetcher
	cache     *lru.Cache[string, *model.Profile]
	group     singleflight.Group
	timeout   time.Duration
	logger    *slog.Logger
	collector metrics.Collector
}

// NewService はServiceの新しいインスタンスを生成する。
// cacheSizeが0以下の場合はデフォルト値512を使用する。
func NewService(
	fetcher Fetcher,
	cacheSize int,
	timeout time.Duration,
	logger *slog.Logger,
	collector metrics.Collector,
) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	cache, err := lru.New[string, *model.Profile](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		fetcher:   fetcher,
		cache:     cache,
		timeout:   timeout,
		logger:    logger,
		collector: collector,
	}, nil
}

// ResolveMany は作者pubkey集合のプロフィールを解決して返す。
// キャッシュ済みの作者は取得対象から除外され、未解決分のみ1回の一括取得を行う。
// 取得に失敗した作者には短縮pubkeyのプレースホルダーを返す。
// プロフィール解決の失敗がレコード挿入を妨げることはないため、エラーは返さない。
func (s *Service) ResolveMany(ctx context.Context, pubkeys []string) map[string]*model.Profile {
	out := make(map[string]*model.Profile, len(pubkeys))

	// 重複を除去しつつキャッシュ済みと未解決に振り分ける
	var missing []string
	seen := make(map[string]struct{}, len(pubkeys))
	for _, pk := range pubkeys {
		if pk == "" {
			continue
		}
		if _, dup := seen[pk]; dup {
			continue
		}
		seen[pk] = struct{}{}

		if p, ok := s.cache.Get(pk); ok {
			out[pk] = p
			continue
		}
		missing = append(missing, pk)
	}

	if len(missing) > 0 {
		fetched := s.fetchBatch(ctx, missing)
		for pk, p := range fetched {
			out[pk] = p
		}
	}

	// 未解決の作者には短縮pubkeyのプレースホルダーを返す（キャッシュはしない:
	// 後続のバッチで解決される可能性を残す）
	for pk := range seen {
		if _, ok := out[pk]; !ok {
			out[pk] = &model.Profile{
				Pubkey: pk,
				Name:   model.ShortPubkey(pk),
			}
		}
	}

	return out
}

// Resolve は単一作者のプロフィールを解決して返す。
func (s *Service) Resolve(ctx context.Context, pubkey string) *model.Profile {
	return s.ResolveMany(ctx, []string{pubkey})[pubkey]
}

// CachedCount は現在キャッシュされているプロフィール数を返す。テストおよびメトリクス用。
func (s *Service) CachedCount() int {
	return s.cache.Len()
}

// fetchBatch は未解決pubkey集合の一括取得を実行する。
// 同一集合の並行取得はsingleflightで1回にまとめられる。
func (s *Service) fetchBatch(ctx context.Context, missing []string) map[string]*model.Profile {
	sorted := make([]string, len(missing))
	copy(sorted, missing)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",")

	v, err, _ := s.group.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		fetched, fetchErr := s.fetcher.FetchProfiles(fetchCtx, sorted)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return fetched, nil
	})
	if err != nil {
		s.logger.Warn("profile batch fetch failed",
			slog.Int("batch_size", len(missing)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	fetched := v.(map[string]*model.Profile)
	for pk, p := range fetched {
		s.cache.Add(pk, p)
	}
	s.collector.RecordProfileBatch(len(fetched))
	return fetched
}
