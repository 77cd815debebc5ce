// Package composer はイベントソースとフィードキャッシュの間で
// チャンネル制御と優先クラス分類を行う。
//
// 状態機械:
//
//	Uninitialized → SocialOnly（フォロー中の作者が存在する場合）
//	Uninitialized → DiscoveryOnly（フォローが空の場合）
//	SocialOnly → SocialAndDiscovery（ソーシャル到着数の閾値到達、
//	                                 または明示的トリガー。セッション中1回のみ）
//
// レコードの優先クラスは分類時点のフォロー集合で確定し、以降フォロー集合や
// チャンネル状態が変化しても変更されない。
package composer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/vinefeed/internal/eventsource"
	"github.com/hitoshi/vinefeed/internal/metrics"
	"github.com/hitoshi/vinefeed/internal/model"
	"github.com/hitoshi/vinefeed/internal/security"
)

// State はコンポーザーのチャンネル状態を表す。
type State string

const (
	// StateUninitialized は初期化前の状態。
	StateUninitialized State = "uninitialized"
	// StateSocialOnly はフォロー中の作者のみを購読している状態。
	StateSocialOnly State = "social_only"
	// StateDiscoveryOnly はオープンチャンネルのみを購読している状態。
	StateDiscoveryOnly State = "discovery_only"
	// StateSocialAndDiscovery は両チャンネルを購読している状態。
	StateSocialAndDiscovery State = "social_and_discovery"
)

// FeedInserter はコンポーザーが挿入を委譲するフィードのインターフェース。
type FeedInserter interface {
	// Insert はレコードを指定クラスでフィードに挿入する。冪等。
	Insert(rec *model.VideoRecord, class model.PriorityClass) error
}

// ProfileResolver は作者プロフィールの一括解決のインターフェース。
type ProfileResolver interface {
	// ResolveMany は作者pubkey集合のプロフィールを解決して返す。
	ResolveMany(ctx context.Context, pubkeys []string) map[string]*model.Profile
}

// Config はコンポーザーの設定パラメータ。
type Config struct {
	// SocialThreshold はディスカバリーチャンネルを開くソーシャル到着数の閾値。
	SocialThreshold int
	// Following はフォロー中の作者pubkey集合。
	Following []string
	// FallbackAuthors はフォローが空の場合に代わりに購読する固定作者集合。
	// 空の場合は無制限のディスカバリー購読となる。
	FallbackAuthors []string
	// SubscribeLimit は購読1本あたりの初期配信上限。
	SubscribeLimit int
}

// Composer はイベントソースのチャンネル制御と優先クラス分類を行う。
type Composer struct {
	source    eventsource.Source
	feed      FeedInserter
	profiles  ProfileResolver
	guard     security.MediaGuardService
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
	collector metrics.Collector
	cfg       Config

	mu             sync.Mutex
	state          State
	following      map[string]struct{}
	socialArrivals int
	discoveryFired bool
}

// New はComposerの新しいインスタンスを生成する。
func New(
	source eventsource.Source,
	feed FeedInserter,
	profiles ProfileResolver,
	guard security.MediaGuardService,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
	collector metrics.Collector,
	cfg Config,
) *Composer {
	if cfg.SocialThreshold <= 0 {
		cfg.SocialThreshold = 5
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	following := make(map[string]struct{}, len(cfg.Following))
	for _, pk := range cfg.Following {
		following[pk] = struct{}{}
	}
	return &Composer{
		source:    source,
		feed:      feed,
		profiles:  profiles,
		guard:     guard,
		sanitizer: sanitizer,
		logger:    logger,
		collector: collector,
		cfg:       cfg,
		state:     StateUninitialized,
		following: following,
	}
}

// Initialize はフォロー集合を確認して初期購読を発行する。
// フォローが非空の場合はソーシャル購読（replace=true）でSocialOnlyへ遷移する。
// 空の場合はディスカバリー購読を直接開きDiscoveryOnlyへ遷移する
// （FallbackAuthorsが設定されていればそれを購読し、フィードが空にならないようにする）。
func (c *Composer) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return nil
	}

	if len(c.following) > 0 {
		authors := make([]string, 0, len(c.following))
		for pk := range c.following {
			authors = append(authors, pk)
		}
		if err := c.source.Subscribe(ctx, eventsource.Filter{
			Authors: authors,
			Limit:   c.cfg.SubscribeLimit,
			Replace: true,
		}); err != nil {
			return err
		}
		c.state = StateSocialOnly
		c.logger.Info("composer initialized",
			slog.String("state", string(c.state)),
			slog.Int("following", len(c.following)),
		)
		return nil
	}

	// フォローが空: ソーシャル段階を経ずにディスカバリーを直接開く
	if err := c.source.Subscribe(ctx, eventsource.Filter{
		Authors: c.cfg.FallbackAuthors,
		Limit:   c.cfg.SubscribeLimit,
		Replace: true,
	}); err != nil {
		return err
	}
	c.state = StateDiscoveryOnly
	c.logger.Info("composer initialized",
		slog.String("state", string(c.state)),
		slog.Int("fallback_authors", len(c.cfg.FallbackAuthors)),
	)
	return nil
}

// Run はイベントソースの配信を消費し続ける。
// 同時に配信されたレコードはバッチとしてまとめて処理される。
// コンテキストのキャンセルまたはソースチャンネルのクローズで戻る。
func (c *Composer) Run(ctx context.Context) {
	events := c.source.Events()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("composer stopped")
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Info("event source closed")
				return
			}
			batch := c.drainBatch(ev, events)
			c.handleBatch(ctx, batch)
		}
	}
}

// drainBatch は最初のイベントに続けて、ブロックせずに取り出せるイベントを
// まとめてバッチにする。プロフィール解決の一括化のため。
func (c *Composer) drainBatch(first eventsource.Event, events <-chan eventsource.Event) []eventsource.Event {
	batch := []eventsource.Event{first}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return batch
			}
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// handleBatch は配信バッチを処理する。
// ソースエラーは報告のみ行い、既存のフィード状態は変更しない。
// バッチ内のレコード1件の失敗が他のレコードの処理を妨げることはない。
func (c *Composer) handleBatch(ctx context.Context, batch []eventsource.Event) {
	var records []*model.VideoRecord
	for _, ev := range batch {
		switch {
		case ev.Err != nil:
			c.collector.RecordSourceError()
			c.logger.Warn("event source error reported",
				slog.String("error", ev.Err.Error()),
			)
		case ev.EndOfStored:
			c.logger.Info("end of stored events received")
		case ev.Record != nil:
			records = append(records, ev.Record)
		}
	}
	if len(records) == 0 {
		return
	}

	// バッチ内の相異なる作者に対して1回の一括プロフィール解決を発行する
	authors := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Author]; !dup {
			seen[rec.Author] = struct{}{}
			authors = append(authors, rec.Author)
		}
	}
	if c.profiles != nil {
		c.profiles.ResolveMany(ctx, authors)
	}

	for _, rec := range records {
		c.handleRecord(ctx, rec)
	}
}

// handleRecord はレコード1件を検証・サニタイズ・分類してフィードへ挿入する。
func (c *Composer) handleRecord(ctx context.Context, rec *model.VideoRecord) {
	if err := rec.Validate(); err != nil {
		c.collector.RecordValidationReject()
		c.logger.Warn("record rejected",
			slog.String("video_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := c.guard.ValidateURL(rec.MediaURL); err != nil {
		c.collector.RecordValidationReject()
		blocked := model.NewMediaURLBlockedError(err.Error())
		c.logger.Warn("record rejected",
			slog.String("video_id", rec.ID),
			slog.String("code", blocked.Code),
			slog.String("error", err.Error()),
		)
		return
	}

	sanitized := c.sanitizeRecord(rec)
	class := c.classify(sanitized.Author)

	if err := c.feed.Insert(sanitized, class); err != nil {
		c.logger.Warn("feed insert rejected",
			slog.String("video_id", sanitized.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if class == model.ClassSocial {
		c.onSocialArrival(ctx)
	}
}

// sanitizeRecord はレコードのテキストフィールドをサニタイズしたコピーを返す。
// レコードはイミュータブルのため、新しいレコードを構築する。
func (c *Composer) sanitizeRecord(rec *model.VideoRecord) *model.VideoRecord {
	out := *rec
	out.Title = c.sanitizer.Sanitize(rec.Title)
	out.Description = c.sanitizer.Sanitize(rec.Description)
	if len(rec.Hashtags) > 0 {
		tags := make([]string, 0, len(rec.Hashtags))
		for _, t := range rec.Hashtags {
			if clean := c.sanitizer.SanitizeHashtag(t); clean != "" {
				tags = append(tags, clean)
			}
		}
		out.Hashtags = tags
	}
	return &out
}

// classify はレコードの優先クラスを分類時点のフォロー集合で決定する。
func (c *Composer) classify(author string) model.PriorityClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.following[author]; ok {
		return model.ClassSocial
	}
	return model.ClassDiscovery
}

// onSocialArrival はソーシャルクラスの到着を数え、閾値到達時に
// ディスカバリーチャンネルを開く。
func (c *Composer) onSocialArrival(ctx context.Context) {
	c.mu.Lock()
	c.socialArrivals++
	shouldFire := c.state == StateSocialOnly &&
		!c.discoveryFired &&
		c.socialArrivals >= c.cfg.SocialThreshold
	c.mu.Unlock()

	if shouldFire {
		c.triggerDiscovery(ctx)
	}
}

// ForceDiscoveryTrigger はディスカバリーチャンネルの明示的トリガー。
// 何度呼び出しても安全であり、SocialOnly状態での最初の呼び出しのみ効果を持つ。
func (c *Composer) ForceDiscoveryTrigger(ctx context.Context) {
	c.triggerDiscovery(ctx)
}

// triggerDiscovery はディスカバリー購読を追加で1回だけ発行する。
// この遷移はセッション中に最大1回であり、2回目以降の呼び出しは何もしない。
func (c *Composer) triggerDiscovery(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateSocialOnly || c.discoveryFired {
		c.mu.Unlock()
		return
	}
	c.discoveryFired = true
	c.mu.Unlock()

	// 既存のソーシャル購読に並行してオープン購読を追加する（replace=false）
	if err := c.source.Subscribe(ctx, eventsource.Filter{
		Authors: nil,
		Limit:   c.cfg.SubscribeLimit,
		Replace: false,
	}); err != nil {
		c.collector.RecordSourceError()
		c.logger.Error("discovery subscribe failed",
			slog.String("error", err.Error()),
		)
		// 購読に失敗しても状態は進める: 再試行はソースの再接続処理が担う
	}

	c.mu.Lock()
	c.state = StateSocialAndDiscovery
	c.mu.Unlock()

	c.logger.Info("discovery channel opened",
		slog.Int("social_arrivals", c.SocialArrivals()),
	)
}

// State は現在のチャンネル状態を返す。
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocialArrivals はこれまでのソーシャルクラス到着数を返す。
func (c *Composer) SocialArrivals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socialArrivals
}
