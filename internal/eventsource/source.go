// Package eventsource は動画メタデータのイベントソース抽象を定義する。
// リレー実装（internal/relay）とテスト用モック実装が同一のインターフェースを満たす。
// 実装のバリエーションはインターフェースの実装で表現し、継承チェーンは使用しない。
package eventsource

import (
	"context"

	"github.com/hitoshi/vinefeed/internal/model"
)

// Filter は購読フィルタを表す。
// Authorsがnilの場合はオープン（ディスカバリー）購読となる。
type Filter struct {
	// Authors は購読対象の作者pubkey集合。nilは無制限を意味する。
	Authors []string
	// Hashtags は購読対象のハッシュタグ集合。nilは無制限を意味する。
	Hashtags []string
	// Limit は初期配信の最大件数。
	Limit int
	// Replace がtrueの場合、同一論理購読の以前の配信状態を破棄してから再購読する。
	// falseの場合は既存購読に並行して追加される。
	Replace bool
}

// Event はイベントソースからの配信1件を表す。
// Record、EndOfStored、Errのうちちょうど1つが意味を持つ。
type Event struct {
	// Record は受信した動画レコード。
	Record *model.VideoRecord
	// EndOfStored は保存済みイベントの配信完了マーカー（リレーのEOSE相当）。
	EndOfStored bool
	// Err はソース障害の通知。フィード状態の変更を伴わない。
	Err error
}

// Source は動画メタデータのイベントソースの能力インターフェース。
type Source interface {
	// Subscribe は指定フィルタで購読を開始する。
	// 配信はEventsチャンネル経由で非同期に行われる。
	Subscribe(ctx context.Context, f Filter) error
	// Events は配信チャンネルを返す。チャンネルはソースのClose時に閉じられる。
	Events() <-chan Event
	// HasEvents は未消費のイベントが存在するかを返す。
	HasEvents() bool
}
