package model

// FeedEventType はフィード変更イベントの種別を表す。
// 「何かが変わった」という汎用通知ではなく、型付きイベントとして配信することで
// テストが変更シーケンスを正確に検証できるようにする。
type FeedEventType string

const (
	// EventInserted はレコードがフィードに挿入されたことを示す。
	EventInserted FeedEventType = "inserted"
	// EventStateChanged は再生状態が遷移したことを示す。
	EventStateChanged FeedEventType = "state_changed"
	// EventEvicted はレコードがフィードから追い出されたことを示す。
	EventEvicted FeedEventType = "evicted"
)

// FeedEvent はフィードの変更1件を表すイベント。
type FeedEvent struct {
	Type    FeedEventType
	VideoID string
	// Class は対象レコードの優先クラス。
	Class PriorityClass
	// Index はInserted時の挿入位置。それ以外の種別では-1。
	Index int
	// Status はStateChanged時の遷移後ステータス。それ以外の種別では空。
	Status PlaybackStatus
}
