package model

// PlaybackStatus は動画1件ごとの再生リソースの状態を表す。
//
// 状態遷移:
//
//	NotLoaded → Loading → Ready | Failed
//	Failed → Loading（retryCount < maxRetries の間のみ）
//	任意の状態 → Disposing → 削除
//
// 上記以外の遷移は発生しない（単調性）。
type PlaybackStatus string

const (
	// StatusNotLoaded はリソース未初期化の状態。
	StatusNotLoaded PlaybackStatus = "not_loaded"
	// StatusLoading はリソース初期化中の状態。
	StatusLoading PlaybackStatus = "loading"
	// StatusReady はリソース初期化済みで再生可能な状態。
	StatusReady PlaybackStatus = "ready"
	// StatusFailed はリソース初期化に失敗した状態。ウィンドウ内再突入時にリトライされ得る。
	StatusFailed PlaybackStatus = "failed"
	// StatusDisposing はリソース破棄中の状態。この後エントリは削除される。
	StatusDisposing PlaybackStatus = "disposing"
)

// ResourceHandle は初期化済みの再生可能メディアリソースへの不透明ハンドル。
// 保持中はVideoFeedCacheが排他的に所有し、追い出し時にCloseされる。
type ResourceHandle interface {
	// VideoID はこのハンドルが属する動画IDを返す。
	VideoID() string
	// ContentType はメディアのContent-Typeを返す。
	ContentType() string
	// ContentLength はメディアのバイト長を返す（不明な場合は-1）。
	ContentLength() int64
	// Close はリソースを解放する。複数回呼び出しても安全であること。
	Close() error
}

// PlaybackState は動画1件の再生状態のスナップショット。
// GetStateが返す値型であり、呼び出し側が保持しても内部状態と共有されない。
// リトライ回数そのものは公開せず、CanRetryのみを公開する。
type PlaybackState struct {
	VideoID string
	Status  PlaybackStatus
	// Handle はStatusがReadyのときのみ非nil。
	Handle ResourceHandle
	// Err はStatusがFailedのときのみ非nil。
	Err error
	// CanRetry はFailed状態からの再試行が許可されているかを示す。
	// Failed以外の状態では常にfalse。
	CanRetry bool
}
