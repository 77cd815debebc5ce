package model

import (
	"errors"
	"fmt"
)

// FeedError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type FeedError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, load, source, capacity, system
	Action   string // ユーザー向け対処方法
	Cause    error  // 元エラー（存在する場合）
}

// Error はerrorインターフェースを実装する。
func (e *FeedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元エラーを返す。errors.Is / errors.As 連携用。
func (e *FeedError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeMediaURLBlocked  = "MEDIA_URL_BLOCKED"
	ErrCodeLoadFailed       = "LOAD_FAILED"
	ErrCodeLoadTimeout      = "LOAD_TIMEOUT"
	ErrCodeSourceError      = "SOURCE_ERROR"
	ErrCodeCapacityExceeded = "CAPACITY_EXCEEDED"
	ErrCodeVideoNotFound    = "VIDEO_NOT_FOUND"
)

// NewValidationError は不正レコードの検証エラーを生成する。
// insert時に拒否され、フィードには決して入らない。
func NewValidationError(reason string) *FeedError {
	return &FeedError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("不正なレコードです: %s", reason),
		Category: "validation",
		Action:   "レコードの内容を確認してください。",
	}
}

// NewMediaURLBlockedError はメディアURLがセキュリティポリシーで拒否されたエラーを生成する。
func NewMediaURLBlockedError(reason string) *FeedError {
	return &FeedError{
		Code:     ErrCodeMediaURLBlocked,
		Message:  fmt.Sprintf("メディアURLがブロックされました: %s", reason),
		Category: "validation",
		Action:   "http/httpsの公開URLのみが許可されます。",
	}
}

// NewLoadFailureError は再生リソース初期化失敗エラーを生成する。
// 対象IDのPlaybackStateにのみ反映され、呼び出し元へはスローされない。
func NewLoadFailureError(videoID string, cause error) *FeedError {
	return &FeedError{
		Code:     ErrCodeLoadFailed,
		Message:  fmt.Sprintf("動画リソースの初期化に失敗しました: %s", videoID),
		Category: "load",
		Action:   "ウィンドウ内であれば自動的に再試行されます。",
		Cause:    cause,
	}
}

// NewLoadTimeoutError はロードタイムアウトのエラーを生成する。
// タイムアウトはロード失敗と同一に扱われる（Failedに遷移し、リトライ対象）。
func NewLoadTimeoutError(videoID string) *FeedError {
	return &FeedError{
		Code:     ErrCodeLoadTimeout,
		Message:  fmt.Sprintf("動画リソースの初期化がタイムアウトしました: %s", videoID),
		Category: "load",
		Action:   "ウィンドウ内であれば自動的に再試行されます。",
	}
}

// NewSourceError は上流チャンネル障害のエラーを生成する。
// 既存のフィード状態は保持され、変更されない。
func NewSourceError(cause error) *FeedError {
	return &FeedError{
		Code:     ErrCodeSourceError,
		Message:  "イベントソースでエラーが発生しました。",
		Category: "source",
		Action:   "接続は自動的に再試行されます。既存のフィードは保持されます。",
		Cause:    cause,
	}
}

// NewCapacityExceededError は容量超過の防御的エラーを生成する。
// 追い出しで容量を確保できない場合、新規ロードはクラッシュせず延期される。
func NewCapacityExceededError(videoID string) *FeedError {
	return &FeedError{
		Code:     ErrCodeCapacityExceeded,
		Message:  fmt.Sprintf("リソースプールの容量を確保できないためロードを延期しました: %s", videoID),
		Category: "capacity",
		Action:   "ウィンドウ移動により自動的に再スケジュールされます。",
	}
}

// NewVideoNotFoundError は未知の動画IDのエラーを生成する。
func NewVideoNotFoundError(videoID string) *FeedError {
	return &FeedError{
		Code:     ErrCodeVideoNotFound,
		Message:  fmt.Sprintf("指定された動画が見つかりません: %s", videoID),
		Category: "validation",
		Action:   "動画IDを確認してください。",
	}
}

// IsCode はerrがFeedErrorであり、指定コードを持つかを判定する。
func IsCode(err error, code string) bool {
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
