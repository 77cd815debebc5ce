// Package player は再生リソースのライフサイクル管理を提供する。
// リソースハンドル、容量制限付きプール、ロード処理、一時停止レジストリを含む。
package player

import (
	"sync"

	"github.com/hitoshi/vinefeed/internal/model"
)

// probedHandle はHTTPプローブにより初期化されたリソースハンドル。
// model.ResourceHandleを実装する。
type probedHandle struct {
	videoID       string
	contentType   string
	contentLength int64

	mu     sync.Mutex
	closed bool
}

// NewHandle は初期化済みリソースハンドルを生成する。
// contentLengthが不明な場合は-1を渡す。
func NewHandle(videoID, contentType string, contentLength int64) model.ResourceHandle {
	return &probedHandle{
		videoID:       videoID,
		contentType:   contentType,
		contentLength: contentLength,
	}
}

// VideoID はこのハンドルが属する動画IDを返す。
func (h *probedHandle) VideoID() string {
	return h.videoID
}

// ContentType はメディアのContent-Typeを返す。
func (h *probedHandle) ContentType() string {
	return h.contentType
}

// ContentLength はメディアのバイト長を返す（不明な場合は-1）。
func (h *probedHandle) ContentLength() int64 {
	return h.contentLength
}

// Close はリソースを解放する。冪等。
func (h *probedHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Controller は1本の動画の再生制御を提供する。
// ハンドルがReadyになったタイミングで生成され、追い出し時に破棄される。
type Controller struct {
	videoID string
	handle  model.ResourceHandle

	mu     sync.Mutex
	paused bool
}

// NewController は動画1本の再生コントローラを生成する。
func NewController(videoID string, handle model.ResourceHandle) *Controller {
	return &Controller{
		videoID: videoID,
		handle:  handle,
	}
}

// VideoID はこのコントローラが属する動画IDを返す。
func (c *Controller) VideoID() string {
	return c.videoID
}

// Handle は保持中のリソースハンドルを返す。
func (c *Controller) Handle() model.ResourceHandle {
	return c.handle
}

// Pause は再生を一時停止する。冪等。
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume は再生を再開する。冪等。
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// IsPaused は一時停止中かを返す。
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
