package player

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/vinefeed/internal/model"
	"github.com/hitoshi/vinefeed/internal/security"
)

// ResourceLoader は動画1本の再生リソース初期化のインターフェース。
// テスト時にモックに差し替え可能。
type ResourceLoader interface {
	// Load はレコードのメディアリソースを初期化し、再生可能なハンドルを返す。
	// コンテキストのキャンセル・タイムアウトを尊重すること。
	Load(ctx context.Context, rec *model.VideoRecord) (model.ResourceHandle, error)
}

// ProbeLoader はSSRF防止付きHTTPクライアントでメディアURLをプローブし、
// リソースを初期化するResourceLoader実装。
// 先頭レンジのGETリクエストでメディアの到達性とメタデータを確認する。
type ProbeLoader struct {
	guard  security.MediaGuardService
	client *http.Client
	logger *slog.Logger
}

// NewProbeLoader はProbeLoaderの新しいインスタンスを生成する。
// timeoutはプローブリクエスト全体の上限時間。
func NewProbeLoader(guard security.MediaGuardService, logger *slog.Logger, timeout time.Duration) *ProbeLoader {
	return &ProbeLoader{
		guard:  guard,
		client: guard.NewSafeClient(timeout),
		logger: logger,
	}
}

// Load はメディアURLを検証し、先頭レンジをプローブしてハンドルを返す。
// 2xx以外の応答はロード失敗として扱う。
func (l *ProbeLoader) Load(ctx context.Context, rec *model.VideoRecord) (model.ResourceHandle, error) {
	if err := l.guard.ValidateURL(rec.MediaURL); err != nil {
		return nil, model.NewLoadFailureError(rec.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.MediaURL, nil)
	if err != nil {
		return nil, model.NewLoadFailureError(rec.ID, err)
	}
	// 先頭1バイトのみ取得してメディアの到達性を確認する
	req.Header.Set("Range", "bytes=0-0")

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, model.NewLoadTimeoutError(rec.ID)
		}
		return nil, model.NewLoadFailureError(rec.ID, err)
	}
	defer resp.Body.Close()

	// レンジ未対応サーバーでもボディを読み捨てて接続を再利用可能にする
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewLoadFailureError(rec.ID,
			fmt.Errorf("unexpected status %d from media server", resp.StatusCode))
	}

	contentLength := parseContentLength(resp)

	l.logger.Info("media resource probed",
		slog.String("video_id", rec.ID),
		slog.String("content_type", resp.Header.Get("Content-Type")),
		slog.Int64("content_length", contentLength),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return NewHandle(rec.ID, resp.Header.Get("Content-Type"), contentLength), nil
}

// parseContentLength はレスポンスから実コンテンツ長を取り出す。
// Range応答（206）の場合はContent-Rangeの総量を優先する。
func parseContentLength(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		var start, end, total int64
		if _, err := fmt.Sscanf(resp.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err == nil {
			return total
		}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return -1
}
