package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vinefeed/internal/middleware"
	"github.com/hitoshi/vinefeed/internal/model"
)

// SeenTrackerInterface は視聴履歴記録のインターフェース。
type SeenTrackerInterface interface {
	// MarkSeen は指定IDを視聴済みとして記録する。冪等。
	MarkSeen(ctx context.Context, videoID string) error
}

// VideoHandler は動画単位の状態参照と操作のHTTPハンドラー。
type VideoHandler struct {
	cache FeedCacheInterface
	seen  SeenTrackerInterface
}

// NewVideoHandler はVideoHandlerを生成する。
func NewVideoHandler(cache FeedCacheInterface, seen SeenTrackerInterface) *VideoHandler {
	return &VideoHandler{
		cache: cache,
		seen:  seen,
	}
}

// playbackStateResponse は再生状態のレスポンス。
type playbackStateResponse struct {
	VideoID       string `json:"video_id"`
	Status        string `json:"status"`
	CanRetry      bool   `json:"can_retry"`
	Error         string `json:"error,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
}

// GetState は指定動画の再生状態を返す。
// GET /api/videos/:id/state
func (h *VideoHandler) GetState(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	state, ok := h.cache.GetState(videoID)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound,
			model.NewVideoNotFoundError(videoID))
		return
	}

	resp := playbackStateResponse{
		VideoID:  state.VideoID,
		Status:   string(state.Status),
		CanRetry: state.CanRetry,
	}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	if state.Handle != nil {
		resp.ContentType = state.Handle.ContentType()
		resp.ContentLength = state.Handle.ContentLength()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MarkSeen は指定動画を視聴済みとして記録する。
// POST /api/videos/:id/seen
func (h *VideoHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	if err := h.seen.MarkSeen(r.Context(), videoID); err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Dispose は指定動画のリソースを強制解放する。
// POST /api/videos/:id/dispose
func (h *VideoHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	if err := h.cache.DisposeVideo(videoID); err != nil {
		handleFeedError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleFeedError はFeedErrorをHTTPステータスへ対応付けてレスポンスを書き込む。
func handleFeedError(w http.ResponseWriter, err error) {
	var fe *model.FeedError
	if !errors.As(err, &fe) {
		middleware.WriteInternalServerError(w)
		return
	}

	status := http.StatusInternalServerError
	switch fe.Code {
	case model.ErrCodeVideoNotFound:
		status = http.StatusNotFound
	case model.ErrCodeValidationFailed, model.ErrCodeMediaURLBlocked:
		status = http.StatusBadRequest
	case model.ErrCodeCapacityExceeded:
		status = http.StatusServiceUnavailable
	}
	middleware.WriteErrorResponse(w, status, fe)
}
