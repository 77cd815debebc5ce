package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/vinefeed/internal/middleware"
	"github.com/hitoshi/vinefeed/internal/model"
)

// FeedCacheInterface はフィードハンドラーが必要とするフィードキャッシュのインターフェース。
type FeedCacheInterface interface {
	// Videos は現在の描画順のレコードスナップショットを返す。
	Videos() []*model.VideoRecord
	// Len はフィードの現在長を返す。
	Len() int
	// GetState は指定IDの再生状態スナップショットを返す。
	GetState(videoID string) (*model.PlaybackState, bool)
	// PreloadAroundIndex は指定位置を中心にプリロードウィンドウを適用する。
	PreloadAroundIndex(index int)
	// HandleMemoryPressure はメモリ圧力トリムを実行する。
	HandleMemoryPressure()
	// DisposeVideo は指定IDのリソースを強制解放する。
	DisposeVideo(videoID string) error
	// Subscribe はフィード変更イベントの購読チャンネルと購読解除関数を返す。
	Subscribe() (<-chan model.FeedEvent, func())
}

// ProfileResolverInterface はフィードハンドラーが必要とするプロフィール解決のインターフェース。
type ProfileResolverInterface interface {
	// ResolveMany は作者pubkey集合のプロフィールを解決して返す。
	ResolveMany(ctx context.Context, pubkeys []string) map[string]*model.Profile
}

// ComposerInterface はフィードハンドラーが必要とするコンポーザーのインターフェース。
type ComposerInterface interface {
	// ForceDiscoveryTrigger はディスカバリーチャンネルを明示的に開く。冪等。
	ForceDiscoveryTrigger(ctx context.Context)
}

// FeedHandler はフィード参照と操作のHTTPハンドラー。
type FeedHandler struct {
	cache    FeedCacheInterface
	profiles ProfileResolverInterface
	composer ComposerInterface
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(cache FeedCacheInterface, profiles ProfileResolverInterface, composer ComposerInterface) *FeedHandler {
	return &FeedHandler{
		cache:    cache,
		profiles: profiles,
		composer: composer,
	}
}

// --- レスポンス型 ---

// videoResponse はフィード内の動画1件のレスポンス。
type videoResponse struct {
	ID            string   `json:"id"`
	Author        string   `json:"author"`
	AuthorName    string   `json:"author_name,omitempty"`
	AuthorPicture string   `json:"author_picture,omitempty"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	MediaURL      string   `json:"media_url"`
	ThumbnailURL  string   `json:"thumbnail_url,omitempty"`
	DurationSec   int      `json:"duration_sec,omitempty"`
	Hashtags      []string `json:"hashtags,omitempty"`
	IsRepost      bool     `json:"is_repost,omitempty"`
	IsFlagged     bool     `json:"is_flagged,omitempty"`
	Status        string   `json:"status"`
}

// feedResponse はフィード一覧のレスポンス。
type feedResponse struct {
	Videos []videoResponse `json:"videos"`
	Length int             `json:"length"`
}

// preloadRequest はプリロード要求のボディ。
type preloadRequest struct {
	Index int `json:"index"`
}

// GetFeed は現在の描画順のフィードを返す。
// GET /api/feed
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	records := h.cache.Videos()

	authors := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Author]; !dup {
			seen[rec.Author] = struct{}{}
			authors = append(authors, rec.Author)
		}
	}
	profiles := h.profiles.ResolveMany(r.Context(), authors)

	resp := feedResponse{
		Videos: make([]videoResponse, len(records)),
		Length: len(records),
	}
	for i, rec := range records {
		v := videoResponse{
			ID:           rec.ID,
			Author:       rec.Author,
			Title:        rec.Title,
			Description:  rec.Description,
			MediaURL:     rec.MediaURL,
			ThumbnailURL: rec.ThumbnailURL,
			DurationSec:  int(rec.Duration.Seconds()),
			Hashtags:     rec.Hashtags,
			IsRepost:     rec.IsRepost,
			IsFlagged:    rec.IsFlagged,
		}
		if p, ok := profiles[rec.Author]; ok {
			v.AuthorName = p.Name
			if p.DisplayName != "" {
				v.AuthorName = p.DisplayName
			}
			v.AuthorPicture = p.Picture
		}
		if state, ok := h.cache.GetState(rec.ID); ok {
			v.Status = string(state.Status)
		}
		resp.Videos[i] = v
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Preload はプリロードウィンドウの中心位置を移動する。
// POST /api/feed/preload {"index": 3}
func (h *FeedHandler) Preload(w http.ResponseWriter, r *http.Request) {
	var req preloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("invalid request body"))
		return
	}

	// ウィンドウ適用と追い出しは同期的に行われ、ロード自体は非同期に進む
	h.cache.PreloadAroundIndex(req.Index)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"index": req.Index})
}

// TriggerDiscovery はディスカバリーチャンネルを明示的に開く。
// POST /api/feed/discovery
func (h *FeedHandler) TriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	h.composer.ForceDiscoveryTrigger(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// MemoryPressure はメモリ圧力トリムを実行する。
// POST /api/system/memory-pressure
func (h *FeedHandler) MemoryPressure(w http.ResponseWriter, r *http.Request) {
	h.cache.HandleMemoryPressure()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"length": h.cache.Len()})
}
