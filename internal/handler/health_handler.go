package handler

import (
	"encoding/json"
	"net/http"
)

// SourceStatusInterface はヘルスチェックが参照するイベントソースのインターフェース。
type SourceStatusInterface interface {
	// HasEvents は未消費のイベントが存在するかを返す。
	HasEvents() bool
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	cache  FeedCacheInterface
	source SourceStatusInterface
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(cache FeedCacheInterface, source SourceStatusInterface) *HealthHandler {
	return &HealthHandler{
		cache:  cache,
		source: source,
	}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status        string `json:"status"`
	FeedLength    int    `json:"feed_length"`
	PendingEvents bool   `json:"pending_events"`
}

// Health はサービスの稼働状態を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		FeedLength: h.cache.Len(),
	}
	if h.source != nil {
		resp.PendingEvents = h.source.HasEvents()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
