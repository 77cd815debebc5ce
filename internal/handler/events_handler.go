package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseHeartbeatInterval はSSE接続維持のためのコメント行送信間隔。
const sseHeartbeatInterval = 15 * time.Second

// EventsHandler はフィード変更イベントのServer-Sent Eventsハンドラー。
type EventsHandler struct {
	cache FeedCacheInterface
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(cache FeedCacheInterface) *EventsHandler {
	return &EventsHandler{cache: cache}
}

// feedEventPayload はSSEのdata行に載せるイベントのJSON表現。
type feedEventPayload struct {
	Type    string `json:"type"`
	VideoID string `json:"video_id"`
	Class   string `json:"class,omitempty"`
	Index   int    `json:"index"`
	Status  string `json:"status,omitempty"`
}

// Stream はフィード変更イベントをSSEで配信する。
// GET /api/feed/events
// クライアントの切断またはキャッシュのクローズまで配信を続ける。
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.cache.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(feedEventPayload{
				Type:    string(ev.Type),
				VideoID: ev.VideoID,
				Class:   string(ev.Class),
				Index:   ev.Index,
				Status:  string(ev.Status),
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
