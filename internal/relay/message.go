// Package relay はNostrリレーへのWebSocketクライアントを提供する。
// 動画イベント（kind 21/22）の購読とkind-0プロフィールの一括取得を行い、
// eventsource.Sourceおよびprofile.Fetcherとして機能する。
package relay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/vinefeed/internal/model"
)

// Nostrイベントkind。
const (
	// KindProfile はプロフィールメタデータ（NIP-01 kind 0）。
	KindProfile = 0
	// KindVideo は通常動画イベント（NIP-71 kind 21）。
	KindVideo = 21
	// KindShortVideo は短尺（縦型）動画イベント（NIP-71 kind 22）。
	KindShortVideo = 22
)

// wireEvent はリレーとの間で交換されるNostrイベントのワイヤ表現。
type wireEvent struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// wireFilter はREQフレームに載せる購読フィルタのワイヤ表現。
type wireFilter struct {
	Kinds    []int    `json:"kinds,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Hashtags []string `json:"#t,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// encodeReq はREQフレームをエンコードする。
func encodeReq(subID string, f wireFilter) ([]byte, error) {
	return json.Marshal([]any{"REQ", subID, f})
}

// encodeClose はCLOSEフレームをエンコードする。
func encodeClose(subID string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", subID})
}

// frame はリレーから受信したフレームのデコード結果。
type frame struct {
	// Type はフレーム種別（EVENT、EOSE、NOTICE、CLOSED）。
	Type string
	// SubID はフレームの対象購読ID。NOTICEでは空。
	SubID string
	// Event はEVENTフレームのイベント本体。
	Event *wireEvent
	// Message はNOTICE/CLOSEDフレームのメッセージ。
	Message string
}

// decodeFrame はリレーからの受信フレームをデコードする。
// 未知のフレーム種別はTypeのみ設定して返し、呼び出し側で無視される。
func decodeFrame(data []byte) (*frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode relay frame: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty relay frame")
	}

	var typ string
	if err := json.Unmarshal(raw[0], &typ); err != nil {
		return nil, fmt.Errorf("failed to decode frame type: %w", err)
	}

	f := &frame{Type: typ}
	switch typ {
	case "EVENT":
		if len(raw) < 3 {
			return nil, fmt.Errorf("malformed EVENT frame")
		}
		if err := json.Unmarshal(raw[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("failed to decode subscription id: %w", err)
		}
		var ev wireEvent
		if err := json.Unmarshal(raw[2], &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		f.Event = &ev
	case "EOSE":
		if len(raw) < 2 {
			return nil, fmt.Errorf("malformed EOSE frame")
		}
		if err := json.Unmarshal(raw[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("failed to decode subscription id: %w", err)
		}
	case "CLOSED":
		if len(raw) >= 2 {
			_ = json.Unmarshal(raw[1], &f.SubID)
		}
		if len(raw) >= 3 {
			_ = json.Unmarshal(raw[2], &f.Message)
		}
	case "NOTICE":
		if len(raw) >= 2 {
			_ = json.Unmarshal(raw[1], &f.Message)
		}
	}
	return f, nil
}

// tagValue はタグ配列から指定名の最初のタグの値を返す。
func tagValue(tags [][]string, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// hasTag はタグ配列に指定名のタグが存在するかを返す。
func hasTag(tags [][]string, name string) bool {
	for _, tag := range tags {
		if len(tag) >= 1 && tag[0] == name {
			return true
		}
	}
	return false
}

// imetaURL はimetaタグ（NIP-92）からメディアURLを抽出する。
// imetaタグは["imeta", "url https://...", "m video/mp4", ...]の形式を取る。
func imetaURL(tags [][]string) string {
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "imeta" {
			continue
		}
		for _, field := range tag[1:] {
			if v, ok := strings.CutPrefix(field, "url "); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// recordFromEvent は動画イベントをVideoRecordへ変換する。
// 動画kind以外のイベント、およびメディアURLを持たないイベントにはnilを返す。
func recordFromEvent(ev *wireEvent) *model.VideoRecord {
	if ev == nil || (ev.Kind != KindVideo && ev.Kind != KindShortVideo) {
		return nil
	}

	mediaURL := imetaURL(ev.Tags)
	if mediaURL == "" {
		mediaURL = tagValue(ev.Tags, "url")
	}
	if mediaURL == "" {
		return nil
	}

	var duration time.Duration
	if v := tagValue(ev.Tags, "duration"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			duration = time.Duration(secs) * time.Second
		}
	}

	var hashtags []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "t" && tag[1] != "" {
			hashtags = append(hashtags, tag[1])
		}
	}

	thumb := tagValue(ev.Tags, "thumb")
	if thumb == "" {
		thumb = tagValue(ev.Tags, "image")
	}

	return &model.VideoRecord{
		ID:           ev.ID,
		Author:       ev.Pubkey,
		CreatedAt:    time.Unix(ev.CreatedAt, 0).UTC(),
		Title:        tagValue(ev.Tags, "title"),
		Description:  ev.Content,
		MediaURL:     mediaURL,
		ThumbnailURL: thumb,
		Duration:     duration,
		Hashtags:     hashtags,
		IsRepost:     hasTag(ev.Tags, "repost"),
		IsFlagged:    hasTag(ev.Tags, "content-warning"),
	}
}

// profileContent はkind-0イベントのcontentフィールドのJSON表現。
type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Picture     string `json:"picture"`
	About       string `json:"about"`
}

// profileFromEvent はkind-0イベントをProfileへ変換する。
// kind-0以外のイベント、およびcontentのデコードに失敗した場合はnilを返す。
func profileFromEvent(ev *wireEvent) *model.Profile {
	if ev == nil || ev.Kind != KindProfile {
		return nil
	}
	var content profileContent
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return nil
	}
	return &model.Profile{
		Pubkey:      ev.Pubkey,
		Name:        content.Name,
		DisplayName: content.DisplayName,
		Picture:     content.Picture,
		About:       content.About,
	}
}
