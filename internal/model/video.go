// Package model はドメインモデルを定義する。
package model

import "time"

// PriorityClass はフィード内の優先クラスを表す。
// ソーシャル（フォロー中の作者）がディスカバリー（オープンチャンネル）より常に先行する。
// 分類時に確定し、以降変更されない。
type PriorityClass string

const (
	// ClassSocial はフォロー中の作者による動画を示す。
	ClassSocial PriorityClass = "social"
	// ClassDiscovery はオープンチャンネル由来の動画を示す。
	ClassDiscovery PriorityClass = "discovery"
)

// VideoRecord はリレーから受信した短尺動画のメタデータレコードを表す。
// IDはコンテンツアドレスなイベントIDであり、重複排除キーとして使用する。
// CreatedAtは発行者の自己申告値であり、並び順の根拠には使用しない
// （並び順はフィード側のローカル到着順で決まる）。
// 構築後はイミュータブルとして扱う。
type VideoRecord struct {
	ID           string
	Author       string
	CreatedAt    time.Time
	Title        string
	Description  string
	MediaURL     string
	ThumbnailURL string
	Duration     time.Duration
	Hashtags     []string
	IsRepost     bool
	IsFlagged    bool
}

// Validate はレコードの必須フィールドを検証する。
// ID、作者、メディアURLのいずれかが欠けている場合はValidationErrorを返す。
func (v *VideoRecord) Validate() error {
	if v == nil {
		return NewValidationError("record is nil")
	}
	if v.ID == "" {
		return NewValidationError("missing video id")
	}
	if v.Author == "" {
		return NewValidationError("missing author")
	}
	if v.MediaURL == "" {
		return NewValidationError("missing media url")
	}
	return nil
}

// Profile は作者のプロフィールメタデータ（kind-0イベント由来）を表す。
type Profile struct {
	Pubkey      string
	Name        string
	DisplayName string
	Picture     string
	About       string
}

// ShortPubkey はUI表示用に短縮したpubkeyを返す。
// プロフィール未解決時のフォールバック表示名として使用する。
func ShortPubkey(pubkey string) string {
	if len(pubkey) <= 12 {
		return pubkey
	}
	return pubkey[:12] + "..."
}
