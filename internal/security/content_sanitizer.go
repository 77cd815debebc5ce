// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はリレーから受信した動画のタイトル・説明文を
// サニタイズし、XSS攻撃などのセキュリティリスクからユーザーを保護する。
// リレーイベントの内容は署名こそ検証されるが本文は完全に信頼できないため、
// フィードに入る前にすべてのテキストフィールドを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はテキストコンテンツのサニタイズ機能のインターフェースを定義する。
// レコードのフィード挿入前およびAPI応答時に使用される。
type ContentSanitizerService interface {
	// Sanitize はテキストからHTMLタグをすべて除去したプレーンテキストを返す。
	// 動画のタイトル・説明文はプレーンテキストとして扱うため、StrictPolicyを使用する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string

	// SanitizeHashtag はハッシュタグとして安全な文字列に正規化する。
	// HTMLタグの除去に加え、前後の空白と先頭の#を取り除き小文字化する。
	SanitizeHashtag(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// リレー由来のテキストはプレーンテキストとして扱うため、すべてのタグを
// 除去するStrictPolicyを使用する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストからHTMLタグをすべて除去したプレーンテキストを返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// SanitizeHashtag はハッシュタグとして安全な文字列に正規化する。
func (s *contentSanitizer) SanitizeHashtag(raw string) string {
	tag := strings.TrimSpace(s.policy.Sanitize(raw))
	tag = strings.TrimPrefix(tag, "#")
	return strings.ToLower(tag)
}
