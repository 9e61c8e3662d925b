// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はIdPやユーザー入力から受け取った表示名からマークアップを除去する。
// bluemondayのStrictPolicyを使用し、タグを一切通過させない。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数（users.nameの列幅に合わせる）。
const MaxNameLength = 255

// NameSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// SanitizeName はタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	SanitizeName(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName はタグを除去した表示名を返す。
// StrictPolicyはテキストをHTMLエスケープして返すため、保存前にプレーンテキストへ戻す。
// 応答時のエスケープはJSONエンコーダが担う。
func (s *nameSanitizer) SanitizeName(raw string) string {
	if raw == "" {
		return ""
	}

	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxNameLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:MaxNameLength])
	}
	return cleaned
}
