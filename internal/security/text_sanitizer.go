// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はメッセージや商品説明などユーザー入力のテキストから
// HTMLを取り除き、プレーンテキストとして保存できる形にする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleなどの要素は内容ごと除去される。
	// 文字参照はデコードして返すため、"A & B" は入力のまま保存される。
	// 前後の空白は除去する。
	Sanitize(text string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyはスレッドセーフに使用できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	stripped := s.policy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
