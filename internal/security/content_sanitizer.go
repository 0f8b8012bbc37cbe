// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はユーザー入力（メッセージ本文、物件の説明文など）を
// 保存前にサニタイズする。bluemondayの許可リストベースのポリシーを使う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力のサニタイズ機能のインターフェース。
type ContentSanitizerService interface {
	// PlainText は全てのタグを除去したプレーンテキストを返す。前後の空白は除去する。
	// HTMLエンティティは元の文字に戻す（表示側でエスケープする前提）。
	PlainText(raw string) string

	// ListingHTML は物件説明文向けに最小限の書式タグのみ残したHTMLを返す。
	// 許可タグ: p, br, ul, ol, li, strong, em。属性は全て除去する。
	ListingHTML(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	strict  *bluemonday.Policy
	listing *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	listing := bluemonday.NewPolicy()
	listing.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	return &contentSanitizer{
		strict:  bluemonday.StrictPolicy(),
		listing: listing,
	}
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// PlainText は全てのタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// ListingHTML は物件説明文向けにサニタイズしたHTMLを返す。
func (s *contentSanitizer) ListingHTML(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.listing.Sanitize(raw))
}
