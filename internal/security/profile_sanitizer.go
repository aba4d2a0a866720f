package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxDisplayNameLength = 255
	maxAvatarURLLength   = 2048
)

// ProfileSanitizer は外部IdPから受け取ったプロフィール情報を保存前に無害化する。
// bluemondayのポリシーはスレッドセーフなので、1つのインスタンスを共有してよい。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
// 表示名はタグを一切許可しないStrictPolicyで処理する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// DisplayName はHTMLタグを除去したプレーンテキストの表示名を返す。
// 制御文字を空白に置き換え、255文字で切り詰める。
func (s *ProfileSanitizer) DisplayName(raw string) string {
	// StrictPolicyはエンティティをエスケープして返すため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > maxDisplayNameLength {
		text = string([]rune(text)[:maxDisplayNameLength])
	}
	return text
}

// AvatarURL は公開ホストのhttps URLのみを返す。条件を満たさない場合は空文字列。
func (s *ProfileSanitizer) AvatarURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxAvatarURLLength {
		return ""
	}
	if err := ValidatePublicHTTPSURL(raw); err != nil {
		return ""
	}
	return raw
}
