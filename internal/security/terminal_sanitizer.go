package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TerminalSanitizer はアシスタントの応答を端末に表示する前に無害化する。
// HTMLタグ（script/styleは中身ごと）を除去し、
// 端末制御シーケンスを取り除いたプレーンテキストを返す。
// bluemondayのポリシーはスレッドセーフなので共有してよい。
type TerminalSanitizer struct {
	policy *bluemonday.Policy
}

// NewTerminalSanitizer はTerminalSanitizerを生成する。
func NewTerminalSanitizer() *TerminalSanitizer {
	return &TerminalSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はテキストを端末表示用に無害化する。
// 改行とタブは保持する。同一入力に対して常に同一出力を返す。
func (s *TerminalSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(text))
	return stripControl(stripped)
}

// stripControl はESCで始まる制御シーケンスと、改行・タブ以外の制御文字を取り除く。
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\x1b':
			i = skipEscape(runes, i)
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == '\r':
			// CRLFのCRは落とし、単独のCRは改行として扱う
			if i+1 >= len(runes) || runes[i+1] != '\n' {
				b.WriteRune('\n')
			}
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// skipEscape はruns[i]のESCから始まるシーケンスの最後の位置を返す。
// CSI（ESC [ ... 終端文字）とOSC（ESC ] ... BEL または ESC \）を扱う。
func skipEscape(runes []rune, i int) int {
	if i+1 >= len(runes) {
		return i
	}
	switch runes[i+1] {
	case '[':
		for j := i + 2; j < len(runes); j++ {
			if runes[j] >= 0x40 && runes[j] <= 0x7e {
				return j
			}
		}
		return len(runes) - 1
	case ']':
		for j := i + 2; j < len(runes); j++ {
			if runes[j] == '\a' {
				return j
			}
			if runes[j] == '\x1b' && j+1 < len(runes) && runes[j+1] == '\\' {
				return j + 1
			}
		}
		return len(runes) - 1
	default:
		return i + 1
	}
}
