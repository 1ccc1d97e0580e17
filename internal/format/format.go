// Package format はタイムスタンプ・数値・血糖値をロケール/タイムゾーン/単位に応じた表示文字列に変換する。
// すべて純粋関数で、値がない場合は "-" を返す。
package format

import (
	"strings"
	"time"
	_ "time/tzdata" // distrolessイメージでもタイムゾーンを解決できるようにする

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/hitoshi/nsai/internal/model"
)

// Placeholder は値が存在しない場合の表示。
const Placeholder = "-"

// mgdlPerMmol はmg/dLとmmol/Lの換算係数。
const mgdlPerMmol = 18.0

// dateLayouts はロケールごとの日付レイアウト。
// 未知のロケールはISO形式にフォールバックする。
var dateLayouts = map[string]string{
	"sv-SE": "2006-01-02",
	"en-US": "01/02/2006",
	"en-GB": "02/01/2006",
	"de":    "02.01.2006",
}

const isoDateLayout = "2006-01-02"

// timestampLayouts はParseTimestampが受け付ける形式。
// バックエンドはタイムゾーンなしのISO文字列を返すことがあり、その場合はUTCとみなす。
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Location はタイムゾーン名を解決する。未知の名前はUTCになる。
func Location(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func dateLayout(locale string) string {
	if l, ok := dateLayouts[locale]; ok {
		return l
	}
	if strings.HasPrefix(locale, "de") {
		return dateLayouts["de"]
	}
	return isoDateLayout
}

// Date は日付をロケールの書式で返す（例: sv-SE は yyyy-mm-dd）。
func Date(t *time.Time, locale, timezone string) string {
	if t == nil {
		return Placeholder
	}
	return t.In(Location(timezone)).Format(dateLayout(locale))
}

// DateTime は日付と時刻（時:分）をロケールの書式で返す。
// en-US のみ12時間表記。
func DateTime(t *time.Time, locale, timezone string) string {
	if t == nil {
		return Placeholder
	}
	local := t.In(Location(timezone))
	date := local.Format(dateLayout(locale))

	switch {
	case locale == "en-US":
		return date + ", " + local.Format("03:04 PM")
	case locale == "sv-SE", dateLayout(locale) == isoDateLayout:
		return date + " " + local.Format("15:04")
	default:
		return date + ", " + local.Format("15:04")
	}
}

// ParseTimestamp はバックエンドのタイムスタンプ文字列をパースする。
// 空文字列やパースできない値はnilを返す。
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// DateString はタイムスタンプ文字列をパースしてDateで整形する。
func DateString(s, locale, timezone string) string {
	return Date(ParseTimestamp(s), locale, timezone)
}

// DateTimeString はタイムスタンプ文字列をパースしてDateTimeで整形する。
func DateTimeString(s, locale, timezone string) string {
	return DateTime(ParseTimestamp(s), locale, timezone)
}

// printer はロケールに対応するmessage.Printerを返す。
// 未知のロケールはen-USとして扱う。
func printer(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	return message.NewPrinter(tag)
}

// Number は数値を小数点以下decimals桁に丸め、ロケールの桁区切りで整形する。
func Number(v *float64, locale string, decimals int) string {
	if v == nil {
		return Placeholder
	}
	if decimals < 0 {
		decimals = 0
	}
	return printer(locale).Sprint(number.Decimal(*v, number.Scale(decimals)))
}

// Glucose は血糖値をsourceからtargetの単位に換算して整形する。
// mmol/L は小数1桁、mg/dL は整数で表示する。
func Glucose(v *float64, target model.GlucoseUnit, locale string, source model.GlucoseUnit) string {
	if v == nil {
		return Placeholder
	}

	value := *v
	switch {
	case source == model.GlucoseMgDL && target == model.GlucoseMmolL:
		value = value / mgdlPerMmol
	case source == model.GlucoseMmolL && target == model.GlucoseMgDL:
		value = value * mgdlPerMmol
	}

	decimals := 0
	if target == model.GlucoseMmolL {
		decimals = 1
	}
	return Number(&value, locale, decimals)
}
