package model

import (
	"strings"
	"time"
	"unicode"
)

// NormalizeText lowercases, strips punctuation and collapses whitespace. Dots and
// underscores survive only inside a word, so "payment.send" is kept intact while
// "yes." becomes "yes".
func NormalizeText(s string) string {
	runes := []rune(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for i, r := range runes {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		if (r == '.' || r == '_') && !space && i+1 < len(runes) && isWordRune(runes[i+1]) {
			word = true
		}
		switch {
		case word:
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// BaseLanguage returns the primary subtag, "pt-BR" -> "pt".
func BaseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// DayBucket formats t as a UTC calendar day.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampScore bounds v to the 0..10000 scale.
func ClampScore(v int) int { return clamp(v, 0, 10000) }
