// Package redact masks personal data before user text reaches logs or
// client-visible error strings.
package redact

import (
	"regexp"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// maxLen bounds how much of an upstream message is kept.
const maxLen = 240

// Text masks emails, card numbers and phone numbers.
func Text(input string) (out string, changed bool) {
	out = input
	// Cards before phones, a card number also matches the phone pattern.
	for _, rule := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := rule.re.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// Error renders err for logs and responses: redacted and truncated.
func Error(err error) string {
	if err == nil {
		return ""
	}
	out, _ := Text(err.Error())
	if len(out) <= maxLen {
		return out
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + "..."
}
