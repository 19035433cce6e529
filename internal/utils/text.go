package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// halfToFull maps ASCII punctuation to its full-width form for CJK text.
var halfToFull = map[rune]rune{
	',': '，',
	'!': '！',
	'?': '？',
	':': '：',
	';': '；',
	'(': '（',
	')': '）',
}

// NormalizeFullWidth converts ASCII punctuation to full-width forms when
// the text contains CJK characters, and trims surrounding whitespace.
// Periods are converted to 。 only when not part of a number.
func NormalizeFullWidth(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !containsCJK(s) {
		return s
	}

	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for i, r := range runes {
		if full, ok := halfToFull[r]; ok {
			out = append(out, full)
			continue
		}
		if r == '.' {
			prevDigit := i > 0 && unicode.IsDigit(runes[i-1])
			nextDigit := i+1 < len(runes) && unicode.IsDigit(runes[i+1])
			if prevDigit && nextDigit {
				out = append(out, r)
			} else {
				out = append(out, '。')
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// speakerLabelRe matches a leading conversation-format marker such as
// "學生：" or "Teacher: " at the start of the text.
var speakerLabelRe = regexp.MustCompile(`^(?:學生|老師|同學|助教|Student|Teacher|Tutor|Assistant|User)\s*[:：]\s*`)

// StripSpeakerLabels removes residual speaker-label markers from the
// start of each line and trims the result. Models occasionally echo the
// transcript format back in revised text; persisted text must not
// carry it.
func StripSpeakerLabels(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for {
			stripped := speakerLabelRe.ReplaceAllString(trimmed, "")
			if stripped == trimmed {
				break
			}
			trimmed = stripped
		}
		lines[i] = trimmed
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
