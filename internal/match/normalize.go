package match

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeText lowercases text and collapses runs of whitespace.
func NormalizeText(input string) string {
	return strings.Join(strings.Fields(strings.ToLower(input)), " ")
}

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace. Fragments are trimmed and empty ones dropped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				out = appendTrimmed(out, string(runes[start:i+1]))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		out = appendTrimmed(out, string(runes[start:]))
	}
	return out
}

func appendTrimmed(out []string, s string) []string {
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return append(out, trimmed)
	}
	return out
}

// Truncate returns at most limit runes of s.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// TruncateWithEllipsis shortens s to limit runes and appends "..." when cut.
func TruncateWithEllipsis(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return Truncate(s, limit) + "..."
}

// Dedupe removes repeated and blank entries, keeping first-seen order.
func Dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		out = AppendUnique(out, strings.TrimSpace(item))
	}
	return out
}

// AppendUnique appends v to s unless it is empty or already present.
func AppendUnique(s []string, v string) []string {
	if v == "" {
		return s
	}
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries.
// Both inputs are expected to be normalized.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], phrase)
		if idx < 0 {
			return false
		}
		begin := offset + idx
		end := begin + len(phrase)
		if boundaryBefore(text, begin) && boundaryAfter(text, end) {
			return true
		}
		offset = begin + 1
		if offset >= len(text) {
			return false
		}
	}
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return !isWordRune(r)
}

func boundaryAfter(text string, idx int) bool {
	if idx >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
