package ai

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

type structured struct {
	gen Generator
}

// NewStructured wraps a Generator so that replies are parsed into JSON objects.
func NewStructured(gen Generator) StructuredGenerator {
	return &structured{gen: gen}
}

func (s *structured) GenerateStructured(ctx context.Context, req Request) (Result, error) {
	if s == nil || s.gen == nil {
		return Result{}, ErrDisabled
	}
	req.JSON = true
	raw, err := s.gen.Generate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return ParseStructured(raw), nil
}

// ParseStructured extracts a JSON object from a model reply. It tries the
// whole reply, then a fenced code block, then the first balanced brace span.
func ParseStructured(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if obj, ok := decodeObject(trimmed); ok {
		return Result{Data: obj, OK: true, Raw: raw}
	}
	if m := fencedBlock.FindStringSubmatch(trimmed); len(m) == 2 {
		if obj, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return Result{Data: obj, OK: true, Raw: raw}
		}
	}
	if span := balancedObject(trimmed); span != "" {
		if obj, ok := decodeObject(span); ok {
			return Result{Data: obj, OK: true, Raw: raw}
		}
	}
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		if obj, ok := decodeObject(trimmed[start : end+1]); ok {
			return Result{Data: obj, OK: true, Raw: raw}
		}
	}
	return Result{
		Data: map[string]any{RawResponseKey: raw, ParseErrorKey: true},
		OK:   false,
		Raw:  raw,
	}
}

func decodeObject(text string) (map[string]any, bool) {
	if text == "" || text[0] != '{' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// balancedObject returns the first {...} span whose braces balance,
// ignoring braces inside string literals.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
