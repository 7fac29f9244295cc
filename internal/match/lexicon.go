package match

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Phrase classes used by the analysis stages.
const (
	ClassRefusal  = "refusal"
	ClassError    = "error"
	ClassAbsolute = "absolute"
)

var defaultPhrases = map[string][]string{
	ClassRefusal: {
		"i cannot",
		"i can't",
		"i'm not able to",
		"i am not able to",
		"i don't have access",
		"i'm sorry, but i cannot",
		"as an ai",
		"i'm unable to",
	},
	ClassError: {
		"error:",
		"exception:",
		"traceback",
		"failed to",
		"unable to process",
	},
	ClassAbsolute: {
		"always",
		"never",
		"definitely",
		"certainly",
		"guaranteed",
		"absolutely",
		"undoubtedly",
		"without a doubt",
		"without exception",
		"impossible",
		"100%",
	},
}

// Lexicon groups known phrases by class and scans text for them.
type Lexicon struct {
	phrases map[string][]string
}

// DefaultLexicon returns the built-in phrase lists.
func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultPhrases)
}

// NewLexicon normalizes and stores the supplied phrase lists.
func NewLexicon(classes map[string][]string) *Lexicon {
	phrases := make(map[string][]string, len(classes))
	for class, list := range classes {
		var normalized []string
		for _, p := range list {
			normalized = AppendUnique(normalized, NormalizeText(p))
		}
		if len(normalized) > 0 {
			phrases[class] = normalized
		}
	}
	return &Lexicon{phrases: phrases}
}

// LoadLexicon reads a YAML (or JSON) mapping of class name to phrase list and layers
// it over the defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal lexicon: %w", err)
	}
	merged := make(map[string][]string, len(defaultPhrases)+len(raw))
	for class, list := range defaultPhrases {
		merged[class] = append([]string(nil), list...)
	}
	for class, list := range raw {
		merged[class] = append(merged[class], list...)
	}
	return NewLexicon(merged), nil
}

// Match returns the phrases of class found in text, sorted.
func (l *Lexicon) Match(class, text string) []string {
	if l == nil {
		return nil
	}
	normalized := NormalizeText(text)
	var hits []string
	for _, phrase := range l.phrases[class] {
		if ContainsPhrase(normalized, phrase) {
			hits = append(hits, phrase)
		}
	}
	sort.Strings(hits)
	return hits
}

// Contains reports whether any phrase of class occurs in text.
func (l *Lexicon) Contains(class, text string) bool {
	if l == nil {
		return false
	}
	normalized := NormalizeText(text)
	for _, phrase := range l.phrases[class] {
		if ContainsPhrase(normalized, phrase) {
			return true
		}
	}
	return false
}

// Validate ensures the lexicon carries the classes the precheck relies on.
func (l *Lexicon) Validate() error {
	if l == nil {
		return errors.New("lexicon is nil")
	}
	for _, class := range []string{ClassRefusal, ClassError} {
		if len(l.phrases[class]) == 0 {
			return fmt.Errorf("lexicon class %q missing", class)
		}
	}
	return nil
}
