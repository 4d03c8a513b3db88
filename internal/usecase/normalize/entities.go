package normalize

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"catchup-pipeline/internal/domain/entity"
)

// AliasEntry is one curated known entity and the surface forms it appears
// under in headlines.
type AliasEntry struct {
	Canonical string   `yaml:"canonical"`
	Type      string   `yaml:"type"`
	Aliases   []string `yaml:"aliases"`
}

type aliasFile struct {
	Entities []AliasEntry `yaml:"entities"`
}

// Extractor recognizes named entities in cleaned text with a deterministic
// rule-and-dictionary pass: curated aliases first, then capitalized
// multi-word spans.
type Extractor struct {
	// byAlias maps a lowercased surface form to its dictionary entry.
	byAlias map[string]AliasEntry
}

// NewExtractor builds an extractor from a dictionary. Entries with an
// unknown type are treated as OTHER.
func NewExtractor(entries []AliasEntry) *Extractor {
	byAlias := make(map[string]AliasEntry)
	for _, entry := range entries {
		byAlias[strings.ToLower(entry.Canonical)] = entry
		for _, alias := range entry.Aliases {
			byAlias[strings.ToLower(alias)] = entry
		}
	}
	return &Extractor{byAlias: byAlias}
}

// LoadAliases reads the curated entity dictionary from a YAML file.
func LoadAliases(path string) ([]AliasEntry, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var file aliasFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	return file.Entities, nil
}

// orgSuffixes mark a capitalized span as an organization.
var orgSuffixes = []string{"inc", "corp", "ltd", "plc", "llc", "group", "bank", "airlines", "university", "ministry"}

// Extract returns the entity mentions found in text, deduped
// case-insensitively on their text, preserving first-seen order. The same
// input always yields the same output.
func (e *Extractor) Extract(text string) []entity.EntityMention {
	if text == "" {
		return nil
	}

	var mentions []entity.EntityMention
	seen := make(map[string]struct{})
	add := func(m entity.EntityMention) {
		key := strings.ToLower(m.Text)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		mentions = append(mentions, m)
	}

	words := strings.Fields(text)

	// Dictionary pass: try alias matches up to three words long at every
	// position, longest first so "European Central Bank" beats "European".
	for i := 0; i < len(words); i++ {
		for span := 3; span >= 1; span-- {
			if i+span > len(words) {
				continue
			}
			candidate := normalizeSpan(words[i : i+span])
			if entry, ok := e.byAlias[strings.ToLower(candidate)]; ok {
				add(entity.EntityMention{Text: entry.Canonical, Type: aliasType(entry.Type)})
				i += span - 1
				break
			}
		}
	}

	// Rule pass: runs of two or more capitalized words form a span. The
	// sentence-leading word alone is never enough, which keeps ordinary
	// sentence starts out. A run ends at a word carrying sentence-final
	// punctuation, so no span crosses a sentence boundary.
	for i := 0; i < len(words); i++ {
		if !isCapitalizedWord(words[i]) {
			continue
		}
		j := i
		for j < len(words) && isCapitalizedWord(words[j]) {
			j++
			if strings.ContainsAny(words[j-1][len(words[j-1])-1:], ".!?") {
				break
			}
		}
		if j-i >= 2 {
			span := normalizeSpan(words[i:j])
			add(entity.EntityMention{Text: span, Type: spanType(span)})
		}
		i = j - 1
	}

	return mentions
}

// normalizeSpan joins words after stripping trailing punctuation.
func normalizeSpan(words []string) string {
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		cleaned = append(cleaned, strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
	}
	return strings.Join(cleaned, " ")
}

func isCapitalizedWord(word string) bool {
	trimmed := strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	if trimmed == "" {
		return false
	}
	runes := []rune(trimmed)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	// All-caps tokens like acronyms count; digit-bearing tokens do not.
	for _, r := range runes {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func spanType(span string) entity.EntityType {
	lower := strings.ToLower(span)
	for _, suffix := range orgSuffixes {
		if strings.HasSuffix(lower, " "+suffix) || lower == suffix {
			return entity.EntityOrg
		}
	}
	return entity.EntityOther
}

func aliasType(t string) entity.EntityType {
	switch strings.ToUpper(t) {
	case "PERSON":
		return entity.EntityPerson
	case "ORG":
		return entity.EntityOrg
	case "LOCATION":
		return entity.EntityLocation
	default:
		return entity.EntityOther
	}
}
