package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"catchup-pipeline/internal/domain/entity"
)

// Fingerprint layout is a stable contract shared with every stored story:
// top 6 title keywords plus up to 3 entity texts. Changing either count
// changes every fingerprint in the store, so both are fixed constants here
// rather than configuration.
const (
	fingerprintKeywords = 6
	fingerprintEntities = 3
	fingerprintHexLen   = 8
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"has": {}, "have": {}, "had": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"after": {}, "over": {}, "into": {}, "amid": {}, "says": {}, "say": {},
	"will": {}, "new": {}, "first": {}, "up": {}, "out": {}, "about": {},
}

// Fingerprint derives the short stable hash used for primary clustering
// lookup. Identical (normalized title, entity set) inputs always produce
// the same value across runs and processes.
func Fingerprint(title string, mentions []entity.EntityMention) string {
	keywords := titleKeywords(title)
	entities := topEntities(mentions)

	material := strings.Join(keywords, " ") + "|" + strings.Join(entities, " ")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// titleKeywords lowercases the title, drops stopwords and one-letter
// tokens, dedupes, sorts, and keeps the first fingerprintKeywords.
func titleKeywords(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	unique := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		unique[f] = struct{}{}
	}

	keywords := make([]string, 0, len(unique))
	for k := range unique {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	if len(keywords) > fingerprintKeywords {
		keywords = keywords[:fingerprintKeywords]
	}
	return keywords
}

// topEntities picks up to fingerprintEntities entity texts, PERSON/ORG
// before LOCATION/OTHER, each tier in first-seen order, lowercased.
func topEntities(mentions []entity.EntityMention) []string {
	var primary, secondary []string
	for _, m := range mentions {
		text := strings.ToLower(m.Text)
		switch m.Type {
		case entity.EntityPerson, entity.EntityOrg:
			primary = append(primary, text)
		default:
			secondary = append(secondary, text)
		}
	}

	picked := primary
	if len(picked) < fingerprintEntities {
		picked = append(picked, secondary...)
	}
	if len(picked) > fingerprintEntities {
		picked = picked[:fingerprintEntities]
	}
	sort.Strings(picked)
	return picked
}
