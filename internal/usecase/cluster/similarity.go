// Package cluster implements the clustering engine: it reacts to newly
// stored articles and either attaches each one to an existing story or
// creates a new one, via a fingerprint / fuzzy-title / shared-entity
// matching cascade with topic-conflict guards.
package cluster

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// levParams is shared by every similarity call so scoring stays identical
// across goroutines and processes.
var levParams = levenshtein.NewParams()

// TextSimilarity scores two titles in [0,1] with a token-set ratio: both
// titles are reduced to sorted unique token sets, and the score is the best
// edit-distance similarity among the intersection and the two full sets.
// The measure is symmetric and word-order independent.
func TextSimilarity(a, b string) float64 {
	tokensA := titleTokens(a)
	tokensB := titleTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(tokensA))
	for _, t := range tokensA {
		setA[t] = struct{}{}
	}
	var inter []string
	for _, t := range tokensB {
		if _, ok := setA[t]; ok {
			inter = append(inter, t)
		}
	}
	sort.Strings(inter)

	joinedA := strings.Join(tokensA, " ")
	joinedB := strings.Join(tokensB, " ")
	joinedInter := strings.Join(inter, " ")

	score := pairRatio(joinedA, joinedB)
	if joinedInter != "" {
		if s := pairRatio(joinedInter, joinedA); s > score {
			score = s
		}
		if s := pairRatio(joinedInter, joinedB); s > score {
			score = s
		}
	}
	return score
}

// pairRatio is the matching-character ratio 2M/(len(a)+len(b)) with
// M derived from edit distance, so a short string fully contained in a
// longer one still scores high.
func pairRatio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	dist := levenshtein.Distance(a, b, levParams)
	return float64(total-dist) / float64(total)
}

// titleTokens lowercases, strips punctuation, dedupes, and sorts a title's
// words.
func titleTokens(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	unique := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			unique[f] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(unique))
	for t := range unique {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
