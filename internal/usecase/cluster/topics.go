package cluster

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TopicSets are named, closed keyword sets used by the topic-conflict
// guard. Two titles dominated by different sets never cluster together no
// matter how similar their wording is.
type TopicSets map[string][]string

// DefaultTopicSets covers the incompatible pairs that fuzzy matching most
// often confuses.
func DefaultTopicSets() TopicSets {
	return TopicSets{
		"sports": {
			"championship", "league", "tournament", "playoff", "coach",
			"season", "match", "goal", "touchdown", "innings", "cup", "team",
		},
		"technology": {
			"iphone", "android", "software", "chip", "startup", "app",
			"cloud", "browser", "gadget", "silicon", "semiconductor",
		},
		"politics": {
			"election", "senate", "parliament", "ballot", "congress",
			"minister", "legislation", "campaign", "vote",
		},
		"entertainment": {
			"film", "movie", "album", "premiere", "concert", "celebrity",
			"oscars", "box office", "streaming",
		},
	}
}

// ParseTopicSets decodes the configured JSON value, e.g.
// {"sports":["goal"],"technology":["chip"]}. An empty value keeps the
// defaults.
func ParseTopicSets(raw string) (TopicSets, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultTopicSets(), nil
	}
	var sets TopicSets
	if err := json.Unmarshal([]byte(raw), &sets); err != nil {
		return nil, fmt.Errorf("parse topic conflict sets: %w", err)
	}
	if len(sets) == 0 {
		return DefaultTopicSets(), nil
	}
	return sets, nil
}

// dominantSet returns the set name with the strictly highest keyword-hit
// count for the title, or "" when no set dominates (no hits or a tie).
func (ts TopicSets) dominantSet(title string) string {
	lower := strings.ToLower(title)

	best, bestHits, secondHits := "", 0, 0
	// Map iteration order is random; rank deterministically by hits with
	// name as tiebreaker before comparing.
	for _, name := range sortedNames(ts) {
		hits := 0
		for _, kw := range ts[name] {
			if containsKeyword(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, secondHits, bestHits = name, bestHits, hits
		} else if hits > secondHits {
			secondHits = hits
		}
	}
	if bestHits == 0 || bestHits == secondHits {
		return ""
	}
	return best
}

// containsKeyword matches a whole word or phrase, so "app" never hits
// "apparently".
func containsKeyword(lowerTitle, keyword string) bool {
	idx := 0
	for {
		i := strings.Index(lowerTitle[idx:], keyword)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(keyword)
		beforeOK := start == 0 || !isWordByte(lowerTitle[start-1])
		afterOK := end == len(lowerTitle) || !isWordByte(lowerTitle[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// Conflict reports whether the two titles are dominated by different sets.
func (ts TopicSets) Conflict(titleA, titleB string) bool {
	setA := ts.dominantSet(titleA)
	setB := ts.dominantSet(titleB)
	return setA != "" && setB != "" && setA != setB
}

func sortedNames(ts TopicSets) []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
