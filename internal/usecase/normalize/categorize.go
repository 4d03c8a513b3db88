package normalize

import (
	"strings"

	"catchup-pipeline/internal/domain/entity"
)

// categoryRules drives the rule-based categorizer. First category whose
// keywords dominate wins; ties resolve in the fixed iteration order below,
// keeping the mapping deterministic.
var categoryRules = []struct {
	category entity.Category
	keywords []string
}{
	{entity.CategoryPolitics, []string{"election", "senate", "parliament", "congress", "president", "minister", "policy", "vote", "campaign", "legislation", "government"}},
	{entity.CategoryBusiness, []string{"market", "stocks", "earnings", "economy", "inflation", "merger", "ipo", "revenue", "investor", "trade", "bank"}},
	{entity.CategoryTech, []string{"software", "startup", "iphone", "android", "chip", "semiconductor", "ai", "artificial intelligence", "app", "cyber", "cloud", "silicon"}},
	{entity.CategoryScience, []string{"research", "study", "scientists", "nasa", "space", "telescope", "physics", "discovery", "experiment"}},
	{entity.CategoryHealth, []string{"health", "hospital", "vaccine", "virus", "disease", "drug", "fda", "outbreak", "cancer", "mental"}},
	{entity.CategorySports, []string{"championship", "league", "tournament", "season", "coach", "playoff", "goal", "match", "team", "olympic", "cup"}},
	{entity.CategoryEntertainment, []string{"film", "movie", "album", "celebrity", "box office", "premiere", "concert", "streaming", "oscars", "actor"}},
	{entity.CategoryEnvironment, []string{"climate", "emissions", "wildfire", "renewable", "pollution", "biodiversity", "drought", "carbon"}},
	{entity.CategoryWorld, []string{"war", "ceasefire", "border", "treaty", "united nations", "embassy", "refugee", "sanctions", "hostage"}},
}

// Categorize maps a cleaned title+description to the category enum. The
// feed's category hint wins when it names a valid category; otherwise
// keyword scoring decides, falling back to top_stories.
func Categorize(title, description, categoryHint string) entity.Category {
	if hint := entity.Category(strings.ToLower(categoryHint)); entity.ValidCategories[hint] {
		return hint
	}

	text := strings.ToLower(title + " " + description)

	best := entity.CategoryTopStories
	bestScore := 0
	for _, rule := range categoryRules {
		score := 0
		for _, kw := range rule.keywords {
			if containsWord(text, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = rule.category
		}
	}
	return best
}

// containsWord reports a whole-word (or whole-phrase) match.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(text[start-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
