package fixtures_test

import (
	"strings"
	"testing"

	"catchup-pipeline/internal/utils/text"
	"catchup-pipeline/tests/fixtures"
)

// TestGenerateShortArticle tests that short article generation produces correct length
func TestGenerateShortArticle(t *testing.T) {
	article := fixtures.GenerateShortArticle()

	length := text.CountRunes(article)
	expectedMin := 450 // 500 - 10%
	expectedMax := 550 // 500 + 10%

	if length < expectedMin || length > expectedMax {
		t.Errorf("Expected length between %d and %d, got %d", expectedMin, expectedMax, length)
	}

	if article == "" {
		t.Error("Generated article is empty")
	}
}

// TestGenerateMediumArticle tests that medium article generation produces correct length
func TestGenerateMediumArticle(t *testing.T) {
	article := fixtures.GenerateMediumArticle()

	length := text.CountRunes(article)
	expectedMin := 1800 // 2000 - 10%
	expectedMax := 2200 // 2000 + 10%

	if length < expectedMin || length > expectedMax {
		t.Errorf("Expected length between %d and %d, got %d", expectedMin, expectedMax, length)
	}
}

// TestGenerateLongArticle tests that long article generation produces correct length
func TestGenerateLongArticle(t *testing.T) {
	article := fixtures.GenerateLongArticle()

	length := text.CountRunes(article)
	expectedMin := 9000  // 10000 - 10%
	expectedMax := 11000 // 10000 + 10%

	if length < expectedMin || length > expectedMax {
		t.Errorf("Expected length between %d and %d, got %d", expectedMin, expectedMax, length)
	}
}

// TestGenerateArticleWithEmoji verifies emoji sentences survive generation.
func TestGenerateArticleWithEmoji(t *testing.T) {
	article := fixtures.GenerateArticleWithEmoji()
	if !strings.ContainsRune(article, '🚨') && !strings.ContainsRune(article, '🎉') && !strings.ContainsRune(article, '🚁') {
		t.Error("expected at least one emoji sentence in generated article")
	}
}

// TestGenerateArticle_Deterministic verifies the generator is stable, so
// fixtures can be compared across test runs.
func TestGenerateArticle_Deterministic(t *testing.T) {
	a := fixtures.GenerateArticle(fixtures.ArticleOptions{Length: 1500})
	b := fixtures.GenerateArticle(fixtures.ArticleOptions{Length: 1500})
	if a != b {
		t.Error("generator is not deterministic for identical options")
	}
}

// TestClusterScenarioTitles sanity-checks the multi-source title pairs.
func TestClusterScenarioTitles(t *testing.T) {
	pairs := fixtures.ClusterScenarioTitles()
	if len(pairs) == 0 {
		t.Fatal("no scenario titles")
	}
	for _, pair := range pairs {
		if pair[0] == "" || pair[1] == "" || pair[0] == pair[1] {
			t.Errorf("invalid scenario pair: %q / %q", pair[0], pair[1])
		}
	}
}
