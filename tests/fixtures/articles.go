// Package fixtures provides reusable test data generators for integration tests.
// This package eliminates test data duplication and ensures consistent test content
// across different test suites.
package fixtures

import (
	"strings"
)

// ArticleOptions configures the generated article body.
type ArticleOptions struct {
	// Length is the approximate character count (target length, ±10% variance allowed)
	Length int

	// IncludeEmoji specifies whether to include emoji characters in the content
	IncludeEmoji bool
}

// GenerateArticle generates article body text based on the provided options.
// The generated content is coherent wire-style news prose suitable for
// normalization and summarization testing.
//
// Example:
//
//	body := GenerateArticle(ArticleOptions{Length: 2000})
func GenerateArticle(opts ArticleOptions) string {
	baseSentences := []string{
		"Officials confirmed that negotiations resumed early on Saturday after a week of stalled talks.",
		"Witnesses described a heavy security presence around the central square as crowds gathered.",
		"The agency said the figures were preliminary and could be revised in the coming days.",
		"Analysts cautioned that the long-term impact of the decision remains difficult to assess.",
		"A spokesperson declined to comment on the timeline, citing the ongoing investigation.",
		"Regional authorities activated emergency protocols within hours of the first reports.",
		"The announcement follows months of speculation about the government's next move.",
		"International observers called for restraint from all parties involved in the dispute.",
		"Early estimates put the number of people affected in the tens of thousands.",
		"Markets reacted cautiously, with trading volumes well below their seasonal average.",
		"Aid organizations warned that access to the affected areas remains severely limited.",
		"The ministry published a revised assessment contradicting its earlier statement.",
		"Residents reported intermittent power and patchy mobile coverage through the night.",
		"Diplomats from three neighboring countries arrived for a second round of mediation.",
		"The committee is expected to publish its full findings by the end of the quarter.",
	}

	emojiSentences := []string{
		"Live updates continue through the night 🚨",
		"Crowds celebrated the announcement downtown 🎉",
		"Rescue teams worked through difficult conditions 🚁",
	}

	var builder strings.Builder
	currentLength := 0
	sentenceIndex := 0
	emojiIndex := 0

	for {
		var sentence string
		if opts.IncludeEmoji && currentLength%(opts.Length/5) < 100 && emojiIndex < len(emojiSentences) {
			sentence = emojiSentences[emojiIndex]
			emojiIndex++
		} else {
			sentence = baseSentences[sentenceIndex%len(baseSentences)]
			sentenceIndex++
		}

		// Calculate the length if we add this sentence
		sentenceLength := len([]rune(sentence))
		if currentLength > 0 {
			sentenceLength++ // Account for space
		}
		potentialLength := currentLength + sentenceLength

		// If we've reached or exceeded the minimum target (90%), check if we should stop
		if currentLength >= int(float64(opts.Length)*0.9) {
			// Stop if adding this sentence would exceed 110% of target
			if potentialLength > int(float64(opts.Length)*1.1) {
				break
			}
		}

		// Add spacing before sentence (except for the first one)
		if currentLength > 0 {
			builder.WriteString(" ")
		}

		builder.WriteString(sentence)
		currentLength = len([]rune(builder.String()))

		// Stop if we've reached the target
		if currentLength >= opts.Length {
			break
		}
	}

	return builder.String()
}

// GenerateShortArticle generates a short article body (~500 characters),
// useful for testing summarization of brief content.
func GenerateShortArticle() string {
	return GenerateArticle(ArticleOptions{Length: 500})
}

// GenerateMediumArticle generates a medium-length article body (~2000
// characters), the typical normalization input.
func GenerateMediumArticle() string {
	return GenerateArticle(ArticleOptions{Length: 2000})
}

// GenerateLongArticle generates a long article body (~10000 characters),
// useful for testing truncation and readability extraction paths.
func GenerateLongArticle() string {
	return GenerateArticle(ArticleOptions{Length: 10000})
}

// GenerateArticleWithEmoji generates an article body that includes emoji,
// useful for testing Unicode handling end to end.
func GenerateArticleWithEmoji() string {
	return GenerateArticle(ArticleOptions{Length: 2000, IncludeEmoji: true})
}

// ClusterScenarioTitles returns pairs of same-event titles from different
// publishers, as seen in real multi-source coverage. Useful for exercising
// the fuzzy-title clustering path.
func ClusterScenarioTitles() [][2]string {
	return [][2]string{
		{
			"Hamas releases first group of 7 hostages to Red Cross in Gaza",
			"Hamas hands over seven hostages to Red Cross",
		},
		{
			"Magnitude 7.1 earthquake strikes off northern coast, tsunami warning issued",
			"Powerful 7.1 quake hits northern coast as tsunami warning goes out",
		},
		{
			"Central bank holds interest rates steady amid inflation concerns",
			"Interest rates left unchanged as central bank cites inflation risk",
		},
	}
}
