// Package summarize implements the summarization orchestrator: it reacts
// to story updates, synthesizes summaries and headline suggestions through
// a language model (immediately for verified and breaking stories, in
// cost-amortized batches for the rest), tracks spend, and applies results
// under the same etag-guarded update pattern the clustering engine uses.
package summarize

import (
	"fmt"
	"sort"
	"strings"

	"catchup-pipeline/internal/domain/entity"
)

// KeepCurrent is the sentinel the model returns when the current headline
// should stand.
const KeepCurrent = "KEEP_CURRENT"

// maxPromptSources bounds how many source articles one prompt includes.
const maxPromptSources = 8

// promptInstructions is the fixed head of the cacheable prefix. It never
// varies per story, maximizing provider-side cache reuse.
const promptInstructions = `You are a news wire editor. You will be given the source articles backing one developing story.

Write:
1. A summary of 120-180 words covering what happened, who is involved, and what remains unclear. Use only facts present in the sources. No opinion, no speculation.
2. A headline suggestion. If the current headline is already accurate and clean (no source branding, no editorial tags like "Special Report"), reply with exactly ` + KeepCurrent + ` instead of a new headline.

Reply in exactly this format:
HEADLINE: <headline or ` + KeepCurrent + `>
SUMMARY: <summary text>`

// BuildPrompt assembles the cacheable prefix (instructions + category +
// tags) and the per-story prompt body (headline + ordered source titles).
func BuildPrompt(story *entity.Story) (prefix, prompt string) {
	var prefixBuilder strings.Builder
	prefixBuilder.WriteString(promptInstructions)
	prefixBuilder.WriteString("\n\nCategory: ")
	prefixBuilder.WriteString(string(story.Category))
	if len(story.Tags) > 0 {
		prefixBuilder.WriteString("\nTags: ")
		tags := make([]string, 0, len(story.Tags))
		for _, tag := range story.Tags {
			tags = append(tags, tag.Text)
		}
		prefixBuilder.WriteString(strings.Join(tags, ", "))
	}

	// Most recent sources first, bounded.
	sources := append([]entity.SourceArticleRef(nil), story.Sources...)
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].PublishedAt.After(sources[j].PublishedAt)
	})
	if len(sources) > maxPromptSources {
		sources = sources[:maxPromptSources]
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Current headline: %s\n\nSource articles (newest first):\n", story.Title)
	for i, src := range sources {
		fmt.Fprintf(&body, "%d. [%s] %s\n", i+1, src.SourceID, src.Title)
	}
	return prefixBuilder.String(), body.String()
}

// ParseOutput splits a model reply into its headline suggestion and summary
// text. A missing HEADLINE line is treated as KEEP_CURRENT; a missing
// SUMMARY line means the reply is unusable.
func ParseOutput(raw string) (headline, summary string, err error) {
	headline = KeepCurrent

	lines := strings.Split(strings.TrimSpace(raw), "\n")
	var summaryLines []string
	inSummary := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "HEADLINE:"):
			headline = strings.TrimSpace(strings.TrimPrefix(line, "HEADLINE:"))
			inSummary = false
		case strings.HasPrefix(line, "SUMMARY:"):
			summaryLines = append(summaryLines, strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:")))
			inSummary = true
		case inSummary:
			summaryLines = append(summaryLines, strings.TrimSpace(line))
		}
	}

	summary = strings.TrimSpace(strings.Join(summaryLines, " "))
	if summary == "" {
		return "", "", fmt.Errorf("reply holds no SUMMARY section")
	}
	if headline == "" {
		headline = KeepCurrent
	}
	return headline, summary, nil
}
