// Package normalize turns raw feed entries into canonical Articles: HTML is
// stripped, junk entries are dropped, named entities are extracted with a
// rule-and-dictionary extractor, a category is assigned, and a deterministic
// fingerprint is computed for the clustering engine's primary lookup.
package normalize

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// CleanText strips all HTML tags, decodes entities, collapses whitespace,
// and trims. Plain text passes through unchanged apart from whitespace
// normalization.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}

	text := raw
	if strings.ContainsAny(raw, "<>") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err == nil {
			text = doc.Text()
		}
	}

	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// CleanContent extracts readable article text from a full HTML body. Long
// bodies go through readability extraction so boilerplate (navigation,
// related-links blocks) does not pollute entity extraction or summaries;
// short fragments fall back to plain tag stripping.
func CleanContent(rawHTML, articleURL string) string {
	if rawHTML == "" {
		return ""
	}

	const readabilityFloor = 2048
	if len(rawHTML) >= readabilityFloor {
		pageURL, _ := url.Parse(articleURL)
		article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
		if err == nil && article.TextContent != "" {
			return strings.Join(strings.Fields(article.TextContent), " ")
		}
	}
	return CleanText(rawHTML)
}
