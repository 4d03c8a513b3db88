// Package feedpoll fetches and parses RSS/Atom feeds with conditional GET
// support, so an unchanged feed costs one 304 round trip instead of a full
// download and re-parse.
package feedpoll

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"catchup-pipeline/internal/resilience/retry"
)

// userAgent identifies the poller to publishers.
const userAgent = "catchup-pipeline/1.0 (+https://github.com/catchup/pipeline)"

// Item is one parsed feed entry, before normalization.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	ImageURL    string
	PublishedAt time.Time
}

// Result is the outcome of one conditional fetch.
type Result struct {
	NotModified  bool
	Items        []Item
	ETag         string
	LastModified string
}

// Fetcher issues conditional GETs against feed URLs and parses the bodies
// with gofeed. It holds no per-feed state; the caller owns FeedPollState.
type Fetcher struct {
	client *http.Client
}

// NewFetcher wraps client, which should already carry the feed timeout and
// TLS settings.
func NewFetcher(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves feedURL. etag and lastModified come from the feed's poll
// state and may be empty on first contact. Non-2xx responses other than 304
// surface as *retry.HTTPError so callers can classify them.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, etag, lastModified string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", feedURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{NotModified: true, ETag: etag, LastModified: lastModified}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("fetch %s", feedURL),
		}
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feedURL, err)
	}

	result := &Result{
		Items:        itemsFromFeed(feed),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	return result, nil
}

func itemsFromFeed(feed *gofeed.Feed) []Item {
	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}

		// Entries without a publication date are stamped at parse time so
		// the deterministic article id stays stable across re-polls of the
		// same body only when the publisher dates its entries.
		pubAt := time.Now().UTC()
		if it.PublishedParsed != nil {
			pubAt = it.PublishedParsed.UTC()
		} else if it.UpdatedParsed != nil {
			pubAt = it.UpdatedParsed.UTC()
		}

		item := Item{
			GUID:        it.GUID,
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Content:     it.Content,
			PublishedAt: pubAt,
		}
		if it.Image != nil {
			item.ImageURL = it.Image.URL
		} else {
			for _, enc := range it.Enclosures {
				if enc != nil && len(enc.Type) >= 5 && enc.Type[:5] == "image" {
					item.ImageURL = enc.URL
					break
				}
			}
		}
		items = append(items, item)
	}
	return items
}
