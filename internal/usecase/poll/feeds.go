// Package poll implements the feed polling worker: a staggered scheduling
// loop that dispatches configured feeds to a bounded fetch pool, honors
// conditional GET validators, and trips a persisted per-feed circuit breaker
// on repeated failures.
package poll

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"catchup-pipeline/internal/domain/entity"
)

// FeedDescriptor is one configured feed. The list is static configuration;
// feed administration is out of scope for the pipeline.
type FeedDescriptor struct {
	FeedID           string        `yaml:"feed_id"`
	FeedURL          string        `yaml:"feed_url"`
	SourceID         string        `yaml:"source_id"`
	CategoryHint     string        `yaml:"category_hint"`
	PollIntervalHint time.Duration `yaml:"poll_interval_hint"`
}

type feedFile struct {
	Feeds []FeedDescriptor `yaml:"feeds"`
}

// LoadFeeds reads the feed descriptor list from a YAML file and validates
// each entry.
func LoadFeeds(path string) ([]FeedDescriptor, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	var file feedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse feeds file %s: %w", path, err)
	}
	if len(file.Feeds) == 0 {
		return nil, fmt.Errorf("feeds file %s lists no feeds", path)
	}

	seen := make(map[string]struct{}, len(file.Feeds))
	for i, feed := range file.Feeds {
		if feed.FeedID == "" {
			return nil, fmt.Errorf("feeds file %s: entry %d missing feed_id", path, i)
		}
		if feed.SourceID == "" {
			return nil, fmt.Errorf("feed %s: missing source_id", feed.FeedID)
		}
		if err := entity.ValidateURL(feed.FeedURL); err != nil {
			return nil, fmt.Errorf("feed %s: %w", feed.FeedID, err)
		}
		if _, dup := seen[feed.FeedID]; dup {
			return nil, fmt.Errorf("feeds file %s: duplicate feed_id %s", path, feed.FeedID)
		}
		seen[feed.FeedID] = struct{}{}
	}
	return file.Feeds, nil
}
