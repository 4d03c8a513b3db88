// Package entity defines the core domain entities and validation logic for the
// news aggregation pipeline. It contains the fundamental business objects such
// as Article, Story, FeedPollState and Notification, along with their
// validation rules and domain-specific errors.
package entity

import "time"

// Category is the closed enum of article/story topics.
type Category string

// Recognized categories. An unrecognized category always falls back to
// CategoryTopStories — see internal/usecase/normalize.
const (
	CategoryPolitics      Category = "politics"
	CategoryBusiness      Category = "business"
	CategoryTech          Category = "tech"
	CategoryScience       Category = "science"
	CategoryHealth        Category = "health"
	CategorySports        Category = "sports"
	CategoryEntertainment Category = "entertainment"
	CategoryWorld         Category = "world"
	CategoryEnvironment   Category = "environment"
	CategoryTopStories    Category = "top_stories"
	CategoryOther         Category = "other"
)

// ValidCategories lists every recognized category value.
var ValidCategories = map[Category]bool{
	CategoryPolitics:      true,
	CategoryBusiness:      true,
	CategoryTech:          true,
	CategoryScience:       true,
	CategoryHealth:        true,
	CategorySports:        true,
	CategoryEntertainment: true,
	CategoryWorld:         true,
	CategoryEnvironment:   true,
	CategoryTopStories:    true,
	CategoryOther:         true,
}

// EntityType classifies an extracted named entity mention.
type EntityType string

const (
	EntityPerson   EntityType = "PERSON"
	EntityOrg      EntityType = "ORG"
	EntityLocation EntityType = "LOCATION"
	EntityOther    EntityType = "OTHER"
)

// EntityMention is one named-entity span recognized in an article's text.
type EntityMention struct {
	Text string     `json:"text"`
	Type EntityType `json:"type"`
}

// ArticleTTLDays is how long an Article is retained after PublishedAt.
const ArticleTTLDays = 30

// Article is the canonical, normalized representation of one publisher's
// rendering of an event. It is immutable after ingest except for ClusterID.
type Article struct {
	ArticleID   string
	SourceID    string
	Title       string
	Description string
	Content     *string
	ArticleURL  string
	ImageURL    *string
	PublishedAt time.Time
	IngestedAt  time.Time
	Category    Category
	Entities    []EntityMention
	Fingerprint string
	ClusterID   *string
}

// ExpiresAt returns the moment this Article becomes eligible for TTL removal.
func (a *Article) ExpiresAt() time.Time {
	return a.PublishedAt.AddDate(0, 0, ArticleTTLDays)
}

// Expired reports whether the Article is past its TTL as of now.
func (a *Article) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt())
}

// Validate checks the structural invariants of an Article prior to
// persistence. It does not mutate the receiver.
func (a *Article) Validate() error {
	if a.ArticleID == "" {
		return &ValidationError{Field: "article_id", Message: "article_id is required"}
	}
	if a.SourceID == "" {
		return &ValidationError{Field: "source_id", Message: "source_id is required"}
	}
	if a.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if err := ValidateURL(a.ArticleURL); err != nil {
		return err
	}
	if a.ImageURL != nil && *a.ImageURL != "" {
		if err := ValidateURL(*a.ImageURL); err != nil {
			return err
		}
	}
	if !ValidCategories[a.Category] {
		return &ValidationError{Field: "category", Message: "unrecognized category: " + string(a.Category)}
	}
	if a.Fingerprint == "" {
		return &ValidationError{Field: "fingerprint", Message: "fingerprint is required"}
	}
	if a.PublishedAt.IsZero() {
		return &ValidationError{Field: "published_at", Message: "published_at is required"}
	}
	return nil
}
