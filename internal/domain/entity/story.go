package entity

import "time"

// StoryStatus is the lifecycle state of a Story (cluster of articles).
type StoryStatus string

const (
	StatusMonitoring StoryStatus = "monitoring"
	StatusDeveloping StoryStatus = "developing"
	StatusVerified   StoryStatus = "verified"
	StatusBreaking   StoryStatus = "breaking"
	StatusArchived   StoryStatus = "archived"
)

// BreakingCooldownHours is how long a BREAKING story may go without a new
// source before it is eligible to demote back to VERIFIED.
const BreakingCooldownHours = 4

// ArchiveAgeDays is the default quiet period after which a VERIFIED story
// is archived.
const ArchiveAgeDays = 7

// StoryRetentionDays is how long a story is retained after its last update.
const StoryRetentionDays = 90

// MaxStoryTags bounds the deduped union of article entities kept on a Story.
const MaxStoryTags = 20

// SourceArticleRef records one article attached to a Story, independent of
// the Article's own lifecycle (an Article row may later be TTL-swept while
// the Story keeps the reference for attribution).
type SourceArticleRef struct {
	ArticleID   string
	SourceID    string
	Title       string
	URL         string
	PublishedAt time.Time
	AttachedAt  time.Time
}

// Summary is one version of a Story's generated summary. Fallback summaries
// are produced extractively when the language model refuses or errors.
type Summary struct {
	Text           string
	Headline       string
	Version        int
	WordCount      int
	GeneratedAt    time.Time
	Model          string
	CostMicroUSD   int64
	Fallback       bool
	FallbackReason string
}

// SummaryPath names which synthesis path produced a summary or cost entry.
type SummaryPath string

const (
	PathRealtime SummaryPath = "realtime"
	PathBatch    SummaryPath = "batch"
)

// Story is a cluster of Articles believed to describe the same underlying
// event. It is the unit of summarization, breaking-news promotion, and
// notification.
type Story struct {
	StoryID         string
	Fingerprint     string
	Title           string
	Category        Category
	Status          StoryStatus
	Tags            []EntityMention
	Sources         []SourceArticleRef
	Summary         *Summary
	ImportanceScore float64
	// EpisodeID increments each time a BREAKING episode starts, so a story
	// demoted and re-promoted notifies again under a fresh dedupe key.
	EpisodeID          int
	BreakingNewsSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastSourceAt       time.Time
	PromotedAt         *time.Time
	DemotedAt          *time.Time
	ETag               string // optimistic-concurrency token, bumped on every replace
}

// StatusForSourceCount maps a distinct source count to the verification
// status it earns. Promotion to BREAKING is never decided here.
func StatusForSourceCount(n int) StoryStatus {
	switch {
	case n <= 1:
		return StatusMonitoring
	case n == 2:
		return StatusDeveloping
	default:
		return StatusVerified
	}
}

// DistinctSourceCount returns the number of unique SourceID values attached.
// The duplicate-source guard keeps this equal to len(s.Sources).
func (s *Story) DistinctSourceCount() int {
	seen := make(map[string]struct{}, len(s.Sources))
	for _, ref := range s.Sources {
		seen[ref.SourceID] = struct{}{}
	}
	return len(seen)
}

// HasSource reports whether an article from sourceID is already attached,
// used by the Clustering Engine's duplicate-source guard.
func (s *Story) HasSource(sourceID string) bool {
	for _, ref := range s.Sources {
		if ref.SourceID == sourceID {
			return true
		}
	}
	return false
}

// HasArticle reports whether articleID is already attached, making
// re-delivery of the same change-stream event a no-op.
func (s *Story) HasArticle(articleID string) bool {
	for _, ref := range s.Sources {
		if ref.ArticleID == articleID {
			return true
		}
	}
	return false
}

// SourcesAddedSince counts the distinct sources whose articles were attached
// after cutoff. The Breaking Monitor uses this as the story's velocity.
func (s *Story) SourcesAddedSince(cutoff time.Time) int {
	seen := make(map[string]struct{})
	for _, ref := range s.Sources {
		if ref.AttachedAt.After(cutoff) {
			seen[ref.SourceID] = struct{}{}
		}
	}
	return len(seen)
}

// EligibleForDemotion reports whether a BREAKING story has gone quiet past
// the cooldown and may demote to VERIFIED.
func (s *Story) EligibleForDemotion(now time.Time, cooldown time.Duration) bool {
	if s.Status != StatusBreaking {
		return false
	}
	return now.Sub(s.LastSourceAt) >= cooldown
}

// EligibleForArchive reports whether a VERIFIED story is old enough to be
// archived given archiveAge.
func (s *Story) EligibleForArchive(now time.Time, archiveAge time.Duration) bool {
	if s.Status != StatusVerified {
		return false
	}
	return now.Sub(s.UpdatedAt) >= archiveAge
}

// categoryWeights biases importance toward fast-moving, high-interest
// categories.
var categoryWeights = map[Category]float64{
	CategoryPolitics:      1.2,
	CategoryBusiness:      1.0,
	CategoryTech:          1.0,
	CategoryScience:       0.9,
	CategoryHealth:        1.1,
	CategorySports:        0.8,
	CategoryEntertainment: 0.7,
	CategoryWorld:         1.2,
	CategoryEnvironment:   0.9,
	CategoryTopStories:    1.0,
	CategoryOther:         0.6,
}

// ComputeImportanceScore scores the story 0-10 from source count, recency,
// and category weight. It is recomputed on every attach.
func (s *Story) ComputeImportanceScore(now time.Time) float64 {
	weight, ok := categoryWeights[s.Category]
	if !ok {
		weight = 1.0
	}

	// Up to 6 points from source breadth, saturating at 6 sources.
	sources := float64(s.DistinctSourceCount())
	if sources > 6 {
		sources = 6
	}
	score := sources

	// Up to 4 points from recency, decaying linearly over 24 hours.
	age := now.Sub(s.LastSourceAt)
	if age < 0 {
		age = 0
	}
	recency := 4 * (1 - age.Hours()/24)
	if recency < 0 {
		recency = 0
	}
	score += recency

	score *= weight
	if score > 10 {
		score = 10
	}
	return score
}

// Validate checks the structural invariants of a Story.
func (s *Story) Validate() error {
	if s.StoryID == "" {
		return &ValidationError{Field: "story_id", Message: "story_id is required"}
	}
	if s.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if !ValidCategories[s.Category] {
		return &ValidationError{Field: "category", Message: "unrecognized category: " + string(s.Category)}
	}
	switch s.Status {
	case StatusMonitoring, StatusDeveloping, StatusVerified, StatusBreaking, StatusArchived:
	default:
		return &ValidationError{Field: "status", Message: "unrecognized status: " + string(s.Status)}
	}
	if len(s.Sources) == 0 {
		return &ValidationError{Field: "sources", Message: "story must have at least one source article"}
	}
	if s.Summary != nil && s.Summary.Version < 1 {
		return &ValidationError{Field: "summary.version", Message: "summary version must be positive"}
	}
	return nil
}
