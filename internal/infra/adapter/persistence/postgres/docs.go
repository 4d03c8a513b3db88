package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"catchup-pipeline/internal/domain/entity"
)

// The wire shapes below exist only at the store boundary: domain entities
// stay free of serialization tags, and schema evolution is confined to this
// file. Timestamps are RFC 3339 with offset.

type entityMentionDoc struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type articleDoc struct {
	ArticleID   string             `json:"article_id"`
	SourceID    string             `json:"source_id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Content     *string            `json:"content,omitempty"`
	ArticleURL  string             `json:"article_url"`
	ImageURL    *string            `json:"image_url,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
	IngestedAt  time.Time          `json:"ingested_at"`
	Category    string             `json:"category"`
	Entities    []entityMentionDoc `json:"entities"`
	Fingerprint string             `json:"fingerprint"`
	ClusterID   *string            `json:"cluster_id,omitempty"`
}

func mentionsToDoc(mentions []entity.EntityMention) []entityMentionDoc {
	out := make([]entityMentionDoc, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, entityMentionDoc{Text: m.Text, Type: string(m.Type)})
	}
	return out
}

func mentionsFromDoc(docs []entityMentionDoc) []entity.EntityMention {
	out := make([]entity.EntityMention, 0, len(docs))
	for _, d := range docs {
		out = append(out, entity.EntityMention{Text: d.Text, Type: entity.EntityType(d.Type)})
	}
	return out
}

func marshalArticle(a *entity.Article) ([]byte, error) {
	doc := articleDoc{
		ArticleID:   a.ArticleID,
		SourceID:    a.SourceID,
		Title:       a.Title,
		Description: a.Description,
		Content:     a.Content,
		ArticleURL:  a.ArticleURL,
		ImageURL:    a.ImageURL,
		PublishedAt: a.PublishedAt.UTC(),
		IngestedAt:  a.IngestedAt.UTC(),
		Category:    string(a.Category),
		Entities:    mentionsToDoc(a.Entities),
		Fingerprint: a.Fingerprint,
		ClusterID:   a.ClusterID,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal article %s: %w", a.ArticleID, err)
	}
	return body, nil
}

func unmarshalArticle(body []byte) (*entity.Article, error) {
	var doc articleDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal article: %w", err)
	}
	return &entity.Article{
		ArticleID:   doc.ArticleID,
		SourceID:    doc.SourceID,
		Title:       doc.Title,
		Description: doc.Description,
		Content:     doc.Content,
		ArticleURL:  doc.ArticleURL,
		ImageURL:    doc.ImageURL,
		PublishedAt: doc.PublishedAt,
		IngestedAt:  doc.IngestedAt,
		Category:    entity.Category(doc.Category),
		Entities:    mentionsFromDoc(doc.Entities),
		Fingerprint: doc.Fingerprint,
		ClusterID:   doc.ClusterID,
	}, nil
}

// articlePartitionKey buckets articles by published day per the persisted
// state layout.
func articlePartitionKey(publishedAt time.Time) string {
	return publishedAt.UTC().Format("2006-01-02")
}

type sourceArticleRefDoc struct {
	ArticleID   string    `json:"article_id"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	AttachedAt  time.Time `json:"attached_at"`
}

type summaryDoc struct {
	Text           string    `json:"text"`
	Headline       string    `json:"headline"`
	Version        int       `json:"version"`
	WordCount      int       `json:"word_count"`
	GeneratedAt    time.Time `json:"generated_at"`
	Model          string    `json:"model_id"`
	CostMicroUSD   int64     `json:"cost_micro_usd"`
	Fallback       bool      `json:"fallback,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}

type storyDoc struct {
	StoryID            string                `json:"story_id"`
	Fingerprint        string                `json:"fingerprint"`
	Title              string                `json:"title"`
	Category           string                `json:"category"`
	Status             string                `json:"status"`
	Tags               []entityMentionDoc    `json:"tags"`
	Sources            []sourceArticleRefDoc `json:"source_articles"`
	Summary            *summaryDoc           `json:"summary,omitempty"`
	ImportanceScore    float64               `json:"importance_score"`
	EpisodeID          int                   `json:"episode_id"`
	BreakingNewsSentAt *time.Time            `json:"breaking_news_sent_at,omitempty"`
	CreatedAt          time.Time             `json:"first_seen"`
	UpdatedAt          time.Time             `json:"last_updated"`
	LastSourceAt       time.Time             `json:"last_source_at"`
	PromotedAt         *time.Time            `json:"promoted_at,omitempty"`
	DemotedAt          *time.Time            `json:"demoted_at,omitempty"`
}

func marshalStory(s *entity.Story) ([]byte, error) {
	refs := make([]sourceArticleRefDoc, 0, len(s.Sources))
	for _, r := range s.Sources {
		refs = append(refs, sourceArticleRefDoc{
			ArticleID:   r.ArticleID,
			SourceID:    r.SourceID,
			Title:       r.Title,
			URL:         r.URL,
			PublishedAt: r.PublishedAt.UTC(),
			AttachedAt:  r.AttachedAt.UTC(),
		})
	}
	doc := storyDoc{
		StoryID:            s.StoryID,
		Fingerprint:        s.Fingerprint,
		Title:              s.Title,
		Category:           string(s.Category),
		Status:             string(s.Status),
		Tags:               mentionsToDoc(s.Tags),
		Sources:            refs,
		ImportanceScore:    s.ImportanceScore,
		EpisodeID:          s.EpisodeID,
		BreakingNewsSentAt: s.BreakingNewsSentAt,
		CreatedAt:          s.CreatedAt.UTC(),
		UpdatedAt:          s.UpdatedAt.UTC(),
		LastSourceAt:       s.LastSourceAt.UTC(),
		PromotedAt:         s.PromotedAt,
		DemotedAt:          s.DemotedAt,
	}
	if s.Summary != nil {
		doc.Summary = &summaryDoc{
			Text:           s.Summary.Text,
			Headline:       s.Summary.Headline,
			Version:        s.Summary.Version,
			WordCount:      s.Summary.WordCount,
			GeneratedAt:    s.Summary.GeneratedAt.UTC(),
			Model:          s.Summary.Model,
			CostMicroUSD:   s.Summary.CostMicroUSD,
			Fallback:       s.Summary.Fallback,
			FallbackReason: s.Summary.FallbackReason,
		}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal story %s: %w", s.StoryID, err)
	}
	return body, nil
}

func unmarshalStory(body []byte) (*entity.Story, error) {
	var doc storyDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal story: %w", err)
	}
	refs := make([]entity.SourceArticleRef, 0, len(doc.Sources))
	for _, r := range doc.Sources {
		refs = append(refs, entity.SourceArticleRef{
			ArticleID:   r.ArticleID,
			SourceID:    r.SourceID,
			Title:       r.Title,
			URL:         r.URL,
			PublishedAt: r.PublishedAt,
			AttachedAt:  r.AttachedAt,
		})
	}
	story := &entity.Story{
		StoryID:            doc.StoryID,
		Fingerprint:        doc.Fingerprint,
		Title:              doc.Title,
		Category:           entity.Category(doc.Category),
		Status:             entity.StoryStatus(doc.Status),
		Tags:               mentionsFromDoc(doc.Tags),
		Sources:            refs,
		ImportanceScore:    doc.ImportanceScore,
		EpisodeID:          doc.EpisodeID,
		BreakingNewsSentAt: doc.BreakingNewsSentAt,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		LastSourceAt:       doc.LastSourceAt,
		PromotedAt:         doc.PromotedAt,
		DemotedAt:          doc.DemotedAt,
	}
	if doc.Summary != nil {
		story.Summary = &entity.Summary{
			Text:           doc.Summary.Text,
			Headline:       doc.Summary.Headline,
			Version:        doc.Summary.Version,
			WordCount:      doc.Summary.WordCount,
			GeneratedAt:    doc.Summary.GeneratedAt,
			Model:          doc.Summary.Model,
			CostMicroUSD:   doc.Summary.CostMicroUSD,
			Fallback:       doc.Summary.Fallback,
			FallbackReason: doc.Summary.FallbackReason,
		}
	}
	return story, nil
}

type feedPollStateDoc struct {
	SourceID         string     `json:"feed_id"`
	FeedURL          string     `json:"feed_url"`
	ETag             string     `json:"last_etag,omitempty"`
	LastModified     string     `json:"last_modified,omitempty"`
	LastPolledAt     time.Time  `json:"last_polled_at"`
	LastSuccessAt    time.Time  `json:"last_success_at"`
	ConsecutiveFails int        `json:"consecutive_failures"`
	CircuitState     string     `json:"circuit_state"`
	CircuitOpenedAt  *time.Time `json:"circuit_opened_at,omitempty"`
	TotalFetched     int64      `json:"total_fetched"`
	Total304s        int64      `json:"total_304s"`
	TotalErrors      int64      `json:"total_errors"`
}

func marshalFeedPollState(f *entity.FeedPollState) ([]byte, error) {
	doc := feedPollStateDoc{
		SourceID:         f.SourceID,
		FeedURL:          f.FeedURL,
		ETag:             f.ETag,
		LastModified:     f.LastModified,
		LastPolledAt:     f.LastPolledAt.UTC(),
		LastSuccessAt:    f.LastSuccessAt.UTC(),
		ConsecutiveFails: f.ConsecutiveFails,
		CircuitState:     string(f.CircuitState),
		CircuitOpenedAt:  f.CircuitOpenedAt,
		TotalFetched:     f.TotalFetched,
		Total304s:        f.Total304s,
		TotalErrors:      f.TotalErrors,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal feed poll state %s: %w", f.SourceID, err)
	}
	return body, nil
}

func unmarshalFeedPollState(body []byte) (*entity.FeedPollState, error) {
	var doc feedPollStateDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal feed poll state: %w", err)
	}
	return &entity.FeedPollState{
		SourceID:         doc.SourceID,
		FeedURL:          doc.FeedURL,
		ETag:             doc.ETag,
		LastModified:     doc.LastModified,
		LastPolledAt:     doc.LastPolledAt,
		LastSuccessAt:    doc.LastSuccessAt,
		ConsecutiveFails: doc.ConsecutiveFails,
		CircuitState:     entity.CircuitState(doc.CircuitState),
		CircuitOpenedAt:  doc.CircuitOpenedAt,
		TotalFetched:     doc.TotalFetched,
		Total304s:        doc.Total304s,
		TotalErrors:      doc.TotalErrors,
	}, nil
}

type notificationPayloadDoc struct {
	Headline    string   `json:"headline"`
	Category    string   `json:"category"`
	SourceCount int      `json:"source_count"`
	Summary     string   `json:"summary,omitempty"`
	TopSources  []string `json:"top_sources,omitempty"`
}

type notificationDoc struct {
	EntryID     string                 `json:"entry_id"`
	StoryID     string                 `json:"story_id"`
	EpisodeID   int                    `json:"episode_id"`
	Reason      string                 `json:"reason"`
	Status      string                 `json:"status"`
	Payload     notificationPayloadDoc `json:"payload"`
	Attempts    int                    `json:"attempts"`
	CreatedAt   time.Time              `json:"queued_at"`
	DeliveredAt *time.Time             `json:"delivered_at,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
}

func marshalNotification(n *entity.NotificationQueueEntry) ([]byte, error) {
	doc := notificationDoc{
		EntryID:   n.EntryID,
		StoryID:   n.StoryID,
		EpisodeID: n.EpisodeID,
		Reason:    string(n.Reason),
		Status:    string(n.Status),
		Payload: notificationPayloadDoc{
			Headline:    n.Payload.Headline,
			Category:    string(n.Payload.Category),
			SourceCount: n.Payload.SourceCount,
			Summary:     n.Payload.Summary,
			TopSources:  n.Payload.TopSources,
		},
		Attempts:    n.Attempts,
		CreatedAt:   n.CreatedAt.UTC(),
		DeliveredAt: n.DeliveredAt,
		LastError:   n.LastError,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal notification %s: %w", n.EntryID, err)
	}
	return body, nil
}

func unmarshalNotification(body []byte) (*entity.NotificationQueueEntry, error) {
	var doc notificationDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &entity.NotificationQueueEntry{
		EntryID:   doc.EntryID,
		StoryID:   doc.StoryID,
		EpisodeID: doc.EpisodeID,
		Reason:    entity.NotificationReason(doc.Reason),
		Status:    entity.NotificationStatus(doc.Status),
		Payload: entity.NotificationPayload{
			Headline:    doc.Payload.Headline,
			Category:    entity.Category(doc.Payload.Category),
			SourceCount: doc.Payload.SourceCount,
			Summary:     doc.Payload.Summary,
			TopSources:  doc.Payload.TopSources,
		},
		Attempts:    doc.Attempts,
		CreatedAt:   doc.CreatedAt,
		DeliveredAt: doc.DeliveredAt,
		LastError:   doc.LastError,
	}, nil
}

type deadLetterDoc struct {
	EntryID      string          `json:"entry_id"`
	Source       string          `json:"source"`
	EventPayload json.RawMessage `json:"event_payload"`
	Reason       string          `json:"reason"`
	Attempts     int             `json:"attempts"`
	FirstSeenAt  time.Time       `json:"first_seen_at"`
	LastSeenAt   time.Time       `json:"last_seen_at"`
}

type costLogDoc struct {
	EntryID      string    `json:"entry_id"`
	StoryID      string    `json:"story_id"`
	Path         string    `json:"path"`
	Model        string    `json:"model_id"`
	InputTokens  int       `json:"input_tokens"`
	CachedTokens int       `json:"cached_input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostMicroUSD int64     `json:"cost_micro_usd"`
	CreatedAt    time.Time `json:"timestamp"`
}

type summaryAuditDoc struct {
	EntryID   string    `json:"entry_id"`
	StoryID   string    `json:"story_id"`
	Version   int       `json:"version"`
	Text      string    `json:"text"`
	Headline  string    `json:"headline"`
	Model     string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}
