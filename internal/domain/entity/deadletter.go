package entity

import "time"

// DeadLetterSource names the consumer that gave up on a message.
type DeadLetterSource string

const (
	DeadLetterClustering   DeadLetterSource = "clustering"
	DeadLetterSummarization DeadLetterSource = "summarization"
)

// DeadLetterEntry records a change-stream event that a consumer could not
// process after exhausting its retry budget, preserving the payload for
// manual replay or inspection.
type DeadLetterEntry struct {
	EntryID      string
	Source       DeadLetterSource
	EventPayload []byte
	Reason       string
	Attempts     int
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}
