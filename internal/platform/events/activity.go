// Package events defines the mutation events published by the ingestion
// pipeline and the entry editing flows.
package events

import "time"

const (
	// TypeActivityIngested is emitted after an activity row is written.
	TypeActivityIngested = "activity.ingested"
	// TypeJournalEntryUpdated is emitted when an entry's activity list or
	// metadata changes.
	TypeJournalEntryUpdated = "journal_entry.updated"
)

// ActivityIngested announces a new activity in one of the two stores.
type ActivityIngested struct {
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	Mode       string    `json:"mode"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

// JournalEntryUpdated announces a change to an entry.
type JournalEntryUpdated struct {
	EntryID   string    `json:"entry_id"`
	UserID    string    `json:"user_id"`
	Mode      string    `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
}
