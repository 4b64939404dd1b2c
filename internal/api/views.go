package api

import (
	"time"

	"example.com/activityquery/internal/buckets"
	"example.com/activityquery/internal/domain"
)

// ActivityView is the client representation of an activity.
type ActivityView struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	SourceID      string    `json:"sourceId"`
	SourceURL     string    `json:"sourceUrl,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CrossToolRefs []string  `json:"crossToolRefs"`
}

// SourceStatView is one group in a by-source aggregate. Decorative fields are
// omitted for sources missing from the registry.
type SourceStatView struct {
	ID                string  `json:"id"`
	Name              *string `json:"name,omitempty"`
	Color             *string `json:"color,omitempty"`
	Icon              *string `json:"icon,omitempty"`
	ActivityCount     int     `json:"activityCount"`
	JournalEntryCount *int    `json:"journalEntryCount,omitempty"`
}

// TemporalStatView is one bucket in a temporal aggregate.
type TemporalStatView struct {
	Bucket            buckets.Name `json:"bucket"`
	Start             *time.Time   `json:"start"`
	End               time.Time    `json:"end"`
	ActivityCount     int          `json:"activityCount"`
	JournalEntryCount int          `json:"journalEntryCount"`
}

// EntryActivityMetaView summarises an entry's activities.
type EntryActivityMetaView struct {
	ActivityCount int              `json:"activityCount"`
	Sources       []SourceStatView `json:"sources"`
}

// JournalEntryView is the client representation of a journal entry.
type JournalEntryView struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	Mode           string                 `json:"mode"`
	GroupingMethod string                 `json:"groupingMethod"`
	ActivityIDs    []string               `json:"activityIds"`
	TimeRangeStart *time.Time             `json:"timeRangeStart,omitempty"`
	TimeRangeEnd   *time.Time             `json:"timeRangeEnd,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	ActivityMeta   *EntryActivityMetaView `json:"activityMeta,omitempty"`
}

func toActivityView(a domain.Activity) ActivityView {
	refs := a.CrossToolRefs
	if refs == nil {
		refs = []string{}
	}
	return ActivityView{
		ID:            a.ID,
		Source:        a.Source,
		SourceID:      a.SourceID,
		SourceURL:     a.SourceURL,
		Title:         a.Title,
		Description:   a.Description,
		Timestamp:     a.Timestamp.UTC(),
		CrossToolRefs: refs,
	}
}

func toSourceStatView(s domain.SourceStat, withEntries bool) SourceStatView {
	view := SourceStatView{ID: s.Source, ActivityCount: s.ActivityCount}
	if s.Metadata != nil {
		view.Name = &s.Metadata.Name
		view.Color = &s.Metadata.Color
		view.Icon = &s.Metadata.Icon
	}
	if withEntries {
		n := s.EntryCount
		view.JournalEntryCount = &n
	}
	return view
}

func toTemporalStatView(s domain.TemporalStat) TemporalStatView {
	return TemporalStatView{
		Bucket:            s.Bucket.Name,
		Start:             s.Bucket.Start,
		End:               s.Bucket.End,
		ActivityCount:     s.ActivityCount,
		JournalEntryCount: s.EntryCount,
	}
}

func toJournalEntryView(e domain.JournalEntry, meta *domain.EntryActivityMeta) JournalEntryView {
	ids := e.ActivityIDs
	if ids == nil {
		ids = []string{}
	}
	view := JournalEntryView{
		ID:             e.ID,
		Title:          e.Title,
		Mode:           string(e.Mode),
		GroupingMethod: string(e.GroupingMethod),
		ActivityIDs:    ids,
		TimeRangeStart: e.TimeRangeStart,
		TimeRangeEnd:   e.TimeRangeEnd,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	if meta != nil {
		mv := &EntryActivityMetaView{ActivityCount: meta.ActivityCount, Sources: make([]SourceStatView, 0, len(meta.Sources))}
		for _, s := range meta.Sources {
			mv.Sources = append(mv.Sources, toSourceStatView(s, false))
		}
		view.ActivityMeta = mv
	}
	return view
}
