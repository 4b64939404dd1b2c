// Package memory provides in-memory entry and activity stores for local
// development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/activityquery/internal/buckets"
	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/observability"
)

// Store keeps journal entries and both activity collections. The sandbox and
// live collections are separate maps and may reuse identifiers.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]domain.JournalEntry
	activities map[domain.Mode]map[string]domain.Activity
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]domain.JournalEntry),
		activities: map[domain.Mode]map[string]domain.Activity{
			domain.ModeSandbox: make(map[string]domain.Activity),
			domain.ModeLive:    make(map[string]domain.Activity),
		},
	}
}

// PutEntry inserts or replaces an entry, assigning an id when missing.
func (s *Store) PutEntry(entry domain.JournalEntry) domain.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	if entry.GroupingMethod == "" {
		entry.GroupingMethod = domain.GroupingManual
	}
	entry.ActivityIDs = append([]string(nil), entry.ActivityIDs...)
	s.entries[entry.ID] = entry
	return entry
}

// PutActivity inserts an activity into the collection for mode.
func (s *Store) PutActivity(mode domain.Mode, activity domain.Activity) domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(activity.ID) == "" {
		activity.ID = uuid.NewString()
	}
	activity.Timestamp = activity.Timestamp.UTC()
	s.activities[mode][activity.ID] = activity
	return activity
}

// Activities returns the reader bound to one collection.
func (s *Store) Activities(mode domain.Mode) domain.ActivityReader {
	return &collection{store: s, mode: mode}
}

// Stores returns both collections bound for the domain layer.
func (s *Store) Stores() domain.Stores {
	return domain.NewStores(s.Activities(domain.ModeSandbox), s.Activities(domain.ModeLive))
}

// GetEntry implements domain.EntryStore.
func (s *Store) GetEntry(ctx context.Context, entryID string) (*domain.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return nil, nil
	}
	entry.ActivityIDs = append([]string(nil), entry.ActivityIDs...)
	return &entry, nil
}

// ListEntries implements domain.EntryStore.
func (s *Store) ListEntries(ctx context.Context, ownerID string, filter domain.EntryListFilter, offset, limit int) ([]domain.JournalEntry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.JournalEntry, 0)
	for _, entry := range s.entries {
		if entry.UserID != ownerID {
			continue
		}
		if filter.Source != "" && !s.referencesSource(entry, filter.Source) {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, offset, limit), len(matched), nil
}

func (s *Store) referencesSource(entry domain.JournalEntry, source string) bool {
	coll := s.activities[entry.Mode]
	for _, id := range entry.ActivityIDs {
		if a, ok := coll[id]; ok && a.Source == source {
			return true
		}
	}
	return false
}

// collection is the read API over one activity map.
type collection struct {
	store *Store
	mode  domain.Mode
}

func (c *collection) List(ctx context.Context, filter domain.ActivityFilter, offset, limit int) (out []domain.Activity, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "list", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := c.match(filter)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, offset, limit), nil
}

func (c *collection) Count(ctx context.Context, filter domain.ActivityFilter) (n int, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "count", err) }()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(c.match(filter)), nil
}

func (c *collection) CountBySource(ctx context.Context, ownerID string) (out []domain.SourceCount, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "count_by_source", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, a := range c.match(domain.ActivityFilter{OwnerID: ownerID}) {
		counts[a.Source]++
	}
	out = make([]domain.SourceCount, 0, len(counts))
	for source, n := range counts {
		out = append(out, domain.SourceCount{Source: source, Count: n})
	}
	return out, nil
}

func (c *collection) EntryCountBySource(ctx context.Context, ownerID string) (out map[string]int, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "entry_count_by_source", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.entryCounts(ownerID, func(a domain.Activity) string { return a.Source }), nil
}

func (c *collection) CountByBucket(ctx context.Context, ownerID string, set buckets.Set) (out map[buckets.Name]int, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "count_by_bucket", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out = make(map[buckets.Name]int)
	for _, a := range c.match(domain.ActivityFilter{OwnerID: ownerID}) {
		out[set.Assign(a.Timestamp)]++
	}
	return out, nil
}

func (c *collection) EntryCountByBucket(ctx context.Context, ownerID string, set buckets.Set) (out map[buckets.Name]int, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "entry_count_by_bucket", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := c.entryCounts(ownerID, func(a domain.Activity) string { return string(set.Assign(a.Timestamp)) })
	out = make(map[buckets.Name]int, len(counts))
	for name, n := range counts {
		out[buckets.Name(name)] = n
	}
	return out, nil
}

func (c *collection) SourceCountsByEntry(ctx context.Context, entryIDs []string) (out map[string][]domain.SourceCount, err error) {
	defer func() { observability.RecordStoreRead(string(c.mode), "source_counts_by_entry", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	coll := c.store.activities[c.mode]
	out = make(map[string][]domain.SourceCount, len(entryIDs))
	for _, id := range entryIDs {
		entry, ok := c.store.entries[id]
		if !ok || entry.Mode != c.mode {
			continue
		}
		counts := make(map[string]int)
		for _, activityID := range distinct(entry.ActivityIDs) {
			if a, ok := coll[activityID]; ok && a.UserID == entry.UserID {
				counts[a.Source]++
			}
		}
		for source, n := range counts {
			out[id] = append(out[id], domain.SourceCount{Source: source, Count: n})
		}
	}
	return out, nil
}

// entryCounts counts distinct entries of the owner in this store per key of
// the activities they reference.
func (c *collection) entryCounts(ownerID string, key func(domain.Activity) string) map[string]int {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	coll := c.store.activities[c.mode]
	out := make(map[string]int)
	for _, entry := range c.store.entries {
		if entry.UserID != ownerID || entry.Mode != c.mode {
			continue
		}
		seen := make(map[string]struct{})
		for _, id := range entry.ActivityIDs {
			a, ok := coll[id]
			if !ok || a.UserID != ownerID {
				continue
			}
			seen[key(a)] = struct{}{}
		}
		for k := range seen {
			out[k]++
		}
	}
	return out
}

func (c *collection) match(filter domain.ActivityFilter) []domain.Activity {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	coll := c.store.activities[c.mode]
	var ids map[string]struct{}
	if len(filter.IDs) > 0 {
		ids = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = struct{}{}
		}
	}

	out := make([]domain.Activity, 0)
	for _, a := range coll {
		if ids != nil {
			if _, ok := ids[a.ID]; !ok {
				continue
			}
		}
		if filter.OwnerID != "" && a.UserID != filter.OwnerID {
			continue
		}
		if filter.Source != "" && a.Source != filter.Source {
			continue
		}
		if filter.From != nil && a.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.Until != nil && !a.Timestamp.Before(*filter.Until) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), items[offset:end]...)
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
