// Package domain answers the activity queries behind journal entries: the
// activities of one entry, counts per source and counts per time bucket.
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/activityquery/internal/buckets"
	"example.com/activityquery/internal/observability"
	"example.com/activityquery/internal/sources"
)

const (
	// DefaultSourceCap bounds the number of source groups returned.
	DefaultSourceCap = 20
	// DefaultQueryTimeout bounds a single query's fan-out.
	DefaultQueryTimeout = 5 * time.Second
)

// Service orchestrates activity queries.
type Service struct {
	resolver  *Resolver
	entries   EntryStore
	registry  *sources.Registry
	now       func() time.Time
	timeout   time.Duration
	sourceCap int
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source used for bucket computation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithQueryTimeout sets the deadline applied to each query.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSourceCap sets the maximum number of source groups returned.
func WithSourceCap(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.sourceCap = limit
		}
	}
}

// NewService constructs a Service.
func NewService(entries EntryStore, stores Stores, registry *sources.Registry, opts ...Option) *Service {
	if registry == nil {
		registry = sources.Default()
	}
	s := &Service{
		resolver:  NewResolver(entries, stores),
		entries:   entries,
		registry:  registry,
		now:       time.Now,
		timeout:   DefaultQueryTimeout,
		sourceCap: DefaultSourceCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntryActivitiesQuery selects one page of an entry's activities.
type EntryActivitiesQuery struct {
	EntryID  string
	CallerID string
	Page     Page
	Source   string
}

// EntryActivities is one page of an entry's activities.
type EntryActivities struct {
	Entry      JournalEntry
	Mode       Mode
	Activities []Activity
	Page       Page
	Total      int
}

// ListActivitiesForEntry returns the entry's activities newest first. The
// page and the total are computed from the same filter concurrently.
func (s *Service) ListActivitiesForEntry(ctx context.Context, q EntryActivitiesQuery) (result *EntryActivities, err error) {
	defer observability.ObserveQuery("entry_activities", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.resolver.ResolveEntry(ctx, q.EntryID, q.CallerID)
	if err != nil {
		return nil, err
	}

	page := NewPage(q.Page.Number, q.Page.Size)
	out := &EntryActivities{
		Entry:      res.Entry,
		Mode:       res.Handle.Mode(),
		Activities: []Activity{},
		Page:       page,
	}
	if len(res.Entry.ActivityIDs) == 0 {
		return out, nil
	}

	filter := ActivityFilter{IDs: res.Entry.ActivityIDs, Source: q.Source}
	reader := res.Handle.reader

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := reader.List(gctx, filter, page.Offset(), page.Size)
		if err != nil {
			return err
		}
		out.Activities = items
		return nil
	})
	g.Go(func() error {
		total, err := reader.Count(gctx, filter)
		if err != nil {
			return err
		}
		out.Total = total
		return nil
	})
	if err := s.wait(ctx, g, "entry_activities"); err != nil {
		return nil, err
	}
	return out, nil
}

// SourceStat is the activity and entry tally for one source.
type SourceStat struct {
	Source        string
	Metadata      *sources.Metadata
	ActivityCount int
	EntryCount    int
}

// SourceStats groups a user's activities by source.
type SourceStats struct {
	Mode Mode
	// Sources is ordered by activity count descending and capped at Cap.
	Sources         []SourceStat
	Cap             int
	TotalSources    int
	TotalActivities int
}

// StatsBySource counts the user's activities and referencing entries per
// source in the store selected by mode.
func (s *Service) StatsBySource(ctx context.Context, callerID string, mode Mode) (result *SourceStats, err error) {
	defer observability.ObserveQuery("stats_by_source", time.Now(), &err)

	handle, err := s.resolver.ResolveAggregate(mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		counts  []SourceCount
		entries map[string]int
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = handle.reader.CountBySource(gctx, callerID)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = handle.reader.EntryCountBySource(gctx, callerID)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = handle.reader.Count(gctx, ActivityFilter{OwnerID: callerID})
		return err
	})
	if err := s.wait(ctx, g, "stats_by_source"); err != nil {
		return nil, err
	}

	sorted := append([]SourceCount(nil), counts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Source < sorted[j].Source
	})

	out := &SourceStats{
		Mode:            handle.Mode(),
		Cap:             s.sourceCap,
		TotalSources:    len(sorted),
		TotalActivities: total,
	}
	if len(sorted) > s.sourceCap {
		sorted = sorted[:s.sourceCap]
	}
	out.Sources = make([]SourceStat, 0, len(sorted))
	for _, c := range sorted {
		out.Sources = append(out.Sources, SourceStat{
			Source:        c.Source,
			Metadata:      s.lookup(c.Source),
			ActivityCount: c.Count,
			EntryCount:    entries[c.Source],
		})
	}
	return out, nil
}

// TemporalStat is the tally for one bucket.
type TemporalStat struct {
	Bucket        buckets.Bucket
	ActivityCount int
	EntryCount    int
}

// TemporalStats groups a user's activities into calendar buckets.
type TemporalStats struct {
	Mode            Mode
	Timezone        string
	Now             time.Time
	Buckets         []TemporalStat
	TotalActivities int
}

// StatsByTemporal counts the user's activities and entries per bucket for
// the buckets computed from now in loc.
func (s *Service) StatsByTemporal(ctx context.Context, callerID string, mode Mode, loc *time.Location) (result *TemporalStats, err error) {
	defer observability.ObserveQuery("stats_by_temporal", time.Now(), &err)

	handle, err := s.resolver.ResolveAggregate(mode)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	set := buckets.Compute(s.now(), loc)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		activities map[buckets.Name]int
		entries    map[buckets.Name]int
		total      int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		activities, err = handle.reader.CountByBucket(gctx, callerID, set)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = handle.reader.EntryCountByBucket(gctx, callerID, set)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = handle.reader.Count(gctx, ActivityFilter{OwnerID: callerID})
		return err
	})
	if err := s.wait(ctx, g, "stats_by_temporal"); err != nil {
		return nil, err
	}

	out := &TemporalStats{
		Mode:            handle.Mode(),
		Timezone:        loc.String(),
		Now:             set.Now,
		Buckets:         make([]TemporalStat, 0, len(set.Buckets)),
		TotalActivities: total,
	}
	for _, b := range set.Buckets {
		out.Buckets = append(out.Buckets, TemporalStat{
			Bucket:        b,
			ActivityCount: activities[b.Name],
			EntryCount:    entries[b.Name],
		})
	}
	return out, nil
}

// EntryActivityMeta summarises the activities one entry references.
type EntryActivityMeta struct {
	ActivityCount int
	Sources       []SourceStat
}

// EntryListQuery selects a page of the caller's entries.
type EntryListQuery struct {
	CallerID            string
	Page                Page
	FilterBySource      string
	IncludeActivityMeta bool
}

// EntryList is one page of entries, optionally enriched.
type EntryList struct {
	Entries []JournalEntry
	// Meta is keyed by entry id and only set when requested.
	Meta  map[string]EntryActivityMeta
	Page  Page
	Total int
}

// ListEntries pages the caller's entries and, when asked, attaches activity
// metadata using at most one grouped query per store.
func (s *Service) ListEntries(ctx context.Context, q EntryListQuery) (result *EntryList, err error) {
	defer observability.ObserveQuery("entry_list", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	page := NewPage(q.Page.Number, q.Page.Size)
	entries, total, err := s.entries.ListEntries(ctx, q.CallerID, EntryListFilter{Source: q.FilterBySource}, page.Offset(), page.Size)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}

	out := &EntryList{Entries: entries, Page: page, Total: total}
	if !q.IncludeActivityMeta {
		return out, nil
	}
	meta, err := s.entryActivityMeta(ctx, entries)
	if err != nil {
		return nil, err
	}
	out.Meta = meta
	return out, nil
}

func (s *Service) entryActivityMeta(ctx context.Context, entries []JournalEntry) (map[string]EntryActivityMeta, error) {
	byMode := make(map[Mode][]string, 2)
	for _, e := range entries {
		byMode[e.Mode] = append(byMode[e.Mode], e.ID)
	}

	results := make(map[Mode]map[string][]SourceCount, len(byMode))
	handles := make(map[Mode]StoreHandle, len(byMode))
	for mode := range byMode {
		handle, err := s.resolver.stores.handle(mode)
		if err != nil {
			return nil, fmt.Errorf("stored entry mode %q: %v", mode, err)
		}
		handles[mode] = handle
	}

	type modeResult struct {
		mode   Mode
		counts map[string][]SourceCount
	}
	collected := make(chan modeResult, len(byMode))

	g, gctx := errgroup.WithContext(ctx)
	for mode, ids := range byMode {
		handle := handles[mode]
		g.Go(func() error {
			counts, err := handle.reader.SourceCountsByEntry(gctx, ids)
			if err != nil {
				return err
			}
			collected <- modeResult{mode: handle.Mode(), counts: counts}
			return nil
		})
	}
	if err := s.wait(ctx, g, "entry_list"); err != nil {
		return nil, err
	}
	close(collected)
	for r := range collected {
		results[r.mode] = r.counts
	}

	out := make(map[string]EntryActivityMeta, len(entries))
	for _, e := range entries {
		counts := append([]SourceCount(nil), results[e.Mode][e.ID]...)
		sort.SliceStable(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return counts[i].Count > counts[j].Count
			}
			return counts[i].Source < counts[j].Source
		})
		meta := EntryActivityMeta{Sources: make([]SourceStat, 0, len(counts))}
		for _, c := range counts {
			meta.ActivityCount += c.Count
			meta.Sources = append(meta.Sources, SourceStat{
				Source:        c.Source,
				Metadata:      s.lookup(c.Source),
				ActivityCount: c.Count,
			})
		}
		out[e.ID] = meta
	}
	return out, nil
}

// wait joins sibling reads. Any failure fails the whole query; a deadline
// reached while siblings are outstanding is reported as ErrTimeout.
func (s *Service) wait(ctx context.Context, g *errgroup.Group, operation string) error {
	err := g.Wait()
	if err == nil {
		return nil
	}
	err = classifyStoreError(ctx, err)
	reason := "error"
	switch {
	case errors.Is(err, ErrTimeout):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	observability.RecordFanoutFailure(operation, reason)
	return err
}

func (s *Service) lookup(source string) *sources.Metadata {
	meta, ok := s.registry.Lookup(source)
	if !ok {
		return nil
	}
	return &meta
}
