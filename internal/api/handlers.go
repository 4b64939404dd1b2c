// Package api exposes HTTP handlers for the activity query service.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"example.com/activityquery/internal/auth"
	"example.com/activityquery/internal/buckets"
	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/freshness"
)

// Default cache lifetimes.
const (
	DefaultEntryCacheTTL     = 30 * time.Second
	DefaultAggregateCacheTTL = 60 * time.Second
)

// Config tunes response caching.
type Config struct {
	EntryCacheTTL     time.Duration
	AggregateCacheTTL time.Duration
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	tracker *freshness.Tracker
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler builds a Handler. A nil tracker disables event-driven freshness;
// validators still roll over with the cache window.
func NewHandler(service *domain.Service, tracker *freshness.Tracker, cfg Config, logger *zap.Logger) *Handler {
	if cfg.EntryCacheTTL <= 0 {
		cfg.EntryCacheTTL = DefaultEntryCacheTTL
	}
	if cfg.AggregateCacheTTL <= 0 {
		cfg.AggregateCacheTTL = DefaultAggregateCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, tracker: tracker, cfg: cfg, logger: logger, now: time.Now}
}

// Router builds the HTTP routes. authenticate guards every /v1 route.
func (h *Handler) Router(authenticate func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", healthz)
	r.Group(func(r chi.Router) {
		if authenticate != nil {
			r.Use(authenticate)
		}
		r.Get("/v1/journal-entries/{entryID}/activities", h.entryActivities)
		r.Get("/v1/activity-stats", h.activityStats)
		r.Get("/v1/journal", h.journal)
	})
	return r
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims.UserID == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing bearer token")
		return "", false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, CodeInsufficientScope, "scope "+scope+" required")
		return "", false
	}
	return claims.UserID, true
}

// entryActivities serves one page of an entry's activities. The store is
// chosen from the entry's stored mode; request mode hints are ignored.
func (h *Handler) entryActivities(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}
	params, err := parseEntryActivitiesParams(chi.URLParam(r, "entryID"), r.URL.Query())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	result, err := h.service.ListActivitiesForEntry(r.Context(), domain.EntryActivitiesQuery{
		EntryID:  params.EntryID,
		CallerID: callerID,
		Page:     domain.Page{Number: params.Page, Size: params.Limit},
		Source:   params.Source,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]ActivityView, 0, len(result.Activities))
	for _, a := range result.Activities {
		items = append(items, toActivityView(a))
	}
	pagination := NewPagination(result.Page, result.Total)
	mode := string(result.Mode)

	marker := h.tracker.Marker(h.now(), h.cfg.EntryCacheTTL,
		[]time.Time{result.Entry.UpdatedAt},
		freshness.EntryKey(result.Entry.ID), freshness.UserKey(result.Entry.UserID, mode))
	etag := freshness.WeakETag(marker, result.Entry.ID, mode, params.Source,
		strconv.Itoa(result.Page.Number), strconv.Itoa(result.Page.Size))

	writeCached(w, r, Envelope{
		Data:       items,
		Pagination: &pagination,
		Meta:       Meta{Mode: mode, EntryID: result.Entry.ID, SourceFilter: params.Source},
	}, cachePolicy{ttl: h.cfg.EntryCacheTTL, etag: etag})
}

// activityStats serves the caller's aggregates grouped by source or by
// calendar bucket.
func (h *Handler) activityStats(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}
	params, err := parseStatsParams(r.URL.Query())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mode := domain.ModeLive
	if params.Mode != "" {
		if mode, err = domain.ParseMode(params.Mode); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}

	switch params.GroupBy {
	case "source":
		h.statsBySource(w, r, callerID, mode)
	default:
		loc, err := buckets.LoadLocation(params.Timezone)
		if err != nil {
			h.writeDomainError(w, r, invalidArgument(err))
			return
		}
		h.statsByTemporal(w, r, callerID, mode, loc)
	}
}

func (h *Handler) statsBySource(w http.ResponseWriter, r *http.Request, callerID string, mode domain.Mode) {
	stats, err := h.service.StatsBySource(r.Context(), callerID, mode)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]SourceStatView, 0, len(stats.Sources))
	for _, s := range stats.Sources {
		items = append(items, toSourceStatView(s, true))
	}
	modeName := string(stats.Mode)
	capped, totalSources, totalActivities := stats.Cap, stats.TotalSources, stats.TotalActivities

	marker := h.tracker.Marker(h.now(), h.cfg.AggregateCacheTTL, nil, freshness.UserKey(callerID, modeName))
	etag := freshness.WeakETag(marker, callerID, modeName, "source")

	writeCached(w, r, Envelope{
		Data: items,
		Meta: Meta{
			Mode:            modeName,
			GroupBy:         "source",
			Cap:             &capped,
			TotalSources:    &totalSources,
			TotalActivities: &totalActivities,
		},
	}, cachePolicy{ttl: h.cfg.AggregateCacheTTL, etag: etag})
}

func (h *Handler) statsByTemporal(w http.ResponseWriter, r *http.Request, callerID string, mode domain.Mode, loc *time.Location) {
	stats, err := h.service.StatsByTemporal(r.Context(), callerID, mode, loc)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]TemporalStatView, 0, len(stats.Buckets))
	for _, b := range stats.Buckets {
		items = append(items, toTemporalStatView(b))
	}
	modeName := string(stats.Mode)
	computedAt := stats.Now
	totalActivities := stats.TotalActivities

	// Bucket boundaries move at local midnight, so the day is part of the key.
	marker := h.tracker.Marker(h.now(), h.cfg.AggregateCacheTTL, nil, freshness.UserKey(callerID, modeName))
	etag := freshness.WeakETag(marker, callerID, modeName, "temporal", stats.Timezone, stats.Now.Format(time.DateOnly))

	writeCached(w, r, Envelope{
		Data: items,
		Meta: Meta{
			Mode:            modeName,
			GroupBy:         "temporal",
			Timezone:        stats.Timezone,
			ComputedAt:      &computedAt,
			TotalActivities: &totalActivities,
		},
	}, cachePolicy{ttl: h.cfg.AggregateCacheTTL, etag: etag})
}

// journal pages the caller's entries, optionally enriched with activity
// metadata.
func (h *Handler) journal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r, auth.ScopeJournalRead)
	if !ok {
		return
	}
	params, err := parseJournalParams(r.URL.Query())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	list, err := h.service.ListEntries(r.Context(), domain.EntryListQuery{
		CallerID:            callerID,
		Page:                domain.Page{Number: params.Page, Size: params.Limit},
		FilterBySource:      params.FilterBySource,
		IncludeActivityMeta: params.IncludeActivityMeta,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]JournalEntryView, 0, len(list.Entries))
	known := make([]time.Time, 0, len(list.Entries))
	keys := []string{
		freshness.UserKey(callerID, string(domain.ModeSandbox)),
		freshness.UserKey(callerID, string(domain.ModeLive)),
	}
	for _, e := range list.Entries {
		var meta *domain.EntryActivityMeta
		if m, ok := list.Meta[e.ID]; ok {
			meta = &m
		}
		items = append(items, toJournalEntryView(e, meta))
		known = append(known, e.UpdatedAt)
		keys = append(keys, freshness.EntryKey(e.ID))
	}
	pagination := NewPagination(list.Page, list.Total)

	marker := h.tracker.Marker(h.now(), h.cfg.EntryCacheTTL, known, keys...)
	etag := freshness.WeakETag(marker, callerID, "journal", params.FilterBySource,
		strconv.FormatBool(params.IncludeActivityMeta),
		strconv.Itoa(list.Page.Number), strconv.Itoa(list.Page.Size), strconv.Itoa(list.Total))

	writeCached(w, r, Envelope{
		Data:       items,
		Pagination: &pagination,
		Meta: Meta{
			Mode:         pageMode(list.Entries),
			SourceFilter: params.FilterBySource,
			ActivityMeta: params.IncludeActivityMeta,
		},
	}, cachePolicy{ttl: h.cfg.EntryCacheTTL, etag: etag})
}

// pageMode names the store shared by every entry on the page. A page mixing
// sandbox and live entries has no single mode; each entry carries its own.
func pageMode(entries []domain.JournalEntry) string {
	if len(entries) == 0 {
		return ""
	}
	mode := entries[0].Mode
	for _, e := range entries[1:] {
		if e.Mode != mode {
			return ""
		}
	}
	return string(mode)
}
