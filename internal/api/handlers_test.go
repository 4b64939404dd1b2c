package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"example.com/activityquery/internal/auth"
	"example.com/activityquery/internal/buckets"
	"example.com/activityquery/internal/consumer"
	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/freshness"
	"example.com/activityquery/internal/persistence/memory"
)

var (
	testAuth = auth.Config{Secret: "handler-secret", Issuer: "test"}
	// Thursday.
	testNow = time.Date(2025, time.October, 23, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	store   *memory.Store
	tracker *freshness.Tracker
	handler *Handler
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	tracker := freshness.NewTracker()
	service := domain.NewService(store, store.Stores(), nil, domain.WithClock(func() time.Time { return testNow }))
	handler := NewHandler(service, tracker, Config{}, nil)
	handler.now = func() time.Time { return testNow }
	mw := auth.NewMiddleware(testAuth, WriteAuthError)
	return &fixture{store: store, tracker: tracker, handler: handler, router: handler.Router(mw.Wrap)}
}

func token(t *testing.T, userID string, scopes string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    userID,
		"iss":    testAuth.Issuer,
		"scopes": scopes,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testAuth.Secret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) get(t *testing.T, userID, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID, auth.ScopeActivitiesRead+" "+auth.ScopeJournalRead))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
	Meta       Meta            `json:"meta"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestEntryActivitiesPagination(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, 0, 45)
	for i := 0; i < 45; i++ {
		a := f.store.PutActivity(domain.ModeLive, domain.Activity{
			ID:        fmt.Sprintf("a%02d", i),
			UserID:    "u1",
			Source:    "github",
			Title:     fmt.Sprintf("commit %d", i),
			Timestamp: testNow.Add(-time.Duration(i) * time.Hour),
		})
		ids = append(ids, a.ID)
	}
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: ids})

	rr := f.get(t, "u1", "/v1/journal-entries/e1/activities?page=3&limit=20")
	var items []ActivityView
	env := decode(t, rr, &items)

	require.Len(t, items, 5)
	require.Equal(t, "a40", items[0].ID)
	require.Equal(t, "a44", items[4].ID)
	require.Equal(t, &Pagination{Page: 3, Limit: 20, Total: 45, TotalPages: 3, HasMore: false}, env.Pagination)
	require.Equal(t, "live", env.Meta.Mode)
	require.Equal(t, "e1", env.Meta.EntryID)

	require.Equal(t, "private, max-age=30", rr.Header().Get("Cache-Control"))
	require.Equal(t, "Authorization", rr.Header().Get("Vary"))
	require.Regexp(t, `^W/"[0-9a-f]{32}"$`, rr.Header().Get("ETag"))

	rr = f.get(t, "u1", "/v1/journal-entries/e1/activities?page=1&limit=20")
	env = decode(t, rr, &items)
	require.Len(t, items, 20)
	require.True(t, env.Pagination.HasMore)
	require.Equal(t, "a00", items[0].ID)
}

func TestEntryActivitiesEmptyEntry(t *testing.T) {
	f := newFixture(t)
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeSandbox})

	var items []ActivityView
	env := decode(t, f.get(t, "u1", "/v1/journal-entries/e1/activities"), &items)
	require.Empty(t, items)
	require.NotNil(t, items)
	require.Equal(t, 0, env.Pagination.Total)
	require.Equal(t, 0, env.Pagination.TotalPages)
	require.Equal(t, "sandbox", env.Meta.Mode)
}

func TestEntryActivitiesUseStoredModeAndIgnoreHints(t *testing.T) {
	f := newFixture(t)
	f.store.PutActivity(domain.ModeSandbox, domain.Activity{ID: "a2", UserID: "u1", Source: "jira", Title: "sandbox copy", Timestamp: testNow})
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a2", UserID: "u1", Source: "github", Title: "live copy", Timestamp: testNow})
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeSandbox, ActivityIDs: []string{"a2"}})

	rr := f.get(t, "u1", "/v1/journal-entries/e1/activities?mode=live", "X-Activity-Mode", "live")
	var items []ActivityView
	env := decode(t, rr, &items)

	require.Len(t, items, 1)
	require.Equal(t, "sandbox copy", items[0].Title)
	require.Equal(t, "jira", items[0].Source)
	require.Equal(t, "sandbox", env.Meta.Mode)
}

func TestEntryActivitiesSourceFilter(t *testing.T) {
	f := newFixture(t)
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a1", UserID: "u1", Source: "github", Timestamp: testNow})
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a2", UserID: "u1", Source: "jira", Timestamp: testNow})
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: []string{"a1", "a2"}})

	var items []ActivityView
	env := decode(t, f.get(t, "u1", "/v1/journal-entries/e1/activities?source=jira"), &items)
	require.Len(t, items, 1)
	require.Equal(t, "a2", items[0].ID)
	require.Equal(t, 1, env.Pagination.Total)
	require.Equal(t, "jira", env.Meta.SourceFilter)
	require.Equal(t, "live", env.Meta.Mode)
}

func TestForbiddenIsIndistinguishableFromNotFound(t *testing.T) {
	f := newFixture(t)
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "owner", Mode: domain.ModeLive})

	foreign := f.get(t, "intruder", "/v1/journal-entries/e1/activities")
	missing := f.get(t, "intruder", "/v1/journal-entries/nope/activities")

	require.Equal(t, http.StatusNotFound, foreign.Code)
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Equal(t, missing.Body.String(), foreign.Body.String())
	require.Equal(t, CodeNotFound, decodeError(t, foreign).Code)
}

func TestInvalidArguments(t *testing.T) {
	f := newFixture(t)
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive})

	cases := map[string]string{
		"negative page":     "/v1/journal-entries/e1/activities?page=-1",
		"non numeric limit": "/v1/journal-entries/e1/activities?limit=abc",
		"missing groupBy":   "/v1/activity-stats",
		"unknown groupBy":   "/v1/activity-stats?groupBy=weekday",
		"unknown mode":      "/v1/activity-stats?groupBy=source&mode=staging",
		"unknown timezone":  "/v1/activity-stats?groupBy=temporal&timezone=Mars/Olympus",
		"local timezone":    "/v1/activity-stats?groupBy=temporal&timezone=Local",
		"bad meta flag":     "/v1/journal?includeActivityMeta=maybe",
		"page out of range": "/v1/journal?page=100000000000000000",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.get(t, "u1", target)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			body := decodeError(t, rr)
			require.Equal(t, CodeInvalidArgument, body.Code)
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	rr := f.get(t, "", "/v1/activity-stats?groupBy=source")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, CodeUnauthenticated, decodeError(t, rr).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/activity-stats?groupBy=source", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1", auth.ScopeJournalRead))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, CodeInsufficientScope, decodeError(t, rr).Code)

	rr = f.get(t, "", "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestConditionalRequests(t *testing.T) {
	f := newFixture(t)
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a1", UserID: "u1", Source: "github", Timestamp: testNow})
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: []string{"a1"}, UpdatedAt: testNow.Add(-time.Hour)})

	first := f.get(t, "u1", "/v1/journal-entries/e1/activities")
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	again := f.get(t, "u1", "/v1/journal-entries/e1/activities")
	require.Equal(t, first.Body.String(), again.Body.String())
	require.Equal(t, etag, again.Header().Get("ETag"))

	notModified := f.get(t, "u1", "/v1/journal-entries/e1/activities", "If-None-Match", etag)
	require.Equal(t, http.StatusNotModified, notModified.Code)
	require.Empty(t, notModified.Body.String())
	require.Equal(t, etag, notModified.Header().Get("ETag"))

	f.tracker.Touch(freshness.EntryKey("e1"), testNow.Add(time.Minute))
	changed := f.get(t, "u1", "/v1/journal-entries/e1/activities", "If-None-Match", etag)
	require.Equal(t, http.StatusOK, changed.Code)
	require.NotEqual(t, etag, changed.Header().Get("ETag"))

	// The validator rolls over with the cache window even without events.
	later := f.handler.now().Add(2 * time.Minute)
	f.handler.now = func() time.Time { return later }
	rolled := f.get(t, "u1", "/v1/journal-entries/e1/activities")
	require.NotEqual(t, changed.Header().Get("ETag"), rolled.Header().Get("ETag"))
}

func TestStatsBySource(t *testing.T) {
	f := newFixture(t)
	put := func(mode domain.Mode, id, source string) {
		f.store.PutActivity(mode, domain.Activity{ID: id, UserID: "u1", Source: source, Timestamp: testNow.Add(-time.Hour)})
	}
	put(domain.ModeLive, "l1", "github")
	put(domain.ModeLive, "l2", "github")
	put(domain.ModeLive, "l3", "github")
	put(domain.ModeLive, "l4", "jira")
	put(domain.ModeLive, "l5", "homegrown")
	put(domain.ModeSandbox, "s1", "slack")
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "x1", UserID: "other", Source: "github", Timestamp: testNow})
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: []string{"l1", "l2", "l4"}})
	f.store.PutEntry(domain.JournalEntry{ID: "e2", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: []string{"l3"}})

	rr := f.get(t, "u1", "/v1/activity-stats?groupBy=source")
	var stats []SourceStatView
	env := decode(t, rr, &stats)

	require.Equal(t, "live", env.Meta.Mode)
	require.Equal(t, "source", env.Meta.GroupBy)
	require.Equal(t, "private, max-age=60", rr.Header().Get("Cache-Control"))
	require.Len(t, stats, 3)
	require.Equal(t, "github", stats[0].ID)
	require.Equal(t, 3, stats[0].ActivityCount)
	require.Equal(t, 2, *stats[0].JournalEntryCount)
	require.Equal(t, "GitHub", *stats[0].Name)
	require.Equal(t, "homegrown", stats[1].ID)
	require.Nil(t, stats[1].Name)
	require.Nil(t, stats[1].Color)
	require.Equal(t, 0, *stats[1].JournalEntryCount)
	require.Equal(t, "jira", stats[2].ID)
	require.Equal(t, 1, *stats[2].JournalEntryCount)

	sum := 0
	for _, s := range stats {
		sum += s.ActivityCount
	}
	require.Equal(t, 5, sum)
	require.Equal(t, 5, *env.Meta.TotalActivities)
	require.Equal(t, 3, *env.Meta.TotalSources)

	sandbox := f.get(t, "u1", "/v1/activity-stats?groupBy=source&mode=sandbox")
	env = decode(t, sandbox, &stats)
	require.Equal(t, "sandbox", env.Meta.Mode)
	require.Len(t, stats, 1)
	require.Equal(t, "slack", stats[0].ID)
	require.NotEqual(t, rr.Header().Get("ETag"), sandbox.Header().Get("ETag"))
}

func TestStatsByTemporal(t *testing.T) {
	f := newFixture(t)
	offsets := []time.Duration{
		-time.Hour,           // today
		-26 * time.Hour,      // yesterday
		-3 * 24 * time.Hour,  // monday, this week
		-10 * 24 * time.Hour, // last week
		-17 * 24 * time.Hour, // this month
		-40 * 24 * time.Hour, // older
		time.Hour,            // clock skew, today
	}
	ids := make([]string, 0, len(offsets))
	for i, off := range offsets {
		a := f.store.PutActivity(domain.ModeLive, domain.Activity{ID: fmt.Sprintf("a%d", i), UserID: "u1", Source: "github", Timestamp: testNow.Add(off)})
		ids = append(ids, a.ID)
	}
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: ids[:2]})

	var stats []TemporalStatView
	env := decode(t, f.get(t, "u1", "/v1/activity-stats?groupBy=temporal&timezone=UTC"), &stats)

	require.Equal(t, "temporal", env.Meta.GroupBy)
	require.Equal(t, "UTC", env.Meta.Timezone)
	require.Len(t, stats, len(buckets.Order))
	want := map[buckets.Name]int{
		buckets.Today: 2, buckets.Yesterday: 1, buckets.ThisWeek: 1,
		buckets.LastWeek: 1, buckets.ThisMonth: 1, buckets.Older: 1,
	}
	sum := 0
	for i, s := range stats {
		require.Equal(t, buckets.Order[i], s.Bucket)
		require.Equal(t, want[s.Bucket], s.ActivityCount, s.Bucket)
		sum += s.ActivityCount
	}
	require.Equal(t, len(offsets), sum)
	require.Equal(t, len(offsets), *env.Meta.TotalActivities)
	require.Equal(t, 1, stats[0].JournalEntryCount)
	require.Equal(t, 1, stats[1].JournalEntryCount)
	require.Nil(t, stats[len(stats)-1].Start)
}

func TestJournalListing(t *testing.T) {
	f := newFixture(t)
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a1", UserID: "u1", Source: "github", Timestamp: testNow})
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a2", UserID: "u1", Source: "github", Timestamp: testNow})
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a3", UserID: "u1", Source: "jira", Timestamp: testNow})
	f.store.PutActivity(domain.ModeSandbox, domain.Activity{ID: "a1", UserID: "u1", Source: "slack", Timestamp: testNow})
	f.store.PutEntry(domain.JournalEntry{ID: "live", UserID: "u1", Title: "Shipped", Mode: domain.ModeLive, ActivityIDs: []string{"a1", "a2", "a3"}, CreatedAt: testNow.Add(-time.Hour)})
	f.store.PutEntry(domain.JournalEntry{ID: "demo", UserID: "u1", Title: "Demo", Mode: domain.ModeSandbox, ActivityIDs: []string{"a1"}, CreatedAt: testNow})
	f.store.PutEntry(domain.JournalEntry{ID: "theirs", UserID: "u2", Mode: domain.ModeLive, ActivityIDs: []string{"a1"}, CreatedAt: testNow})

	var entries []JournalEntryView
	env := decode(t, f.get(t, "u1", "/v1/journal?includeActivityMeta=true"), &entries)
	require.Len(t, entries, 2)
	require.Equal(t, 2, env.Pagination.Total)
	require.True(t, env.Meta.ActivityMeta)
	require.Empty(t, env.Meta.Mode)

	require.Equal(t, "demo", entries[0].ID)
	require.Equal(t, 1, entries[0].ActivityMeta.ActivityCount)
	require.Equal(t, "slack", entries[0].ActivityMeta.Sources[0].ID)

	require.Equal(t, "live", entries[1].ID)
	meta := entries[1].ActivityMeta
	require.Equal(t, 3, meta.ActivityCount)
	require.Len(t, meta.Sources, 2)
	require.Equal(t, "github", meta.Sources[0].ID)
	require.Equal(t, 2, meta.Sources[0].ActivityCount)
	require.Nil(t, meta.Sources[0].JournalEntryCount)

	env = decode(t, f.get(t, "u1", "/v1/journal?filterBySource=jira"), &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "live", entries[0].ID)
	require.Nil(t, entries[0].ActivityMeta)
	require.Equal(t, "jira", env.Meta.SourceFilter)
	require.Equal(t, "live", env.Meta.Mode)
}

func TestOversizedPageIsRejected(t *testing.T) {
	f := newFixture(t)
	ids := []string{"a1", "a2", "a3"}
	for _, id := range ids {
		f.store.PutActivity(domain.ModeLive, domain.Activity{ID: id, UserID: "u1", Source: "github", Timestamp: testNow})
	}
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: ids})

	rr := f.get(t, "u1", "/v1/journal-entries/e1/activities?page=100000000000000000&limit=100")
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	body := decodeError(t, rr)
	require.Equal(t, CodeInvalidArgument, body.Code)
	require.Contains(t, body.Error, "page must be at most 1000000")

	var items []ActivityView
	env := decode(t, f.get(t, "u1", "/v1/journal-entries/e1/activities?page=1000000&limit=100"), &items)
	require.Empty(t, items)
	require.Equal(t, 3, env.Pagination.Total)
	require.False(t, env.Pagination.HasMore)
}

func TestEntryEditMovesAggregateValidator(t *testing.T) {
	f := newFixture(t)
	f.store.PutActivity(domain.ModeLive, domain.Activity{ID: "a1", UserID: "u1", Source: "github", Timestamp: testNow})

	var stats []SourceStatView
	first := f.get(t, "u1", "/v1/activity-stats?groupBy=source")
	decode(t, first, &stats)
	require.Equal(t, 0, *stats[0].JournalEntryCount)
	etag := first.Header().Get("ETag")

	edited := testNow.Add(5 * time.Second)
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive, ActivityIDs: []string{"a1"}, UpdatedAt: edited})
	events := consumer.NewFreshnessHandler(f.tracker, nil)
	require.NoError(t, events.Handle(context.Background(), consumer.Message{
		EventType: "journal_entry.updated",
		Payload:   []byte(`{"entry_id":"e1","user_id":"u1","mode":"live","updated_at":"` + edited.Format(time.RFC3339) + `"}`),
	}))

	second := f.get(t, "u1", "/v1/activity-stats?groupBy=source", "If-None-Match", etag)
	decode(t, second, &stats)
	require.Equal(t, 1, *stats[0].JournalEntryCount)
	require.NotEqual(t, etag, second.Header().Get("ETag"))
}

func TestCanceledRequestIsNotLoggedAsError(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.DebugLevel)
	f.handler.logger = zap.New(core)
	f.store.PutEntry(domain.JournalEntry{ID: "e1", UserID: "u1", Mode: domain.ModeLive})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/journal-entries/e1/activities", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1", auth.ScopeActivitiesRead))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	require.Empty(t, rr.Body.String())
	require.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())
	require.Equal(t, 1, logs.FilterMessage("request canceled").Len())
}
