package api

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/activityquery/internal/domain"
)

func TestNewPagination(t *testing.T) {
	require.Equal(t, Pagination{Page: 3, Limit: 20, Total: 45, TotalPages: 3, HasMore: false}, NewPagination(domain.NewPage(3, 20), 45))
	require.Equal(t, Pagination{Page: 2, Limit: 20, Total: 45, TotalPages: 3, HasMore: true}, NewPagination(domain.NewPage(2, 20), 45))
	require.Equal(t, Pagination{Page: 1, Limit: 20, Total: 0, TotalPages: 0, HasMore: false}, NewPagination(domain.NewPage(0, 0), 0))
	require.Equal(t, Pagination{Page: 9, Limit: 10, Total: 40, TotalPages: 4, HasMore: false}, NewPagination(domain.NewPage(9, 10), 40))
}

func TestParseStatsParams(t *testing.T) {
	p, err := parseStatsParams(url.Values{"groupBy": {"temporal"}, "mode": {" Sandbox "}, "timezone": {"Europe/Paris"}})
	require.NoError(t, err)
	require.Equal(t, statsParams{GroupBy: "temporal", Mode: "sandbox", Timezone: "Europe/Paris"}, p)

	_, err = parseStatsParams(url.Values{"groupBy": {"hour"}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.ErrorContains(t, err, "groupBy must be one of source, temporal")
}

func TestParseEntryActivitiesParams(t *testing.T) {
	p, err := parseEntryActivitiesParams("e1", url.Values{"page": {"0"}, "limit": {"500"}, "source": {"github"}})
	require.NoError(t, err)
	require.Equal(t, entryActivitiesParams{EntryID: "e1", Page: 0, Limit: 500, Source: "github"}, p)

	_, err = parseEntryActivitiesParams("e1", url.Values{"limit": {"-5"}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.ErrorContains(t, err, "limit must be a non-negative integer")

	_, err = parseEntryActivitiesParams(" ", nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
