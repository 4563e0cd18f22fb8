package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSummaryRange(t *testing.T) {
	tcs := []struct {
		url       string
		start     *time.Time
		end       *time.Time
		expectErr bool
	}{
		{
			url: "/api/dispatch/summary",
		},
		{
			url:   "/api/dispatch/summary?start_date=2024-05-01",
			start: timePtr(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		},
		{
			url: "/api/dispatch/summary?end_date=2024-05-06",
			end: timePtr(time.Date(2024, 5, 6, 23, 59, 59, 999999999, time.UTC)),
		},
		{
			url:   "/api/dispatch/summary?start_date=2024-05-01&end_date=2024-05-06",
			start: timePtr(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
			end:   timePtr(time.Date(2024, 5, 6, 23, 59, 59, 999999999, time.UTC)),
		},
		{
			// one day ranges are valid
			url:   "/api/dispatch/summary?start_date=2024-05-06&end_date=2024-05-06",
			start: timePtr(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)),
			end:   timePtr(time.Date(2024, 5, 6, 23, 59, 59, 999999999, time.UTC)),
		},
		{
			url:       "/api/dispatch/summary?start_date=05/01/2024",
			expectErr: true,
		},
		{
			url:       "/api/dispatch/summary?start_date=2024-05-06&end_date=2024-05-01",
			expectErr: true,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.url, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.url, nil)
			start, end, err := ParseSummaryRange(r)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			requireSameBound(t, tc.start, start)
			requireSameBound(t, tc.end, end)
		})
	}
}

func requireSameBound(t *testing.T, expected, actual *time.Time) {
	t.Helper()
	if expected == nil {
		require.Nil(t, actual)
		return
	}
	require.NotNil(t, actual)
	require.True(t, expected.Equal(*actual), "expected %s, got %s", expected, actual)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestParseLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/requests", nil)
	limit, err := ParseLimit(r)
	require.NoError(t, err)
	require.Equal(t, 0, limit)

	r = httptest.NewRequest("GET", "/api/requests?limit=25", nil)
	limit, err = ParseLimit(r)
	require.NoError(t, err)
	require.Equal(t, 25, limit)

	r = httptest.NewRequest("GET", "/api/requests?limit=-1", nil)
	_, err = ParseLimit(r)
	require.Error(t, err)

	r = httptest.NewRequest("GET", "/api/requests?limit=many", nil)
	_, err = ParseLimit(r)
	require.Error(t, err)
}

func TestSummaryCacheKey(t *testing.T) {
	require.Equal(t, "dispatch_summary:all:all", SummaryCacheKey(nil, nil))

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 6, 23, 59, 59, 0, time.UTC)
	require.Equal(t, "dispatch_summary:2024-05-01:2024-05-06", SummaryCacheKey(&start, &end))
}
