package validators

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseQueryRange(t *testing.T) {
	req := httptest.NewRequest("GET", "/?startDate=2026-03-01&endDate=2026-03-31", nil)
	from, to, err := ParseQueryRange(req, "startDate", "endDate")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *from)
	require.Equal(t, time.Date(2026, 3, 31, 23, 59, 59, 999999999, time.UTC), *to)

	req = httptest.NewRequest("GET", "/?startDate=2026-03-01T10:00:00%2B02:00", nil)
	from, to, err = ParseQueryRange(req, "startDate", "endDate")
	require.NoError(t, err)
	require.Nil(t, to)
	require.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), *from)

	req = httptest.NewRequest("GET", "/?startDate=2026-04-01&endDate=2026-03-01", nil)
	_, _, err = ParseQueryRange(req, "startDate", "endDate")
	require.Error(t, err)

	req = httptest.NewRequest("GET", "/?startDate=yesterday", nil)
	_, _, err = ParseQueryRange(req, "startDate", "endDate")
	require.Error(t, err)
}

func TestParsePagination(t *testing.T) {
	p, err := ParsePagination(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 10, p.Limit)

	_, err = ParsePagination(httptest.NewRequest("GET", "/?limit=500", nil))
	require.Error(t, err)
}
