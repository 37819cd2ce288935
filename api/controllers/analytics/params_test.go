package analytics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveRangePresets(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"7d":  now.Add(-7 * 24 * time.Hour),
		"90D": now.Add(-90 * 24 * time.Hour),
		"mtd": time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		"ytd": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for preset, want := range cases {
		from, to, err := resolveRange(httptest.NewRequest("GET", "/?preset="+preset, nil), now)
		require.NoError(t, err, preset)
		require.Equal(t, want, *from, preset)
		require.Equal(t, now, *to, preset)
	}
}

func TestResolveRangeRejectsUnknownPresets(t *testing.T) {
	now := time.Now().UTC()
	for _, preset := range []string{"0d", "367d", "week", "d", "-3d"} {
		_, _, err := resolveRange(httptest.NewRequest("GET", "/?preset="+preset, nil), now)
		require.Error(t, err, preset)
	}
}

func TestResolveRangeExplicitDatesWin(t *testing.T) {
	from, to, err := resolveRange(httptest.NewRequest("GET", "/?startDate=2026-03-01&preset=7d", nil), time.Now())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *from)
	require.Nil(t, to)

	from, to, err = resolveRange(httptest.NewRequest("GET", "/", nil), time.Now())
	require.NoError(t, err)
	require.Nil(t, from)
	require.Nil(t, to)
}
