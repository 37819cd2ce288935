package analytics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/coursepay/api/validators"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
)

// maxPresetDays bounds "<n>d" presets to roughly a year of history.
const maxPresetDays = 366

var timeNowUTC = func() time.Time { return time.Now().UTC() }

// resolveRange prefers explicit startDate/endDate. Otherwise a preset ends the
// window at now: "<n>d" for a trailing n days, "mtd" and "ytd" for calendar
// periods. Neither leaves both ends open.
func resolveRange(r *http.Request, now time.Time) (*time.Time, *time.Time, error) {
	from, to, err := validators.ParseQueryRange(r, "startDate", "endDate")
	if err != nil || from != nil || to != nil {
		return from, to, err
	}
	preset := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("preset")))
	if preset == "" {
		return nil, nil, nil
	}
	start, ok := presetStart(preset, now)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid preset").
			WithDetails(map[string]any{"preset": preset, "allowed": "<1-366>d, mtd, ytd"})
	}
	return &start, &now, nil
}

func presetStart(preset string, now time.Time) (time.Time, bool) {
	switch preset {
	case "mtd":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	case "ytd":
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), true
	}
	days, err := strconv.Atoi(strings.TrimSuffix(preset, "d"))
	if err != nil || !strings.HasSuffix(preset, "d") || days < 1 || days > maxPresetDays {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), true
}
