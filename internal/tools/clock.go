package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"assistant-agent/internal/domain"
)

const dateLayout = "2006-01-02"

// day resolves a YYYY-MM-DD argument to local midnight; blank means today.
func (r *Registry) day(arg string) (time.Time, string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		now := r.now().In(r.loc)
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
		return midnight, midnight.Format(dateLayout), nil
	}
	d, err := time.ParseInLocation(dateLayout, arg, r.loc)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("date %q must be YYYY-MM-DD", arg)
	}
	return d, d.Format(dateLayout), nil
}

// clockOn places an "H", "HH", "H:MM" or "HH:MM" time of day on day.
func (r *Registry) clockOn(day time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	hs, ms, found := strings.Cut(clock, ":")
	if !found {
		ms = "0"
	}
	h, herr := strconv.Atoi(hs)
	m, merr := strconv.Atoi(ms)
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("time %q must be HH:MM (24h)", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, r.loc), nil
}

// addDays moves local midnight forward without drifting across DST changes.
func addDays(day time.Time, n int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+n, 0, 0, 0, 0, day.Location())
}

func (r *Registry) eventTime(t time.Time) domain.EventTime {
	return domain.EventTime{DateTime: t.In(r.loc).Format(time.RFC3339), TimeZone: r.loc.String()}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
