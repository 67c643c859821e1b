package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TimeOfDay is minutes from midnight, JSON-encoded as "HH:MM". Window
// ends may reach 24:00.
type TimeOfDay int

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// Window is one normalized outage window. Both providers produce this
// shape.
type Window struct {
	Day   time.Weekday `json:"day"`
	Start TimeOfDay    `json:"start"`
	End   TimeOfDay    `json:"end"`
	Group string       `json:"group"`
}

// Covers reports whether the window covers the given instant. Start is
// inclusive, end exclusive.
func (w Window) Covers(t time.Time) bool {
	if t.Weekday() != w.Day {
		return false
	}
	mins := TimeOfDay(t.Hour()*60 + t.Minute())
	return mins >= w.Start && mins < w.End
}

// Schedule is the ordered window sequence over the provider's forward
// horizon. Stale marks a cached schedule served after a failed refresh.
type Schedule struct {
	Provider  string    `json:"provider"`
	Group     string    `json:"group"`
	Windows   []Window  `json:"windows"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

// Active returns the window covering t, if any.
func (s *Schedule) Active(t time.Time) (Window, bool) {
	for _, w := range s.Windows {
		if w.Covers(t) {
			return w, true
		}
	}
	return Window{}, false
}

// Next returns the soonest window starting after t, looking up to one
// week ahead.
func (s *Schedule) Next(t time.Time) (Window, bool) {
	const week = 7 * 24 * 60
	nowMins := int(t.Weekday())*24*60 + t.Hour()*60 + t.Minute()

	best := week + 1
	var found Window
	for _, w := range s.Windows {
		startMins := int(w.Day)*24*60 + int(w.Start)
		until := startMins - nowMins
		if until <= 0 {
			until += week
		}
		if until < best {
			best = until
			found = w
		}
	}
	if best > week {
		return Window{}, false
	}
	return found, true
}

func sortWindows(ws []Window) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Day != ws[j].Day {
			return ws[i].Day < ws[j].Day
		}
		return ws[i].Start < ws[j].Start
	})
}
