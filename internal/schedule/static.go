package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StaticProvider reads a fixed weekly pattern of outage windows per
// group, the format simple oblenergo mirrors publish. The configured
// group's windows map through directly.
type StaticProvider struct {
	url    string
	group  string
	client *http.Client
}

func NewStaticProvider(url, group string) *StaticProvider {
	return &StaticProvider{
		url:   url,
		group: group,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *StaticProvider) Name() string {
	return "static"
}

type staticSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type staticPayload struct {
	Groups map[string]map[string][]staticSlot `json:"groups"`
}

var staticDayKeys = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func (p *StaticProvider) Fetch(ctx context.Context) ([]Window, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("static schedule request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("static schedule request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("static schedule bad status: %s", resp.Status)
	}

	var payload staticPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("static schedule decode: %w", err)
	}

	days, ok := payload.Groups[p.group]
	if !ok {
		return nil, fmt.Errorf("group %q not in schedule", p.group)
	}

	return p.normalize(days)
}

func (p *StaticProvider) normalize(days map[string][]staticSlot) ([]Window, error) {
	var windows []Window
	for key, slots := range days {
		weekday, ok := staticDayKeys[strings.ToLower(key)]
		if !ok {
			return nil, fmt.Errorf("unknown day key %q in schedule", key)
		}
		for _, slot := range slots {
			start, err := ParseTimeOfDay(slot.Start)
			if err != nil {
				return nil, err
			}
			end, err := ParseTimeOfDay(slot.End)
			if err != nil {
				return nil, err
			}
			windows = append(windows, Window{
				Day:   weekday,
				Start: start,
				End:   end,
				Group: p.group,
			})
		}
	}
	sortWindows(windows)
	return windows, nil
}
