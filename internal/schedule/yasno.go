package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultYasnoBaseURL = "https://app.yasno.ua"

// YasnoProvider reads the YASNO blackout service API, a dynamic
// schedule scoped by region, DSO and queue group. Slot times arrive as
// minutes of day; dates shift week to week, so only the current period
// (today and tomorrow) is fetched.
type YasnoProvider struct {
	baseURL string
	region  int
	dso     int
	group   string
	client  *http.Client
}

func NewYasnoProvider(baseURL string, region, dso int, group string) *YasnoProvider {
	if baseURL == "" {
		baseURL = defaultYasnoBaseURL
	}
	if region == 0 {
		region = 25
	}
	if dso == 0 {
		dso = 902
	}
	return &YasnoProvider{
		baseURL: baseURL,
		region:  region,
		dso:     dso,
		group:   group,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *YasnoProvider) Name() string {
	return "yasno"
}

type yasnoSlot struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

type yasnoDay struct {
	Slots []yasnoSlot `json:"slots"`
}

type yasnoGroup struct {
	Today    *yasnoDay `json:"today"`
	Tomorrow *yasnoDay `json:"tomorrow"`
}

func (p *YasnoProvider) Fetch(ctx context.Context) ([]Window, error) {
	endpoint := fmt.Sprintf("%s/api/blackout-service/public/shutdowns/regions/%d/dsos/%d/planned-outages",
		p.baseURL, p.region, p.dso)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("yasno request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yasno request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yasno bad status: %s", resp.Status)
	}

	var payload map[string]yasnoGroup
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("yasno decode: %w", err)
	}

	group, ok := payload[p.group]
	if !ok {
		return nil, fmt.Errorf("yasno group %q not in response", p.group)
	}

	return p.normalize(group, time.Now()), nil
}

// normalize flattens the today/tomorrow slot lists into windows on
// their weekdays. Only Definite slots count; Possible slots are not
// confirmed outages.
func (p *YasnoProvider) normalize(g yasnoGroup, now time.Time) []Window {
	var windows []Window
	windows = p.appendDay(windows, g.Today, now.Weekday())
	windows = p.appendDay(windows, g.Tomorrow, now.AddDate(0, 0, 1).Weekday())
	sortWindows(windows)
	return windows
}

func (p *YasnoProvider) appendDay(ws []Window, day *yasnoDay, weekday time.Weekday) []Window {
	if day == nil {
		return ws
	}
	for _, slot := range day.Slots {
		if slot.Type != "Definite" {
			continue
		}
		ws = append(ws, Window{
			Day:   weekday,
			Start: TimeOfDay(slot.Start),
			End:   TimeOfDay(slot.End),
			Group: p.group,
		})
	}
	return ws
}
