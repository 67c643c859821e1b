package schedule

import (
	"context"
	"fmt"
)

// Provider fetches one source's raw schedule and normalizes it into
// Windows. Implementations fail with an error on unreachable or
// malformed sources; the Service turns that into a stale cache, never a
// crash.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) ([]Window, error)
}

// NewProvider selects the provider variant by name. An empty name or
// group disables fetching: the service then serves an empty schedule.
func NewProvider(name, group, url string, region, dso int) (Provider, error) {
	if name == "" || group == "" {
		return nil, nil
	}

	switch name {
	case "static":
		if url == "" {
			return nil, fmt.Errorf("static schedule provider needs a url")
		}
		return NewStaticProvider(url, group), nil
	case "yasno":
		return NewYasnoProvider(url, region, dso, group), nil
	default:
		return nil, fmt.Errorf("unknown schedule provider %q", name)
	}
}
