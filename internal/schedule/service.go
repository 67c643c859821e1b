package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"deye-monitor/internal/metrics"
)

const refreshTimeout = 30 * time.Second

// Service owns the current normalized schedule. Refresh runs on a slow
// timer independent of the telemetry poll; a failed fetch keeps serving
// the previously cached windows with the stale flag set.
type Service struct {
	mu       sync.RWMutex
	provider Provider
	group    string
	current  Schedule
	logger   *logrus.Logger
}

func NewService(provider Provider, group string, logger *logrus.Logger) *Service {
	s := &Service{
		provider: provider,
		group:    group,
		logger:   logger,
	}
	s.current = Schedule{Group: group, Windows: make([]Window, 0)}
	if provider != nil {
		s.current.Provider = provider.Name()
	}
	return s
}

// Refresh fetches and swaps the schedule. With no provider configured
// this is a no-op and the empty schedule stands.
func (s *Service) Refresh(ctx context.Context) {
	if s.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	windows, err := s.provider.Fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.current.Stale = true
		metrics.ScheduleStale.Set(1)
		s.logger.WithError(err).Warn("Outage schedule refresh failed, serving cached schedule")
		return
	}

	s.current = Schedule{
		Provider:  s.provider.Name(),
		Group:     s.group,
		Windows:   windows,
		FetchedAt: time.Now(),
	}
	metrics.ScheduleStale.Set(0)
	s.logger.WithFields(logrus.Fields{
		"provider": s.provider.Name(),
		"windows":  len(windows),
	}).Info("Outage schedule refreshed")
}

// Current returns a copy of the schedule.
func (s *Service) Current() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.current
	out.Windows = append([]Window(nil), s.current.Windows...)
	return out
}
