package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"deye-monitor/internal/schedule"
	"deye-monitor/internal/stats"
)

// Scheduler drives the slow periodic jobs: the throttled phase stats
// flush and the outage schedule refresh. The telemetry poll has its own
// loop and stays off the cron.
type Scheduler struct {
	stats     *stats.Aggregator
	schedules *schedule.Service
	logger    *logrus.Logger
	cron      *cron.Cron

	flushEvery   time.Duration
	refreshEvery time.Duration
}

func NewScheduler(stats *stats.Aggregator, schedules *schedule.Service, flushEvery, refreshEvery time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		stats:        stats,
		schedules:    schedules,
		logger:       logger,
		cron:         cron.New(),
		flushEvery:   flushEvery,
		refreshEvery: refreshEvery,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.flushEvery), s.flushStats); err != nil {
		return fmt.Errorf("failed to schedule stats flush: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.refreshEvery), s.refreshSchedule); err != nil {
		return fmt.Errorf("failed to schedule outage schedule refresh: %w", err)
	}
	s.cron.Start()

	s.logger.WithFields(logrus.Fields{
		"stats_flush":      s.flushEvery.String(),
		"schedule_refresh": s.refreshEvery.String(),
	}).Info("Scheduler started")
	return nil
}

func (s *Scheduler) flushStats() {
	s.stats.Flush()
}

func (s *Scheduler) refreshSchedule() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.schedules.Refresh(ctx)
}

// Stop halts job scheduling. Jobs already running finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
