package stats

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"deye-monitor/internal/inverter"
	"deye-monitor/internal/storage"
)

// PhaseStats accumulates one phase's instantaneous power over a day.
type PhaseStats struct {
	MinW    float64 `json:"min_w"`
	MaxW    float64 `json:"max_w"`
	SumW    float64 `json:"sum_w"`
	Samples int     `json:"samples"`
}

func (p PhaseStats) AvgW() float64 {
	if p.Samples == 0 {
		return 0
	}
	return p.SumW / float64(p.Samples)
}

// DailyStats is one calendar day of per-phase stats, phases indexed
// from L1. Mutated in place until the day rolls over, then frozen.
type DailyStats struct {
	Date   string       `json:"date"`
	Phases []PhaseStats `json:"phases"`
}

// HistoryPoint is one per-phase power snapshot in the short-term trend
// buffer.
type HistoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	PhasePower []float64 `json:"phase_power_w"`
}

type snapshot struct {
	Open   *DailyStats  `json:"open,omitempty"`
	Closed []DailyStats `json:"closed"`
}

// Aggregator folds the Reading stream into daily per-phase stats and a
// bounded history ring. The ring lives on an LRU cache keyed by a
// monotonically increasing sequence, which makes eviction order equal
// insertion order; it is never persisted.
type Aggregator struct {
	mu        sync.Mutex
	loc       *time.Location
	open      *DailyStats
	closed    []DailyStats
	retention int
	dirty     bool

	ring *lru.Cache
	seq  uint64

	store  *storage.Store
	logger *logrus.Logger
}

func NewAggregator(store *storage.Store, loc *time.Location, historySize, retentionDays int, logger *logrus.Logger) (*Aggregator, error) {
	if historySize < 1 {
		historySize = 1
	}
	if retentionDays < 1 {
		retentionDays = 1
	}
	ring, err := lru.New(historySize)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		loc:       loc,
		retention: retentionDays,
		ring:      ring,
		store:     store,
		logger:    logger,
	}, nil
}

// Load restores the persisted snapshot. The open day is resumed as-is:
// the first Observe rolls it over when the calendar date moved on while
// the process was down.
func (a *Aggregator) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var snap snapshot
	if err := a.store.Load(&snap); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	a.open = snap.Open
	a.closed = snap.Closed
	return nil
}

// Observe folds one Reading into the open daily record and the history
// ring. Readings arrive one at a time in poll order.
func (a *Aggregator) Observe(r *inverter.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	date := r.Timestamp.In(a.loc).Format("2006-01-02")
	if a.open == nil || a.open.Date != date {
		a.rolloverLocked(date, len(r.PhasePower))
	}

	for i, w := range r.PhasePower {
		if i >= len(a.open.Phases) {
			a.open.Phases = append(a.open.Phases, PhaseStats{})
		}
		p := &a.open.Phases[i]
		if p.Samples == 0 || w < p.MinW {
			p.MinW = w
		}
		if p.Samples == 0 || w > p.MaxW {
			p.MaxW = w
		}
		p.SumW += w
		p.Samples++
	}
	a.dirty = true

	a.seq++
	point := HistoryPoint{
		Timestamp:  r.Timestamp,
		PhasePower: append([]float64(nil), r.PhasePower...),
	}
	a.ring.Add(a.seq, point)
}

// rolloverLocked freezes the open day, trims retention and opens the
// new date. Freezing persists immediately; regular samples wait for the
// throttled flush.
func (a *Aggregator) rolloverLocked(date string, phases int) {
	froze := false
	if a.open != nil {
		a.closed = append(a.closed, *a.open)
		if over := len(a.closed) - a.retention; over > 0 {
			a.closed = a.closed[over:]
		}
		froze = true
	}
	a.open = &DailyStats{Date: date, Phases: make([]PhaseStats, phases)}
	if froze {
		if a.persistLocked() {
			a.dirty = false
		}
		a.logger.WithField("date", date).Info("Phase stats day rolled over")
	}
}

func (a *Aggregator) persistLocked() bool {
	snap := snapshot{Open: a.open, Closed: a.closed}
	if snap.Closed == nil {
		snap.Closed = make([]DailyStats, 0)
	}
	if err := a.store.Save(snap); err != nil {
		a.logger.WithError(err).Error("Failed to persist phase stats")
		return false
	}
	return true
}

// Flush writes the snapshot when it changed since the last write.
// Driven by the flush timer, not per Reading, to bound I/O; a failed
// write stays dirty so the next flush retries.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.dirty {
		return
	}
	if a.persistLocked() {
		a.dirty = false
	}
}

// Today returns a copy of the open daily record, zero-valued before the
// first Reading.
func (a *Aggregator) Today() DailyStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open == nil {
		return DailyStats{}
	}
	out := *a.open
	out.Phases = append([]PhaseStats(nil), a.open.Phases...)
	return out
}

// Days returns the closed daily records oldest first, with the open day
// appended last.
func (a *Aggregator) Days() []DailyStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	days := make([]DailyStats, 0, len(a.closed)+1)
	days = append(days, a.closed...)
	if a.open != nil {
		open := *a.open
		open.Phases = append([]PhaseStats(nil), a.open.Phases...)
		days = append(days, open)
	}
	return days
}

// History returns the ring buffer contents oldest first.
func (a *Aggregator) History() []HistoryPoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := a.ring.Keys()
	points := make([]HistoryPoint, 0, len(keys))
	for _, key := range keys {
		if v, ok := a.ring.Peek(key); ok {
			points = append(points, v.(HistoryPoint))
		}
	}
	return points
}

// Clear resets the daily stats and the history ring and rewrites the
// empty persisted form immediately.
func (a *Aggregator) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.open = nil
	a.closed = nil
	a.dirty = false
	a.ring.Purge()
	return a.store.Save(snapshot{Closed: make([]DailyStats, 0)})
}
