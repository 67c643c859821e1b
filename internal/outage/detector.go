package outage

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"deye-monitor/internal/inverter"
	"deye-monitor/internal/metrics"
	"deye-monitor/internal/storage"
)

// State of the grid as seen by the detector.
type State string

const (
	StateUnknown  State = "unknown"
	StateGridUp   State = "grid_up"
	StateGridDown State = "grid_down"
)

// Event is one grid outage. End is nil while the outage is ongoing; the
// history holds events oldest first and at most one open event.
type Event struct {
	ID    string     `json:"id"`
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

func (e *Event) Ongoing() bool {
	return e.End == nil
}

// Duration reports the outage length, zero while ongoing.
func (e *Event) Duration() time.Duration {
	if e.End == nil {
		return 0
	}
	return e.End.Sub(e.Start)
}

// AlertSink receives grid transition notifications. Implementations
// must return quickly: the detector calls these on the polling path.
type AlertSink interface {
	PowerLost(at time.Time)
	PowerRestored(at time.Time, outage time.Duration)
}

// Detector runs the debounced grid state machine over the Reading
// stream. A transition needs the grid voltage past the threshold for
// debounce consecutive Readings; single-sample glitches never produce
// events.
type Detector struct {
	mu        sync.Mutex
	state     State
	threshold float64
	debounce  int

	belowCount int
	aboveCount int
	firstBelow time.Time
	firstAbove time.Time

	events []Event

	store  *storage.Store
	sink   AlertSink
	logger *logrus.Logger
}

func NewDetector(threshold float64, debounce int, store *storage.Store, sink AlertSink, logger *logrus.Logger) *Detector {
	if debounce < 1 {
		debounce = 1
	}
	return &Detector{
		state:     StateUnknown,
		threshold: threshold,
		debounce:  debounce,
		store:     store,
		sink:      sink,
		logger:    logger,
	}
}

// Load restores persisted outage history. A missing file is first-run
// empty state, not an error.
func (d *Detector) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []Event
	if err := d.store.Load(&events); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	d.events = events
	return nil
}

// Observe feeds one Reading through the state machine. Readings arrive
// one at a time in poll order.
func (d *Detector) Observe(r *inverter.Reading) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gridUp := r.MaxGridVoltage() >= d.threshold

	if d.state == StateUnknown {
		d.initialState(gridUp, r.Timestamp)
		return
	}

	if gridUp {
		d.belowCount = 0
		if d.state == StateGridDown {
			if d.aboveCount == 0 {
				d.firstAbove = r.Timestamp
			}
			d.aboveCount++
			if d.aboveCount >= d.debounce {
				d.transitionUp()
			}
		}
		return
	}

	d.aboveCount = 0
	if d.state == StateGridUp {
		if d.belowCount == 0 {
			d.firstBelow = r.Timestamp
		}
		d.belowCount++
		if d.belowCount >= d.debounce {
			d.transitionDown()
		}
	}
}

// initialState fixes the state from the first successful Reading; no
// outage is assumed retroactively. An event left open across a restart
// is closed with this Reading's timestamp on a grid-up observation, a
// documented approximation of the true recovery time.
func (d *Detector) initialState(gridUp bool, at time.Time) {
	if gridUp {
		d.state = StateGridUp
		metrics.GridUp.Set(1)
		if ev := d.openEventLocked(); ev != nil {
			end := at
			ev.End = &end
			d.persistLocked()
			d.logger.WithFields(logrus.Fields{
				"id":    ev.ID,
				"start": ev.Start,
				"end":   end,
			}).Warn("Closed outage event left open across restart")
		}
		return
	}

	d.state = StateGridDown
	metrics.GridUp.Set(0)
	if ev := d.openEventLocked(); ev != nil {
		d.logger.WithField("start", ev.Start).Warn("Grid still down, outage continues across restart")
	} else {
		d.logger.Warn("Grid down at startup")
	}
}

func (d *Detector) transitionDown() {
	d.state = StateGridDown
	d.belowCount = 0

	// Start is the first below-threshold sample of the run, not the
	// sample that confirmed the transition.
	ev := Event{ID: uuid.NewString(), Start: d.firstBelow}
	d.events = append(d.events, ev)
	d.persistLocked()

	metrics.GridUp.Set(0)
	metrics.OutagesTotal.Inc()
	d.logger.WithField("start", ev.Start).Warn("Grid power lost")

	if d.sink != nil {
		d.sink.PowerLost(ev.Start)
	}
}

func (d *Detector) transitionUp() {
	d.state = StateGridUp
	d.aboveCount = 0

	// End is the first above-threshold sample of the recovery run.
	var outage time.Duration
	if ev := d.openEventLocked(); ev != nil {
		end := d.firstAbove
		ev.End = &end
		outage = ev.Duration()
		d.persistLocked()
	}

	metrics.GridUp.Set(1)
	d.logger.WithFields(logrus.Fields{
		"end":      d.firstAbove,
		"duration": outage,
	}).Info("Grid power restored")

	if d.sink != nil {
		d.sink.PowerRestored(d.firstAbove, outage)
	}
}

func (d *Detector) openEventLocked() *Event {
	if len(d.events) == 0 {
		return nil
	}
	last := &d.events[len(d.events)-1]
	if last.End == nil {
		return last
	}
	return nil
}

func (d *Detector) persistLocked() {
	events := d.events
	if events == nil {
		events = make([]Event, 0)
	}
	if err := d.store.Save(events); err != nil {
		d.logger.WithError(err).Error("Failed to persist outage history")
	}
}

// State returns the current grid state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Events returns a copy of the outage history, oldest first.
func (d *Detector) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	events := make([]Event, len(d.events))
	copy(events, d.events)
	return events
}

// Ongoing returns the open outage event, if any.
func (d *Detector) Ongoing() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ev := d.openEventLocked(); ev != nil {
		return *ev, true
	}
	return Event{}, false
}

// Clear drops the outage history and immediately rewrites the empty
// persisted form. The current grid state is unaffected.
func (d *Detector) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = nil
	return d.store.Save(make([]Event, 0))
}
