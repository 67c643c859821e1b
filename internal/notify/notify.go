package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const notifyTimeout = 10 * time.Second

// Notifier receives grid power transitions. Implementations must
// tolerate being called concurrently for distinct transitions.
type Notifier interface {
	Name() string
	PowerLost(ctx context.Context, at time.Time) error
	PowerRestored(ctx context.Context, at time.Time, outage time.Duration) error
}

// Dispatcher fans grid transitions out to the registered notifiers,
// one goroutine per notifier with a bounded timeout. A slow or failing
// notifier costs a logged warning, never a stalled poll loop.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *logrus.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		timeout: notifyTimeout,
		logger:  logger,
	}
}

// Register adds a notifier. Not safe to call once dispatching has
// started; wiring happens before the poll loop runs.
func (d *Dispatcher) Register(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

func (d *Dispatcher) PowerLost(at time.Time) {
	d.dispatch("power_lost", func(ctx context.Context, n Notifier) error {
		return n.PowerLost(ctx, at)
	})
}

func (d *Dispatcher) PowerRestored(at time.Time, outage time.Duration) {
	d.dispatch("power_restored", func(ctx context.Context, n Notifier) error {
		return n.PowerRestored(ctx, at, outage)
	})
}

func (d *Dispatcher) dispatch(event string, send func(context.Context, Notifier) error) {
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := send(ctx, n); err != nil {
				d.logger.WithError(err).WithFields(logrus.Fields{
					"notifier": n.Name(),
					"event":    event,
				}).Warn("Notification delivery failed")
			}
		}(n)
	}
}

// Wait blocks until in-flight notifications have finished. Called on
// shutdown so a transition caught mid-stop still goes out.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSink records transitions in the service log. It is registered
// unconditionally, so every outage leaves a trace even with all other
// notifiers disabled.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) PowerLost(ctx context.Context, at time.Time) error {
	s.logger.WithField("at", at.Format(time.RFC3339)).Warn("Power outage started")
	return nil
}

func (s *LogSink) PowerRestored(ctx context.Context, at time.Time, outage time.Duration) error {
	s.logger.WithFields(logrus.Fields{
		"at":       at.Format(time.RFC3339),
		"duration": outage.Round(time.Second).String(),
	}).Info("Power restored")
	return nil
}
