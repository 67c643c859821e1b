package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"deye-monitor/internal/inverter"
	"deye-monitor/internal/metrics"
	"deye-monitor/internal/modbus"
	"deye-monitor/internal/mqtt"
)

// Observer consumes each successful Reading. The outage detector and
// the stats aggregator both implement it.
type Observer interface {
	Observe(r *inverter.Reading)
}

// retryingReader retries individual register reads with a short fixed
// backoff before the poll cycle gives up. Transient timeouts on Deye
// logger sticks usually clear on the second attempt.
type retryingReader struct {
	reader  inverter.RegisterReader
	retries int
	backoff time.Duration
}

func (r *retryingReader) ReadUint16(address uint16) (uint16, error) {
	var value uint16
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.backoff)
		}
		value, err = r.reader.ReadUint16(address)
		if err == nil {
			return value, nil
		}
	}
	return 0, err
}

func (r *retryingReader) ReadInt16(address uint16) (int16, error) {
	var value int16
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.backoff)
		}
		value, err = r.reader.ReadInt16(address)
		if err == nil {
			return value, nil
		}
	}
	return 0, err
}

type Collector struct {
	client    *modbus.Client
	deye      *inverter.Deye
	publisher *mqtt.Publisher
	observers []Observer
	logger    *logrus.Logger

	interval         time.Duration
	offlineInterval  time.Duration
	offlineThreshold int
	enabled          bool

	mu           sync.RWMutex
	latest       *inverter.Reading
	connected    bool
	failures     int
	lastSuccess  time.Time
	isCollecting bool
}

type CollectorConfig struct {
	Client           *modbus.Client
	Capabilities     inverter.Capabilities
	Publisher        *mqtt.Publisher
	Observers        []Observer
	Interval         time.Duration
	OfflineInterval  time.Duration
	OfflineThreshold int
	RetryCount       int
	RetryBackoff     time.Duration
	Enabled          bool
}

// Status is a point-in-time snapshot of the poll loop.
type Status struct {
	Connected           bool              `json:"connected"`
	Collecting          bool              `json:"collecting"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastSuccess         *time.Time        `json:"last_success,omitempty"`
	Reading             *inverter.Reading `json:"reading,omitempty"`
}

func NewCollector(cfg CollectorConfig, logger *logrus.Logger) *Collector {
	reader := &retryingReader{
		reader:  cfg.Client,
		retries: cfg.RetryCount,
		backoff: cfg.RetryBackoff,
	}

	return &Collector{
		client:           cfg.Client,
		deye:             inverter.NewDeye(reader, cfg.Capabilities),
		publisher:        cfg.Publisher,
		observers:        cfg.Observers,
		logger:           logger,
		interval:         cfg.Interval,
		offlineInterval:  cfg.OfflineInterval,
		offlineThreshold: cfg.OfflineThreshold,
		enabled:          cfg.Enabled,
	}
}

func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		c.logger.Info("Collector is disabled")
		return nil
	}

	c.mu.Lock()
	c.isCollecting = true
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"interval":         c.interval.String(),
		"offline_interval": c.offlineInterval.String(),
	}).Info("Starting collector")

	c.collect()

	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Collector stopped")
			c.mu.Lock()
			c.isCollecting = false
			c.mu.Unlock()
			return nil
		case <-timer.C:
			c.collect()
			timer.Reset(c.nextInterval())
		}
	}
}

// nextInterval slows the cadence once the inverter counts as offline so
// a dead link is not hammered at the telemetry rate.
func (c *Collector) nextInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.failures >= c.offlineThreshold {
		return c.offlineInterval
	}
	return c.interval
}

func (c *Collector) collect() {
	start := time.Now()

	reading, err := c.readCycle()
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.recordFailure(err)
		return
	}

	c.recordSuccess(reading)
	c.fanOut(reading)

	if c.publisher != nil {
		if err := c.publisher.Publish(reading); err != nil {
			c.logger.WithError(err).Warn("MQTT publish failed")
		}
	}
}

func (c *Collector) readCycle() (*inverter.Reading, error) {
	c.mu.RLock()
	lost := c.failures >= c.offlineThreshold
	c.mu.RUnlock()

	if lost {
		// The TCP session is likely half-dead once the threshold is
		// crossed; rebuild it before each offline attempt.
		if err := c.client.Reconnect(); err != nil {
			return nil, fmt.Errorf("reconnect failed: %w", err)
		}
	} else if err := c.client.Connect(); err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return c.deye.ReadReading()
}

func (c *Collector) recordFailure(err error) {
	c.mu.Lock()
	c.failures++
	c.connected = false
	failures := c.failures
	c.mu.Unlock()

	metrics.PollsTotal.WithLabelValues("error").Inc()
	metrics.ConnectionUp.Set(0)

	entry := c.logger.WithError(err).WithField("consecutive_failures", failures)
	if failures == c.offlineThreshold {
		entry.Error("Inverter connection lost")
	} else {
		entry.Warn("Poll cycle failed")
	}
}

func (c *Collector) recordSuccess(r *inverter.Reading) {
	c.mu.Lock()
	wasLost := c.failures >= c.offlineThreshold
	c.failures = 0
	c.connected = true
	c.latest = r
	c.lastSuccess = r.Timestamp
	c.mu.Unlock()

	metrics.PollsTotal.WithLabelValues("ok").Inc()
	metrics.ConnectionUp.Set(1)
	metrics.PVPower.Set(r.PVPower)
	metrics.LoadPower.Set(r.LoadPower)
	metrics.GridPower.Set(r.GridPower)
	metrics.BatterySOC.Set(r.BatterySOC)

	if wasLost {
		c.logger.Info("Inverter connection restored")
	}

	c.logger.WithFields(logrus.Fields{
		"pv_w":   r.PVPower,
		"load_w": r.LoadPower,
		"grid_w": r.GridPower,
		"soc":    r.BatterySOC,
	}).Debug("Collected reading")
}

// fanOut hands the reading to every observer and waits for all of them
// before the next tick, so consumers never see readings out of order.
func (c *Collector) fanOut(r *inverter.Reading) {
	var wg sync.WaitGroup
	for _, o := range c.observers {
		wg.Add(1)
		go func(o Observer) {
			defer wg.Done()
			o.Observe(r)
		}(o)
	}
	wg.Wait()
}

func (c *Collector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Connected:           c.connected,
		Collecting:          c.isCollecting,
		ConsecutiveFailures: c.failures,
	}
	if !c.lastSuccess.IsZero() {
		t := c.lastSuccess
		s.LastSuccess = &t
	}
	if c.latest != nil {
		r := *c.latest
		s.Reading = &r
	}
	return s
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}

// CollectOnce performs a single poll cycle outside the loop. The read
// command uses it.
func (c *Collector) CollectOnce() (*inverter.Reading, error) {
	if err := c.client.Connect(); err != nil {
		return nil, err
	}

	reading, err := c.deye.ReadReading()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.latest = reading
	c.lastSuccess = reading.Timestamp
	c.connected = true
	c.mu.Unlock()

	return reading, nil
}

func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
	}
	if c.publisher != nil {
		c.publisher.Close()
	}
}
