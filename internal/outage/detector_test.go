package outage

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deye-monitor/internal/inverter"
	"deye-monitor/internal/storage"
)

type stubSink struct {
	lost     []time.Time
	restored []time.Time
	outages  []time.Duration
}

func (s *stubSink) PowerLost(at time.Time) {
	s.lost = append(s.lost, at)
}

func (s *stubSink) PowerRestored(at time.Time, outage time.Duration) {
	s.restored = append(s.restored, at)
	s.outages = append(s.outages, outage)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "outages.json"))
	require.NoError(t, err)
	return store
}

func reading(at time.Time, voltage float64) *inverter.Reading {
	return &inverter.Reading{
		Timestamp:   at,
		GridVoltage: []float64{voltage},
		PhasePower:  []float64{100},
	}
}

func stamps(n int) []time.Time {
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * 5 * time.Second)
	}
	return ts
}

func TestDetectorSingleOutageLifecycle(t *testing.T) {
	sink := &stubSink{}
	d := NewDetector(50, 3, newTestStore(t), sink, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(20)
	for i := 0; i < 10; i++ {
		d.Observe(reading(ts[i], 230))
	}
	require.Equal(t, StateGridUp, d.State())

	for i := 10; i < 15; i++ {
		d.Observe(reading(ts[i], 0))
	}
	require.Equal(t, StateGridDown, d.State())

	ongoing, ok := d.Ongoing()
	require.True(t, ok)
	assert.Equal(t, ts[10], ongoing.Start)

	for i := 15; i < 20; i++ {
		d.Observe(reading(ts[i], 230))
	}
	require.Equal(t, StateGridUp, d.State())

	events := d.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, ts[10], events[0].Start, "start is the first below-threshold sample of the run")
	require.NotNil(t, events[0].End)
	assert.Equal(t, ts[15], *events[0].End, "end is the first recovered sample of the run")
	assert.Equal(t, ts[15].Sub(ts[10]), events[0].Duration())

	require.Len(t, sink.lost, 1)
	assert.Equal(t, ts[10], sink.lost[0])
	require.Len(t, sink.restored, 1)
	assert.Equal(t, ts[15], sink.restored[0])
	assert.Equal(t, ts[15].Sub(ts[10]), sink.outages[0])
}

func TestDetectorDebounceRejectsSingleSampleGlitch(t *testing.T) {
	d := NewDetector(50, 3, newTestStore(t), nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(6)
	voltages := []float64{230, 230, 0, 230, 230, 230}
	for i, v := range voltages {
		d.Observe(reading(ts[i], v))
	}

	assert.Empty(t, d.Events())
	assert.Equal(t, StateGridUp, d.State())
}

func TestDetectorGlitchDuringOutageKeepsEventOpen(t *testing.T) {
	d := NewDetector(50, 3, newTestStore(t), nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(8)
	voltages := []float64{230, 0, 0, 0, 231, 0, 0, 0}
	for i, v := range voltages {
		d.Observe(reading(ts[i], v))
	}

	assert.Equal(t, StateGridDown, d.State())
	events := d.Events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].End)
}

func TestDetectorSequentialOutagesNeverOverlap(t *testing.T) {
	d := NewDetector(50, 2, newTestStore(t), nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(9)
	voltages := []float64{230, 0, 0, 230, 230, 0, 0, 230, 230}
	for i, v := range voltages {
		d.Observe(reading(ts[i], v))
	}

	events := d.Events()
	require.Len(t, events, 2)

	first, second := events[0], events[1]
	require.NotNil(t, first.End)
	require.NotNil(t, second.End)
	assert.Equal(t, ts[1], first.Start)
	assert.Equal(t, ts[3], *first.End)
	assert.Equal(t, ts[5], second.Start)
	assert.Equal(t, ts[7], *second.End)
	assert.True(t, !second.Start.Before(*first.End), "later event starts at or after the previous end")
}

func TestDetectorHistoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(50, 2, store, nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(6)
	voltages := []float64{230, 0, 0, 230, 230, 230}
	for i, v := range voltages {
		d.Observe(reading(ts[i], v))
	}
	want := d.Events()
	require.Len(t, want, 1)

	reloaded := NewDetector(50, 2, store, nil, testLogger())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, want, reloaded.Events())
}

func TestDetectorClosesEventLeftOpenAcrossRestart(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(50, 3, store, nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(20)
	d.Observe(reading(ts[0], 230))
	for i := 1; i <= 3; i++ {
		d.Observe(reading(ts[i], 0))
	}
	ongoing, ok := d.Ongoing()
	require.True(t, ok)
	require.Equal(t, ts[1], ongoing.Start)

	restarted := NewDetector(50, 3, store, nil, testLogger())
	require.NoError(t, restarted.Load())
	restarted.Observe(reading(ts[10], 230))

	events := restarted.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].End)
	assert.Equal(t, ts[10], *events[0].End, "closed with the first post-restart observation")
	assert.Equal(t, StateGridUp, restarted.State())
}

func TestDetectorOutageContinuesAcrossRestart(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(50, 3, store, nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(20)
	d.Observe(reading(ts[0], 230))
	for i := 1; i <= 3; i++ {
		d.Observe(reading(ts[i], 0))
	}

	restarted := NewDetector(50, 3, store, nil, testLogger())
	require.NoError(t, restarted.Load())
	restarted.Observe(reading(ts[10], 0))
	require.Equal(t, StateGridDown, restarted.State())

	for i := 11; i <= 13; i++ {
		restarted.Observe(reading(ts[i], 230))
	}

	events := restarted.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ts[1], events[0].Start)
	require.NotNil(t, events[0].End)
	assert.Equal(t, ts[11], *events[0].End, "recovery spans the restart")
}

func TestDetectorInitialGridDownRecordsNoEvent(t *testing.T) {
	sink := &stubSink{}
	d := NewDetector(50, 2, newTestStore(t), sink, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(4)
	d.Observe(reading(ts[0], 0))
	require.Equal(t, StateGridDown, d.State())
	assert.Empty(t, d.Events(), "no outage assumed retroactively")

	d.Observe(reading(ts[1], 230))
	d.Observe(reading(ts[2], 230))

	assert.Equal(t, StateGridUp, d.State())
	assert.Empty(t, d.Events())
	require.Len(t, sink.restored, 1, "restored hook still fires on the transition")
	assert.Equal(t, time.Duration(0), sink.outages[0])
}

func TestDetectorClearEmptiesHistoryAndPersistedForm(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(50, 2, store, nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(6)
	voltages := []float64{230, 0, 0, 230, 230, 230}
	for i, v := range voltages {
		d.Observe(reading(ts[i], v))
	}
	require.Len(t, d.Events(), 1)

	require.NoError(t, d.Clear())
	assert.Empty(t, d.Events())

	reloaded := NewDetector(50, 2, store, nil, testLogger())
	require.NoError(t, reloaded.Load())
	assert.Empty(t, reloaded.Events())
}

func TestDetectorPersistsOnOpen(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(50, 2, store, nil, testLogger())
	require.NoError(t, d.Load())

	ts := stamps(4)
	d.Observe(reading(ts[0], 230))
	d.Observe(reading(ts[1], 0))
	d.Observe(reading(ts[2], 0))

	var persisted []Event
	require.NoError(t, store.Load(&persisted))
	require.Len(t, persisted, 1)
	assert.Nil(t, persisted[0].End)
	assert.Equal(t, ts[1], persisted[0].Start)
}
