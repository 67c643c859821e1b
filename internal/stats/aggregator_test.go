package stats

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

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestAggregator(t *testing.T, historySize, retentionDays int) (*Aggregator, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "phase_stats.json"))
	require.NoError(t, err)
	agg, err := NewAggregator(store, time.UTC, historySize, retentionDays, testLogger())
	require.NoError(t, err)
	require.NoError(t, agg.Load())
	return agg, store
}

func phaseReading(at time.Time, powers ...float64) *inverter.Reading {
	return &inverter.Reading{Timestamp: at, PhasePower: powers}
}

func TestAggregatorTracksMinMaxSumCountPerPhase(t *testing.T) {
	agg, _ := newTestAggregator(t, 10, 31)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	agg.Observe(phaseReading(at, 500, 200))
	agg.Observe(phaseReading(at.Add(5*time.Second), 300, 800))
	agg.Observe(phaseReading(at.Add(10*time.Second), 400, 500))

	today := agg.Today()
	assert.Equal(t, "2026-03-02", today.Date)
	require.Len(t, today.Phases, 2)

	l1 := today.Phases[0]
	assert.Equal(t, 300.0, l1.MinW)
	assert.Equal(t, 500.0, l1.MaxW)
	assert.Equal(t, 1200.0, l1.SumW)
	assert.Equal(t, 3, l1.Samples)
	assert.Equal(t, 400.0, l1.AvgW())

	l2 := today.Phases[1]
	assert.Equal(t, 200.0, l2.MinW)
	assert.Equal(t, 800.0, l2.MaxW)
	assert.Equal(t, 3, l2.Samples)

	assert.LessOrEqual(t, l2.MinW, l2.AvgW())
	assert.LessOrEqual(t, l2.AvgW(), l2.MaxW)
}

func TestAggregatorDayRolloverFreezesRecord(t *testing.T) {
	agg, store := newTestAggregator(t, 10, 31)

	day1 := time.Date(2026, 3, 2, 23, 59, 50, 0, time.UTC)
	day2 := time.Date(2026, 3, 3, 0, 0, 5, 0, time.UTC)

	agg.Observe(phaseReading(day1, 100))
	agg.Observe(phaseReading(day2, 900))

	days := agg.Days()
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-02", days[0].Date)
	assert.Equal(t, 1, days[0].Phases[0].Samples)
	assert.Equal(t, "2026-03-03", days[1].Date)
	assert.Equal(t, 900.0, days[1].Phases[0].MinW)

	// Rollover persists without waiting for a flush.
	var snap snapshot
	require.NoError(t, store.Load(&snap))
	require.Len(t, snap.Closed, 1)
	assert.Equal(t, "2026-03-02", snap.Closed[0].Date)
}

func TestAggregatorRetentionBoundsClosedDays(t *testing.T) {
	agg, _ := newTestAggregator(t, 10, 2)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for day := 0; day < 4; day++ {
		agg.Observe(phaseReading(base.AddDate(0, 0, day), float64(100+day)))
	}

	days := agg.Days()
	require.Len(t, days, 3, "two retained closed days plus the open day")
	assert.Equal(t, "2026-03-02", days[0].Date)
	assert.Equal(t, "2026-03-03", days[1].Date)
	assert.Equal(t, "2026-03-04", days[2].Date)
}

func TestAggregatorRingKeepsMostRecentPoints(t *testing.T) {
	agg, _ := newTestAggregator(t, 3, 31)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		agg.Observe(phaseReading(base.Add(time.Duration(i)*time.Second), float64(i)))
	}

	points := agg.History()
	require.Len(t, points, 3)
	assert.Equal(t, base.Add(2*time.Second), points[0].Timestamp)
	assert.Equal(t, base.Add(3*time.Second), points[1].Timestamp)
	assert.Equal(t, base.Add(4*time.Second), points[2].Timestamp)
	assert.Equal(t, []float64{4}, points[2].PhasePower)
}

func TestAggregatorFlushPersistsAndLoadResumesOpenDay(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "phase_stats.json"))
	require.NoError(t, err)

	agg, err := NewAggregator(store, time.UTC, 10, 31, testLogger())
	require.NoError(t, err)
	require.NoError(t, agg.Load())

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	agg.Observe(phaseReading(at, 500))
	agg.Observe(phaseReading(at.Add(5*time.Second), 700))
	agg.Flush()

	resumed, err := NewAggregator(store, time.UTC, 10, 31, testLogger())
	require.NoError(t, err)
	require.NoError(t, resumed.Load())
	resumed.Observe(phaseReading(at.Add(10*time.Second), 600))

	today := resumed.Today()
	assert.Equal(t, "2026-03-02", today.Date)
	require.Len(t, today.Phases, 1)
	assert.Equal(t, 3, today.Phases[0].Samples, "same-day restart resumes the open record")
	assert.Equal(t, 1800.0, today.Phases[0].SumW)
}

func TestAggregatorClearEmptiesMemoryAndPersistedForm(t *testing.T) {
	agg, store := newTestAggregator(t, 10, 31)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	agg.Observe(phaseReading(at, 500))
	agg.Flush()
	require.NoError(t, agg.Clear())

	assert.Empty(t, agg.Days())
	assert.Empty(t, agg.History())

	var snap snapshot
	require.NoError(t, store.Load(&snap))
	assert.Nil(t, snap.Open)
	assert.Empty(t, snap.Closed)
}
