package stats

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
	"github.com/livinlefevreloca/stakequeue/internal/testutil"
)

// =============================================================================
// Test Helpers
// =============================================================================

// MockDB records written rows and can fail a number of writes
type MockDB struct {
	mu        sync.Mutex
	rows      []db.SyncStats
	failCount atomic.Int32
}

func (m *MockDB) CreateSyncStats(stats *db.SyncStats) error {
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return errors.New("simulated database failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *stats)
	return nil
}

func (m *MockDB) Rows() []db.SyncStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.SyncStats(nil), m.rows...)
}

func testConfig() Config {
	config := DefaultConfig()
	config.FlushInterval = time.Hour
	config.PeriodDuration = time.Hour
	config.FlushThreshold = 1000
	config.InboxSendTimeout = 100 * time.Millisecond
	return config
}

func pass(synced, retried, failed int, halted bool, d time.Duration) syncer.PassResult {
	return syncer.PassResult{
		Account:   "0x1111111111111111111111111111111111111111",
		Attempted: synced + retried + failed,
		Synced:    synced,
		Retried:   retried,
		Failed:    failed,
		Halted:    halted,
		Duration:  d,
	}
}

// =============================================================================
// Aggregation
// =============================================================================

func TestCollector_FlushesOnStop(t *testing.T) {
	mock := &MockDB{}
	sc, err := NewStatsCollector(testConfig(), mock, nil, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	sc.Start()

	sc.ObservePass(pass(2, 1, 0, false, 10*time.Millisecond))
	sc.ObservePass(pass(0, 0, 1, true, 30*time.Millisecond))

	require.NoError(t, sc.Stop())

	rows := mock.Rows()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 2, row.Passes)
	assert.Equal(t, 1, row.HaltedPasses)
	assert.Equal(t, 1, row.Conflicts)
	assert.Equal(t, 4, row.Attempted)
	assert.Equal(t, 2, row.Synced)
	assert.Equal(t, 1, row.Retried)
	assert.Equal(t, 1, row.Failed)
	require.NotNil(t, row.AvgPassDurationUs)
	assert.Equal(t, float64(20000), *row.AvgPassDurationUs)
	require.NotNil(t, row.MaxPassDurationUs)
	assert.Equal(t, int64(30000), *row.MaxPassDurationUs)
}

func TestCollector_NothingToFlush(t *testing.T) {
	mock := &MockDB{}
	sc, err := NewStatsCollector(testConfig(), mock, nil, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	sc.Start()
	require.NoError(t, sc.Stop())
	require.NoError(t, sc.Stop(), "stop is idempotent")

	assert.Empty(t, mock.Rows())
}

func TestCollector_ThresholdFlushUsesNewPeriodIDs(t *testing.T) {
	mock := &MockDB{}
	config := testConfig()
	config.FlushThreshold = 2
	sc, err := NewStatsCollector(config, mock, nil, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	sc.Start()
	defer sc.Stop()

	for i := 0; i < 4; i++ {
		sc.ObservePass(pass(1, 0, 0, false, time.Millisecond))
	}

	testutil.WaitFor(t, func() bool { return len(mock.Rows()) == 2 }, 2*time.Second)

	rows := mock.Rows()
	assert.NotEqual(t, rows[0].StatsPeriodID, rows[1].StatsPeriodID)
	assert.Equal(t, 2, rows[0].Passes)
	assert.Equal(t, 2, rows[1].Passes)
}

func TestCollector_PeriodFlush(t *testing.T) {
	mock := &MockDB{}
	clock := testutil.NewMockClock(time.Unix(1700000000, 0))
	config := testConfig()
	config.PeriodDuration = time.Minute
	sc, err := NewStatsCollector(config, mock, clock, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	sc.Start()
	defer sc.Stop()

	sc.ObservePass(pass(1, 0, 0, false, time.Millisecond))
	testutil.WaitFor(t, func() bool { return sc.Totals().Passes == 1 }, 2*time.Second)
	assert.Empty(t, mock.Rows())

	clock.Advance(2 * time.Minute)
	sc.ObservePass(pass(1, 0, 0, false, time.Millisecond))

	testutil.WaitFor(t, func() bool { return len(mock.Rows()) == 1 }, 2*time.Second)
	row := mock.Rows()[0]
	assert.Equal(t, 2, row.Passes)
	assert.Equal(t, time.Unix(1700000000, 0), row.StartTime)
	assert.Equal(t, time.Unix(1700000120, 0), row.EndTime)
}

func TestCollector_FailedFlushKeepsData(t *testing.T) {
	mock := &MockDB{}
	mock.failCount.Store(1)
	logger := testutil.NewTestLogger()
	config := testConfig()
	config.FlushThreshold = 1
	sc, err := NewStatsCollector(config, mock, nil, logger.Logger())
	require.NoError(t, err)
	sc.Start()

	sc.ObservePass(pass(1, 0, 0, false, time.Millisecond))
	testutil.WaitFor(t, func() bool { return logger.HasError() }, 2*time.Second)

	require.NoError(t, sc.Stop())
	rows := mock.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Passes)
}

func TestCollector_TotalsAndMovingAverage(t *testing.T) {
	config := testConfig()
	config.AverageWindow = 2
	sc, err := NewStatsCollector(config, &MockDB{}, nil, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	sc.Start()
	defer sc.Stop()

	sc.ObservePass(pass(1, 0, 0, false, 100*time.Millisecond))
	sc.ObservePass(pass(0, 1, 0, false, 10*time.Millisecond))
	sc.ObservePass(pass(0, 0, 1, true, 30*time.Millisecond))

	testutil.WaitFor(t, func() bool { return sc.Totals().Passes == 3 }, 2*time.Second)

	totals := sc.Totals()
	assert.Equal(t, 1, totals.Synced)
	assert.Equal(t, 1, totals.Retried)
	assert.Equal(t, 1, totals.Failed)
	assert.Equal(t, 1, totals.HaltedPasses)
	assert.InDelta(t, 20.0, totals.RecentAvgMs, 0.001, "only the last two passes count")
}

func TestCollector_WritesToDatabase(t *testing.T) {
	database, err := db.OpenWithConfig(db.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	defer database.Close()

	start := time.Now().Add(-time.Minute)
	sc, err := NewStatsCollector(testConfig(), database, nil, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	sc.Start()

	sc.ObservePass(pass(3, 0, 0, false, 5*time.Millisecond))
	require.NoError(t, sc.Stop())

	rows, err := database.GetSyncStats(start, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Synced)
}

func TestAccumulator_Reset(t *testing.T) {
	var acc PassAccumulator
	acc.Add(PassSample{Synced: 1, Aborted: true, Duration: time.Second})
	assert.Equal(t, 1, acc.AbortedPasses)

	acc.Reset()
	assert.Zero(t, acc.Passes)
	assert.Empty(t, acc.Durations)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(DefaultConfig()))

	for name, mutate := range map[string]func(*Config){
		"buffer":    func(c *Config) { c.InboxBufferSize = 0 },
		"timeout":   func(c *Config) { c.InboxSendTimeout = 0 },
		"interval":  func(c *Config) { c.FlushInterval = 0 },
		"threshold": func(c *Config) { c.FlushThreshold = 0 },
		"period":    func(c *Config) { c.PeriodDuration = 0 },
		"window":    func(c *Config) { c.AverageWindow = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			mutate(&config)
			assert.Error(t, ValidateConfig(config))
		})
	}
}
