// Package stats aggregates sync pass results into per-period rows of the
// sync_stats table.
package stats

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/google/uuid"

	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/inbox"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// DatabaseWriter persists one aggregated period
type DatabaseWriter interface {
	CreateSyncStats(stats *db.SyncStats) error
}

// StatsCollector receives pass results from the synchronizer, aggregates them
// per period and writes them to the database
type StatsCollector struct {
	db     DatabaseWriter
	inbox  *inbox.Inbox[PassSample]
	config Config
	clock  queue.Clock
	logger *slog.Logger

	// Mutex protects all mutable fields below
	mu sync.Mutex

	// Current stats period tracking
	currentPeriod   string
	periodStartTime time.Time

	// Accumulator for current period
	passes PassAccumulator
	totals Totals
	recent *movingaverage.MovingAverage

	// Flush timer
	flushTicker *time.Ticker

	// Message counter for threshold-based flushing
	messageCount int

	// Shutdown coordination
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ syncer.PassObserver = (*StatsCollector)(nil)

// NewStatsCollector creates a new stats collector
func NewStatsCollector(config Config, database DatabaseWriter, clock queue.Clock, logger *slog.Logger) (*StatsCollector, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = queue.SystemClock()
	}

	now := clock.Now()
	return &StatsCollector{
		db:              database,
		inbox:           inbox.New[PassSample]("stats", config.InboxBufferSize, config.InboxSendTimeout, logger),
		config:          config,
		clock:           clock,
		logger:          logger,
		currentPeriod:   generatePeriodID(now),
		periodStartTime: now,
		passes:          PassAccumulator{Durations: make([]time.Duration, 0)},
		recent:          movingaverage.New(config.AverageWindow),
		done:            make(chan struct{}),
	}, nil
}

// Start begins the stats collection loop
func (sc *StatsCollector) Start() {
	sc.logger.Info("starting stats collector")

	sc.mu.Lock()
	sc.flushTicker = time.NewTicker(sc.config.FlushInterval)
	sc.mu.Unlock()

	sc.wg.Add(1)
	go sc.run()
}

// Stop gracefully shuts down the stats collector
func (sc *StatsCollector) Stop() error {
	var stopErr error
	sc.stopOnce.Do(func() {
		sc.logger.Info("stopping stats collector")

		close(sc.done)

		sc.mu.Lock()
		if sc.flushTicker != nil {
			sc.flushTicker.Stop()
		}
		sc.mu.Unlock()

		sc.inbox.Close()
		sc.wg.Wait()

		// Samples still in the inbox belong to the final period
		for {
			sample, ok := sc.inbox.TryReceive()
			if !ok {
				break
			}
			sc.processSample(sample)
		}

		if err := sc.flush(); err != nil {
			sc.logger.Error("final flush failed", "error", err)
			stopErr = err
			return
		}

		sc.logger.Info("stats collector stopped")
	})
	return stopErr
}

// ObservePass queues a pass result for aggregation. Never blocks longer than InboxSendTimeout.
func (sc *StatsCollector) ObservePass(result syncer.PassResult) {
	if !sc.inbox.Send(sampleFrom(result, sc.clock.Now())) {
		sc.logger.Warn("dropped pass stats", "account", result.Account)
	}
}

// Totals returns lifetime counters and the moving average of recent pass durations
func (sc *StatsCollector) Totals() Totals {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	t := sc.totals
	t.RecentAvgMs = sc.recent.Avg()
	return t
}

// run is the main stats collection loop
func (sc *StatsCollector) run() {
	defer sc.wg.Done()

	for {
		select {
		case <-sc.done:
			sc.logger.Debug("shutdown signal received")
			return

		case <-sc.flushTicker.C:
			sc.logger.Debug("flush timer triggered")
			if err := sc.flush(); err != nil {
				sc.logger.Error("flush failed", "error", err)
			}

		default:
			sample, ok := sc.inbox.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			sc.processSample(sample)

			sc.mu.Lock()
			shouldFlushThreshold := sc.messageCount >= sc.config.FlushThreshold
			shouldFlushPeriod := sc.clock.Now().Sub(sc.periodStartTime) >= sc.config.PeriodDuration
			sc.mu.Unlock()

			if shouldFlushThreshold || shouldFlushPeriod {
				if err := sc.flush(); err != nil {
					sc.logger.Error("flush failed", "error", err)
				}
			}
		}
	}
}

func (sc *StatsCollector) processSample(s PassSample) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.passes.Add(s)
	sc.messageCount++

	sc.totals.Passes++
	if s.Halted {
		sc.totals.HaltedPasses++
	}
	if s.Aborted {
		sc.totals.AbortedPasses++
	}
	sc.totals.Synced += s.Synced
	sc.totals.Retried += s.Retried
	sc.totals.Failed += s.Failed
	sc.recent.Add(float64(s.Duration) / float64(time.Millisecond))
}

// flush writes the current period to the database and resets the accumulator.
// A period flushed early by the threshold continues under a new id so every
// row stays unique.
func (sc *StatsCollector) flush() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.messageCount == 0 {
		return nil
	}

	sc.logger.Debug("flushing stats to database",
		"period", sc.currentPeriod,
		"messages", sc.messageCount)

	periodEnd := sc.clock.Now()
	avg, longest := averageAndMax(sc.passes.Durations)

	row := &db.SyncStats{
		StatsPeriodID:     sc.currentPeriod,
		StartTime:         sc.periodStartTime,
		EndTime:           periodEnd,
		Passes:            sc.passes.Passes,
		HaltedPasses:      sc.passes.HaltedPasses,
		AbortedPasses:     sc.passes.AbortedPasses,
		Attempted:         sc.passes.Attempted,
		Synced:            sc.passes.Synced,
		Retried:           sc.passes.Retried,
		Failed:            sc.passes.Failed,
		Conflicts:         sc.passes.HaltedPasses,
		AvgPassDurationUs: float64Ptr(float64(avg.Microseconds())),
		MaxPassDurationUs: int64Ptr(longest.Microseconds()),
	}

	if err := sc.db.CreateSyncStats(row); err != nil {
		return fmt.Errorf("write sync stats failed: %w", err)
	}

	sc.passes.Reset()
	sc.messageCount = 0
	sc.currentPeriod = generatePeriodID(periodEnd)
	sc.periodStartTime = periodEnd

	sc.logger.Debug("flush complete")
	return nil
}

// generatePeriodID generates a unique period ID
func generatePeriodID(t time.Time) string {
	return fmt.Sprintf("period-%d-%s", t.Unix(), uuid.NewString()[:8])
}

func averageAndMax(values []time.Duration) (avg, longest time.Duration) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum time.Duration
	for _, v := range values {
		sum += v
		if v > longest {
			longest = v
		}
	}
	return sum / time.Duration(len(values)), longest
}

func float64Ptr(f float64) *float64 {
	return &f
}

func int64Ptr(i int64) *int64 {
	return &i
}
