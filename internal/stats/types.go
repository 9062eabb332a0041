package stats

import (
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// PassSample is what the collector keeps from one sync pass
type PassSample struct {
	ReceivedAt time.Time
	Attempted  int
	Synced     int
	Retried    int
	Failed     int
	Halted     bool
	Aborted    bool
	Duration   time.Duration
}

func sampleFrom(result syncer.PassResult, at time.Time) PassSample {
	return PassSample{
		ReceivedAt: at,
		Attempted:  result.Attempted,
		Synced:     result.Synced,
		Retried:    result.Retried,
		Failed:     result.Failed,
		Halted:     result.Halted,
		Aborted:    result.Aborted,
		Duration:   result.Duration,
	}
}

// PassAccumulator accumulates pass samples for a period
type PassAccumulator struct {
	Passes        int
	HaltedPasses  int
	AbortedPasses int
	Attempted     int
	Synced        int
	Retried       int
	Failed        int

	// Samples for avg/max calculations
	Durations []time.Duration
}

// Add adds a sample to the accumulator
func (acc *PassAccumulator) Add(s PassSample) {
	acc.Passes++
	if s.Halted {
		acc.HaltedPasses++
	}
	if s.Aborted {
		acc.AbortedPasses++
	}
	acc.Attempted += s.Attempted
	acc.Synced += s.Synced
	acc.Retried += s.Retried
	acc.Failed += s.Failed
	acc.Durations = append(acc.Durations, s.Duration)
}

// Reset clears the accumulator for a new period
func (acc *PassAccumulator) Reset() {
	*acc = PassAccumulator{Durations: make([]time.Duration, 0)}
}

// Totals are lifetime counters since the collector started
type Totals struct {
	Passes        int     `json:"passes"`
	HaltedPasses  int     `json:"halted_passes"`
	AbortedPasses int     `json:"aborted_passes"`
	Synced        int     `json:"synced"`
	Retried       int     `json:"retried"`
	Failed        int     `json:"failed"`
	RecentAvgMs   float64 `json:"recent_avg_pass_ms"`
}
