package db

import "time"

// OperationRow is a queued staking operation as stored in queued_operations.
// Seq is the insertion sequence and defines queue order.
type OperationRow struct {
	Seq        int64
	ID         string
	Account    string
	Kind       string
	Payload    string // JSON
	EnqueuedAt time.Time
	RetryCount int
}

// SnapshotRow is the cached confirmed account state for one address
type SnapshotRow struct {
	Address        string
	StakedAmount   string // decimal string
	RewardsAccrued string // decimal string
	LastUpdated    time.Time
}

// SyncStats represents aggregated sync pass metrics for one stats period
type SyncStats struct {
	StatsPeriodID     string
	StartTime         time.Time
	EndTime           time.Time
	Passes            int
	HaltedPasses      int
	AbortedPasses     int
	Attempted         int
	Synced            int
	Retried           int
	Failed            int
	Conflicts         int
	AvgPassDurationUs *float64
	MaxPassDurationUs *int64
}
