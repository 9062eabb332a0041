package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/metrics"
	"github.com/livinlefevreloca/stakequeue/internal/notifier"
	"github.com/livinlefevreloca/stakequeue/internal/projection"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/stats"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// ErrRefreshUnavailable is returned when no snapshot refresher is configured
var ErrRefreshUnavailable = errors.New("snapshot refresh is not available")

// Service is the caller-facing surface of the queue: enqueue, inspect,
// cancel, and nudge the synchronizer. The HTTP API and the CLI both use it.
type Service struct {
	store     queue.Store
	publisher events.Publisher
	syncer    *syncer.Synchronizer
	monitor   *connectivity.Monitor
	refresher Refresher
	ring      *notifier.RingSink
	stats     *stats.StatsCollector
	signers   func() int
	depth     queueDepth
	clock     queue.Clock
	logger    *slog.Logger
}

// Refresher re-reads confirmed account state
type Refresher interface {
	Refresh(ctx context.Context, account string) error
}

// ServiceDeps are the collaborators of a Service. Refresher, Notifications,
// Stats, Signers, Metrics and Clock are optional.
type ServiceDeps struct {
	Store         queue.Store
	Publisher     events.Publisher
	Syncer        *syncer.Synchronizer
	Monitor       *connectivity.Monitor
	Refresher     Refresher
	Notifications *notifier.RingSink
	Stats         *stats.StatsCollector
	Signers       func() int
	Metrics       metrics.SyncMetrics
	Clock         queue.Clock
}

// NewService creates a Service
func NewService(deps ServiceDeps, logger *slog.Logger) (*Service, error) {
	if deps.Store == nil || deps.Publisher == nil || deps.Syncer == nil || deps.Monitor == nil {
		return nil, errors.New("store, publisher, syncer and monitor are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopCollector()
	}
	if deps.Clock == nil {
		deps.Clock = queue.SystemClock()
	}

	return &Service{
		store:     deps.Store,
		publisher: deps.Publisher,
		syncer:    deps.Syncer,
		monitor:   deps.Monitor,
		refresher: deps.Refresher,
		ring:      deps.Notifications,
		stats:     deps.Stats,
		signers:   deps.Signers,
		depth:     queueDepth{store: deps.Store, metrics: deps.Metrics, logger: logger},
		clock:     deps.Clock,
		logger:    logger,
	}, nil
}

// Enqueue persists input at the end of the queue, emits Queued and, when
// online, asks the synchronizer for a pass. The operation is durable before
// the event is published. The returned operation is the one the store
// committed; a pass may already have executed and removed it.
func (s *Service) Enqueue(ctx context.Context, input queue.Input) (queue.Operation, error) {
	if err := ctx.Err(); err != nil {
		return queue.Operation{}, err
	}

	op, err := s.store.Enqueue(input)
	if err != nil {
		return queue.Operation{}, err
	}

	s.logger.Info("operation queued",
		"operation_id", op.ID,
		"account", op.Account,
		"kind", op.Kind)

	s.publisher.Publish(events.Queued{Header: events.For(op, s.clock.Now()), Account: op.Account})
	s.depth.update()

	if s.monitor.Online() {
		s.syncer.RequestSync()
	}
	return op, nil
}

// Get returns one queued operation
func (s *Service) Get(id string) (queue.Operation, error) {
	return s.store.Get(id)
}

// List returns queued operations in FIFO order, all accounts when account is empty
func (s *Service) List(account string) ([]queue.Operation, error) {
	if account == "" {
		return s.store.List()
	}
	normalized, err := queue.NormalizeAddress(account)
	if err != nil {
		return nil, err
	}
	return s.store.ListAccount(normalized)
}

// Cancel removes a queued operation. It returns queue.ErrNotFound when the
// operation already left the queue.
func (s *Service) Cancel(id string) error {
	op, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if err := s.store.Remove(id); err != nil {
		return err
	}

	s.logger.Info("operation cancelled", "operation_id", id, "kind", op.Kind, "account", op.Account)
	s.depth.update()
	return nil
}

// Snapshot returns the cached confirmed state of account, nil if never read
func (s *Service) Snapshot(account string) (*queue.Snapshot, error) {
	normalized, err := queue.NormalizeAddress(account)
	if err != nil {
		return nil, err
	}
	return s.store.Snapshot(normalized)
}

// RefreshSnapshot reads account state live and stores it
func (s *Service) RefreshSnapshot(ctx context.Context, account string) error {
	if s.refresher == nil {
		return ErrRefreshUnavailable
	}
	normalized, err := queue.NormalizeAddress(account)
	if err != nil {
		return err
	}
	return s.refresher.Refresh(ctx, normalized)
}

// ProjectedOperation is one queued operation with its dependency check
type ProjectedOperation struct {
	Operation  queue.Operation `json:"operation"`
	CanExecute bool            `json:"can_execute"`
	Reason     string          `json:"reason,omitempty"`
}

// Projection is the state an account reaches once its whole queue executes
type Projection struct {
	Account        string               `json:"account"`
	HasSnapshot    bool                 `json:"has_snapshot"`
	SnapshotAt     *time.Time           `json:"snapshot_at,omitempty"`
	StakedAmount   string               `json:"staked_amount,omitempty"`
	RewardsAccrued string               `json:"rewards_accrued,omitempty"`
	Operations     []ProjectedOperation `json:"operations"`
}

// Projection applies the account's queue to its snapshot and checks each
// operation against the state left by the ones before it
func (s *Service) Projection(account string) (Projection, error) {
	normalized, err := queue.NormalizeAddress(account)
	if err != nil {
		return Projection{}, err
	}

	snap, err := s.store.Snapshot(normalized)
	if err != nil {
		return Projection{}, err
	}
	ops, err := s.store.ListAccount(normalized)
	if err != nil {
		return Projection{}, err
	}

	out := Projection{
		Account:    normalized,
		Operations: make([]ProjectedOperation, 0, len(ops)),
	}
	if state := projection.Project(snap, ops, len(ops)); state != nil {
		out.HasSnapshot = true
		at := snap.LastUpdated
		out.SnapshotAt = &at
		out.StakedAmount = state.StakedAmount.String()
		out.RewardsAccrued = state.RewardsAccrued.String()
	}
	for i, op := range ops {
		check := projection.Check(snap, ops, i)
		out.Operations = append(out.Operations, ProjectedOperation{
			Operation:  op,
			CanExecute: check.CanExecute,
			Reason:     check.Reason,
		})
	}
	return out, nil
}

// RequestSync asks for a pass; it is dropped while offline
func (s *Service) RequestSync() {
	s.syncer.RequestSync()
}

// SetOnline overrides the connectivity status
func (s *Service) SetOnline(online bool) {
	s.monitor.Set(online)
}

// SetActiveAccount selects whose queue is processed and requests a pass
func (s *Service) SetActiveAccount(account string) error {
	if err := s.syncer.SetActiveAccount(account); err != nil {
		return err
	}
	s.syncer.RequestSync()
	return nil
}

// PassSummary describes the last completed pass
type PassSummary struct {
	Account           string    `json:"account"`
	StartedAt         time.Time `json:"started_at"`
	DurationMs        int64     `json:"duration_ms"`
	Attempted         int       `json:"attempted"`
	Synced            int       `json:"synced"`
	Retried           int       `json:"retried"`
	Failed            int       `json:"failed"`
	Halted            bool      `json:"halted"`
	ConflictOperation string    `json:"conflict_operation,omitempty"`
	ConflictReason    string    `json:"conflict_reason,omitempty"`
	Aborted           bool      `json:"aborted"`
	Error             string    `json:"error,omitempty"`
}

// Status is a point-in-time view of the whole queue
type Status struct {
	State         string        `json:"state"`
	Online        bool          `json:"online"`
	OnlineSince   time.Time     `json:"online_since"`
	ActiveAccount string        `json:"active_account,omitempty"`
	QueueLength   int           `json:"queue_length"`
	Signers       int           `json:"signers"`
	LastPass      *PassSummary  `json:"last_pass,omitempty"`
	Stats         *stats.Totals `json:"stats,omitempty"`
}

// Status reports synchronizer state, connectivity and queue length
func (s *Service) Status() (Status, error) {
	length, err := s.store.Len()
	if err != nil {
		return Status{}, err
	}

	st := s.syncer.Status()
	out := Status{
		State:         st.State.String(),
		Online:        st.Online,
		OnlineSince:   s.monitor.Since(),
		ActiveAccount: st.ActiveAccount,
		QueueLength:   length,
	}
	if s.signers != nil {
		out.Signers = s.signers()
	}
	if st.LastPass != nil {
		out.LastPass = summarize(*st.LastPass)
	}
	if s.stats != nil {
		totals := s.stats.Totals()
		out.Stats = &totals
	}
	return out, nil
}

// Notifications returns the most recent notifications, newest first
func (s *Service) Notifications(limit int) []notifier.Notification {
	if s.ring == nil {
		return nil
	}
	return s.ring.Recent(limit)
}

func summarize(r syncer.PassResult) *PassSummary {
	out := &PassSummary{
		Account:           r.Account,
		StartedAt:         r.StartedAt,
		DurationMs:        r.Duration.Milliseconds(),
		Attempted:         r.Attempted,
		Synced:            r.Synced,
		Retried:           r.Retried,
		Failed:            r.Failed,
		Halted:            r.Halted,
		ConflictOperation: r.ConflictOperation,
		ConflictReason:    r.ConflictReason,
		Aborted:           r.Aborted,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}
