package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/projection"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// Synchronizer replays queued operations against the Executor in FIFO order.
// At most one pass runs at a time; a pass halts at the first operation whose
// preconditions do not hold against the projected account state.
type Synchronizer struct {
	config       Config
	store        queue.Store
	executor     Executor
	connectivity Connectivity
	publisher    events.Publisher
	refresher    SnapshotRefresher
	observers    []PassObserver
	clock        queue.Clock
	logger       *slog.Logger

	mu             sync.Mutex
	state          State
	syncInProgress bool
	activeAccount  string
	lastPass       *PassResult
	stopped        bool

	requests chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup // loop and launched passes
	passWG   sync.WaitGroup // every pass, including direct TriggerSync calls
}

// Deps are the collaborators of a Synchronizer. Refresher, Observers and Clock are optional.
type Deps struct {
	Store        queue.Store
	Executor     Executor
	Connectivity Connectivity
	Publisher    events.Publisher
	Refresher    SnapshotRefresher
	Observers    []PassObserver
	Clock        queue.Clock
}

// New creates a synchronizer in the Idle state
func New(config Config, deps Deps, logger *slog.Logger) (*Synchronizer, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Executor == nil || deps.Connectivity == nil || deps.Publisher == nil {
		return nil, errors.New("store, executor, connectivity and publisher are required")
	}
	if deps.Clock == nil {
		deps.Clock = queue.SystemClock()
	}

	var account string
	if config.ActiveAccount != "" {
		normalized, err := queue.NormalizeAddress(config.ActiveAccount)
		if err != nil {
			return nil, fmt.Errorf("invalid active account: %w", err)
		}
		account = normalized
	}

	return &Synchronizer{
		config:        config,
		store:         deps.Store,
		executor:      deps.Executor,
		connectivity:  deps.Connectivity,
		publisher:     deps.Publisher,
		refresher:     deps.Refresher,
		observers:     deps.Observers,
		clock:         deps.Clock,
		logger:        logger,
		state:         StateIdle,
		activeAccount: account,
		requests:      make(chan struct{}, 1),
	}, nil
}

// SetActiveAccount selects whose queue partition is processed by later passes
func (s *Synchronizer) SetActiveAccount(account string) error {
	normalized, err := queue.NormalizeAddress(account)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeAccount != normalized {
		s.logger.Info("active account changed", "from", s.activeAccount, "to", normalized)
	}
	s.activeAccount = normalized
	return nil
}

// ActiveAccount returns the account whose queue is processed
func (s *Synchronizer) ActiveAccount() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAccount
}

// State returns Idle or Syncing
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a point-in-time view of the synchronizer
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:         s.state,
		Online:        s.connectivity.Online(),
		ActiveAccount: s.activeAccount,
	}
	if s.lastPass != nil {
		last := *s.lastPass
		status.LastPass = &last
	}
	return status
}

// RequestSync asks the background loop for a pass. Never blocks; requests
// arriving while one is already pending are coalesced.
func (s *Synchronizer) RequestSync() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// TriggerSync runs one pass over the active account's queue in the calling
// goroutine. It is a no-op, returning false, while offline, without an active
// account, after Stop, or when a pass is already running.
func (s *Synchronizer) TriggerSync(ctx context.Context) (PassResult, bool) {
	if !s.connectivity.Online() {
		s.logger.Debug("sync skipped: offline")
		return PassResult{}, false
	}

	s.mu.Lock()
	if s.syncInProgress || s.stopped {
		s.mu.Unlock()
		s.logger.Debug("sync skipped: pass already running or synchronizer stopped")
		return PassResult{}, false
	}
	account := s.activeAccount
	if account == "" {
		s.mu.Unlock()
		s.logger.Debug("sync skipped: no active account")
		return PassResult{}, false
	}
	s.syncInProgress = true
	s.state = StateSyncing
	s.passWG.Add(1)
	s.mu.Unlock()

	defer s.passWG.Done()

	result := s.runPass(ctx, account)

	s.mu.Lock()
	s.syncInProgress = false
	s.state = StateIdle
	s.lastPass = &result
	s.mu.Unlock()

	// The refresh runs outside the Syncing state; the executor call is the
	// only wait inside a pass.
	if result.Synced > 0 && s.refresher != nil {
		if err := s.refresher.Refresh(ctx, account); err != nil {
			s.logger.Warn("snapshot refresh after sync failed", "account", account, "error", err)
		}
	}

	for _, o := range s.observers {
		o.ObservePass(result)
	}

	return result, true
}

// runPass never panics; anything unexpected aborts the pass and is reported in the result
func (s *Synchronizer) runPass(ctx context.Context, account string) (result PassResult) {
	result = PassResult{Account: account, StartedAt: s.clock.Now()}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync pass panicked",
				"account", account,
				"panic", r,
				"stack", string(debug.Stack()))
			result.Aborted = true
			result.Err = fmt.Errorf("sync pass panicked: %v", r)
		}
		result.Duration = s.clock.Now().Sub(result.StartedAt)
	}()

	if err := s.processQueue(ctx, account, &result); err != nil {
		s.logger.Error("sync pass aborted", "account", account, "error", err)
		result.Aborted = true
		result.Err = err
	}

	s.logger.Info("sync pass complete",
		"account", account,
		"attempted", result.Attempted,
		"synced", result.Synced,
		"retried", result.Retried,
		"failed", result.Failed,
		"halted", result.Halted,
		"aborted", result.Aborted)

	return result
}

func (s *Synchronizer) processQueue(ctx context.Context, account string, result *PassResult) error {
	ops, err := s.store.ListAccount(account)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	snapshot, err := s.store.Snapshot(account)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	// Operations whose effects later operations depend on: everything ahead in
	// the queue except what this pass dropped terminally.
	effective := make([]queue.Operation, 0, len(ops))

	for _, op := range ops {
		candidate := append(effective[:len(effective):len(effective)], op)
		check := projection.Check(snapshot, candidate, len(effective))
		if !check.CanExecute {
			s.logger.Warn("dependency conflict, pausing queue",
				"operation_id", op.ID,
				"kind", op.Kind,
				"reason", check.Reason)
			s.publisher.Publish(events.DependencyConflict{
				Header:      events.For(op, s.clock.Now()),
				Reason:      check.Reason,
				QueuePaused: true,
			})
			result.Halted = true
			result.ConflictOperation = op.ID
			result.ConflictReason = check.Reason
			return nil
		}

		result.Attempted++
		res, execErr := s.execute(ctx, op)

		if execErr == nil && res.Success {
			if err := s.store.Remove(op.ID); err != nil {
				return fmt.Errorf("failed to remove synced operation %s: %w", op.ID, err)
			}
			s.logger.Info("operation synced",
				"operation_id", op.ID,
				"kind", op.Kind,
				"transaction_id", res.TransactionID)
			s.publisher.Publish(events.Synced{
				Header:        events.For(op, s.clock.Now()),
				TransactionID: res.TransactionID,
			})
			result.Synced++
			effective = candidate
			continue
		}

		reason := failureReason(res, execErr)
		attempts := op.RetryCount + 1

		if attempts >= s.config.MaxRetries {
			if err := s.store.Remove(op.ID); err != nil {
				return fmt.Errorf("failed to remove exhausted operation %s: %w", op.ID, err)
			}
			s.logger.Error("operation failed permanently",
				"operation_id", op.ID,
				"kind", op.Kind,
				"retries", attempts,
				"error", reason)
			s.publisher.Publish(events.Failed{
				Header:  events.For(op, s.clock.Now()),
				Retries: attempts,
				Error:   reason,
			})
			result.Failed++
			continue
		}

		count, err := s.store.IncrementRetry(op.ID)
		if err != nil {
			return fmt.Errorf("failed to record retry of %s: %w", op.ID, err)
		}
		s.logger.Warn("operation failed, will retry",
			"operation_id", op.ID,
			"kind", op.Kind,
			"retry_count", count,
			"error", reason)
		s.publisher.Publish(events.Retry{
			Header:     events.For(op, s.clock.Now()),
			RetryCount: count,
			Error:      reason,
		})
		result.Retried++
		effective = candidate
	}

	return nil
}

// execute bounds the executor call by ExecutionTimeout even if the executor ignores ctx
func (s *Synchronizer) execute(ctx context.Context, op queue.Operation) (ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ExecutionTimeout)
	defer cancel()

	type outcome struct {
		result ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		res, err := s.executor.Execute(ctx, op)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ExecutionResult{}, ErrExecutionTimeout
		}
		return ExecutionResult{}, ctx.Err()
	}
}

func failureReason(res ExecutionResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Error != "" {
		return res.Error
	}
	return "execution failed"
}

// Start launches the trigger loop: connectivity transitions to online,
// RequestSync, the periodic ticker, and one delayed check after start.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	transitions, unsubscribe := s.connectivity.Subscribe()

	s.wg.Add(1)
	go s.run(ctx, transitions, unsubscribe)

	s.logger.Info("synchronizer started",
		"sync_interval", s.config.SyncInterval,
		"initial_delay", s.config.InitialDelay,
		"max_retries", s.config.MaxRetries)
}

func (s *Synchronizer) run(ctx context.Context, transitions <-chan connectivity.Transition, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	initial := time.NewTimer(s.config.InitialDelay)
	defer initial.Stop()
	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-initial.C:
			s.launch(ctx, "initial")

		case <-ticker.C:
			s.launch(ctx, "periodic")

		case <-s.requests:
			s.launch(ctx, "requested")

		case t, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if t.Online {
				s.launch(ctx, "online")
			} else {
				s.logger.Info("offline, queued operations will wait")
			}
		}
	}
}

// launch runs a pass in its own goroutine. A running pass is never cancelled
// by Stop; Stop waits for it instead.
func (s *Synchronizer) launch(ctx context.Context, trigger string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, ran := s.TriggerSync(context.WithoutCancel(ctx)); ran {
			s.logger.Debug("sync pass finished", "trigger", trigger)
		}
	}()
}

// Stop ends the trigger loop and waits for any running pass to finish
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.passWG.Wait()

	s.logger.Info("synchronizer stopped")
}
