package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stakequeue/internal/config"
	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/projection"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// EnqueueOptions holds flags for the enqueue command
type EnqueueOptions struct {
	*RootOptions
	Account       string
	Kind          string
	Amount        string
	Spender       string
	RewardsAmount string
}

// NewEnqueueCommand creates the enqueue command
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Append an operation to the queue",
		Long: `Append an operation to the persistent queue. A running instance picks it up
on its next sync pass.

Example:
  stakequeue enqueue --account 0xabc... --kind stake --amount 1000
  stakequeue enqueue --account 0xabc... --kind approve --amount 1000 --spender 0xdef...
  stakequeue enqueue --account 0xabc... --kind claim`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(_ *config.Config, store queue.Store, _ *db.DB) error {
				op, err := store.Enqueue(queue.Input{
					Account: opts.Account,
					Kind:    queue.Kind(opts.Kind),
					Payload: queue.Payload{
						Amount:        opts.Amount,
						Spender:       opts.Spender,
						RewardsAmount: opts.RewardsAmount,
					},
				})
				if err != nil {
					return err
				}

				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), op)
				}
				fmt.Fprintln(cmd.OutOrStdout(), op.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "account address (required)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "operation kind: approve, stake, unstake or claim (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount in the smallest token unit")
	cmd.Flags().StringVar(&opts.Spender, "spender", "", "spender address for approve")
	cmd.Flags().StringVar(&opts.RewardsAmount, "rewards-amount", "", "expected rewards for claim")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

// NewListCommand creates the list command
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(cmd, func(_ *config.Config, store queue.Store, _ *db.DB) error {
				var (
					ops []queue.Operation
					err error
				)
				if account == "" {
					ops, err = store.List()
				} else {
					normalized, nerr := queue.NormalizeAddress(account)
					if nerr != nil {
						return nerr
					}
					ops, err = store.ListAccount(normalized)
				}
				if err != nil {
					return err
				}

				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), ops)
				}
				return writeOperations(cmd.OutOrStdout(), ops, time.Now())
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "only list this account's operations")
	return cmd
}

// NewCancelCommand creates the cancel command
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation-id>",
		Short: "Remove a queued operation before it executes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(cmd, func(_ *config.Config, store queue.Store, _ *db.DB) error {
				if _, err := store.Get(args[0]); err != nil {
					return err
				}
				if err := store.Remove(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
				return nil
			})
		},
	}
}

// NewProjectCommand creates the project command
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Show the state an account reaches once its queue executes",
		Long: `Apply the account's queued operations to its cached snapshot and report,
for each operation, whether it can execute against the state left by the
operations ahead of it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(cmd, func(cfg *config.Config, store queue.Store, _ *db.DB) error {
				if account == "" {
					account = cfg.Sync.ActiveAccount
				}
				normalized, err := queue.NormalizeAddress(account)
				if err != nil {
					return err
				}

				snap, err := store.Snapshot(normalized)
				if err != nil {
					return err
				}
				ops, err := store.ListAccount(normalized)
				if err != nil {
					return err
				}

				return writeProjection(cmd, rootOpts.Format, normalized, snap, ops)
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account address (defaults to sync.active_account)")
	return cmd
}

type projectedOperation struct {
	ID         string     `json:"id"`
	Kind       queue.Kind `json:"kind"`
	Amount     string     `json:"amount,omitempty"`
	CanExecute bool       `json:"can_execute"`
	Reason     string     `json:"reason,omitempty"`
}

type projectionOutput struct {
	Account        string               `json:"account"`
	HasSnapshot    bool                 `json:"has_snapshot"`
	StakedAmount   string               `json:"staked_amount,omitempty"`
	RewardsAccrued string               `json:"rewards_accrued,omitempty"`
	Operations     []projectedOperation `json:"operations"`
}

func writeProjection(cmd *cobra.Command, format, account string, snap *queue.Snapshot, ops []queue.Operation) error {
	out := projectionOutput{Account: account, Operations: make([]projectedOperation, 0, len(ops))}
	if state := projection.Project(snap, ops, len(ops)); state != nil {
		out.HasSnapshot = true
		out.StakedAmount = state.StakedAmount.String()
		out.RewardsAccrued = state.RewardsAccrued.String()
	}
	for i, op := range ops {
		check := projection.Check(snap, ops, i)
		out.Operations = append(out.Operations, projectedOperation{
			ID:         op.ID,
			Kind:       op.Kind,
			Amount:     op.Payload.Amount,
			CanExecute: check.CanExecute,
			Reason:     check.Reason,
		})
	}

	w := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(w, out)
	}

	if !out.HasSnapshot {
		fmt.Fprintf(w, "%s: no snapshot, projection unavailable\n", account)
	} else {
		fmt.Fprintf(w, "%s: staked %s, rewards %s after %d operation(s)\n",
			account, out.StakedAmount, out.RewardsAccrued, len(ops))
	}
	for i, p := range out.Operations {
		verdict := "ok"
		if !p.CanExecute {
			verdict = "blocked: " + p.Reason
		}
		fmt.Fprintf(w, "%3d  %-8s %-12s %s\n", i+1, p.Kind, p.Amount, verdict)
	}
	return nil
}
