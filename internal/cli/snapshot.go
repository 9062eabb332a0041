package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stakequeue/internal/config"
	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// NewSnapshotCommand creates the snapshot command group
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or override cached account snapshots",
	}

	cmd.AddCommand(newSnapshotShowCommand(rootOpts))
	cmd.AddCommand(newSnapshotSetCommand(rootOpts))
	return cmd
}

func newSnapshotShowCommand(rootOpts *RootOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cached snapshot of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(cmd, func(_ *config.Config, store queue.Store, _ *db.DB) error {
				normalized, err := queue.NormalizeAddress(account)
				if err != nil {
					return err
				}
				snap, err := store.Snapshot(normalized)
				if err != nil {
					return err
				}
				if snap == nil {
					return fmt.Errorf("no snapshot for %s", normalized)
				}

				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"address":         snap.Address,
						"staked_amount":   snap.StakedAmount.String(),
						"rewards_accrued": snap.RewardsAccrued.String(),
						"last_updated":    snap.LastUpdated,
					})
				}
				writeSnapshot(cmd.OutOrStdout(), snap)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account address (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newSnapshotSetCommand(rootOpts *RootOptions) *cobra.Command {
	var account, staked, rewards string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Overwrite the cached snapshot of an account",
		Long: `Overwrite the cached confirmed state of an account. Use this to seed an
account whose state cannot be read live; the next successful live read
replaces it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stakedAmount, err := queue.ParseAmount(staked)
			if err != nil {
				return fmt.Errorf("staked: %w", err)
			}
			rewardsAccrued, err := queue.ParseAmount(rewards)
			if err != nil {
				return fmt.Errorf("rewards: %w", err)
			}

			normalized, err := queue.NormalizeAddress(account)
			if err != nil {
				return err
			}

			return rootOpts.withStore(cmd, func(_ *config.Config, store queue.Store, _ *db.DB) error {
				snap := queue.Snapshot{
					Address:        normalized,
					StakedAmount:   stakedAmount,
					RewardsAccrued: rewardsAccrued,
					LastUpdated:    time.Now().UTC(),
				}
				if err := store.SaveSnapshot(snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot saved for %s\n", normalized)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account address (required)")
	cmd.Flags().StringVar(&staked, "staked", "0", "confirmed staked amount")
	cmd.Flags().StringVar(&rewards, "rewards", "0", "confirmed accrued rewards")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
