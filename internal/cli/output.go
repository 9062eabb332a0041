package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func amountOf(op queue.Operation) string {
	switch {
	case op.Payload.Amount != "":
		return op.Payload.Amount
	case op.Payload.RewardsAmount != "":
		return op.Payload.RewardsAmount
	}
	return "-"
}

func writeOperations(w io.Writer, ops []queue.Operation, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tKIND\tAMOUNT\tRETRIES\tAGE")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.Account, op.Kind, amountOf(op), op.RetryCount,
			op.Age(now).Truncate(time.Second))
	}
	return tw.Flush()
}

func writeSnapshot(w io.Writer, snap *queue.Snapshot) {
	fmt.Fprintf(w, "account:          %s\n", snap.Address)
	fmt.Fprintf(w, "staked amount:    %s\n", snap.StakedAmount)
	fmt.Fprintf(w, "rewards accrued:  %s\n", snap.RewardsAccrued)
	fmt.Fprintf(w, "last updated:     %s\n", snap.LastUpdated.Format(time.RFC3339))
}
