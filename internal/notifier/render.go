package notifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// Notification tags, one per kind of message
const (
	TagQueued     = "transaction-queued"
	TagSuccess    = "transaction-success"
	TagRetry      = "transaction-retry"
	TagFailed     = "transaction-failed"
	TagConflict   = "dependency-conflict"
	TagOffline    = "offline-mode"
	TagBackOnline = "back-online"
)

// Notification is a user-facing message
type Notification struct {
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Tag                string            `json:"tag"`
	RequireInteraction bool              `json:"requireInteraction"`
	Silent             bool              `json:"silent"`
	Data               map[string]string `json:"data"`
	At                 time.Time         `json:"at"`
}

func amountOr(amount, fallback string) string {
	if amount == "" {
		return fallback
	}
	return amount
}

func label(kind queue.Kind) string {
	switch kind {
	case queue.KindApprove:
		return "Approval"
	case queue.KindStake:
		return "Stake"
	case queue.KindUnstake:
		return "Unstake"
	case queue.KindClaim:
		return "Claim"
	}
	return string(kind)
}

func eventData(h events.Header, t events.Type) map[string]string {
	data := map[string]string{
		"event":        string(t),
		"operation_id": h.ID,
		"type":         string(h.Kind),
	}
	if h.Amount != "" {
		data["amount"] = h.Amount
	}
	return data
}

// Render turns an event into a notification. Returns false for events that
// have no user-facing message.
func Render(e events.Event) (Notification, bool) {
	switch ev := e.(type) {
	case events.Queued:
		body := fmt.Sprintf("%s transaction queued for %s", label(ev.Kind), amountOr(ev.Amount, "tokens"))
		if ev.Kind == queue.KindClaim {
			body = "Claim rewards transaction queued"
		}
		data := eventData(ev.Header, ev.Type())
		data["account"] = ev.Account
		return Notification{
			Title: "Transaction Queued",
			Body:  body,
			Tag:   TagQueued,
			Data:  data,
			At:    ev.At,
		}, true

	case events.Synced:
		amount := amountOr(ev.Amount, "tokens")
		var body string
		switch ev.Kind {
		case queue.KindApprove:
			body = "Successfully approved " + amount
		case queue.KindStake:
			body = "Successfully staked " + amount
		case queue.KindUnstake:
			body = "Successfully unstaked " + amount
		default:
			body = "Successfully claimed rewards"
		}
		data := eventData(ev.Header, ev.Type())
		if ev.TransactionID != "" {
			data["transaction_id"] = ev.TransactionID
		}
		return Notification{
			Title: "Transaction Confirmed",
			Body:  body,
			Tag:   TagSuccess,
			Data:  data,
			At:    ev.At,
		}, true

	case events.Retry:
		data := eventData(ev.Header, ev.Type())
		data["error"] = ev.Error
		data["retries"] = strconv.Itoa(ev.RetryCount)
		return Notification{
			Title: "Transaction Retrying",
			Body:  fmt.Sprintf("%s transaction failed: %s (Attempt %d)", label(ev.Kind), ev.Error, ev.RetryCount),
			Tag:   TagRetry,
			Data:  data,
			At:    ev.At,
		}, true

	case events.Failed:
		data := eventData(ev.Header, ev.Type())
		data["error"] = ev.Error
		data["retries"] = strconv.Itoa(ev.Retries)
		return Notification{
			Title:              "Transaction Failed",
			Body:               fmt.Sprintf("%s transaction failed: %s (Attempt %d)", label(ev.Kind), ev.Error, ev.Retries),
			Tag:                TagFailed,
			RequireInteraction: true,
			Data:               data,
			At:                 ev.At,
		}, true

	case events.DependencyConflict:
		data := eventData(ev.Header, ev.Type())
		data["reason"] = ev.Reason
		return Notification{
			Title: "Transaction Dependency Conflict",
			Body: fmt.Sprintf("A queued transaction cannot be processed: %s. "+
				"Please check your staking balance or resolve the issue.", ev.Reason),
			Tag:                TagConflict,
			RequireInteraction: true,
			Data:               data,
			At:                 ev.At,
		}, true
	}

	return Notification{}, false
}

// Offline is shown when connectivity is lost
func Offline(at time.Time) Notification {
	return Notification{
		Title:  "Offline Mode",
		Body:   "You're offline. Transactions will be queued and synced when you're back online.",
		Tag:    TagOffline,
		Silent: true,
		Data:   map[string]string{},
		At:     at,
	}
}

// BackOnline is shown when connectivity returns
func BackOnline(at time.Time) Notification {
	return Notification{
		Title: "Back Online",
		Body:  "Connection restored. Syncing queued transactions...",
		Tag:   TagBackOnline,
		Data:  map[string]string{},
		At:    at,
	}
}
