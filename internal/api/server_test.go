package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stakequeue/internal/app"
	"github.com/livinlefevreloca/stakequeue/internal/config"
	"github.com/livinlefevreloca/stakequeue/internal/notifier"
	"github.com/livinlefevreloca/stakequeue/internal/testutil"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

type fixture struct {
	t   *testing.T
	app *app.App
	srv *httptest.Server
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.Executor.SimulatedDelay = 0
	cfg.Sync.ActiveAccount = alice
	cfg.Snapshot.RefreshInterval = 0
	cfg.Snapshot.InitialBackoff = time.Millisecond
	cfg.Snapshot.MaxBackoff = time.Millisecond
	cfg.Connectivity.InitialOnline = false
	if mutate != nil {
		mutate(cfg)
	}

	logger := testutil.NewTestLogger().Logger()
	a, err := app.New(cfg, logger)
	require.NoError(t, err)

	server := NewServer("127.0.0.1:0", a.Service(), Options{Registry: a.Registry()}, logger)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Stop()
	})

	return &fixture{t: t, app: a, srv: srv}
}

func (f *fixture) do(method, path string, body any) (int, []byte) {
	f.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(f.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp.StatusCode, data
}

func (f *fixture) decode(data []byte, v any) {
	f.t.Helper()
	require.NoError(f.t, json.Unmarshal(data, v), string(data))
}

func stakeBody(account, amount string) map[string]any {
	return map[string]any{
		"account": account,
		"kind":    "stake",
		"payload": map[string]string{"amount": amount},
	}
}

// =============================================================================
// Operations
// =============================================================================

func TestOperations_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(http.MethodPost, "/api/v1/operations", stakeBody(alice, "100"))
	require.Equal(t, http.StatusCreated, code, string(body))

	var created OperationView
	f.decode(body, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, alice, created.Account)
	assert.Equal(t, "100", created.Payload.Amount)
	assert.Zero(t, created.RetryCount)

	code, body = f.do(http.MethodGet, "/api/v1/operations", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Operations []OperationView `json:"operations"`
	}
	f.decode(body, &list)
	require.Len(t, list.Operations, 1)
	assert.Equal(t, created.ID, list.Operations[0].ID)
	assert.GreaterOrEqual(t, list.Operations[0].AgeSeconds, int64(0))

	code, _ = f.do(http.MethodGet, "/api/v1/operations/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(http.MethodDelete, "/api/v1/operations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = f.do(http.MethodDelete, "/api/v1/operations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	var apiErr ErrorResponse
	f.decode(body, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
}

func TestOperations_ListByAccount(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(http.MethodPost, "/api/v1/operations", stakeBody(alice, "1"))
	require.Equal(t, http.StatusCreated, code)
	code, _ = f.do(http.MethodPost, "/api/v1/operations", stakeBody(bob, "2"))
	require.Equal(t, http.StatusCreated, code)

	code, body := f.do(http.MethodGet, "/api/v1/operations?account="+bob, nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Operations []OperationView `json:"operations"`
	}
	f.decode(body, &list)
	require.Len(t, list.Operations, 1)
	assert.Equal(t, bob, list.Operations[0].Account)

	code, _ = f.do(http.MethodGet, "/api/v1/operations?account=bob", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOperations_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{"},
		{"unknown field", `{"account":"` + alice + `","kind":"stake","payload":{"amount":"1"},"priority":1}`},
		{"invalid amount", stakeBody(alice, "1.5")},
		{"invalid account", stakeBody("alice", "1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(http.MethodPost, "/api/v1/operations", tt.body)
			assert.Equal(t, http.StatusBadRequest, code, string(body))
		})
	}
}

func TestOperations_QueueFull(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Store.Limits.MaxQueueSize = 1 })

	code, _ := f.do(http.MethodPost, "/api/v1/operations", stakeBody(alice, "1"))
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(http.MethodPost, "/api/v1/operations", stakeBody(alice, "1"))
	assert.Equal(t, http.StatusConflict, code)
}

// =============================================================================
// Snapshot, projection, connectivity
// =============================================================================

func TestSnapshot_RefreshNeedsConnectivity(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(http.MethodGet, "/api/v1/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(http.MethodPost, "/api/v1/snapshot/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body := f.do(http.MethodPut, "/api/v1/connectivity", map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, code)
	var status app.Status
	f.decode(body, &status)
	assert.True(t, status.Online)

	code, body = f.do(http.MethodPost, "/api/v1/snapshot/refresh", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var snap SnapshotView
	f.decode(body, &snap)
	assert.Equal(t, alice, snap.Address)
	assert.Equal(t, "0", snap.StakedAmount)

	code, _ = f.do(http.MethodPost, "/api/v1/snapshot/refresh?account="+bob, nil)
	assert.Equal(t, http.StatusConflict, code, "only the active account is refreshed")
}

func TestConnectivity_RequiresField(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(http.MethodPut, "/api/v1/connectivity", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProjection_DefaultsToActiveAccount(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(http.MethodPost, "/api/v1/operations", map[string]any{
		"account": alice,
		"kind":    "unstake",
		"payload": map[string]string{"amount": "5"},
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := f.do(http.MethodGet, "/api/v1/projection", nil)
	require.Equal(t, http.StatusOK, code)

	var p app.Projection
	f.decode(body, &p)
	assert.Equal(t, alice, p.Account)
	assert.False(t, p.HasSnapshot)
	require.Len(t, p.Operations, 1)
	assert.False(t, p.Operations[0].CanExecute)
	assert.Equal(t, "no account snapshot available", p.Operations[0].Reason)
}

func TestProjection_NoActiveAccount(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Sync.ActiveAccount = "" })

	code, _ := f.do(http.MethodGet, "/api/v1/projection", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

// =============================================================================
// Sync, status, notifications, metrics
// =============================================================================

func TestStatusAndActiveAccount(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"requested":true,"online":false}`, string(body))

	code, body = f.do(http.MethodPut, "/api/v1/account", map[string]string{"account": bob})
	require.Equal(t, http.StatusOK, code)
	var status app.Status
	f.decode(body, &status)
	assert.Equal(t, bob, status.ActiveAccount)
	assert.Equal(t, "idle", status.State)

	code, _ = f.do(http.MethodPut, "/api/v1/account", map[string]string{"account": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, nil)
	f.app.Start(context.Background())

	code, _ := f.do(http.MethodPost, "/api/v1/operations", stakeBody(alice, "3"))
	require.Equal(t, http.StatusCreated, code)

	testutil.WaitFor(t, func() bool {
		code, body := f.do(http.MethodGet, "/api/v1/notifications?limit=5", nil)
		if code != http.StatusOK {
			return false
		}
		var out struct {
			Notifications []notifier.Notification `json:"notifications"`
		}
		if json.Unmarshal(body, &out) != nil {
			return false
		}
		for _, n := range out.Notifications {
			if n.Tag == notifier.TagQueued {
				return true
			}
		}
		return false
	}, 2*time.Second)

	code, _ = f.do(http.MethodGet, "/api/v1/notifications?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(http.MethodGet, "/api/v1/operations", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	text := string(body)
	assert.Contains(t, text, "stakequeue_queue_depth")
	assert.Contains(t, text, "stakequeue_http_request_duration_seconds")
	assert.Contains(t, text, `handler="ListOperations"`)
}

func TestSignerRouteNeedsBridge(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(http.MethodGet, "/ws/signer", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
