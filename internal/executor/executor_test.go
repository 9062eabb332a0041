package executor

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/testutil"
)

const testAccount = "0x1111111111111111111111111111111111111111"

func testOperation(id string) queue.Operation {
	return queue.Operation{
		ID:         id,
		Account:    testAccount,
		Kind:       queue.KindStake,
		Payload:    queue.Payload{Amount: "100"},
		EnqueuedAt: time.Unix(1700000000, 0).UTC(),
	}
}

// =============================================================================
// Simulated
// =============================================================================

func TestSimulated_SucceedsWithStableHash(t *testing.T) {
	config := DefaultConfig()
	config.SimulatedDelay = 0
	s := NewSimulated(config, testutil.NewTestLogger().Logger())

	res, err := s.Execute(context.Background(), testOperation("op-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.TransactionID, "0x"))
	assert.Len(t, res.TransactionID, 66)

	again := NewSimulated(config, testutil.NewTestLogger().Logger())
	res2, err := again.Execute(context.Background(), testOperation("op-1"))
	require.NoError(t, err)
	assert.Equal(t, res.TransactionID, res2.TransactionID, "same op and call number give the same hash")
}

func TestSimulated_FailEvery(t *testing.T) {
	config := DefaultConfig()
	config.SimulatedDelay = 0
	config.SimulatedFailEvery = 2
	s := NewSimulated(config, testutil.NewTestLogger().Logger())

	var outcomes []bool
	for i := 0; i < 4; i++ {
		res, err := s.Execute(context.Background(), testOperation("op"))
		require.NoError(t, err)
		outcomes = append(outcomes, res.Success)
	}

	assert.Equal(t, []bool{true, false, true, false}, outcomes)
	assert.Equal(t, 4, s.Calls())
}

func TestSimulated_HonorsContext(t *testing.T) {
	config := DefaultConfig()
	config.SimulatedDelay = time.Hour
	s := NewSimulated(config, testutil.NewTestLogger().Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, testOperation("op"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bridge defaults", func(c *Config) { c.Mode = ModeBridge }, false},
		{"unknown mode", func(c *Config) { c.Mode = "remote" }, true},
		{"negative delay", func(c *Config) { c.SimulatedDelay = -time.Second }, true},
		{"negative fail every", func(c *Config) { c.SimulatedFailEvery = -1 }, true},
		{"bridge without buffer", func(c *Config) { c.Mode = ModeBridge; c.SendBuffer = 0 }, true},
		{"bridge without ping", func(c *Config) { c.Mode = ModeBridge; c.PingInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := ValidateConfig(config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// Bridge
// =============================================================================

type wallet struct {
	t    *testing.T
	conn *websocket.Conn
}

func newBridgeServer(t *testing.T) (*Bridge, *httptest.Server) {
	t.Helper()
	config := DefaultConfig()
	config.Mode = ModeBridge
	bridge := NewBridge(config, testutil.NewTestLogger().Logger())
	srv := httptest.NewServer(bridge)
	t.Cleanup(func() {
		bridge.Close()
		srv.Close()
	})
	return bridge, srv
}

func connectWallet(t *testing.T, bridge *Bridge, srv *httptest.Server) *wallet {
	t.Helper()
	before := bridge.Connected()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	testutil.WaitFor(t, func() bool { return bridge.Connected() > before }, time.Second)

	w := &wallet{t: t, conn: conn}
	hello := w.next()
	require.Equal(t, MessageHello, hello.Type)
	return w
}

func (w *wallet) next() Envelope {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(w.t, w.conn.ReadJSON(&env))
	return env
}

func (w *wallet) reply(to Envelope, msgType string, payload any) {
	w.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(w.t, err)
	require.NoError(w.t, w.conn.WriteJSON(Envelope{Type: msgType, MessageID: to.MessageID, Data: data}))
}

func TestBridge_NoSigner(t *testing.T) {
	bridge, _ := newBridgeServer(t)

	_, err := bridge.Execute(context.Background(), testOperation("op"))
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestBridge_ExecuteRoundTrip(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	w := connectWallet(t, bridge, srv)

	go func() {
		req := w.next()
		if req.Type != MessageExecute {
			return
		}
		var op OperationMessage
		if json.Unmarshal(req.Data, &op) != nil {
			return
		}
		w.reply(req, MessageResult, TransactionResult{Success: true, TransactionID: "0xabc-" + op.ID})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := bridge.Execute(ctx, testOperation("op-7"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xabc-op-7", res.TransactionID)
}

func TestBridge_ExecuteReportsSignerFailure(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	w := connectWallet(t, bridge, srv)

	go func() {
		req := w.next()
		w.reply(req, MessageResult, TransactionResult{Success: false, Error: "user rejected"})
	}()

	res, err := bridge.Execute(context.Background(), testOperation("op"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "user rejected", res.Error)
}

func TestBridge_ExecuteTimesOutWithoutReply(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	connectWallet(t, bridge, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := bridge.Execute(ctx, testOperation("op"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_SignerDisconnects(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	w := connectWallet(t, bridge, srv)

	go func() {
		w.next()
		w.conn.Close()
	}()

	_, err := bridge.Execute(context.Background(), testOperation("op"))
	assert.ErrorIs(t, err, ErrSignerDisconnected)
	testutil.WaitFor(t, func() bool { return bridge.Connected() == 0 }, time.Second)
}

func TestBridge_ReadAccount(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	w := connectWallet(t, bridge, srv)

	go func() {
		req := w.next()
		var ask AccountRequest
		if json.Unmarshal(req.Data, &ask) != nil || ask.Account != testAccount {
			w.reply(req, MessageAccountState, AccountState{Error: "unexpected account"})
			return
		}
		w.reply(req, MessageAccountState, AccountState{StakedAmount: "1500", RewardsAccrued: "25"})
	}()

	snap, err := bridge.ReadAccount(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, testAccount, snap.Address)
	assert.Equal(t, "1500", snap.StakedAmount.String())
	assert.Equal(t, "25", snap.RewardsAccrued.String())
}

func TestBridge_ReadAccountRejectsBadAmounts(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	w := connectWallet(t, bridge, srv)

	go func() {
		req := w.next()
		w.reply(req, MessageAccountState, AccountState{StakedAmount: "-1", RewardsAccrued: "0"})
	}()

	_, err := bridge.ReadAccount(context.Background(), testAccount)
	assert.Error(t, err)
}

func TestBridge_NewestClientSigns(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	connectWallet(t, bridge, srv)
	time.Sleep(5 * time.Millisecond)
	newest := connectWallet(t, bridge, srv)

	go func() {
		req := newest.next()
		newest.reply(req, MessageResult, TransactionResult{Success: true, TransactionID: "0xnew"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := bridge.Execute(ctx, testOperation("op"))
	require.NoError(t, err)
	assert.Equal(t, "0xnew", res.TransactionID)
}

func TestBridge_Broadcast(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	a := connectWallet(t, bridge, srv)
	b := connectWallet(t, bridge, srv)

	require.NoError(t, bridge.Broadcast(MessageNotification, map[string]string{"title": "hi"}))

	for _, w := range []*wallet{a, b} {
		env := w.next()
		assert.Equal(t, MessageNotification, env.Type)
		assert.JSONEq(t, `{"title":"hi"}`, string(env.Data))
	}
}

func TestBridge_CloseRejectsRequests(t *testing.T) {
	bridge, srv := newBridgeServer(t)
	connectWallet(t, bridge, srv)

	require.NoError(t, bridge.Close())
	assert.Equal(t, 0, bridge.Connected())

	_, err := bridge.Execute(context.Background(), testOperation("op"))
	assert.ErrorIs(t, err, ErrBridgeClosed)
}

func TestSimulated_LedgerTracksConfirmedState(t *testing.T) {
	config := DefaultConfig()
	config.SimulatedDelay = 0
	s := NewSimulated(config, testutil.NewTestLogger().Logger())

	empty, err := s.ReadAccount(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "0", empty.StakedAmount.String())

	s.Seed(queue.Snapshot{Address: testAccount, StakedAmount: big.NewInt(10), RewardsAccrued: big.NewInt(4)})

	_, err = s.Execute(context.Background(), testOperation("stake"))
	require.NoError(t, err)

	claim := testOperation("claim")
	claim.Kind = queue.KindClaim
	claim.Payload = queue.Payload{}
	_, err = s.Execute(context.Background(), claim)
	require.NoError(t, err)

	snap, err := s.ReadAccount(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "110", snap.StakedAmount.String())
	assert.Equal(t, "0", snap.RewardsAccrued.String())
}
