package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// Message types exchanged with the wallet client
const (
	MessageExecute       = "execute-transaction"
	MessageResult        = "transaction-result"
	MessageReadAccount   = "read-account"
	MessageAccountState  = "account-state"
	MessageNotification  = "notification"
	MessageHello         = "hello"
	maxClientMessageSize = 1 << 16
)

var (
	// ErrNoSigner is returned when no wallet client is connected
	ErrNoSigner = errors.New("no signer connected")

	// ErrSignerDisconnected is returned when the signer leaves before answering
	ErrSignerDisconnected = errors.New("signer disconnected before responding")

	// ErrBridgeClosed is returned after Close
	ErrBridgeClosed = errors.New("bridge closed")
)

// Envelope wraps every websocket message. Requests and their responses share a MessageID.
type Envelope struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// OperationMessage is the operation as sent to the signer
type OperationMessage struct {
	ID         string        `json:"id"`
	Account    string        `json:"account"`
	Kind       queue.Kind    `json:"kind"`
	Payload    queue.Payload `json:"payload"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	RetryCount int           `json:"retryCount"`
}

// TransactionResult is the signer's answer to an execute-transaction request
type TransactionResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// AccountRequest asks the signer for the confirmed state of an account
type AccountRequest struct {
	Account string `json:"account"`
}

// AccountState is the signer's answer to a read-account request
type AccountState struct {
	StakedAmount   string `json:"stakedAmount"`
	RewardsAccrued string `json:"rewardsAccrued"`
	Error          string `json:"error,omitempty"`
}

type signerClient struct {
	id          string
	conn        *websocket.Conn
	send        chan Envelope
	done        chan struct{}
	once        sync.Once
	connectedAt time.Time
}

func (c *signerClient) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Bridge is a websocket hub for wallet clients. Operations are executed by
// the most recently connected client, which signs and submits them and
// answers with a transaction-result carrying the request's message id.
type Bridge struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*signerClient
	pending map[string]chan Envelope
	closed  bool

	wg sync.WaitGroup
}

var _ syncer.Executor = (*Bridge)(nil)

// NewBridge creates a bridge with no connected clients
func NewBridge(config Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*signerClient),
		pending: make(map[string]chan Envelope),
	}
}

// ServeHTTP upgrades the request and registers the connection as a signer
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &signerClient{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan Envelope, b.config.SendBuffer),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[client.id] = client
	count := len(b.clients)
	b.wg.Add(2)
	b.mu.Unlock()

	b.logger.Info("signer connected", "client_id", client.id, "remote", r.RemoteAddr, "clients", count)

	go b.writePump(client)
	go b.readPump(client)

	hello, _ := json.Marshal(map[string]string{"clientId": client.id})
	b.enqueue(client, Envelope{Type: MessageHello, Data: hello, Timestamp: time.Now().Unix()})
}

func (b *Bridge) unregister(client *signerClient) {
	b.mu.Lock()
	_, ok := b.clients[client.id]
	delete(b.clients, client.id)
	count := len(b.clients)
	b.mu.Unlock()

	client.shutdown()

	if ok {
		b.logger.Info("signer disconnected", "client_id", client.id, "clients", count)
	}
}

func (b *Bridge) readPump(client *signerClient) {
	defer b.wg.Done()
	defer b.unregister(client)

	client.conn.SetReadLimit(maxClientMessageSize)
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(2 * b.config.PingInterval))
	})
	client.conn.SetReadDeadline(time.Now().Add(2 * b.config.PingInterval))

	for {
		var env Envelope
		if err := client.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("signer read failed", "client_id", client.id, "error", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(2 * b.config.PingInterval))

		switch env.Type {
		case MessageResult, MessageAccountState:
			b.deliver(env)
		default:
			b.logger.Debug("ignoring signer message", "client_id", client.id, "type", env.Type)
		}
	}
}

func (b *Bridge) writePump(client *signerClient) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return

		case env := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if err := client.conn.WriteJSON(env); err != nil {
				b.logger.Warn("signer write failed", "client_id", client.id, "type", env.Type, "error", err)
				client.shutdown()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.shutdown()
				return
			}
		}
	}
}

func (b *Bridge) deliver(env Envelope) {
	b.mu.Lock()
	ch, ok := b.pending[env.MessageID]
	b.mu.Unlock()

	if !ok {
		b.logger.Warn("response for unknown request", "message_id", env.MessageID, "type", env.Type)
		return
	}

	select {
	case ch <- env:
	default:
		// duplicate answer, first one wins
	}
}

func (b *Bridge) enqueue(client *signerClient, env Envelope) bool {
	select {
	case client.send <- env:
		return true
	case <-client.done:
		return false
	default:
		b.logger.Warn("signer send buffer full, dropping message", "client_id", client.id, "type", env.Type)
		return false
	}
}

// newest returns the most recently connected client
func (b *Bridge) newest() *signerClient {
	var latest *signerClient
	for _, c := range b.clients {
		if latest == nil || c.connectedAt.After(latest.connectedAt) {
			latest = c
		}
	}
	return latest
}

// request sends a message to the signer and waits for the matching response
func (b *Bridge) request(ctx context.Context, msgType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", msgType, err)
	}

	env := Envelope{
		Type:      msgType,
		MessageID: "tx_" + uuid.New().String(),
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	replies := make(chan Envelope, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Envelope{}, ErrBridgeClosed
	}
	client := b.newest()
	if client == nil {
		b.mu.Unlock()
		return Envelope{}, ErrNoSigner
	}
	b.pending[env.MessageID] = replies
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, env.MessageID)
		b.mu.Unlock()
	}()

	select {
	case client.send <- env:
	case <-client.done:
		return Envelope{}, ErrSignerDisconnected
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-client.done:
		return Envelope{}, ErrSignerDisconnected
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Execute asks the signer to sign and submit op
func (b *Bridge) Execute(ctx context.Context, op queue.Operation) (syncer.ExecutionResult, error) {
	reply, err := b.request(ctx, MessageExecute, OperationMessage{
		ID:         op.ID,
		Account:    op.Account,
		Kind:       op.Kind,
		Payload:    op.Payload,
		EnqueuedAt: op.EnqueuedAt,
		RetryCount: op.RetryCount,
	})
	if err != nil {
		return syncer.ExecutionResult{}, err
	}

	var result TransactionResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		return syncer.ExecutionResult{}, fmt.Errorf("invalid transaction result: %w", err)
	}

	return syncer.ExecutionResult{
		Success:       result.Success,
		TransactionID: result.TransactionID,
		Error:         result.Error,
	}, nil
}

// ReadAccount asks the signer for the confirmed on-chain state of account
func (b *Bridge) ReadAccount(ctx context.Context, account string) (queue.Snapshot, error) {
	reply, err := b.request(ctx, MessageReadAccount, AccountRequest{Account: account})
	if err != nil {
		return queue.Snapshot{}, err
	}

	var state AccountState
	if err := json.Unmarshal(reply.Data, &state); err != nil {
		return queue.Snapshot{}, fmt.Errorf("invalid account state: %w", err)
	}
	if state.Error != "" {
		return queue.Snapshot{}, fmt.Errorf("signer could not read account: %s", state.Error)
	}

	staked, err := queue.ParseAmount(state.StakedAmount)
	if err != nil {
		return queue.Snapshot{}, fmt.Errorf("staked amount: %w", err)
	}
	rewards, err := queue.ParseAmount(state.RewardsAccrued)
	if err != nil {
		return queue.Snapshot{}, fmt.Errorf("rewards accrued: %w", err)
	}

	return queue.Snapshot{
		Address:        account,
		StakedAmount:   staked,
		RewardsAccrued: rewards,
		LastUpdated:    time.Now().UTC(),
	}, nil
}

// Broadcast pushes a one-way message to every connected client
func (b *Bridge) Broadcast(msgType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msgType, err)
	}
	env := Envelope{Type: msgType, Data: data, Timestamp: time.Now().Unix()}

	b.mu.Lock()
	clients := make([]*signerClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		b.enqueue(c, env)
	}
	return nil
}

// Connected returns the number of connected clients
func (b *Bridge) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client and fails pending requests
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	clients := make([]*signerClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	b.wg.Wait()

	b.logger.Info("bridge closed")
	return nil
}
