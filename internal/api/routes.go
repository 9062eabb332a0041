package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/livinlefevreloca/stakequeue/internal/app"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/snapshot"
)

const (
	maxBodySize          = 1 << 16
	defaultNotifications = 20
)

type route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{Name: "EnqueueOperation", Method: http.MethodPost, Pattern: "/operations", HandlerFunc: s.enqueueOperation},
		{Name: "ListOperations", Method: http.MethodGet, Pattern: "/operations", HandlerFunc: s.listOperations},
		{Name: "GetOperation", Method: http.MethodGet, Pattern: "/operations/{id}", HandlerFunc: s.getOperation},
		{Name: "CancelOperation", Method: http.MethodDelete, Pattern: "/operations/{id}", HandlerFunc: s.cancelOperation},
		{Name: "GetSnapshot", Method: http.MethodGet, Pattern: "/snapshot", HandlerFunc: s.getSnapshot},
		{Name: "RefreshSnapshot", Method: http.MethodPost, Pattern: "/snapshot/refresh", HandlerFunc: s.refreshSnapshot},
		{Name: "GetProjection", Method: http.MethodGet, Pattern: "/projection", HandlerFunc: s.getProjection},
		{Name: "RequestSync", Method: http.MethodPost, Pattern: "/sync", HandlerFunc: s.requestSync},
		{Name: "SetConnectivity", Method: http.MethodPut, Pattern: "/connectivity", HandlerFunc: s.setConnectivity},
		{Name: "SetActiveAccount", Method: http.MethodPut, Pattern: "/account", HandlerFunc: s.setActiveAccount},
		{Name: "GetStatus", Method: http.MethodGet, Pattern: "/status", HandlerFunc: s.getStatus},
		{Name: "ListNotifications", Method: http.MethodGet, Pattern: "/notifications", HandlerFunc: s.listNotifications},
	}
}

// OperationView is an operation plus how long it has been waiting
type OperationView struct {
	queue.Operation
	AgeSeconds int64 `json:"age_seconds"`
}

// SnapshotView renders amounts as decimal strings
type SnapshotView struct {
	Address        string    `json:"address"`
	StakedAmount   string    `json:"staked_amount"`
	RewardsAccrued string    `json:"rewards_accrued"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newOperationView(op queue.Operation, now time.Time) OperationView {
	return OperationView{Operation: op, AgeSeconds: int64(op.Age(now).Seconds())}
}

func newSnapshotView(snap *queue.Snapshot) SnapshotView {
	return SnapshotView{
		Address:        snap.Address,
		StakedAmount:   snap.StakedAmount.String(),
		RewardsAccrued: snap.RewardsAccrued.String(),
		LastUpdated:    snap.LastUpdated,
	}
}

func (s *Server) enqueueOperation(w http.ResponseWriter, r *http.Request) {
	var input queue.Input
	if err := decodeBody(w, r, &input); err != nil {
		s.writeError(w, err)
		return
	}

	op, err := s.backend.Enqueue(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/operations/"+op.ID)
	s.writeJSON(w, http.StatusCreated, newOperationView(op, time.Now()))
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.backend.List(r.URL.Query().Get("account"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	now := time.Now()
	views := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, newOperationView(op, now))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"operations": views})
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.backend.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newOperationView(op, time.Now()))
}

func (s *Server) cancelOperation(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Cancel(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	account, err := s.account(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.backend.Snapshot(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snap == nil {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{
			Code:    http.StatusNotFound,
			Message: "no snapshot for " + account,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, newSnapshotView(snap))
}

func (s *Server) refreshSnapshot(w http.ResponseWriter, r *http.Request) {
	account, err := s.account(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.backend.RefreshSnapshot(r.Context(), account); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.backend.Snapshot(account)
	if err != nil || snap == nil {
		s.writeError(w, fmt.Errorf("read refreshed snapshot: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, newSnapshotView(snap))
}

func (s *Server) getProjection(w http.ResponseWriter, r *http.Request) {
	account, err := s.account(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.backend.Projection(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) requestSync(w http.ResponseWriter, r *http.Request) {
	s.backend.RequestSync()

	status, err := s.backend.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"requested": true,
		"online":    status.Online,
	})
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var body connectivityRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Online == nil {
		s.writeError(w, fmt.Errorf("%w: online is required", queue.ErrInvalidInput))
		return
	}

	s.backend.SetOnline(*body.Online)
	s.getStatus(w, r)
}

type accountRequest struct {
	Account string `json:"account"`
}

func (s *Server) setActiveAccount(w http.ResponseWriter, r *http.Request) {
	var body accountRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.backend.SetActiveAccount(body.Account); err != nil {
		s.writeError(w, err)
		return
	}
	s.getStatus(w, r)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.backend.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotifications
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a positive integer", queue.ErrInvalidInput))
			return
		}
		limit = n
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"notifications": s.backend.Notifications(limit)})
}

// account returns the account query parameter, defaulting to the active account
func (s *Server) account(r *http.Request) (string, error) {
	if account := r.URL.Query().Get("account"); account != "" {
		return account, nil
	}
	status, err := s.backend.Status()
	if err != nil {
		return "", err
	}
	if status.ActiveAccount == "" {
		return "", fmt.Errorf("%w: account is required when no account is active", queue.ErrInvalidInput)
	}
	return status.ActiveAccount, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", queue.ErrInvalidInput, err)
	}
	return nil
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, queue.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, snapshot.ErrInactiveAccount):
		return http.StatusConflict
	case errors.Is(err, snapshot.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, app.ErrRefreshUnavailable):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	s.writeJSON(w, code, ErrorResponse{Code: code, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
