// Package api exposes a coordinator to a browser UI over HTTP: a state view,
// write endpoints that block until the receipt is observed, and a websocket
// stream of notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"votingsync/coordinator/session"
	"votingsync/coordinator/txlifecycle"
	"votingsync/election"
	"votingsync/notify"
)

const (
	routeWrites  = "writes"
	maxBodyBytes = 64 << 10
)

// Coordinator is the surface the API drives; *coordinator.Coordinator
// satisfies it.
type Coordinator interface {
	Connect(ctx context.Context) error
	Disconnect()
	Submit(ctx context.Context, op election.Operation, args txlifecycle.Args) (txlifecycle.Result, error)
	Toggle(id uint64) bool
	Selected() []uint64
	CanSelectMore() bool
	SubmitBatch(ctx context.Context) (txlifecycle.Result, error)
	LoadWinner(ctx context.Context) error
	Refresh(ctx context.Context) error
	View() session.View
	Pending() []election.PendingTransaction
	Busy() bool
	Notifications() []notify.Notification
	DismissNotification(id string)
	Subscribe(buffer int) (<-chan notify.Event, func())
}

// Options tunes the router.
type Options struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	WriteLimit     RateLimit
	Now            func() time.Time
}

type server struct {
	coord  Coordinator
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(coord Coordinator, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &server{coord: coord, logger: logger, now: now}
	metrics := newRequestMetrics(logger)
	limiter := NewRateLimiter(map[string]RateLimit{routeWrites: opts.WriteLimit}, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors(opts.AllowedOrigins))
	r.Use(metrics.middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.handler())
	r.Get("/state", s.handleState)
	r.Get("/notifications", s.handleNotifications)
	r.Delete("/notifications/{id}", s.handleDismiss)
	r.Get("/notifications/stream", s.handleStream)

	r.Group(func(wr chi.Router) {
		wr.Use(limiter.Middleware(routeWrites))
		wr.Post("/connect", s.handleConnect)
		wr.Post("/disconnect", s.handleDisconnect)
		wr.Post("/refresh", s.handleRefresh)
		wr.Post("/winner", s.handleWinner)
		wr.Post("/tx/{operation}", s.handleSubmit)
		wr.Post("/selection/{id}/toggle", s.handleToggle)
		wr.Post("/selection/submit", s.handleSubmitBatch)
	})
	return r
}

func (s *server) handleState(w http.ResponseWriter, _ *http.Request) {
	view := s.coord.View()
	writeJSON(w, http.StatusOK, newStatePayload(view, s.coord.Pending(), s.coord.Busy(), s.coord.Notifications(), s.now()))
}

func (s *server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Notifications())
}

func (s *server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.coord.DismissNotification(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Connect(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.coord.Disconnect()
	s.handleState(w, r)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Refresh(r.Context()); err != nil && errors.Is(err, election.ErrNotConnected) {
		s.writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

func (s *server) handleWinner(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.LoadWinner(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.View().Winner)
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	op, err := election.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req txRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
			return
		}
	}
	args, err := req.args()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.coord.Submit(r.Context(), op, args)
	s.writeResult(w, result, err)
}

func (s *server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "candidate id must be a positive integer")
		return
	}
	changed := s.coord.Toggle(id)
	writeJSON(w, http.StatusOK, selectionPayload{
		Changed:       changed,
		Selected:      nonNil(s.coord.Selected()),
		CanSelectMore: s.coord.CanSelectMore(),
	})
}

func (s *server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.coord.SubmitBatch(r.Context())
	s.writeResult(w, result, err)
}

func (s *server) writeResult(w http.ResponseWriter, result txlifecycle.Result, err error) {
	payload := newResultPayload(result)
	if err == nil {
		writeJSON(w, http.StatusOK, payload)
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("write failed", "operation", result.Operation.String(), "error", err)
	}
	payload.Error = err.Error()
	writeJSON(w, status, payload)
}

func (s *server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var reverted *election.WriteRevertedError
	var readErr *election.ReadFailedError
	switch {
	case errors.Is(err, election.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, election.ErrNotConnected),
		errors.Is(err, election.ErrNetworkMismatch),
		errors.Is(err, election.ErrNoAccounts),
		errors.Is(err, election.ErrWinnerUnavailable):
		return http.StatusConflict
	case errors.Is(err, election.ErrUserRejected),
		errors.Is(err, election.ErrWriteRejectedBeforeSubmit),
		errors.As(err, &reverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, election.ErrWalletUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, election.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &readErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type txRequest struct {
	CandidateID     uint64   `json:"candidate_id"`
	NewCandidateID  uint64   `json:"new_candidate_id"`
	CandidateIDs    []uint64 `json:"candidate_ids"`
	Name            string   `json:"name"`
	Names           []string `json:"names"`
	Voter           string   `json:"voter"`
	DurationSeconds uint64   `json:"duration_seconds"`
}

func (r txRequest) args() (txlifecycle.Args, error) {
	args := txlifecycle.Args{
		CandidateID:    r.CandidateID,
		NewCandidateID: r.NewCandidateID,
		CandidateIDs:   r.CandidateIDs,
		Name:           strings.TrimSpace(r.Name),
		Names:          r.Names,
		Duration:       time.Duration(r.DurationSeconds) * time.Second,
	}
	if r.Voter != "" {
		if !common.IsHexAddress(r.Voter) {
			return args, errors.New("voter must be a hex address")
		}
		args.Voter = common.HexToAddress(r.Voter)
	}
	return args, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Error: message})
}
