package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crucible/internal/api"
	"crucible/internal/config"
	"crucible/internal/errs"
	"crucible/internal/logging"
	"crucible/internal/record"
	"crucible/internal/storage"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	records  *api.RecordService
	managers *api.ManagerService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.API.Bind),
		logger:   d.logger.With(logging.String(logging.FieldComponent, "api")),
		daemon:   d,
		records:  api.NewRecordService(d.store, d.registry),
		managers: api.NewManagerService(d.store, d.collector),
	}

	token := cfg.API.Token
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/records", authMiddleware(token, srv.handleRecords))
	mux.HandleFunc("/api/records/", authMiddleware(token, srv.handleRecordPath))
	mux.HandleFunc("/api/managers", authMiddleware(token, srv.handleManagers))
	mux.HandleFunc("/api/managers/activate", authMiddleware(token, srv.handleActivate))
	mux.HandleFunc("/api/managers/heartbeat", authMiddleware(token, srv.handleHeartbeat))
	mux.HandleFunc("/api/managers/deactivate", authMiddleware(token, srv.handleDeactivate))
	mux.HandleFunc("/api/tasks/claim", authMiddleware(token, srv.handleClaim))
	mux.HandleFunc("/api/tasks/return", authMiddleware(token, srv.handleReturn))
	mux.HandleFunc("/healthz", srv.handleHealth)
	if d.collector != nil {
		mux.Handle("/metrics", d.collector.Handler())
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, empty before start.
func (s *apiServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts, err := s.daemon.store.StatusCounts(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	waiting, claimed, err := s.daemon.store.QueueDepth(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	active, err := s.daemon.store.CountActiveManagers(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	byStatus := make(map[string]int64, len(counts))
	for status, count := range counts {
		byStatus[string(status)] = count
	}
	s.writeJSON(w, http.StatusOK, api.ServerStatus{
		RecordCounts:   byStatus,
		TasksWaiting:   waiting,
		TasksClaimed:   claimed,
		ActiveManagers: active,
		RecordTypes:    s.daemon.registry.Types(),
	})
}

func (s *apiServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRecords(w, r)
	case http.MethodPost:
		var req api.SubmitRequest
		if !s.decode(w, r, &req) {
			return
		}
		resp, err := s.records.Submit(r.Context(), req)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.RecordFilter{
		RecordTypes: splitParam(query["record_type"]),
		OwnerUser:   strings.TrimSpace(query.Get("owner_user")),
	}
	for _, value := range splitParam(query["status"]) {
		status, ok := record.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("cursor"); raw != "" {
		cursor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		filter.Cursor = cursor
	}

	resp, err := s.records.List(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRecordPath routes /api/records/{id}, /api/records/{id}/history, and
// the bulk transition operations /api/records/{op}.
func (s *apiServer) handleRecordPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/records/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	head, tail, _ := strings.Cut(rest, "/")
	if id, err := strconv.ParseInt(head, 10, 64); err == nil {
		switch {
		case tail == "" && r.Method == http.MethodGet:
			view, err := s.records.Get(r.Context(), id)
			if err != nil {
				s.writeFailure(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, view)
		case tail == "history" && r.Method == http.MethodGet:
			history, err := s.records.History(r.Context(), id)
			if err != nil {
				s.writeFailure(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, history)
		default:
			s.writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	if tail != "" || r.Method != http.MethodPost {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	var req api.TransitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.records.Transition(r.Context(), head, req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleManagers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	views, err := s.managers.List(r.Context(), activeOnly)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var reg storage.ManagerRegistration
	if !s.decode(w, r, &reg) {
		return
	}
	resp, err := s.managers.Activate(r.Context(), reg)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.logger.Info("manager activated", logging.String(logging.FieldManager, resp.Name))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.HeartbeatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.managers.Heartbeat(r.Context(), req); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *apiServer) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.DeactivateRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.managers.Deactivate(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.logger.Info("manager deactivated",
		logging.String(logging.FieldManager, req.Manager),
		logging.Int(logging.FieldCount, resp.Requeued))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ClaimRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.managers.Claim(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ReturnRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.managers.Return(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(into); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", logging.Error(err))
	}
}

func splitParam(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
