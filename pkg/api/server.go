// pkg/api/server.go

// Package api is the HTTP surface of delphi-sync: manual sync and link
// triggers, ticket creation, finding lookup, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/linker"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/ticketing"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Syncer runs passes on demand.
type Syncer interface {
	RunConnection(ctx context.Context, id uint) (scheduler.Report, error)
	LinkAgents(ctx context.Context, entity uint) (linker.Report, error)
}

// Ticketer creates tickets for findings.
type Ticketer interface {
	CreateTicket(ctx context.Context, req ticketing.Request) (uint, error)
}

// Server routes API requests.
type Server struct {
	router  *mux.Router
	tables  *store.Tables
	syncer  Syncer
	tickets Ticketer
	metrics http.Handler
}

type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func NewServer(tables *store.Tables, syncer Syncer, tickets Ticketer, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		tables:  tables,
		syncer:  syncer,
		tickets: tickets,
	}
	for _, o := range opts {
		o(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestLogger)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/connections", s.handleListConnections).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id:[0-9]+}/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/agents/link", s.handleLink).Methods(http.MethodPost)
	api.HandleFunc("/tickets", s.handleCreateTicket).Methods(http.MethodPost)
	api.HandleFunc("/findings/{table}/{id:[0-9]+}", s.handleGetFinding).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains for up
// to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// A manual sync can take minutes.
		WriteTimeout: 15 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	otelzap.Ctx(ctx).Info("API listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return cerr.Wrapf(err, "serve %s", addr)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return cerr.Wrap(err, "shutdown api")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if _, err := s.tables.Connections.Find(r.Context(), store.Filter{"is_deleted": false}); err != nil {
		otelzap.Ctx(r.Context()).Warn("Health check failed", zap.Error(err))
		status, code = "store unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"service":   "delphi-sync",
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.tables.Connections.Find(r.Context(), store.Filter{"is_deleted": false})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns, "total": len(conns)})
}

// SyncResponse is the wire form of a scheduler.Report, shared with the CLI.
type SyncResponse struct {
	RunID            string    `json:"run_id" yaml:"run_id"`
	ConnectionID     uint      `json:"connection_id" yaml:"connection_id"`
	Connection       string    `json:"connection,omitempty" yaml:"connection,omitempty"`
	Started          time.Time `json:"started" yaml:"started"`
	DurationMS       int64     `json:"duration_ms" yaml:"duration_ms"`
	State            string    `json:"state" yaml:"state"`
	Agents           Counts    `json:"agents" yaml:"agents"`
	Linked           int       `json:"linked" yaml:"linked"`
	Vulnerabilities  Counts    `json:"vulnerabilities" yaml:"vulnerabilities"`
	Alerts           Counts    `json:"alerts" yaml:"alerts"`
	AdvancedLastSync bool      `json:"advanced_last_sync" yaml:"advanced_last_sync"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
}

type Counts struct {
	Created      int `json:"created" yaml:"created"`
	Updated      int `json:"updated" yaml:"updated"`
	Unchanged    int `json:"unchanged" yaml:"unchanged"`
	Failed       int `json:"failed" yaml:"failed"`
	Discontinued int `json:"discontinued,omitempty" yaml:"discontinued,omitempty"`
}

func NewSyncResponse(rep scheduler.Report) SyncResponse {
	out := SyncResponse{
		RunID:            rep.RunID,
		ConnectionID:     rep.ConnectionID,
		Connection:       rep.ConnectionName,
		Started:          rep.Started,
		DurationMS:       rep.Duration.Milliseconds(),
		State:            rep.Final.String(),
		Agents:           Counts{rep.Agents.Created, rep.Agents.Updated, rep.Agents.Unchanged, rep.Agents.Failed, 0},
		Linked:           rep.Linked.Linked,
		Vulnerabilities:  Counts{rep.Vulnerabilities.Created, rep.Vulnerabilities.Updated, rep.Vulnerabilities.Unchanged, rep.Vulnerabilities.Failed, rep.Vulnerabilities.Discontinued},
		Alerts:           Counts{rep.Alerts.Created, rep.Alerts.Updated, rep.Alerts.Unchanged, rep.Alerts.Failed, 0},
		AdvancedLastSync: rep.AdvancedLastSync,
	}
	if rep.Err != nil {
		out.Error = rep.Err.Error()
	}
	return out
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 0)
	rep, err := s.syncer.RunConnection(r.Context(), uint(id))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, NewSyncResponse(rep))
	case rep.RunID == "", errors.Is(err, scheduler.ErrBusy):
		// Rejected before a pass started.
		writeError(w, r, err)
	default:
		writeJSON(w, http.StatusBadGateway, NewSyncResponse(rep))
	}
}

type linkRequest struct {
	EntityID uint `json:"entity_id"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid JSON request body")
			return
		}
	}
	rep, err := s.syncer.LinkAgents(r.Context(), req.EntityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ambiguous := make([]string, 0, len(rep.Ambiguous))
	for _, a := range rep.Ambiguous {
		ambiguous = append(ambiguous, a.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"linked":    rep.Linked,
		"unmatched": rep.Unmatched,
		"ambiguous": ambiguous,
	})
}

type ticketRequest struct {
	Table string `json:"table"`
	ticketing.Request
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	p, ok := inventory.ProfileForTable(req.Table)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "unknown finding table "+strconv.Quote(req.Table))
		return
	}
	req.Profile = p

	id, err := s.tickets.CreateTicket(r.Context(), req.Request)
	var be *ticketing.BacklinkError
	switch {
	case errors.As(err, &be):
		writeJSON(w, http.StatusCreated, map[string]any{
			"ticket_id":       id,
			"backlink_failed": be.Failed,
			"error":           be.Error(),
		})
	case err != nil:
		writeError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"ticket_id": id})
	}
}

func (s *Server) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, ok := inventory.ProfileForTable(vars["table"])
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown finding table")
		return
	}
	id, _ := strconv.ParseUint(vars["id"], 10, 0)
	f, err := s.tables.Findings(p).Get(r.Context(), uint(id))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, ticketing.ErrNoDevice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrBusy), errors.Is(err, scheduler.ErrInactive):
		return http.StatusConflict
	case errors.As(err, &verr), errors.Is(err, ticketing.ErrEntityMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ticketing.ErrHost), wazuh.IsAuthError(err), wazuh.IsAPIError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		otelzap.Ctx(r.Context()).Error("API request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	body := map[string]any{"error": err.Error()}
	if hints := cerr.GetAllHints(err); len(hints) > 0 {
		body["hints"] = hints
	}
	writeJSON(w, code, body)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		otelzap.Ctx(r.Context()).Debug("API request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
