package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/exchange"
	"github.com/rmskTV/advPlanner-sub000/internal/middleware"
	"github.com/rmskTV/advPlanner-sub000/internal/report"
)

// Runner runs exchange cycles on demand.
type Runner interface {
	Targets() []exchange.Target
	Target(id uuid.UUID) (exchange.Target, bool)
	Trigger(ctx context.Context, connectorID uuid.UUID, direction exchange.RunDirection) ([]exchange.CycleReport, error)
}

// Store is the read side of the exchange store the API exposes.
type Store interface {
	report.Source
}

// Server is the admin API: connectors, logs, unmapped types, reports and
// manual runs.
type Server struct {
	runner         Runner
	store          Store
	reports        *report.Writer
	allowedOrigins []string
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the API over runner and store.
func NewServer(runner Runner, store Store, opts ...Option) *Server {
	s := &Server{
		runner:         runner,
		store:          store,
		allowedOrigins: []string{"http://localhost:3000"},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reports = report.NewWriter(store)
	return s
}

// Handler returns the routed handler wrapped in recovery, request logging and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /connectors", s.handleListConnectors)
	mux.HandleFunc("GET /connectors/{id}/logs", s.handleListLogs)
	mux.HandleFunc("GET /connectors/{id}/unmapped", s.handleListUnmapped)
	mux.HandleFunc("GET /connectors/{id}/report.xlsx", s.handleReport)
	mux.HandleFunc("POST /connectors/{id}/run", s.handleRun)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})
	var handler http.Handler = mux
	handler = middleware.Recover(s.logger)(handler)
	handler = middleware.Logging(s.logger)(handler)
	return corsHandler.Handler(handler)
}

type connectorView struct {
	domain.Connector
	OutgoingFile string `json:"outgoing_file,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, _ *http.Request) {
	targets := s.runner.Targets()
	views := make([]connectorView, 0, len(targets))
	for _, target := range targets {
		view := connectorView{Connector: target.Connector}
		if target.Files != nil {
			view.OutgoingFile = target.Files.Naming().Outgoing(1)
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := 200
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	logs, err := s.store.ListExchangeLogs(r.Context(), target.Connector.ID, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list logs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleListUnmapped(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	unmapped, err := s.store.ListUnmapped(r.Context(), target.Connector.ID)
	if err != nil {
		http.Error(w, fmt.Sprintf("list unmapped types: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, unmapped)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	f, err := s.reports.Build(r.Context(), target.Connector)
	if err != nil {
		http.Error(w, fmt.Sprintf("build report: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", target.Connector.Name+"-exchange.xlsx"))
	w.WriteHeader(http.StatusOK)
	if _, err := f.WriteTo(w); err != nil {
		s.logger.Error("failed to stream report", "connector", target.Connector.Name, "error", err)
	}
}

type runResponse struct {
	Reports []exchange.CycleReport `json:"reports"`
	Error   string                 `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	direction, err := exchange.ParseRunDirection(r.URL.Query().Get("direction"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reports, err := s.runner.Trigger(r.Context(), target.Connector.ID, direction)
	if err != nil {
		if errors.Is(err, exchange.ErrUnknownConnector) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusInternalServerError, runResponse{Reports: reports, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Reports: reports})
}

func (s *Server) target(w http.ResponseWriter, r *http.Request) (exchange.Target, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid connector id: %v", err), http.StatusBadRequest)
		return exchange.Target{}, false
	}
	target, ok := s.runner.Target(id)
	if !ok {
		http.Error(w, "connector not found", http.StatusNotFound)
		return exchange.Target{}, false
	}
	return target, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
