// Package server provides the HTTP surface: health probes and the JSON
// API the presentation layer reads KPI results from.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/opsmetric-team/opsmetric/internal/config"
	"github.com/opsmetric-team/opsmetric/internal/engine"
	"github.com/opsmetric-team/opsmetric/internal/insight"
	"github.com/opsmetric-team/opsmetric/internal/model"
	"github.com/opsmetric-team/opsmetric/internal/source"
)

// Server exposes health checks and the KPI API.
type Server struct {
	cfg       *config.ServerConfig
	engine    *engine.Engine
	src       source.Source
	metaTable string
	server    *http.Server
	mu        sync.Mutex
	started   time.Time
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Source    *SourceHealth `json:"source,omitempty"`
}

// SourceHealth represents data source connectivity status.
type SourceHealth struct {
	Connected bool   `json:"connected"`
	Latency   string `json:"latency,omitempty"`
	Error     string `json:"error,omitempty"`
}

// errorResponse is the JSON body for API failures.
type errorResponse struct {
	Error string `json:"error"`
}

// New creates a new Server. metaTable is the table queried for the
// countries and weeks selectors.
func New(cfg *config.ServerConfig, eng *engine.Engine, src source.Source, metaTable string) *Server {
	return &Server{
		cfg:       cfg,
		engine:    eng,
		src:       src,
		metaTable: metaTable,
	}
}

// handler builds the route table.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	mux.HandleFunc("GET /api/kpis", s.handleList)
	mux.HandleFunc("GET /api/kpis/{id}", s.handleCompute)
	mux.HandleFunc("GET /api/kpis/{id}/breakdown", s.handleBreakdown)
	mux.HandleFunc("GET /api/insights/{kpi}", s.handleInsights)
	mux.HandleFunc("GET /api/meta/countries", s.handleCountries)
	mux.HandleFunc("GET /api/meta/weeks", s.handleWeeks)
	return mux
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.started = time.Now()

	go func() {
		log.Printf("HTTP server listening on :%d", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

// handleList returns the catalogue's KPI identifiers and names.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Aggregation string   `json:"aggregation"`
		Dimensions  []string `json:"dimensions,omitempty"`
	}

	defs := s.engine.Catalogue().All()
	out := make([]entry, 0, len(defs))
	for _, d := range defs {
		out = append(out, entry{
			ID:          d.ID,
			Name:        d.Name,
			Aggregation: d.Aggregation,
			Dimensions:  d.Dimensions,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleCompute computes one KPI under the query's filter context.
// An undefined (NoData) result is a 200 with defined:false, never an error.
func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	fc, err := filterContextFromQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.engine.Compute(r.Context(), r.PathValue("id"), fc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleBreakdown returns a KPI's root-cause decomposition by the
// dimension query parameter.
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	dimension := r.URL.Query().Get("dimension")
	if dimension == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing dimension parameter"})
		return
	}

	fc, err := filterContextFromQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.engine.Breakdown(r.Context(), r.PathValue("id"), fc, dimension)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// insightsResponse bundles the comparison, its reading and detected
// change points for one KPI series.
type insightsResponse struct {
	Comparison   *insight.Comparison `json:"comparison"`
	Insights     insight.Insights    `json:"insights"`
	ChangePoints []time.Time         `json:"change_points,omitempty"`
}

// handleInsights compares a KPI history series between two periods
// (p1_from/p1_to vs p2_from/p2_to) and returns the diagnostic reading.
// The history table defaults to kpi_history; override with ?table=.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	w1, err := parseWindow(q.Get("p1_from"), q.Get("p1_to"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "period 1: " + err.Error()})
		return
	}
	w2, err := parseWindow(q.Get("p2_from"), q.Get("p2_to"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "period 2: " + err.Error()})
		return
	}

	table := q.Get("table")
	if table == "" {
		table = "kpi_history"
	}
	rows, err := s.src.FetchTable(r.Context(), table)
	if err != nil {
		s.writeError(w, err)
		return
	}

	frame := insight.FrameFromRows(rows, "date")
	kpi := r.PathValue("kpi")
	comparison, err := insight.ComparePeriods(frame, kpi, w1, w2)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, insightsResponse{
		Comparison:   comparison,
		Insights:     insight.Generate(comparison),
		ChangePoints: insight.ChangePoints(frame.Dates, frame.Series[kpi]),
	})
}

// parseWindow builds a TimeWindow from a from/to date pair; both are
// required.
func parseWindow(from, to string) (model.TimeWindow, error) {
	if from == "" || to == "" {
		return model.TimeWindow{}, errors.New("from and to are required")
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return model.TimeWindow{}, fmt.Errorf("invalid from date: %v", err)
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return model.TimeWindow{}, fmt.Errorf("invalid to date: %v", err)
	}
	if end.Before(start) {
		return model.TimeWindow{}, errors.New("to must not precede from")
	}
	return model.TimeWindow{Start: start, End: end}, nil
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	values, err := s.engine.Countries(r.Context(), s.metaTable)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleWeeks(w http.ResponseWriter, r *http.Request) {
	values, err := s.engine.Weeks(r.Context(), s.metaTable)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, values)
}

// filterContextFromQuery builds a FilterContext from query parameters:
// country, week, client, and an optional from/to date pair.
func filterContextFromQuery(r *http.Request) (model.FilterContext, error) {
	q := r.URL.Query()
	fc := model.FilterContext{
		Country: q.Get("country"),
		Week:    q.Get("week"),
		Client:  q.Get("client"),
	}

	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		return fc, nil
	}
	window, err := parseWindow(from, to)
	if err != nil {
		return fc, err
	}
	fc.Window = &window
	return fc, nil
}

// writeError maps the engine and source error taxonomy onto HTTP status
// codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownKPI), errors.Is(err, source.ErrTableNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidDimension):
		status = http.StatusBadRequest
	case errors.Is(err, source.ErrSourceUnavailable):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleHealth handles /healthz endpoint (combined check).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}

	// Perform deep check if enabled
	if s.cfg.DeepCheck {
		srcHealth := s.checkSource(r.Context())
		response.Source = srcHealth
		if srcHealth != nil && !srcHealth.Connected {
			response.Status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if response.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, response)
}

// handleReady handles /readyz endpoint (readiness probe).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	srcHealth := s.checkSource(r.Context())
	if srcHealth != nil && !srcHealth.Connected {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "not ready",
			Timestamp: time.Now(),
			Source:    srcHealth,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
	})
}

// handleLive handles /livez endpoint (liveness probe).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

// checkSource tests backend connectivity for backends that support it.
func (s *Server) checkSource(ctx context.Context) *SourceHealth {
	pinger, ok := s.src.(source.Pinger)
	if !ok {
		return nil
	}

	health := &SourceHealth{}
	start := time.Now()
	err := pinger.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		health.Connected = false
		health.Error = err.Error()
	} else {
		health.Connected = true
		health.Latency = latency.String()
	}
	return health
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
