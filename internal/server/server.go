// Package server exposes the engine over a JSON HTTP API.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/watchdog/internal/connector"
	_ "github.com/crimson-sun/watchdog/internal/connector/file"
	"github.com/crimson-sun/watchdog/internal/engine/playbook"
	"github.com/crimson-sun/watchdog/internal/engine/store"
	"github.com/crimson-sun/watchdog/internal/engine/synth"
	"github.com/crimson-sun/watchdog/internal/metrics"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
	"github.com/crimson-sun/watchdog/internal/telemetry"
)

// Version is reported by /api/health.
const Version = "1.0.0"

const (
	defaultSearchLimit  = 10
	defaultQueryContext = "User query"
	maxBodyBytes        = 32 << 20
)

// Engine is the part of *engine.Engine the API serves.
type Engine interface {
	IngestText(ctx context.Context, data, source string) (int, error)
	Search(ctx context.Context, query string, k int) ([]model.RetrievalHit, error)
	AnalyzeQuery(ctx context.Context, query, analysisContext string, k int) (synth.Result, error)
	Stats(ctx context.Context) (store.Stats, error)
	Clear(ctx context.Context) error
}

// Analyzer is the part of *pipeline.Pipeline the API serves.
type Analyzer interface {
	Ingest(ctx context.Context, conn connector.Connector, cfg connector.ConnectorConfig, params connector.QueryParams) (int, error)
	Analyze(ctx context.Context, source string, totalLogs int, reqs []model.AnalysisRequest) (output.Summary, error)
}

// Info describes the running configuration for /api/status.
type Info struct {
	LLMProvider string
	LLMModel    string
	VectorDB    string
}

// Option configures a Server.
type Option func(*Server)

// WithStream mounts h on /api/stream, typically a *websocket.Hub.
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithInfo sets what /api/status reports about the configuration.
func WithInfo(info Info) Option {
	return func(s *Server) { s.info = info }
}

// Server routes API requests to the engine and pipeline.
type Server struct {
	engine   Engine
	analyzer Analyzer
	stream   http.Handler
	info     Info
	handler  http.Handler
	now      func() time.Time
}

// New creates a Server and registers its routes.
func New(eng Engine, an Analyzer, opts ...Option) *Server {
	s := &Server{engine: eng, analyzer: an, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.instrument)
	r.HandleFunc("/api/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ingest", s.ingestHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/search", s.searchHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/analyze-query", s.analyzeQueryHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/analyze", s.analyzeHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/logs", s.clearHandler).Methods(http.MethodDelete)
	if s.stream != nil {
		r.Handle("/api/stream", s.stream).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found", nil)
	})
	s.handler = telemetry.WrapHandler("watchdog-api", r)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes through for the websocket upgrade on /api/stream.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("server: response writer cannot hijack")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		slog.Debug("api request", "method", r.Method, "route", route, "status", rec.code, "duration", time.Since(start))
	})
}

type healthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	WatchdogAvailable bool      `json:"watchdog_available"`
	Version           string    `json:"version"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		Timestamp:         s.now(),
		WatchdogAvailable: s.engine != nil,
		Version:           Version,
	})
}

type statusResponse struct {
	LLMProvider    string `json:"llm_provider"`
	LLMModel       string `json:"llm_model"`
	VectorDB       string `json:"vector_db"`
	TotalLogs      int    `json:"total_logs"`
	CollectionName string `json:"collection_name"`
	Location       string `json:"location"`
	Status         string `json:"status"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		LLMProvider:    s.info.LLMProvider,
		LLMModel:       s.info.LLMModel,
		VectorDB:       s.info.VectorDB,
		TotalLogs:      stats.Count,
		CollectionName: stats.Name,
		Location:       stats.Location,
		Status:         "ready",
	})
}

type ingestRequest struct {
	Source  string   `json:"source"`
	Logs    []string `json:"logs"`
	Content string   `json:"content"`
}

type ingestResponse struct {
	Source string `json:"source"`
	Stored int    `json:"stored"`
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	data := req.Content
	if len(req.Logs) > 0 {
		data = strings.Join(req.Logs, "\n")
	}
	if strings.TrimSpace(data) == "" {
		writeError(w, http.StatusBadRequest, "logs or content is required", nil)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	n, err := s.engine.IngestText(r.Context(), data, req.Source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Source: req.Source, Stored: n})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResult struct {
	Document   string         `json:"document"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
	Timestamp  any            `json:"timestamp"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
	Total   int            `json:"total"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required", nil)
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	hits, err := s.engine.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed", err)
		return
	}
	results := make([]searchResult, len(hits))
	for i, h := range hits {
		results[i] = searchResult{
			Document:   h.Document,
			Similarity: h.Similarity,
			Metadata:   h.Metadata,
			Timestamp:  h.Metadata["timestamp"],
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: results, Total: len(results)})
}

type analyzeQueryRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
	Limit   int    `json:"limit"`
}

type analyzeQueryResponse struct {
	model.Recommendation
	Query    string `json:"query"`
	Status   string `json:"status"`
	Degraded bool   `json:"degraded,omitempty"`
}

// noFindings is returned when nothing stored matches the query.
func noFindings() model.Recommendation {
	return model.Recommendation{
		Issue:           "No significant findings",
		Recommendation:  "No specific recommendations based on current query.",
		Severity:        model.SeverityLow,
		Confidence:      0.1,
		Category:        model.CategoryUnknown,
		AffectedSystems: []string{},
		Timeline:        model.TimelineLongTerm,
		LogEvidence:     []string{},
	}
}

func (s *Server) analyzeQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeQueryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required", nil)
		return
	}
	if req.Context == "" {
		req.Context = defaultQueryContext
	}

	res, err := s.engine.AnalyzeQuery(r.Context(), req.Query, req.Context, req.Limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "analysis failed", err)
		return
	}
	rec := res.Recommendation
	if res.Status == synth.StatusNoMatches {
		rec = noFindings()
	}
	writeJSON(w, http.StatusOK, analyzeQueryResponse{
		Recommendation: rec,
		Query:          req.Query,
		Status:         res.Status.String(),
		Degraded:       res.Degraded,
	})
}

type analyzeRequest struct {
	Filepath string `json:"filepath"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Playbook string `json:"playbook"`
}

type analyzeResponse struct {
	Filename   string          `json:"filename"`
	TotalLogs  int             `json:"total_logs"`
	Analyses   []model.Finding `json:"analyses"`
	AlertsSent int             `json:"alerts_sent"`
	Timestamp  time.Time       `json:"timestamp"`
}

// analyzeHandler ingests a server-side file (filepath) or uploaded content
// and runs the matching playbook over it.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	name := req.Filename
	var total int
	switch {
	case req.Filepath != "":
		if name == "" {
			name = filepath.Base(req.Filepath)
		}
		ctor, err := connector.Get("file")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "file connector unavailable", err)
			return
		}
		cfg := connector.ConnectorConfig{Provider: "file", Endpoint: req.Filepath}
		total, err = s.analyzer.Ingest(ctx, ctor(), cfg, connector.QueryParams{})
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read log file", err)
			return
		}
	case strings.TrimSpace(req.Content) != "":
		if name == "" {
			name = "upload"
		}
		var err error
		total, err = s.engine.IngestText(ctx, req.Content, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ingest failed", err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "filepath or content is required", nil)
		return
	}

	pb := playbook.ForFile(name)
	if req.Playbook != "" {
		var err error
		if pb, err = playbook.Get(req.Playbook); err != nil {
			writeError(w, http.StatusBadRequest, "unknown playbook", err)
			return
		}
	}

	summary, err := s.analyzer.Analyze(ctx, name, total, pb.Requests())
	if err != nil {
		// Output failures still leave a complete summary.
		slog.Warn("analysis output incomplete", "source", name, "error", err)
	}
	findings := summary.Findings
	if findings == nil {
		findings = []model.Finding{}
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Filename:   name,
		TotalLogs:  total,
		Analyses:   findings,
		AlertsSent: summary.Alerts,
		Timestamp:  s.now(),
	})
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["detail"] = err.Error()
		slog.Warn("api error", "status", code, "error", err)
	}
	writeJSON(w, code, body)
}
