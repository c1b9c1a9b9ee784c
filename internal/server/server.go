package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zgpcy/aws-cost-exporter/internal/collector"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/logger"
)

//go:embed templates/index.html
var indexTemplate string

var indexTmpl = template.Must(template.New("index").Parse(indexTemplate))

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 15 * time.Second // Maximum duration before timing out writes of the response
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
)

const timeFormat = "2006-01-02 15:04:05 MST"

// StatusSource is the read side of the collector the server reports on
type StatusSource interface {
	IsReady() bool
	LastError() error
	LastScrapeTime() time.Time
	SampleCount() int
	AccountStatuses() []collector.AccountStatus
}

// indexPageData holds template data for the index page
type indexPageData struct {
	StatusClass     string
	StatusText      string
	LastScrape      string
	SampleCount     int
	PollingInterval int
	AccountCount    int
	MetricName      string
	Accounts        []accountRow
}

type accountRow struct {
	AccountID   string
	StatusClass string
	StatusText  string
	LastSuccess string
	Samples     int
	LastError   string
}

// Server represents the HTTP server
type Server struct {
	server    *http.Server
	collector StatusSource
	cfg       *config.Config
	logger    *logger.Logger
}

// NewServer creates a new HTTP server exposing gatherer on /metrics
func NewServer(cfg *config.Config, source StatusSource, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.ExporterPort),
			Handler:      mux,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		collector: source,
		cfg:       cfg,
		logger:    log,
	}

	// Register handlers
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      log.ErrorLogger(),
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return s
}

// Handler returns the server's request multiplexer
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleIndex serves a simple landing page with per-account status
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	statusClass, statusText := "not-ready", "Not Ready"
	if s.collector.IsReady() {
		statusClass, statusText = "ready", "Ready"
	}

	statuses := s.collector.AccountStatuses()
	rows := make([]accountRow, 0, len(statuses))
	for _, st := range statuses {
		row := accountRow{
			AccountID:   st.AccountID,
			StatusClass: "not-ready",
			StatusText:  "Down",
			LastSuccess: formatTime(st.LastSuccess),
			Samples:     st.Samples,
			LastError:   st.LastError,
		}
		if st.Up {
			row.StatusClass, row.StatusText = "ready", "Up"
		}
		rows = append(rows, row)
	}

	data := indexPageData{
		StatusClass:     statusClass,
		StatusText:      statusText,
		LastScrape:      formatTime(s.collector.LastScrapeTime()),
		SampleCount:     s.collector.SampleCount(),
		PollingInterval: s.cfg.PollingInterval,
		AccountCount:    len(s.cfg.Targets),
		MetricName:      s.cfg.MetricName,
		Accounts:        rows,
	}

	w.Header().Set("Content-Type", "text/html")
	if err := indexTmpl.Execute(w, data); err != nil {
		s.logger.Error("Failed to execute index template", "error", err)
	}
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady returns 200 once at least one account has been published in a
// completed cycle. Failures of other accounts are reported but do not flip
// readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.collector.IsReady() {
		body := map[string]string{"status": "not ready", "message": "waiting for a successful polling cycle"}
		if err := s.collector.LastError(); err != nil {
			body["error"] = err.Error()
		}
		s.writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	var failed []string
	for _, st := range s.collector.AccountStatuses() {
		if !st.Up {
			failed = append(failed, st.AccountID)
		}
	}
	if len(failed) > 0 {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "failed_accounts": failed})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format(timeFormat)
}
