// Package web serves the GrowStudio dashboard: server-rendered pages
// driven by htmx, a websocket event stream, and a few JSON and
// operational endpoints.
package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cultimatics/growstudio/internal/connwatch"
	"github.com/cultimatics/growstudio/internal/dashboard"
	"github.com/cultimatics/growstudio/internal/events"
	"github.com/cultimatics/growstudio/internal/history"
	"github.com/cultimatics/growstudio/internal/metrics"
)

// HistorySource supplies recent readings for /api/history.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Reading, error)
}

// BrokerStatus reports whether the MQTT session is up.
type BrokerStatus interface {
	Connected() bool
}

// BoardStatus reports whether the board's REST surface answers.
type BoardStatus interface {
	Status() connwatch.Status
}

// Config wires a Server. State is required; everything else is optional.
type Config struct {
	State     *dashboard.State
	Bus       *events.Bus
	Metrics   *metrics.Recorder
	History   HistorySource
	Broker    BrokerStatus
	Board     BoardStatus
	PublicURL string
	Logger    *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	state     *dashboard.State
	bus       *events.Bus
	metrics   *metrics.Recorder
	history   HistorySource
	broker    BrokerStatus
	board     BoardStatus
	publicURL string
	logger    *slog.Logger
	templates map[string]*template.Template

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a Server. Templates are parsed here, so a broken
// template fails at construction.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		state:     cfg.State,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		history:   cfg.History,
		broker:    cfg.Broker,
		board:     cfg.Board,
		publicURL: cfg.PublicURL,
		logger:    logger,
		templates: loadTemplates(),
	}
}

// Handler returns the routed handler wrapped in access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /ws", s.handleStream)

	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	mux.HandleFunc("POST /actions/ph/params", s.handlePHParams)
	mux.HandleFunc("POST /actions/ph/dosers", s.handlePHDosers)
	mux.HandleFunc("POST /actions/ph/toggle", s.handlePHToggle)
	mux.HandleFunc("POST /actions/nutrient/params", s.handleNutrientParams)
	mux.HandleFunc("POST /actions/nutrient/schedule", s.handleNutrientSchedule)
	mux.HandleFunc("POST /actions/nutrient/toggle", s.handleNutrientToggle)
	mux.HandleFunc("POST /actions/dosers/{id}/on", s.handleDoserOn)
	mux.HandleFunc("POST /actions/dosers/{id}/off", s.handleDoserOff)
	mux.HandleFunc("POST /actions/dosers/{id}/flow-rate", s.handleDoserFlowRate)
	mux.HandleFunc("POST /actions/sensors/{kind}/calibrate", s.handleCalibrate)
	mux.HandleFunc("POST /actions/sensors/{kind}/factory-reset", s.handleFactoryReset)
	mux.HandleFunc("POST /actions/doser-manager/config", s.handleDoserManagerConfig)
	mux.HandleFunc("POST /actions/doser-manager/reset", s.handleDoserManagerReset)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /qr.png", s.handleQR)

	return s.withLogging(mux)
}

// Start serves on addr until Shutdown. It returns nil after a clean
// shutdown, and at once if Shutdown already ran.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting dashboard server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// statusRecorder captures the response code for the access log. It
// passes Hijack through so the websocket upgrade still works.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.code = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.code >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w. Errors here mean the client went
// away and are only logged at debug.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]any{
		"error": map[string]any{"message": message, "code": code},
	})
}
