// Package httpapi exposes the agent over HTTP: the query endpoint, health
// and metrics, and static serving of rendered charts.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/logger"
)

// QueryService answers natural-language queries. *askdb.Agent satisfies it.
type QueryService interface {
	Ask(ctx context.Context, query askdb.Query) (askdb.Response, error)
}

// HealthProbe reports the availability of one backend dependency.
type HealthProbe func(ctx context.Context) error

// Config holds the HTTP server settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ChartsDir, when set, is served read-only under /charts/.
	ChartsDir string
}

// Server routes HTTP traffic to the agent.
type Server struct {
	svc    QueryService
	log    *logger.Logger
	probes map[string]HealthProbe
	cfg    Config

	http *http.Server
}

// NewServer builds the server with its routes registered.
func NewServer(svc QueryService, cfg Config, log *logger.Logger, probes map[string]HealthProbe) *Server {
	if log == nil {
		log = logger.New("httpapi")
	}
	s := &Server{svc: svc, log: log, probes: probes, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if cfg.ChartsDir != "" {
		r.PathPrefix("/charts/").Handler(
			http.StripPrefix("/charts/", http.FileServer(http.Dir(cfg.ChartsDir))))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      c.Handler(r),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the composed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe runs the server until it is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Info("", "http server listening", map[string]interface{}{"addr": s.cfg.Addr})
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q askdb.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	start := time.Now()
	resp, err := s.svc.Ask(r.Context(), q)
	if err != nil {
		switch {
		case askdb.HasCode(err, askdb.ErrCodeValidation):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case askdb.HasCode(err, askdb.ErrCodeCancelled), errors.Is(err, context.Canceled):
			// The client went away; status is best effort.
			writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "request cancelled"})
		default:
			s.log.Error("", "query failed", map[string]interface{}{"error": err.Error()})
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	s.log.Info("", "query answered", map[string]interface{}{
		"tools_used":  resp.ToolsUsed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, resp)
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok"}
	if len(s.probes) > 0 {
		status.Checks = make(map[string]string, len(s.probes))
	}
	code := http.StatusOK
	for name, probe := range s.probes {
		if err := probe(ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
