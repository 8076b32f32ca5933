package listener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/relaykit/hubsink/pkg/entry"
	"github.com/relaykit/hubsink/pkg/logger"
	"github.com/relaykit/hubsink/pkg/metrics"
)

const defaultAddr = ":8080"

// EntrySink is the slice of the sink facade the listener feeds. Entries are
// offered one by one; a false return means the entry was dropped.
type EntrySink interface {
	OnNext(e entry.Entry) bool
}

// Config holds the listener settings.
type Config struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string

	// Token guards the ingest route as a bearer token. Empty disables auth.
	Token string
}

// Server is the HTTP ingest surface: producers POST entry batches and the
// server pushes them through the sink. Drops are reported in the response
// counts, never as an HTTP error.
type Server struct {
	cfg    Config
	sink   EntrySink
	logger *zap.SugaredLogger
	srv    *http.Server
}

// New creates the ingest server around the given sink.
func New(cfg Config, sink EntrySink) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	s := &Server{
		cfg:    cfg,
		sink:   sink,
		logger: logger.For(logger.ComponentListener),
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/v1/entries", s.handleEntries)

	return r
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving and blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Infof("Ingest listener on %s", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ingest listener failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type ingestResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var entries []entry.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid entry payload: %s", err)})
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty entry batch"})
		return
	}

	var result ingestResult
	for _, e := range entries {
		if s.sink.OnNext(e) {
			result.Accepted++
		} else {
			result.Dropped++
		}
	}

	if result.Dropped > 0 {
		s.logger.Warnf("Dropped %d of %d entries from %s", result.Dropped, len(entries), r.RemoteAddr)
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.Token
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
