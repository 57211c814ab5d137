// Package server exposes the governor over HTTP: Prometheus metrics, JSON
// status of every component, and a small control surface for manual
// quality overrides and error reports.
//
// Requests that change state are executed on the event loop, so handlers
// never race the frame callbacks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nino-chavez/perfgov/content"
	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/monitoring"
	"github.com/nino-chavez/perfgov/recovery"
	"github.com/nino-chavez/perfgov/scroll"
)

var log = logging.Logger("perfgov/server")

// ErrMissingMonitor is returned by New without a monitoring service.
var ErrMissingMonitor = errors.New("server requires a monitoring service")

// loopTimeout bounds how long a handler waits for the event loop.
const loopTimeout = 5 * time.Second

// Deps are the components the server reports on. Only Loop and Monitor are
// required; routes for absent components answer 404.
type Deps struct {
	Loop     eventloop.Loop
	Monitor  *monitoring.Service
	Scroll   *scroll.Coordinator
	Content  *content.Manager
	Recovery *recovery.Manager

	// Registry serves /metrics and receives the request counter. Nil uses
	// a fresh registry.
	Registry *prometheus.Registry
}

// Server routes HTTP requests to the governor's components.
type Server struct {
	deps     Deps
	router   *mux.Router
	requests *prometheus.CounterVec
}

// New builds the router.
func New(deps Deps) (*Server, error) {
	if deps.Monitor == nil || deps.Loop == nil {
		return nil, ErrMissingMonitor
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		requests: promauto.With(deps.Registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "perfgov",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),
	}

	r := s.router
	r.Use(s.countRequests)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.alerts).Methods(http.MethodGet)
	r.HandleFunc("/quality", s.setQuality).Methods(http.MethodPut)
	r.HandleFunc("/errors", s.reportError).Methods(http.MethodPost)
	r.HandleFunc("/errors", s.errorHistory).Methods(http.MethodGet)
	r.HandleFunc("/content", s.contentStatus).Methods(http.MethodGet)
	r.HandleFunc("/scroll", s.scrollStatus).Methods(http.MethodGet)

	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("serving on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
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

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// onLoop runs fn on the event loop, bounded by the request context.
func (s *Server) onLoop(r *http.Request, fn func()) error {
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()
	return eventloop.Do(ctx, s.deps.Loop, fn)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("writing response: %s", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"monitoring":   s.deps.Monitor.IsMonitoring(),
		"capabilities": s.deps.Monitor.ActiveCapabilities(),
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Monitoring monitoring.Status `json:"monitoring"`
	Content    *content.Status   `json:"content,omitempty"`
	Scroll     *ScrollStatus     `json:"scroll,omitempty"`
	Recovery   *recovery.Status  `json:"recovery,omitempty"`
}

// ScrollStatus is the body of GET /scroll.
type ScrollStatus struct {
	Viewport           scroll.ViewportCache  `json:"viewport"`
	Momentum           scroll.ScrollMomentum `json:"momentum"`
	Scrolling          bool                  `json:"scrolling"`
	DeferringAnimation bool                  `json:"deferring_animation"`
}

func (s *Server) scrollSnapshot(r *http.Request) (ScrollStatus, error) {
	var st ScrollStatus
	c := s.deps.Scroll
	err := s.onLoop(r, func() {
		st = ScrollStatus{
			Viewport:           c.ViewportInfo(),
			Momentum:           c.Momentum(),
			Scrolling:          c.IsScrolling(),
			DeferringAnimation: c.ShouldDeferAnimation(),
		}
	})
	return st, err
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Monitoring: s.deps.Monitor.Status()}
	if s.deps.Content != nil {
		st := s.deps.Content.Status()
		resp.Content = &st
	}
	if s.deps.Recovery != nil {
		st := s.deps.Recovery.Status()
		resp.Recovery = &st
	}
	if s.deps.Scroll != nil {
		st, err := s.scrollSnapshot(r)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		resp.Scroll = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Monitor.Alerts())
}

// QualityRequest is the body of PUT /quality.
type QualityRequest struct {
	Level  monitoring.QualityLevel `json:"level"`
	Reason string                  `json:"reason,omitempty"`
}

func (s *Server) setQuality(w http.ResponseWriter, r *http.Request) {
	var req QualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "http override"
	}

	var err error
	if lerr := s.onLoop(r, func() { err = s.deps.Monitor.SetQualityLevel(req.Level, req.Reason) }); lerr != nil {
		writeError(w, http.StatusServiceUnavailable, lerr)
		return
	}
	switch {
	case errors.Is(err, monitoring.ErrInvalidQualityLevel):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.Status().Quality)
}

func (s *Server) reportError(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recovery == nil {
		http.NotFound(w, r)
		return
	}
	var report recovery.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if report.Message == "" && report.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("message or code required"))
		return
	}

	var (
		rec recovery.ErrorRecord
		err error
	)
	if lerr := s.onLoop(r, func() { rec, err = s.deps.Recovery.HandleError(report) }); lerr != nil {
		writeError(w, http.StatusServiceUnavailable, lerr)
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) errorHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recovery == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Recovery.History())
}

func (s *Server) contentStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Content == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Content.Status())
}

func (s *Server) scrollStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scroll == nil {
		http.NotFound(w, r)
		return
	}
	st, err := s.scrollSnapshot(r)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
