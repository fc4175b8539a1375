package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dbw-core/utils"
)

// StatusServer exposes read-only loop state over HTTP.
type StatusServer struct {
	state  *VehicleState
	runner *Runner
	log    *utils.Logger
	router *mux.Router
}

func NewStatusServer(state *VehicleState, runner *Runner, log *utils.Logger) *StatusServer {
	s := &StatusServer{
		state:  state,
		runner: runner,
		log:    log,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *StatusServer) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/state", s.handleState).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

func (s *StatusServer) Router() *mux.Router {
	return s.router
}

// ListenAndServe serves until ctx is cancelled.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.runner.Status()
	status := "ok"
	code := http.StatusOK
	if st.Stale {
		status = "stale"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":      status,
		"dbw_enabled": st.Enabled,
		"ticks":       st.Ticks,
	})
}

func (s *StatusServer) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.runner.Status())
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
