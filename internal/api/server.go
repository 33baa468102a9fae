package api

import (
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/scheduler"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/streaming"
	"github.com/rloza/tramite/internal/validation"
)

// Deps holds the server's collaborators.
type Deps struct {
	Store     store.Store
	Machine   *engine.Machine
	Validator *validation.ProcedureValidator
	Hub       streaming.EventHub
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Server exposes the engine over HTTP.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := s.deps.Logger
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				"method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/v1/procedures", s.handleCreateProcedure)
	s.router.Get("/v1/procedures", s.handleListProcedures)
	s.router.Get("/v1/procedures/{id}", s.handleGetProcedure)

	s.router.Post("/v1/runs", s.handleStartRun)
	s.router.Get("/v1/runs", s.handleListRuns)
	s.router.Get("/v1/runs/{id}", s.handleGetRun)
	s.router.Post("/v1/runs/{id}/complete", s.handleCompleteStep)
	s.router.Post("/v1/runs/{id}/resume", s.handleCompleteStep)
	s.router.Get("/v1/runs/{id}/events", s.handleListRunEvents)

	s.router.Post("/v1/process-groups", s.handleCreateProcessGroup)
	s.router.Get("/v1/process-groups/{id}", s.handleGetProcessGroup)
	s.router.Post("/v1/process-runs", s.handleStartProcessRun)
	s.router.Get("/v1/process-runs/{id}", s.handleGetProcessRun)

	s.router.Post("/v1/collections", s.handleCreateCollection)
	s.router.Get("/v1/collections/{id}/records", s.handleListRecords)

	s.router.Post("/v1/triggers", s.handleCreateTrigger)

	s.router.Get("/v1/sse/events", s.handleSSEGlobal)
	s.router.Get("/v1/sse/runs/{id}", s.handleSSERun)
}
