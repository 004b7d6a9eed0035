// Package api serves run status polling and run control over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/huangsam/devyear/schema"
	"golang.org/x/sync/errgroup"
)

// Service is the orchestrator surface the API drives.
type Service interface {
	Create(ctx context.Context, org, user string, year int) (*schema.AnalysisRun, error)
	Start(ctx context.Context, id string) error
	Run(ctx context.Context, id string) (*schema.AnalysisRun, error)
	Pause(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, mode schema.RetryMode) error
	Delete(ctx context.Context, id string) error

	Status(ctx context.Context, id string) (schema.RunStatusView, error)
	List(ctx context.Context, filter schema.RunFilter) ([]schema.AnalysisRun, error)
	RankedUnits(ctx context.Context, id string) ([]schema.WorkUnit, error)
	Reviews(ctx context.Context, id string) ([]schema.AiReview, error)
	Report(ctx context.Context, id string) (*schema.YearlyReport, error)
	AnnotateReport(ctx context.Context, id, notes string) error
	FinalizeReport(ctx context.Context, id string) error
}

// Config holds configuration for the API server.
type Config struct {
	Service Service
	Listen  string
	Logger  *slog.Logger

	// Metrics serves /metrics when set.
	Metrics http.Handler
	Ready   []observability.ReadyCheck
}

// Server routes API requests and executes started runs in the background.
type Server struct {
	svc    Service
	listen string
	logger *slog.Logger
	router chi.Router

	bg       context.Context
	cancelBG context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	active   map[string]bool // run id to a queued relaunch
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = contract.DefaultListen
	}
	bg, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:      cfg.Service,
		listen:   listen,
		logger:   observability.Component(cfg.Logger, "api"),
		bg:       bg,
		cancelBG: cancel,
		active:   make(map[string]bool),
	}
	s.router = s.routes(cfg)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)

	r.Method(http.MethodGet, "/healthz", observability.HealthHandler())
	r.Method(http.MethodGet, "/readyz", observability.ReadyHandler(cfg.Ready...))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleCreateRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleDelete)
			r.Get("/units", s.handleUnits)
			r.Get("/reviews", s.handleReviews)
			r.Get("/report", s.handleReport)
			r.Post("/report/notes", s.handleAnnotate)
			r.Post("/report/finalize", s.handleFinalize)
			r.Post("/start", s.handleStart)
			r.Post("/pause", s.handlePause)
			r.Post("/cancel", s.handleCancel)
			r.Post("/retry", s.handleRetry)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "dur", time.Since(start))
	})
}

// launch drives an IN_PROGRESS run to a stop in the background. A launch
// that arrives while the previous goroutine of the run is still returning
// is queued, and that goroutine drives the run once more.
func (s *Server) launch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		s.active[id] = true
		return
	}
	s.active[id] = false
	s.wg.Go(func() { s.drive(id) })
}

func (s *Server) drive(id string) {
	for {
		run, err := s.svc.Run(s.bg, id)
		switch {
		case err != nil && s.bg.Err() != nil:
			s.logger.Warn("run interrupted by shutdown", "run", id)
		case errors.Is(err, contract.ErrInvalidTransition):
			s.logger.Debug("run no longer in progress", "run", id, "error", err)
		case err != nil:
			s.logger.Error("run execution failed", "run", id, "error", err)
		default:
			s.logger.Info("run stopped", "run", id, "status", run.Status)
		}

		s.mu.Lock()
		if !s.active[id] || s.bg.Err() != nil {
			delete(s.active, id)
			s.mu.Unlock()
			return
		}
		s.active[id] = false
		s.mu.Unlock()
	}
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.listen)
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.listen,
		Handler: s.router,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server")
		return errors.Join(srv.Shutdown(shutdownCtx), s.Shutdown(shutdownCtx))
	})

	return eg.Wait()
}

// Shutdown pauses runs this server is executing and waits for them to
// stop. Runs still going when ctx ends are abandoned IN_PROGRESS and are
// recovered on the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.svc.Pause(ctx, id); err != nil && !errors.Is(err, contract.ErrInvalidTransition) {
			s.logger.Warn("failed to pause run", "run", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancelBG()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runs still executing at shutdown: %w", ctx.Err())
	}
}
