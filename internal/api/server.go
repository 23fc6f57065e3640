package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthloop/app"
	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/evidence"
	"healthloop/domain/experiment"
	"healthloop/domain/finding"
	"healthloop/internal"
	"healthloop/internal/baseline"
	"healthloop/internal/scheduler"
)

// Loop is the part of the loop service the HTTP surface drives
type Loop interface {
	ComputeBaseline(ctx context.Context, user core.UserID, key core.MetricKey) (baseline.Baseline, error)
	ComputeBaselineAsOf(ctx context.Context, user core.UserID, key core.MetricKey, day core.Day) (baseline.Baseline, error)
	RunDetectors(ctx context.Context, user core.UserID, key core.MetricKey, day core.Day) (finding.Outcome, error)
	RunAttribution(ctx context.Context, user core.UserID, outcome core.MetricKey, exposures []core.ExposureKey, window core.Window) ([]attribution.DriverCandidate, error)
	CreateExperiment(ctx context.Context, user core.UserID, intervention core.ExposureKey, outcome core.MetricKey, base, treatment core.Window) (*experiment.Experiment, error)
	AdvanceExperiment(ctx context.Context, id core.ExperimentID, to experiment.Status) (*experiment.Experiment, error)
	Evaluate(ctx context.Context, id core.ExperimentID) (experiment.EvaluationResult, error)
	DecideNextStep(ctx context.Context, id core.EvaluationID) (experiment.LoopDecision, error)
	Grade(confidence float64, sampleSize int, coverage float64) evidence.Grade
	RunDay(ctx context.Context, user core.UserID, day core.Day) (app.DayReport, error)
}

// Batch runs a day for every active user
type Batch interface {
	RunDay(ctx context.Context, day core.Day) (scheduler.Summary, error)
}

// Server exposes the loop over JSON/HTTP
type Server struct {
	router   *chi.Mux
	loop     Loop
	batch    Batch
	gatherer prometheus.Gatherer
	validate *validator.Validate
	log      *internal.Logger
}

// NewServer builds the router. gatherer backs /metrics and may be nil.
func NewServer(loop Loop, batch Batch, gatherer prometheus.Gatherer, log *internal.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		loop:     loop,
		batch:    batch,
		gatherer: gatherer,
		validate: validator.New(),
		log:      log.With("api"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/grade", s.handleGrade)
		r.Post("/days/{day}/run", s.handleRunBatch)

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/baselines/{metric}", s.handleBaseline)
			r.Post("/metrics/{metric}/detect", s.handleDetect)
			r.Post("/metrics/{metric}/attribution", s.handleAttribution)
			r.Post("/days/{day}/run", s.handleRunDay)
		})

		r.Post("/experiments", s.handleCreateExperiment)
		r.Post("/experiments/{id}/advance", s.handleAdvanceExperiment)
		r.Post("/experiments/{id}/evaluate", s.handleEvaluate)
		r.Post("/evaluations/{id}/decide", s.handleDecide)
	})
}

// ServeHTTP makes Server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("%s %s -> %d in %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
