package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bl4ck0w1/muninn/internal/orchestration"
	"github.com/bl4ck0w1/muninn/internal/reporting"
	"github.com/bl4ck0w1/muninn/internal/storage"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxRequestBody        = 10 << 20
	defaultListLimit      = 20
)

type Options struct {
	Scanner   *orchestration.Scanner
	Store     storage.ScanStore
	Detectors orchestration.Detectors
	// Threats may be nil, in which case quick scans report Safe Browsing as
	// skipped.
	Threats        orchestration.ThreatChecker
	Scorer         *reporting.RiskScorer
	Metrics        *utils.MetricsCollector
	Auth           models.AuthConfig
	RequestTimeout time.Duration
	Version        string
}

type Server struct {
	scanner   *orchestration.Scanner
	store     storage.ScanStore
	detectors orchestration.Detectors
	threats   orchestration.ThreatChecker
	scorer    *reporting.RiskScorer
	metrics   *utils.MetricsCollector
	auth      models.AuthConfig
	timeout   time.Duration
	version   string
	logger    *logrus.Logger
	started   time.Time

	httpServer *http.Server
}

func NewServer(opts Options, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Scorer == nil {
		opts.Scorer = reporting.NewRiskScorer()
	}
	if opts.Auth.TokenTTL <= 0 {
		opts.Auth.TokenTTL = 24 * time.Hour
	}
	return &Server{
		scanner:   opts.Scanner,
		store:     opts.Store,
		detectors: opts.Detectors,
		threats:   opts.Threats,
		scorer:    opts.Scorer,
		metrics:   opts.Metrics,
		auth:      opts.Auth,
		timeout:   opts.RequestTimeout,
		version:   opts.Version,
		logger:    logger,
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/scans", s.handleSubmit)
	mux.HandleFunc("GET /api/scans", s.handleList)
	mux.HandleFunc("GET /api/scans/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/scans/{id}/results", s.handleResults)
	mux.HandleFunc("POST /api/scans/{id}/cancel", s.handleCancel)
	mux.HandleFunc("DELETE /api/scans/{id}", s.handleDelete)

	mux.HandleFunc("POST /api/scan", s.handleQuickScan)
	mux.HandleFunc("GET /api/educate/{topic}", s.handleEducate)
	mux.HandleFunc("POST /api/token", s.handleToken)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.logRequests(s.requireAuth(mux))
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeout,
		WriteTimeout:      2 * s.timeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("API listening on %s", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("Shutting down API server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
