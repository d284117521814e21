package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/internal/detection"
	"github.com/bl4ck0w1/muninn/internal/discovery"
	"github.com/bl4ck0w1/muninn/internal/fetch"
	"github.com/bl4ck0w1/muninn/internal/orchestration"
	"github.com/bl4ck0w1/muninn/internal/patterns"
	"github.com/bl4ck0w1/muninn/internal/storage"
	"github.com/bl4ck0w1/muninn/internal/threatintel"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// app is the fully wired scanner shared by the scan, serve and results
// commands.
type app struct {
	config    *models.Config
	logger    *logrus.Logger
	metrics   *utils.MetricsCollector
	store     *storage.FileStore
	scanner   *orchestration.Scanner
	detectors orchestration.Detectors
	threats   orchestration.ThreatChecker
	closers   []func() error
}

func loadConfig() (*models.Config, error) {
	cfg := models.FromViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore is enough for commands that only read persisted scans.
func openStore(cfg *models.Config, logger *logrus.Logger) (*storage.FileStore, error) {
	store, err := storage.NewFileStore(cfg.Storage.Path, cfg.Storage.Retention, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan store: %w", err)
	}
	return store, nil
}

func newApp(ctx context.Context, cfg *models.Config) (*app, error) {
	logger := logrus.StandardLogger()
	a := &app{config: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		m, err := utils.NewScannerMetrics(true)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		a.metrics = m
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	advisor, err := a.newAdvisor(ctx)
	if err != nil {
		return nil, err
	}

	lib := patterns.Default()
	a.detectors = orchestration.Detectors{
		XSS:      detection.NewXSSDetector(lib, advisor, logger),
		CSRF:     detection.NewCSRFDetector(lib, advisor, logger),
		Phishing: detection.NewPhishingDetector(lib, advisor, logger),
	}

	if cfg.ThreatIntel.Enabled {
		sb, err := threatintel.NewSafeBrowsing(ctx, cfg.ThreatIntel.APIKey, cfg.ThreatIntel.Timeout, a.metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Safe Browsing client: %w", err)
		}
		if !sb.Enabled() {
			logger.Warn("Safe Browsing API key not configured; threat lookups will be skipped")
		}
		a.threats = sb
	}

	fetcher := fetch.NewFetcher(fetch.Options{
		Timeout:      cfg.Crawler.Timeout,
		MaxRedirects: cfg.Crawler.MaxRedirects,
		UserAgent:    cfg.Crawler.UserAgent,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	}, a.metrics, logger)

	a.scanner = orchestration.NewScanner(
		discovery.NewCrawler(fetcher, cfg.Crawler.Delay, logger),
		fetcher,
		a.detectors,
		a.threats,
		store,
		orchestration.ScanConfig{
			MaxDepth:      cfg.Crawler.MaxDepth,
			MaxURLs:       cfg.Crawler.MaxURLs,
			URLDelay:      cfg.Scan.URLDelay,
			MaxConcurrent: cfg.Scan.MaxConcurrent,
			Autostart:     cfg.Scan.AutoStart,
		},
		a.metrics,
		logger,
	)
	return a, nil
}

// newAdvisor returns a nil interface when AI review is off so the detectors
// fall back to their local heuristics.
func (a *app) newAdvisor(ctx context.Context) (detection.Advisor, error) {
	cfg := a.config.AI
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		a.logger.Warn("AI analysis enabled but no API key configured; continuing without it")
		return nil, nil
	}
	gen, err := ai.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}
	a.closers = append(a.closers, gen.Close)
	return ai.NewAdvisor(gen, cfg.Timeout, a.metrics, a.logger), nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Debugf("Close failed: %v", err)
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logrus.Info("Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
