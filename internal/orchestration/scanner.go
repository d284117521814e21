package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bl4ck0w1/muninn/internal/detection"
	"github.com/bl4ck0w1/muninn/internal/discovery"
	"github.com/bl4ck0w1/muninn/internal/storage"
	"github.com/bl4ck0w1/muninn/internal/timing"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var (
	ErrScanNotFound = errors.New("scan not found")
	ErrScanFinished = errors.New("scan already finished")
)

const (
	msgCancelled = "scan cancelled"
	msgTimedOut  = "scan timed out"
)

type ThreatChecker interface {
	Check(ctx context.Context, target string) *models.ThreatReport
}

type Detectors struct {
	XSS      *detection.XSSDetector
	CSRF     *detection.CSRFDetector
	Phishing *detection.PhishingDetector
}

type ScanConfig struct {
	MaxDepth      int           `yaml:"max_depth" json:"max_depth"`
	MaxURLs       int           `yaml:"max_urls" json:"max_urls"`
	URLDelay      time.Duration `yaml:"url_delay" json:"url_delay"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	Autostart     bool          `yaml:"autostart" json:"autostart"`
	// Timeout bounds one whole scan; zero means no limit.
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

type activeScan struct {
	scan   *models.ScanResult
	cancel context.CancelFunc
	done   chan struct{}
}

// Scanner owns the lifecycle of every scan: submission, background
// execution, cancellation and persistence.
type Scanner struct {
	crawler   *discovery.Crawler
	fetcher   discovery.PageFetcher
	detectors Detectors
	threats   ThreatChecker
	store     storage.ScanStore
	metrics   *utils.MetricsCollector
	logger    *logrus.Logger
	config    ScanConfig
	sem       *semaphore.Weighted

	baseCtx     context.Context
	stopAll     context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	activeScans map[string]*activeScan

	now func() time.Time
}

// NewScanner wires a scanner. threats and metrics may be nil.
func NewScanner(
	crawler *discovery.Crawler,
	fetcher discovery.PageFetcher,
	detectors Detectors,
	threats ThreatChecker,
	store storage.ScanStore,
	config ScanConfig,
	metrics *utils.MetricsCollector,
	logger *logrus.Logger,
) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.MaxDepth < 0 {
		config.MaxDepth = 0
	}
	if config.MaxURLs <= 0 {
		config.MaxURLs = discovery.DefaultMaxURLs
	}

	base, stop := context.WithCancel(context.Background())
	return &Scanner{
		crawler:     crawler,
		fetcher:     fetcher,
		detectors:   detectors,
		threats:     threats,
		store:       store,
		metrics:     metrics,
		logger:      logger,
		config:      config,
		sem:         semaphore.NewWeighted(int64(config.MaxConcurrent)),
		baseCtx:     base,
		stopAll:     stop,
		activeScans: make(map[string]*activeScan),
		now:         time.Now,
	}
}

// Submit validates targetURL and persists a new pending scan. With autostart
// enabled the scan begins immediately, otherwise on first status access.
func (s *Scanner) Submit(ctx context.Context, targetURL string) (*models.ScanResult, error) {
	target, err := discovery.ParseTarget(targetURL)
	if err != nil {
		return nil, err
	}

	scan := models.NewScanResult(uuid.NewString(), target.String(), s.now())
	if err := s.store.Create(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to persist scan: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"scan_id": scan.ID, "target": scan.TargetURL}).Info("Scan submitted")

	if s.config.Autostart {
		return s.EnsureStarted(ctx, scan.ID)
	}
	return scan, nil
}

// EnsureStarted starts the scan in the background if it is still pending.
// Repeated calls for the same id are no-ops.
func (s *Scanner) EnsureStarted(ctx context.Context, id string) (*models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active, ok := s.activeScans[id]; ok {
		return active.scan, nil
	}
	scan, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if scan.CurrentStatus() != models.StatusPending {
		return scan, nil
	}

	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if s.config.Timeout > 0 {
		scanCtx, cancel = context.WithTimeout(s.baseCtx, s.config.Timeout)
	} else {
		scanCtx, cancel = context.WithCancel(s.baseCtx)
	}
	active := &activeScan{scan: scan, cancel: cancel, done: make(chan struct{})}
	s.activeScans[id] = active

	s.wg.Add(1)
	go s.execute(scanCtx, active)
	return scan, nil
}

// Status is the first-access entry point: it returns the scan and starts it
// if it was still pending.
func (s *Scanner) Status(ctx context.Context, id string) (*models.ScanResult, error) {
	return s.EnsureStarted(ctx, id)
}

// Get returns the scan without side effects.
func (s *Scanner) Get(ctx context.Context, id string) (*models.ScanResult, error) {
	s.mu.RLock()
	active, ok := s.activeScans[id]
	s.mu.RUnlock()
	if ok {
		return active.scan, nil
	}
	return s.lookup(ctx, id)
}

func (s *Scanner) lookup(ctx context.Context, id string) (*models.ScanResult, error) {
	scan, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ScanDocument scans a caller-supplied document for targetURL without
// crawling or fetching anything, and persists the finished scan.
func (s *Scanner) ScanDocument(ctx context.Context, targetURL, body string) (*models.ScanResult, error) {
	target, err := discovery.ParseTarget(targetURL)
	if err != nil {
		return nil, err
	}

	scan := models.NewScanResult(uuid.NewString(), target.String(), s.now())
	if err := s.store.Create(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to persist scan: %w", err)
	}
	if err := scan.MarkRunning(); err != nil {
		return nil, err
	}

	if body != "" {
		s.scanPage(ctx, scan, scan.TargetURL, &models.Page{URL: scan.TargetURL, FinalURL: scan.TargetURL, Body: body}, false)
	}
	if err := scan.Finalize(s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to persist scan: %w", err)
	}
	s.metrics.IncCounter(utils.MetricScansTotal, 1, prometheus.Labels{"status": string(models.StatusCompleted)})
	return scan, nil
}

// Cancel stops a running scan or fails a pending one. The scan ends in
// status error with whatever results it had gathered.
func (s *Scanner) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active, ok := s.activeScans[id]; ok {
		active.cancel()
		s.logger.Infof("Scan cancelled: %s", id)
		return nil
	}

	scan, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if scan.CurrentStatus().Terminal() {
		return fmt.Errorf("%w: %s", ErrScanFinished, id)
	}
	if err := markError(scan, msgCancelled, s.now()); err != nil {
		return err
	}
	s.metrics.IncCounter(utils.MetricScansTotal, 1, prometheus.Labels{"status": string(models.StatusError)})
	return s.store.Save(ctx, scan)
}

// markError moves scan to error, passing through running when it never
// started.
func markError(scan *models.ScanResult, msg string, now time.Time) error {
	if scan.CurrentStatus() == models.StatusPending {
		if err := scan.MarkRunning(); err != nil {
			return err
		}
	}
	return scan.MarkError(msg, now)
}

// Wait blocks until the scan with id is no longer running or ctx is done.
func (s *Scanner) Wait(ctx context.Context, id string) (*models.ScanResult, error) {
	s.mu.RLock()
	active, ok := s.activeScans[id]
	s.mu.RUnlock()
	if ok {
		select {
		case <-active.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Get(ctx, id)
}

func (s *Scanner) ActiveScans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeScans)
}

// Shutdown cancels every running scan and waits for them to persist their
// partial results.
func (s *Scanner) Shutdown(ctx context.Context) error {
	s.stopAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scanner) execute(ctx context.Context, active *activeScan) {
	defer func() {
		s.mu.Lock()
		delete(s.activeScans, active.scan.ID)
		s.mu.Unlock()
		active.cancel()
		close(active.done)
		s.wg.Done()
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(active.scan, err)
		return
	}
	defer s.sem.Release(1)

	if err := s.Run(ctx, active.scan); err != nil {
		s.logger.WithField("scan_id", active.scan.ID).Warnf("Scan ended with error: %v", err)
	}
}

// Run executes a pending scan to completion on the calling goroutine. Any
// failure, including cancellation and panics, leaves the scan in status
// error with its partial results persisted.
func (s *Scanner) Run(ctx context.Context, scan *models.ScanResult) (err error) {
	if err := scan.MarkRunning(); err != nil {
		return err
	}
	log := s.logger.WithFields(logrus.Fields{"scan_id": scan.ID, "target": scan.TargetURL})
	log.Info("Scan started")

	s.metrics.AddGauge(utils.MetricActiveScans, 1, nil)
	defer s.metrics.AddGauge(utils.MetricActiveScans, -1, nil)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
		if err != nil {
			s.fail(scan, err)
		}
	}()

	if s.threats != nil {
		scan.SetSafeBrowsing(s.threats.Check(ctx, scan.TargetURL))
	}

	crawl, err := s.crawler.Crawl(ctx, scan.TargetURL, s.config.MaxDepth, s.config.MaxURLs)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	urls := crawl.URLs
	if len(crawl.Pages) == 0 {
		log.Info("Crawl returned no content, fetching the target directly")
		page, ferr := s.fetcher.Fetch(ctx, scan.TargetURL, nil)
		switch {
		case ferr != nil:
			log.Warnf("Direct fetch failed: %v", ferr)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case page.FinalURL != "" && !discovery.SameSite(page.FinalURL, scan.TargetURL):
			log.Warnf("Target redirected off-site to %s, nothing to scan", page.FinalURL)
		default:
			crawl.Pages[scan.TargetURL] = page
			urls = []string{scan.TargetURL}
		}
	}

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, ok := crawl.Page(u)
		if !ok || page.Body == "" {
			continue
		}
		s.scanPage(ctx, scan, u, page, true)

		if i < len(urls)-1 {
			if err := timing.Sleep(ctx, s.config.URLDelay); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := scan.Finalize(s.now()); err != nil {
		return err
	}
	if err := s.store.Save(ctx, scan); err != nil {
		log.Errorf("Failed to persist completed scan: %v", err)
	}

	s.metrics.IncCounter(utils.MetricScansTotal, 1, prometheus.Labels{"status": string(models.StatusCompleted)})
	if scan.Duration != nil {
		s.metrics.ObserveHistogram(utils.MetricScanDuration, *scan.Duration, nil)
	}
	log.WithFields(logrus.Fields{
		"urls":       scan.Progress().URLsScanned,
		"risk_level": scan.Results.Overview.RiskLevel,
	}).Info("Scan completed")
	return nil
}

func (s *Scanner) scanPage(ctx context.Context, scan *models.ScanResult, u string, page *models.Page, refetchHeaders bool) {
	scan.AddScannedURL(u)

	if d := s.detectors.XSS; d != nil {
		out := d.Scan(ctx, u, page.Body)
		scan.SetXSS(u, out)
		s.recordFindings("xss", out)
	}

	if d := s.detectors.CSRF; d != nil {
		headers := page.Headers
		if refetchHeaders {
			if fresh, err := s.fetcher.Fetch(ctx, u, nil); err == nil {
				headers = fresh.Headers
			} else {
				s.logger.Debugf("Header refetch of %s failed, using crawl headers: %v", u, err)
			}
		}
		out := d.Scan(ctx, u, page.Body, headers)
		scan.SetCSRF(u, out)
		s.recordFindings("csrf", out)
	}

	if d := s.detectors.Phishing; d != nil {
		out := d.Analyze(ctx, u, page.Body)
		scan.SetPhishing(u, out)
		s.metrics.IncCounter(utils.MetricFindingsTotal, float64(len(out.RiskFactors)),
			prometheus.Labels{"detector": "phishing", "risk": string(out.RiskLevel)})
	}
}

func (s *Scanner) recordFindings(detector string, out *models.PageScanOutcome) {
	if out == nil || len(out.Vulnerabilities) == 0 {
		return
	}
	s.metrics.IncCounter(utils.MetricFindingsTotal, float64(len(out.Vulnerabilities)),
		prometheus.Labels{"detector": detector, "risk": string(out.RiskLevel)})
}

// fail records err on the scan and persists what was gathered so far. The
// store write uses a fresh context so cancelled scans are still saved.
func (s *Scanner) fail(scan *models.ScanResult, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		msg = msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		msg = msgTimedOut
	}

	if merr := markError(scan, msg, s.now()); merr != nil {
		s.logger.Warnf("Scan %s: %v", scan.ID, merr)
		return
	}
	s.metrics.IncCounter(utils.MetricScansTotal, 1, prometheus.Labels{"status": string(models.StatusError)})

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := s.store.Save(saveCtx, scan); serr != nil {
		s.logger.Errorf("Failed to persist failed scan %s: %v", scan.ID, serr)
	}
	s.logger.WithField("scan_id", scan.ID).Warnf("Scan failed: %s", msg)
}
