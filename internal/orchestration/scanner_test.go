package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bl4ck0w1/muninn/internal/detection"
	"github.com/bl4ck0w1/muninn/internal/discovery"
	"github.com/bl4ck0w1/muninn/internal/storage"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("404")

type siteFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	headers map[string][]string
	// failFirst makes the first fetch of each listed URL fail.
	failFirst map[string]bool
	block     chan struct{}
	calls     map[string]int
}

func (f *siteFetcher) Fetch(ctx context.Context, rawURL string, _ map[string]string) (*models.Page, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[rawURL]++
	if f.failFirst[rawURL] && f.calls[rawURL] == 1 {
		return nil, errNotFound
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, errNotFound
	}
	return &models.Page{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Headers: f.headers, Body: body}, nil
}

type stubThreats struct{ report *models.ThreatReport }

func (s stubThreats) Check(context.Context, string) *models.ThreatReport { return s.report }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestScanner(f *siteFetcher, store storage.ScanStore, threats ThreatChecker, autostart bool) *Scanner {
	logger := quietLogger()
	return NewScanner(
		discovery.NewCrawler(f, 0, logger),
		f,
		Detectors{
			XSS:      detection.NewXSSDetector(nil, nil, logger),
			CSRF:     detection.NewCSRFDetector(nil, nil, logger),
			Phishing: detection.NewPhishingDetector(nil, nil, logger),
		},
		threats,
		store,
		ScanConfig{MaxDepth: 2, MaxURLs: 10, Autostart: autostart, MaxConcurrent: 2},
		nil,
		logger,
	)
}

const (
	home    = "https://site.test/"
	contact = "https://site.test/contact"
)

func testSite() *siteFetcher {
	return &siteFetcher{pages: map[string]string{
		home:    `<html><head><meta http-equiv="Content-Security-Policy" content="default-src 'self'"></head><body><a href="/contact">c</a><a href="https://elsewhere.test/">x</a></body></html>`,
		contact: `<html><body><script>eval(x)</script><form method="post"><input name="msg"></form></body></html>`,
	}}
}

func TestScanner_RunCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	threats := stubThreats{report: &models.ThreatReport{Success: true, Threats: []models.ThreatMatch{}}}
	s := newTestScanner(testSite(), store, threats, false)

	scan, err := s.Submit(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, scan.CurrentStatus())

	require.NoError(t, s.Run(ctx, scan))

	assert.Equal(t, models.StatusCompleted, scan.Status)
	assert.Equal(t, []string{home, contact}, scan.Results.URLsScanned)
	require.Contains(t, scan.Results.XSS, contact)
	require.Contains(t, scan.Results.CSRF, contact)
	require.Contains(t, scan.Results.Phishing, home)
	assert.Equal(t, "Missing CSRF Protection", scan.Results.CSRF[contact].Vulnerabilities[0].Type)
	assert.True(t, scan.Results.SafeBrowsing.Success)
	assert.NotNil(t, scan.EndTime)
	assert.NotNil(t, scan.Duration)

	ov := scan.Results.Overview
	assert.Greater(t, ov.TotalVulnerabilities, 0)
	assert.Equal(t, ov.TotalVulnerabilities, ov.Critical+ov.High+ov.Medium+ov.Low)
	assert.NotEqual(t, models.RiskUnknown, ov.RiskLevel)
	assert.Equal(t, 1, store.Saves(scan.ID))
}

func TestScanner_FallsBackToDirectFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := testSite()
	f.failFirst = map[string]bool{home: true}
	s := newTestScanner(f, storage.NewMemoryStore(), nil, false)

	scan, err := s.Submit(ctx, home)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx, scan))

	assert.Equal(t, models.StatusCompleted, scan.Status)
	assert.Equal(t, []string{home}, scan.Results.URLsScanned)
	assert.Contains(t, scan.Results.XSS, home)
	assert.Nil(t, scan.Results.SafeBrowsing)
}

func TestScanner_SubmitRejectsBadURL(t *testing.T) {
	t.Parallel()
	s := newTestScanner(testSite(), storage.NewMemoryStore(), nil, false)

	for _, raw := range []string{"", "ftp://site.test/", "not a url"} {
		_, err := s.Submit(context.Background(), raw)
		assert.ErrorIs(t, err, discovery.ErrInvalidURL, raw)
	}
}

func TestScanner_StatusStartsOnceAndCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestScanner(testSite(), storage.NewMemoryStore(), nil, false)

	scan, err := s.Submit(ctx, home)
	require.NoError(t, err)

	first, err := s.Status(ctx, scan.ID)
	require.NoError(t, err)
	second, err := s.Status(ctx, scan.ID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := s.Wait(waitCtx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.CurrentStatus())
	assert.Zero(t, s.ActiveScans())
}

func TestScanner_UnknownID(t *testing.T) {
	t.Parallel()
	s := newTestScanner(testSite(), storage.NewMemoryStore(), nil, false)

	_, err := s.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrScanNotFound)
	assert.ErrorIs(t, s.Cancel(context.Background(), "missing"), ErrScanNotFound)
}

func TestScanner_CancelRunningKeepsPartialResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := testSite()
	f.block = make(chan struct{})
	store := storage.NewMemoryStore()
	s := newTestScanner(f, store, nil, true)

	scan, err := s.Submit(ctx, home)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return scan.CurrentStatus() == models.StatusRunning }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Cancel(ctx, scan.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := s.Wait(waitCtx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, done.CurrentStatus())
	assert.Equal(t, "scan cancelled", done.Error)
	assert.NotNil(t, done.EndTime)
	assert.GreaterOrEqual(t, store.Saves(scan.ID), 1)
}

func TestScanner_CancelPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestScanner(testSite(), storage.NewMemoryStore(), nil, false)

	scan, err := s.Submit(ctx, home)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(ctx, scan.ID))
	assert.Equal(t, models.StatusError, scan.CurrentStatus())
	assert.Equal(t, "scan cancelled", scan.ErrorMessage())
	assert.NotNil(t, scan.EndTime)
	assert.ErrorIs(t, s.Cancel(ctx, scan.ID), ErrScanFinished)
	assert.ErrorIs(t, scan.MarkRunning(), models.ErrInvalidTransition, "error is terminal")

	got, err := s.Status(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.CurrentStatus(), "finished scans never restart")
}

func TestScanner_PanicBecomesError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := newTestScanner(testSite(), store, panicThreats{}, false)

	scan, err := s.Submit(ctx, home)
	require.NoError(t, err)
	err = s.Run(ctx, scan)
	require.Error(t, err)
	assert.Equal(t, models.StatusError, scan.Status)
	assert.Contains(t, scan.Error, "scan panicked")
	assert.Equal(t, 1, store.Saves(scan.ID))
}

type panicThreats struct{}

func (panicThreats) Check(context.Context, string) *models.ThreatReport { panic("lookup exploded") }

func TestScanner_ScanDocumentDoesNotFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &siteFetcher{pages: map[string]string{}}
	store := storage.NewMemoryStore()
	s := newTestScanner(f, store, nil, false)

	scan, err := s.ScanDocument(ctx, "https://site.test/login", `<form method="post"><input type="password" name="p"></form>`)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, scan.CurrentStatus())
	assert.Equal(t, []string{"https://site.test/login"}, scan.Results.URLsScanned)
	assert.Contains(t, scan.Results.CSRF, "https://site.test/login")
	assert.Empty(t, f.calls)
	assert.Equal(t, 1, store.Saves(scan.ID))
}

func TestMarkError_PassesThroughRunning(t *testing.T) {
	t.Parallel()
	now := time.Now()

	pending := models.NewScanResult("p", home, now)
	require.NoError(t, markError(pending, "scan timed out", now))
	assert.Equal(t, models.StatusError, pending.CurrentStatus())
	assert.Equal(t, "scan timed out", pending.ErrorMessage())

	running := models.NewScanResult("r", home, now)
	require.NoError(t, running.MarkRunning())
	require.NoError(t, markError(running, "boom", now))
	assert.Equal(t, models.StatusError, running.CurrentStatus())

	assert.ErrorIs(t, markError(running, "again", now), models.ErrInvalidTransition)
}

func TestScanner_FailBeforeAcquireEndsInError(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStore()
	s := newTestScanner(testSite(), store, nil, false)

	scan, err := s.Submit(context.Background(), home)
	require.NoError(t, err)

	s.fail(scan, context.Canceled)
	assert.Equal(t, models.StatusError, scan.CurrentStatus())
	assert.Equal(t, "scan cancelled", scan.ErrorMessage())
	assert.Equal(t, 1, store.Saves(scan.ID))
}
