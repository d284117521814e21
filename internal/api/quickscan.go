package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bl4ck0w1/muninn/internal/discovery"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"golang.org/x/sync/errgroup"
)

type pageVerdict struct {
	*models.PageScanOutcome
	Vulnerable bool `json:"vulnerable"`
}

func newPageVerdict(o *models.PageScanOutcome) pageVerdict {
	return pageVerdict{PageScanOutcome: o, Vulnerable: o.Vulnerable()}
}

type QuickScanResponse struct {
	URL          string                  `json:"url"`
	Phishing     *models.PhishingOutcome `json:"phishing"`
	XSS          pageVerdict             `json:"xss"`
	CSRF         pageVerdict             `json:"csrf"`
	SafeBrowsing *models.ThreatReport    `json:"safe_browsing"`
	RiskScore    int                     `json:"risk_score"`
}

type scanRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

var skippedThreatReport = models.ThreatReport{
	Success: false,
	Skipped: true,
	Error:   "Safe Browsing API key not configured",
	Threats: []models.ThreatMatch{},
}

// handleQuickScan analyses one page the caller already holds. Nothing is
// fetched or persisted.
func (s *Server) handleQuickScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeScanRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	target, err := discovery.ParseTarget(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp := s.quickScan(ctx, target.String(), req.HTML)
	resp.URL = req.URL
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) quickScan(ctx context.Context, pageURL, body string) *QuickScanResponse {
	var (
		phishing *models.PhishingOutcome
		xss      = models.NewPageScanOutcome(pageURL)
		csrf     = models.NewPageScanOutcome(pageURL)
		threats  *models.ThreatReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		phishing = s.detectors.Phishing.Analyze(gctx, pageURL, body)
		return nil
	})
	if body != "" {
		g.Go(func() error {
			xss = s.detectors.XSS.Scan(gctx, pageURL, body)
			return nil
		})
		g.Go(func() error {
			csrf = s.detectors.CSRF.Scan(gctx, pageURL, body, nil)
			return nil
		})
	}
	g.Go(func() error {
		if s.threats == nil {
			report := skippedThreatReport
			threats = &report
			return nil
		}
		threats = s.threats.Check(gctx, pageURL)
		return nil
	})
	_ = g.Wait()

	return &QuickScanResponse{
		Phishing:     phishing,
		XSS:          newPageVerdict(xss),
		CSRF:         newPageVerdict(csrf),
		SafeBrowsing: threats,
		RiskScore:    s.scorer.Score(phishing, xss, csrf, threats),
	}
}

var errMalformedBody = errors.New("malformed request body")

// decodeScanRequest accepts a JSON body or url-encoded form fields.
func decodeScanRequest(w http.ResponseWriter, r *http.Request, req *scanRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if isJSON(r.Header.Get("Content-Type")) {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return errMalformedBody
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return errMalformedBody
	}
	req.URL = r.PostFormValue("url")
	req.HTML = r.PostFormValue("html")
	return nil
}
