package detection

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/internal/patterns"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
)

type CSRFDetector struct {
	lib     *patterns.Library
	advisor Advisor
	logger  *logrus.Logger
}

func NewCSRFDetector(lib *patterns.Library, advisor Advisor, logger *logrus.Logger) *CSRFDetector {
	if lib == nil {
		lib = patterns.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CSRFDetector{lib: lib, advisor: advisor, logger: logger}
}

type csrfSignals struct {
	forms           []ai.FormSummary
	hasToken        bool
	csrfHeader      bool
	sameSiteCookies bool
}

func (s csrfSignals) protected() bool {
	return s.hasToken || s.csrfHeader || s.sameSiteCookies
}

// Scan inspects the state-changing forms of one page. headers are the
// response headers of the page and may be nil.
func (d *CSRFDetector) Scan(ctx context.Context, pageURL, body string, headers map[string][]string) *models.PageScanOutcome {
	out := models.NewPageScanOutcome(pageURL)

	doc, err := parseHTML(body)
	if err != nil {
		d.logger.Debugf("CSRF scan of %s skipped: %v", pageURL, err)
		return out
	}

	sig := d.collect(doc, headers)
	if len(sig.forms) > 0 && !sig.protected() {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "Missing CSRF Protection",
			Description: "Forms found with no apparent CSRF protection",
			Details:     "No CSRF tokens, headers, or SameSite cookie attributes detected",
			Remediation: "Add a per-session anti-CSRF token to every state-changing form and set SameSite on session cookies",
			Severity:    models.RiskMedium,
		})
	}

	aiRisk := models.RiskUnknown
	switch {
	case d.advisor == nil:
		out.AIAnalysis = aiDisabledNote
	case len(sig.forms) == 0:
		out.AIAnalysis = "No state-changing forms found"
	default:
		res := d.advisor.AssessCSRF(ctx, ai.CSRFContext{
			URL:             pageURL,
			Forms:           sig.forms,
			HasCSRFToken:    sig.hasToken,
			CSRFHeaders:     sig.csrfHeader,
			SameSiteCookies: sig.sameSiteCookies,
		})
		out.AIAnalysis = res.Analysis
		aiRisk = res.RiskLevel
		out.Vulnerabilities = append(out.Vulnerabilities, res.Findings...)
	}

	switch {
	case len(out.Vulnerabilities) == 0:
		out.RiskLevel = models.RiskLow
	case len(out.Vulnerabilities) > 2 || aiRisk == models.RiskHigh:
		out.RiskLevel = models.RiskHigh
	default:
		out.RiskLevel = models.RiskMedium
	}
	return out
}

func (d *CSRFDetector) collect(doc *goquery.Document, headers map[string][]string) csrfSignals {
	var sig csrfSignals

	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", "")))
		if method == "" {
			method = http.MethodGet
		}
		if method == http.MethodGet {
			return
		}
		summary := ai.FormSummary{
			ID:     form.AttrOr("id", fmt.Sprintf("form_%d", i)),
			Action: form.AttrOr("action", ""),
			Method: method,
			Inputs: formInputs(form, true),
		}
		form.Find("input").Each(func(_ int, in *goquery.Selection) {
			if strings.EqualFold(in.AttrOr("type", ""), "hidden") && d.lib.IsCSRFTokenName(in.AttrOr("name", "")) {
				summary.HasCSRFToken = true
			}
		})
		if summary.HasCSRFToken {
			sig.hasToken = true
		}
		sig.forms = append(sig.forms, summary)
	})

	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(s.AttrOr("name", "")), "csrf") {
			sig.hasToken = true
			return false
		}
		return true
	})

	for name, values := range headers {
		if strings.EqualFold(name, "X-CSRF-Token") {
			sig.csrfHeader = true
		}
		if strings.EqualFold(name, "Set-Cookie") {
			for _, v := range values {
				if hasSameSiteProtection(v) {
					sig.sameSiteCookies = true
				}
			}
		}
	}
	return sig
}

func hasSameSiteProtection(cookie string) bool {
	c := strings.ToLower(cookie)
	return strings.Contains(c, "samesite=strict") || strings.Contains(c, "samesite=lax")
}
