package detection

import (
	"context"
	"net/url"

	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/internal/patterns"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	maxAIScripts  = 5
	maxAIHandlers = 10
)

type XSSDetector struct {
	lib     *patterns.Library
	advisor Advisor
	logger  *logrus.Logger
}

func NewXSSDetector(lib *patterns.Library, advisor Advisor, logger *logrus.Logger) *XSSDetector {
	if lib == nil {
		lib = patterns.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &XSSDetector{lib: lib, advisor: advisor, logger: logger}
}

// Scan inspects one page for reflected and DOM-based XSS exposure. It never
// fails: an unparsable page yields an empty Low outcome.
func (d *XSSDetector) Scan(ctx context.Context, pageURL, body string) *models.PageScanOutcome {
	out := models.NewPageScanOutcome(pageURL)

	doc, err := parseHTML(body)
	if err != nil {
		d.logger.Debugf("XSS scan of %s skipped: %v", pageURL, err)
		return out
	}

	scripts := inlineScripts(doc)
	handlers := eventHandlers(doc)
	inputCount := doc.Find("input").Length()
	formCount := doc.Find("form").Length()
	params := queryParams(pageURL)

	sinks := patterns.CountMatches(d.lib.JSSinks, scripts)
	domPatterns := patterns.CountMatches(d.lib.DOMXSSPatterns, scripts)

	if len(sinks) > 0 {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "JS Sinks",
			Description: "JavaScript functions that can be used in XSS attacks if not properly sanitized",
			Details:     sinks,
			Remediation: "Avoid passing untrusted data to these sinks; prefer textContent and safe DOM APIs",
			Severity:    models.RiskMedium,
		})
	}
	if len(domPatterns) > 0 {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "DOM XSS Patterns",
			Description: "Patterns that may indicate DOM-based XSS vulnerabilities",
			Details:     domPatterns,
			Remediation: "Never write location or URL data into the DOM without encoding it",
			Severity:    models.RiskHigh,
		})
	}

	var unsafe []string
	for _, h := range handlers {
		if d.lib.ReferencesSource(h.Value) {
			unsafe = append(unsafe, h.String())
		}
	}
	if len(unsafe) > 0 {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "Unsafe Event Handlers",
			Description: "Inline event handlers that read attacker-controllable sources",
			Details:     unsafe,
			Remediation: "Move handlers into scripts and validate location, URL and cookie data before use",
			Severity:    models.RiskMedium,
		})
	}

	if len(params) > 0 {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "URL Parameters",
			Description: "URL parameters that could be injection points",
			Details:     params,
			Remediation: "Encode every reflected parameter for the context it is written into",
			Severity:    models.RiskLow,
		})
	}

	if !hasCSPMeta(doc) {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "Missing Content Security Policy",
			Description: "No Content-Security-Policy meta tag was found on the page",
			Remediation: "Serve a restrictive Content-Security-Policy that disallows inline script",
			Severity:    models.RiskLow,
		})
	}

	if inputCount > 0 && !d.mentionsSanitizer(scripts) {
		out.Vulnerabilities = append(out.Vulnerabilities, models.Finding{
			Type:        "Unsanitized Input Fields",
			Description: "Input fields present with no recognizable client-side sanitization",
			Details:     map[string]int{"input_count": inputCount},
			Remediation: "Sanitize user input before rendering it, for example with DOMPurify",
			Severity:    models.RiskMedium,
		})
	}

	local := len(out.Vulnerabilities)
	aiRisk := models.RiskUnknown

	if d.advisor == nil {
		out.AIAnalysis = aiDisabledNote
	} else {
		handlerText := make([]string, 0, min(len(handlers), maxAIHandlers))
		for _, h := range handlers[:min(len(handlers), maxAIHandlers)] {
			handlerText = append(handlerText, h.String())
		}
		res := d.advisor.AssessXSS(ctx, ai.XSSContext{
			URL:           pageURL,
			Scripts:       scripts[:min(len(scripts), maxAIScripts)],
			InputCount:    inputCount,
			FormCount:     formCount,
			EventHandlers: handlerText,
			URLParams:     params,
			JSSinks:       sinks,
			DOMPatterns:   domPatterns,
		})
		out.AIAnalysis = res.Analysis
		aiRisk = res.RiskLevel
		out.Vulnerabilities = append(out.Vulnerabilities, res.Findings...)
	}

	switch {
	case len(out.Vulnerabilities) == 0:
		out.RiskLevel = models.RiskLow
	case aiRisk == models.RiskHigh || local > 3:
		out.RiskLevel = models.RiskHigh
	case local > 1:
		out.RiskLevel = models.RiskMedium
	default:
		out.RiskLevel = models.RiskLow
	}
	return out
}

func (d *XSSDetector) mentionsSanitizer(scripts []string) bool {
	for _, s := range scripts {
		if d.lib.MentionsSanitizer(s) {
			return true
		}
	}
	return false
}

func queryParams(pageURL string) map[string]string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return map[string]string{}
	}
	params := make(map[string]string)
	for k, vs := range u.Query() {
		if k == "" {
			continue
		}
		v := ""
		if len(vs) > 0 {
			v = vs[0]
		}
		params[k] = v
	}
	return params
}
