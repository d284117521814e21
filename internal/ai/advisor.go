package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("AI model not configured")

// Generator produces a free-text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Advisor asks a Generator for semantic judgments about a page. It never
// returns errors: every failure becomes a deterministic fallback.
type Advisor struct {
	gen     Generator
	timeout time.Duration
	metrics *utils.MetricsCollector
	logger  *logrus.Logger
}

func NewAdvisor(gen Generator, timeout time.Duration, metrics *utils.MetricsCollector, logger *logrus.Logger) *Advisor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Advisor{gen: gen, timeout: timeout, metrics: metrics, logger: logger}
}

func (a *Advisor) generate(ctx context.Context, kind, prompt string) (string, error) {
	if a.gen == nil {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		a.metrics.IncCounter(utils.MetricCollaboratorFailures, 1, prometheus.Labels{"collaborator": "ai"})
		a.logger.Warnf("AI %s analysis failed: %v", kind, err)
		return "", err
	}
	return text, nil
}

func (a *Advisor) AssessXSS(ctx context.Context, c XSSContext) Assessment {
	text, err := a.generate(ctx, "xss", buildXSSPrompt(c))
	if err != nil {
		return errorAssessment(err)
	}
	res := ParseAssessment(text)
	if res.Degraded {
		a.logger.Debugf("AI xss reply for %s was not valid JSON", c.URL)
	}
	return res
}

func (a *Advisor) AssessCSRF(ctx context.Context, c CSRFContext) Assessment {
	text, err := a.generate(ctx, "csrf", buildCSRFPrompt(c))
	if err != nil {
		return errorAssessment(err)
	}
	res := ParseAssessment(text)
	if res.Degraded {
		a.logger.Debugf("AI csrf reply for %s was not valid JSON", c.URL)
	}
	return res
}

func (a *Advisor) AssessPhishing(ctx context.Context, c PhishingContext) PhishingAssessment {
	text, err := a.generate(ctx, "phishing", buildPhishingPrompt(c))
	if err != nil {
		return PhishingAssessment{
			Confidence:  0.5,
			Indicators:  []string{"Unable to perform full AI analysis"},
			Explanation: "Error in AI analysis service. Using fallback analysis.",
			Degraded:    true,
		}
	}
	return ParsePhishingAssessment(text)
}

func errorAssessment(err error) Assessment {
	return Assessment{
		Analysis:  fmt.Sprintf("AI analysis error: %v", err),
		RiskLevel: models.RiskMedium,
		Findings:  []models.Finding{},
		Degraded:  true,
	}
}

const assessmentFormat = `Format your response as JSON:
{
    "analysis": "Your detailed analysis here",
    "risk_level": "Low/Medium/High",
    "vulnerabilities": [
        {
            "type": "Vulnerability type",
            "description": "Brief description",
            "details": "Technical details",
            "remediation": "How to fix it"
        }
    ]
}

If you can't detect any vulnerabilities, still provide an analysis and set the risk level appropriately.`

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func buildXSSPrompt(c XSSContext) string {
	var b strings.Builder
	b.WriteString("Analyze this website for XSS (Cross-Site Scripting) vulnerabilities. Key information extracted from the page follows.\n\n")
	fmt.Fprintf(&b, "URL: %s\n\n", c.URL)
	fmt.Fprintf(&b, "Number of input fields: %d\nNumber of forms: %d\n\n", c.InputCount, c.FormCount)
	fmt.Fprintf(&b, "URL Parameters: %s\n\n", compactJSON(c.URLParams))
	fmt.Fprintf(&b, "JavaScript sinks found (potential vulnerability points):\n%s\n\n", compactJSON(c.JSSinks))
	fmt.Fprintf(&b, "DOM XSS patterns found:\n%s\n\n", compactJSON(c.DOMPatterns))
	fmt.Fprintf(&b, "Event handlers found (first 10):\n%s\n\n", compactJSON(c.EventHandlers))
	b.WriteString("Scripts found (first few):\n")
	if len(c.Scripts) == 0 {
		b.WriteString("None\n\n")
	} else {
		for _, s := range c.Scripts {
			b.WriteString(s)
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Please analyze this information and determine if there are potential XSS vulnerabilities. Provide:\n")
	b.WriteString("1. A brief analysis of the XSS risk\n2. A risk level (Low, Medium, or High)\n3. A list of specific vulnerabilities found (if any)\n\n")
	b.WriteString(assessmentFormat)
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func buildCSRFPrompt(c CSRFContext) string {
	var b strings.Builder
	b.WriteString("Analyze this website for CSRF (Cross-Site Request Forgery) vulnerabilities. Key information extracted from the page follows.\n\n")
	fmt.Fprintf(&b, "URL: %s\n\n", c.URL)
	fmt.Fprintf(&b, "Forms analysis:\n%s\n\n", compactJSON(c.Forms))
	b.WriteString("CSRF Protection Detected:\n")
	fmt.Fprintf(&b, "- CSRF tokens in forms: %s\n", yesNo(c.HasCSRFToken))
	fmt.Fprintf(&b, "- CSRF headers: %s\n", yesNo(c.CSRFHeaders))
	fmt.Fprintf(&b, "- SameSite cookie attributes: %s\n\n", yesNo(c.SameSiteCookies))
	b.WriteString("Please analyze this information and determine if there are potential CSRF vulnerabilities. Provide:\n")
	b.WriteString("1. A brief analysis of the CSRF risk\n2. A risk level (Low, Medium, or High)\n3. A list of specific vulnerabilities found (if any)\n\n")
	b.WriteString(assessmentFormat)
	return b.String()
}

func buildPhishingPrompt(c PhishingContext) string {
	forms, err := json.MarshalIndent(c.Forms, "", "  ")
	if err != nil {
		forms = []byte("[]")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this webpage for phishing indicators. The URL is: %s\n\n", c.URL)
	fmt.Fprintf(&b, "Form information:\n%s\n\n", forms)
	b.WriteString(`Please analyze this for phishing likelihood. Consider:
1. Does the URL match what you'd expect for the brand it appears to represent?
2. Are there signs of urgency or threats in the text?
3. Are the forms collecting sensitive information?
4. Are there grammatical errors or awkward phrasing?
5. Does this appear to be impersonating a known brand?

Respond in JSON format with the following fields:
- phishing_confidence: a number between 0 and 1 indicating likelihood of phishing
- indicators: list of specific phishing indicators found
- explanation: brief explanation of the analysis
`)
	return b.String()
}
