package detection

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/internal/discovery"
	"github.com/bl4ck0w1/muninn/internal/patterns"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

const surroundingTextLimit = 200

var recommendations = map[models.RiskLevel][]string{
	models.RiskHigh: {
		"Do not enter any personal information on this site",
		"Leave this website immediately",
		"Report this website to your browser or phishing authorities",
		"If you've already entered credentials, change your passwords immediately",
	},
	models.RiskMedium: {
		"Proceed with extreme caution",
		"Verify the website's legitimacy through other means",
		"Look for secure connection (HTTPS) and valid certificate",
		"Contact the company directly through official channels to verify",
	},
	models.RiskLow: {
		"Always be cautious when entering personal information",
		"Verify the website's URL before proceeding",
		"Look for secure connection (HTTPS)",
	},
}

// Recommendations returns a copy of the advice attached to a phishing
// verdict of the given level. Unknown levels get the Low advice.
func Recommendations(level models.RiskLevel) []string {
	recs, ok := recommendations[level]
	if !ok {
		recs = recommendations[models.RiskLow]
	}
	return append([]string(nil), recs...)
}

type PhishingDetector struct {
	lib     *patterns.Library
	advisor Advisor
	logger  *logrus.Logger
}

func NewPhishingDetector(lib *patterns.Library, advisor Advisor, logger *logrus.Logger) *PhishingDetector {
	if lib == nil {
		lib = patterns.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PhishingDetector{lib: lib, advisor: advisor, logger: logger}
}

// Analyze grades how likely pageURL is to impersonate another site. body may
// be empty, in which case only URL signals are used.
func (d *PhishingDetector) Analyze(ctx context.Context, pageURL, body string) *models.PhishingOutcome {
	out := &models.PhishingOutcome{
		URL:         pageURL,
		RiskLevel:   models.RiskLow,
		RiskFactors: []string{},
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		d.logger.Debugf("Phishing analysis of %q: %v", pageURL, err)
		u = &url.URL{}
	}
	out.Domain = u.Host

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	display := normalizeHost(host)

	if d.lib.MatchLookalike(host) || (display != host && d.lib.MatchLookalike(display)) {
		out.AddFactor(fmt.Sprintf("Domain matches suspicious pattern: %s", out.Domain))
	}

	ip := net.ParseIP(host)
	if ip != nil && ip.To4() != nil {
		out.AddFactor("URL contains an IP address instead of a domain name")
		out.Escalate(models.RiskHigh)
	} else if labels := strings.Split(host, "."); ip == nil && len(labels) > 3 {
		out.AddFactor(fmt.Sprintf("Excessive number of subdomains: %d", strings.Count(host, ".")))
	}

	subLabels := discovery.SubdomainLabels(display)
	for _, brand := range d.lib.TrustedBrands {
		for _, label := range subLabels {
			if strings.Contains(label, brand) {
				out.AddFactor(fmt.Sprintf("Potentially misleading subdomain using trusted brand: %s", brand))
				out.Escalate(models.RiskMedium)
				break
			}
		}
	}

	typos := make([]string, 0, len(d.lib.Typosquats))
	for typo := range d.lib.Typosquats {
		typos = append(typos, typo)
	}
	sort.Strings(typos)
	for _, typo := range typos {
		if strings.Contains(display, typo) {
			out.AddFactor(fmt.Sprintf("Possible typosquatting of %s", d.lib.Typosquats[typo]))
			out.Escalate(models.RiskHigh)
		}
	}

	for _, label := range strings.Split(host, ".") {
		if strings.HasPrefix(label, "xn--") {
			out.AddFactor("Internationalized domain name may hide a homograph")
			break
		}
	}

	path := strings.ToLower(u.Path)
	for _, term := range d.lib.SuspiciousPathTerms {
		if strings.Contains(path, term) {
			out.AddFactor(fmt.Sprintf("URL path contains suspicious term: %s", term))
		}
	}

	if body != "" && d.advisor != nil {
		d.assessLoginForm(ctx, pageURL, body, out)
	}

	// Stand-in for a registration-date lookup; not a real signal.
	if len(out.Domain)%10 < 3 {
		out.AddFactor("Domain appears to be recently registered")
		if out.RiskLevel == models.RiskLow {
			out.Escalate(models.RiskMedium)
		}
	}

	switch n := len(out.RiskFactors); {
	case n > 5:
		out.Escalate(models.RiskHigh)
	case n > 2:
		out.Escalate(models.RiskMedium)
	}

	out.Recommendations = Recommendations(out.RiskLevel)
	return out
}

func (d *PhishingDetector) assessLoginForm(ctx context.Context, pageURL, body string, out *models.PhishingOutcome) {
	doc, err := parseHTML(body)
	if err != nil {
		d.logger.Debugf("Phishing form scan of %s skipped: %v", pageURL, err)
		return
	}

	var login *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		hasPassword := form.Find("input").FilterFunction(func(_ int, in *goquery.Selection) bool {
			return strings.EqualFold(in.AttrOr("type", ""), "password")
		}).Length() > 0
		if hasPassword {
			login = form
			return false
		}
		return true
	})
	if login == nil {
		return
	}

	res := d.advisor.AssessPhishing(ctx, ai.PhishingContext{
		URL: pageURL,
		Forms: []ai.LoginFormContext{{
			Action:          login.AttrOr("action", ""),
			Method:          login.AttrOr("method", ""),
			Fields:          formInputs(login, false),
			SurroundingText: surroundingText(doc, login, surroundingTextLimit),
		}},
	})

	confidence := res.Confidence
	out.AIConfidence = &confidence
	out.AIAnalysis = res.Explanation

	switch {
	case confidence > 0.7:
		out.AddFactor("AI analysis indicates high likelihood of phishing")
		out.Escalate(models.RiskHigh)
	case confidence > 0.4:
		out.AddFactor("AI analysis indicates moderate likelihood of phishing")
		out.Escalate(models.RiskMedium)
	}
	for _, indicator := range res.Indicators {
		out.AddFactor("AI detected: " + indicator)
	}
}

// normalizeHost folds an IDN host to its Unicode form so lookalike checks see
// the characters a user would.
func normalizeHost(host string) string {
	if host == "" {
		return host
	}
	if u, err := idna.ToUnicode(host); err == nil && u != "" {
		host = u
	}
	return strings.ToLower(norm.NFKC.String(host))
}
