package models

import "strings"

type RiskLevel string

const (
	RiskUnknown  RiskLevel = "Unknown"
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// ParseRiskLevel maps free-form tier names ("high", "HIGH") onto a RiskLevel.
// Unrecognised input yields RiskUnknown.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "medium", "moderate":
		return RiskMedium
	case "high":
		return RiskHigh
	case "critical":
		return RiskCritical
	default:
		return RiskUnknown
	}
}

func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type Finding struct {
	Type        string    `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Details     any       `json:"details,omitempty" yaml:"details,omitempty"`
	Remediation string    `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	Severity    RiskLevel `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// PageScanOutcome is the verdict of one detector for one page.
type PageScanOutcome struct {
	URL             string    `json:"url" yaml:"url"`
	Vulnerabilities []Finding `json:"vulnerabilities" yaml:"vulnerabilities"`
	RiskLevel       RiskLevel `json:"risk_level" yaml:"risk_level"`
	AIAnalysis      string    `json:"ai_analysis" yaml:"ai_analysis"`
}

func NewPageScanOutcome(url string) *PageScanOutcome {
	return &PageScanOutcome{
		URL:             url,
		Vulnerabilities: []Finding{},
		RiskLevel:       RiskLow,
	}
}

func (o *PageScanOutcome) Vulnerable() bool {
	return o != nil && len(o.Vulnerabilities) > 0
}

type PhishingOutcome struct {
	URL             string    `json:"url" yaml:"url"`
	Domain          string    `json:"domain" yaml:"domain"`
	RiskLevel       RiskLevel `json:"risk_level" yaml:"risk_level"`
	RiskFactors     []string  `json:"risk_factors" yaml:"risk_factors"`
	Recommendations []string  `json:"recommendations" yaml:"recommendations"`
	AIConfidence    *float64  `json:"ai_confidence,omitempty" yaml:"ai_confidence,omitempty"`
	AIAnalysis      string    `json:"ai_analysis,omitempty" yaml:"ai_analysis,omitempty"`
}

// Escalate raises the outcome to level; it never lowers it.
func (p *PhishingOutcome) Escalate(level RiskLevel) {
	p.RiskLevel = MaxRisk(p.RiskLevel, level)
}

func (p *PhishingOutcome) AddFactor(factor string) {
	p.RiskFactors = append(p.RiskFactors, factor)
}

type ThreatMatch struct {
	ThreatType      string `json:"type" yaml:"type"`
	PlatformType    string `json:"platform" yaml:"platform"`
	ThreatEntryType string `json:"threat_entry_type" yaml:"threat_entry_type"`
}

type ThreatReport struct {
	Success         bool          `json:"success" yaml:"success"`
	Skipped         bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`
	Threats         []ThreatMatch `json:"threats" yaml:"threats"`
	Recommendations []string      `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

func (t *ThreatReport) HasThreats() bool {
	return t != nil && len(t.Threats) > 0
}

// Page is a fetched document.
type Page struct {
	URL        string              `json:"url"`
	FinalURL   string              `json:"final_url"`
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"-"`
}

// HeaderValues returns every value of name, matched case-insensitively.
func (p *Page) HeaderValues(name string) []string {
	if p == nil {
		return nil
	}
	var out []string
	for k, vs := range p.Headers {
		if strings.EqualFold(k, name) {
			out = append(out, vs...)
		}
	}
	return out
}
