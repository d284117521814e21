package reporting

import (
	"github.com/bl4ck0w1/muninn/pkg/models"
)

const maxRiskScore = 100

// RiskScorer condenses a single-page check into a 0..100 score for quick
// display.
type RiskScorer struct {
	phishingWeights map[models.RiskLevel]int
	xssWeight       int
	csrfWeight      int
	threatWeight    int
}

func NewRiskScorer() *RiskScorer {
	return NewRiskScorerWithWeights(nil)
}

// NewRiskScorerWithWeights overrides individual weights. Recognised keys are
// the phishing risk levels ("High", "Medium", "Low") plus "xss", "csrf" and
// "threat".
func NewRiskScorerWithWeights(override map[string]int) *RiskScorer {
	rs := &RiskScorer{
		phishingWeights: map[models.RiskLevel]int{
			models.RiskHigh:   40,
			models.RiskMedium: 20,
			models.RiskLow:    5,
		},
		xssWeight:    30,
		csrfWeight:   20,
		threatWeight: 50,
	}
	for k, v := range override {
		switch k {
		case "xss":
			rs.xssWeight = v
		case "csrf":
			rs.csrfWeight = v
		case "threat":
			rs.threatWeight = v
		default:
			if level := models.ParseRiskLevel(k); level != models.RiskUnknown {
				rs.phishingWeights[level] = v
			}
		}
	}
	return rs
}

// Score adds the phishing tier weight, a fixed weight for each vulnerable
// XSS or CSRF outcome and one for any threat-list match, capped at 100. Nil
// inputs contribute nothing.
func (rs *RiskScorer) Score(phishing *models.PhishingOutcome, xss, csrf *models.PageScanOutcome, threats *models.ThreatReport) int {
	score := 0
	if phishing != nil {
		score += rs.phishingWeights[phishing.RiskLevel]
	}
	if xss.Vulnerable() {
		score += rs.xssWeight
	}
	if csrf.Vulnerable() {
		score += rs.csrfWeight
	}
	if threats.HasThreats() {
		score += rs.threatWeight
	}
	return min(score, maxRiskScore)
}
