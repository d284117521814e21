package ai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/bl4ck0w1/muninn/pkg/models"
)

const (
	msgParseFailed       = "AI analysis failed to parse the JSON response"
	msgAnalysisMissing   = "AI analysis failed"
	msgPhishingHeuristic = "Analysis based on form context and URL examination."
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// jsonCandidates returns the substrings of text worth trying as JSON, in
// order: a fenced block, the whole text, then the outermost {...} span.
func jsonCandidates(text string) []string {
	var out []string
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		out = append(out, m[1])
	}
	out = append(out, strings.TrimSpace(text))
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		out = append(out, text[i:j+1])
	}
	return out
}

type rawFinding struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Details     any    `json:"details"`
	Remediation string `json:"remediation"`
	Severity    string `json:"severity"`
}

type rawAssessment struct {
	Analysis        string       `json:"analysis"`
	RiskLevel       string       `json:"risk_level"`
	Vulnerabilities []rawFinding `json:"vulnerabilities"`
}

// ParseAssessment turns a model reply into an Assessment. Unparseable
// replies degrade to a Medium assessment with no findings.
func ParseAssessment(text string) Assessment {
	for _, candidate := range jsonCandidates(text) {
		var raw rawAssessment
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		a := Assessment{
			Analysis:  raw.Analysis,
			RiskLevel: models.ParseRiskLevel(raw.RiskLevel),
			Findings:  make([]models.Finding, 0, len(raw.Vulnerabilities)),
		}
		if a.Analysis == "" {
			a.Analysis = msgAnalysisMissing
		}
		if a.RiskLevel == models.RiskUnknown {
			a.RiskLevel = models.RiskMedium
		}
		for _, v := range raw.Vulnerabilities {
			if v.Type == "" && v.Description == "" {
				continue
			}
			a.Findings = append(a.Findings, models.Finding{
				Type:        v.Type,
				Description: v.Description,
				Details:     v.Details,
				Remediation: v.Remediation,
				Severity:    severityOrEmpty(v.Severity),
			})
		}
		return a
	}
	return Assessment{
		Analysis:  msgParseFailed,
		RiskLevel: models.RiskMedium,
		Findings:  []models.Finding{},
		Degraded:  true,
	}
}

func severityOrEmpty(s string) models.RiskLevel {
	if r := models.ParseRiskLevel(s); r != models.RiskUnknown {
		return r
	}
	return ""
}

type rawPhishing struct {
	Confidence  any      `json:"phishing_confidence"`
	Indicators  []string `json:"indicators"`
	Explanation string   `json:"explanation"`
}

// ParsePhishingAssessment reads a structured reply first and falls back to
// phrase matching over the free text.
func ParsePhishingAssessment(text string) PhishingAssessment {
	for _, candidate := range jsonCandidates(text) {
		var raw rawPhishing
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		conf, ok := toConfidence(raw.Confidence)
		if !ok {
			continue
		}
		return PhishingAssessment{
			Confidence:  conf,
			Indicators:  raw.Indicators,
			Explanation: raw.Explanation,
		}
	}
	return phrasePhishingAssessment(text)
}

func toConfidence(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

func phrasePhishingAssessment(text string) PhishingAssessment {
	lower := strings.ToLower(text)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	conf := 0.5
	switch {
	case has("high likelihood", "definitely phishing"):
		conf = 0.9
	case has("moderate likelihood", "possibly phishing"):
		conf = 0.6
	case has("low likelihood", "probably not phishing"):
		conf = 0.2
	}

	indicators := []string{}
	if has("suspicious url") {
		indicators = append(indicators, "Suspicious URL structure")
	}
	if has("sensitive information") {
		indicators = append(indicators, "Collecting sensitive information")
	}
	if has("grammar") && has("error", "poor") {
		indicators = append(indicators, "Poor grammar or spelling")
	}
	if has("impersonat") {
		indicators = append(indicators, "Potential brand impersonation")
	}
	if has("urgency", "threat") {
		indicators = append(indicators, "Creating false sense of urgency")
	}

	return PhishingAssessment{
		Confidence:  conf,
		Indicators:  indicators,
		Explanation: msgPhishingHeuristic,
		Degraded:    true,
	}
}
