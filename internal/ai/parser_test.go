package ai

import (
	"testing"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssessment_FencedJSON(t *testing.T) {
	t.Parallel()
	reply := "Here you go:\n```json\n{\"analysis\":\"eval on user data\",\"risk_level\":\"high\",\"vulnerabilities\":[{\"type\":\"DOM XSS\",\"description\":\"hash flows to innerHTML\",\"details\":{\"line\":3},\"remediation\":\"use textContent\"}]}\n```\nThanks"

	a := ParseAssessment(reply)
	assert.False(t, a.Degraded)
	assert.Equal(t, models.RiskHigh, a.RiskLevel)
	assert.Equal(t, "eval on user data", a.Analysis)
	require.Len(t, a.Findings, 1)
	assert.Equal(t, "DOM XSS", a.Findings[0].Type)
	assert.Equal(t, "use textContent", a.Findings[0].Remediation)
	assert.Equal(t, map[string]any{"line": 3.0}, a.Findings[0].Details)
}

func TestParseAssessment_BareAndEmbeddedJSON(t *testing.T) {
	t.Parallel()
	a := ParseAssessment(`{"analysis":"fine","risk_level":"Low","vulnerabilities":[]}`)
	assert.Equal(t, models.RiskLow, a.RiskLevel)
	assert.Empty(t, a.Findings)

	a = ParseAssessment(`My verdict is {"analysis":"meh","risk_level":"Medium"} overall.`)
	assert.False(t, a.Degraded)
	assert.Equal(t, models.RiskMedium, a.RiskLevel)
	assert.Equal(t, "meh", a.Analysis)
}

func TestParseAssessment_UnknownRiskDefaultsToMedium(t *testing.T) {
	t.Parallel()
	a := ParseAssessment(`{"analysis":"x","risk_level":"severe"}`)
	assert.Equal(t, models.RiskMedium, a.RiskLevel)
}

func TestParseAssessment_Garbage(t *testing.T) {
	t.Parallel()
	a := ParseAssessment("I think the page is mostly fine.")
	assert.True(t, a.Degraded)
	assert.Equal(t, "AI analysis failed to parse the JSON response", a.Analysis)
	assert.Equal(t, models.RiskMedium, a.RiskLevel)
	assert.Empty(t, a.Findings)
}

func TestParsePhishingAssessment_JSON(t *testing.T) {
	t.Parallel()
	p := ParsePhishingAssessment("```json\n{\"phishing_confidence\": 0.82, \"indicators\": [\"Brand mismatch\"], \"explanation\": \"looks fake\"}\n```")
	assert.False(t, p.Degraded)
	assert.InDelta(t, 0.82, p.Confidence, 1e-9)
	assert.Equal(t, []string{"Brand mismatch"}, p.Indicators)
	assert.Equal(t, "looks fake", p.Explanation)
}

func TestParsePhishingAssessment_PercentAndString(t *testing.T) {
	t.Parallel()
	p := ParsePhishingAssessment(`{"phishing_confidence": "75"}`)
	assert.InDelta(t, 0.75, p.Confidence, 1e-9)
}

func TestParsePhishingAssessment_PhraseFallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		conf float64
	}{
		{"This is definitely phishing.", 0.9},
		{"There is a moderate likelihood of fraud.", 0.6},
		{"Probably not phishing at all.", 0.2},
		{"Hard to say.", 0.5},
	}
	for _, tt := range tests {
		p := ParsePhishingAssessment(tt.text)
		assert.True(t, p.Degraded, tt.text)
		assert.InDelta(t, tt.conf, p.Confidence, 1e-9, tt.text)
		assert.Equal(t, "Analysis based on form context and URL examination.", p.Explanation)
	}

	p := ParsePhishingAssessment("Suspicious URL, asks for sensitive information, poor grammar, impersonates a bank and creates urgency.")
	assert.Equal(t, []string{
		"Suspicious URL structure",
		"Collecting sensitive information",
		"Poor grammar or spelling",
		"Potential brand impersonation",
		"Creating false sense of urgency",
	}, p.Indicators)
}
