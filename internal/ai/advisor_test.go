package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	prompts []string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func TestAdvisor_AssessXSS(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{reply: `{"analysis":"ok","risk_level":"High","vulnerabilities":[{"type":"t","description":"d"}]}`}
	a := NewAdvisor(gen, time.Second, nil, nil)

	res := a.AssessXSS(context.Background(), XSSContext{
		URL:     "https://example.com/?q=1",
		Scripts: []string{"eval(location.hash)"},
		JSSinks: map[string]int{"eval (": 1},
	})
	assert.Equal(t, models.RiskHigh, res.RiskLevel)
	require.Len(t, res.Findings, 1)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "https://example.com/?q=1")
	assert.Contains(t, gen.prompts[0], "eval(location.hash)")
	assert.Contains(t, gen.prompts[0], `"risk_level": "Low/Medium/High"`)
}

func TestAdvisor_ErrorFallbacks(t *testing.T) {
	t.Parallel()
	a := NewAdvisor(&stubGenerator{err: errors.New("quota exceeded")}, time.Second, nil, nil)

	res := a.AssessCSRF(context.Background(), CSRFContext{URL: "https://example.com"})
	assert.True(t, res.Degraded)
	assert.Equal(t, "AI analysis error: quota exceeded", res.Analysis)
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
	assert.Empty(t, res.Findings)

	p := a.AssessPhishing(context.Background(), PhishingContext{URL: "https://example.com"})
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)
	assert.Equal(t, []string{"Unable to perform full AI analysis"}, p.Indicators)
	assert.Equal(t, "Error in AI analysis service. Using fallback analysis.", p.Explanation)
}

func TestAdvisor_TimeoutDegrades(t *testing.T) {
	t.Parallel()
	a := NewAdvisor(&stubGenerator{delay: time.Second}, 20*time.Millisecond, nil, nil)

	start := time.Now()
	res := a.AssessXSS(context.Background(), XSSContext{URL: "https://example.com"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, res.Degraded)
	assert.True(t, strings.HasPrefix(res.Analysis, "AI analysis error:"))
}

func TestAdvisor_NoGenerator(t *testing.T) {
	t.Parallel()
	a := NewAdvisor(nil, 0, nil, nil)
	res := a.AssessXSS(context.Background(), XSSContext{})
	assert.Equal(t, "AI analysis error: AI model not configured", res.Analysis)
}

func TestBuildPhishingPrompt(t *testing.T) {
	t.Parallel()
	prompt := buildPhishingPrompt(PhishingContext{
		URL: "https://paypa1.com/login",
		Forms: []LoginFormContext{{
			Action: "/auth", Method: "post",
			Fields:          []FormInput{{Name: "pw", Type: "password"}},
			SurroundingText: "Your account is locked...",
		}},
	})
	assert.Contains(t, prompt, "The URL is: https://paypa1.com/login")
	assert.Contains(t, prompt, `"surrounding_text": "Your account is locked..."`)
	assert.Contains(t, prompt, "phishing_confidence")
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewGeminiGenerator(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
