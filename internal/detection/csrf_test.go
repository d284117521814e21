package detection

import (
	"context"
	"testing"

	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postForm = `<html><body><form method="post" action="/transfer"><input name="amount"></form></body></html>`

func TestCSRFDetector_UnprotectedPostForm(t *testing.T) {
	t.Parallel()

	d := NewCSRFDetector(nil, nil, quietLogger())
	out := d.Scan(context.Background(), "https://bank.example/", postForm, nil)

	require.Len(t, out.Vulnerabilities, 1)
	f := out.Vulnerabilities[0]
	assert.Equal(t, "Missing CSRF Protection", f.Type)
	assert.Equal(t, "Forms found with no apparent CSRF protection", f.Description)
	assert.Equal(t, "No CSRF tokens, headers, or SameSite cookie attributes detected", f.Details)
	assert.Equal(t, models.RiskMedium, out.RiskLevel)
}

func TestCSRFDetector_Protections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		headers map[string][]string
	}{
		{
			name: "hidden token",
			body: `<form method="POST"><input type="hidden" name="csrfmiddlewaretoken" value="x"></form>`,
		},
		{
			name: "meta tag",
			body: `<html><head><meta name="csrf-token" content="abc"></head><body>` + postForm + `</body></html>`,
		},
		{
			name:    "header",
			body:    postForm,
			headers: map[string][]string{"x-csrf-token": {"abc"}},
		},
		{
			name:    "samesite cookie",
			body:    postForm,
			headers: map[string][]string{"Set-Cookie": {"sid=1; Path=/; samesite=lax"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCSRFDetector(nil, nil, quietLogger())
			out := d.Scan(context.Background(), "https://bank.example/", tt.body, tt.headers)
			assert.Empty(t, out.Vulnerabilities)
			assert.Equal(t, models.RiskLow, out.RiskLevel)
		})
	}
}

func TestCSRFDetector_GetFormsIgnored(t *testing.T) {
	t.Parallel()

	adv := &stubAdvisor{}
	d := NewCSRFDetector(nil, adv, quietLogger())
	out := d.Scan(context.Background(), "https://example.com/", `<form action="/search"><input name="q"></form>`, nil)

	assert.Empty(t, out.Vulnerabilities)
	assert.Equal(t, models.RiskLow, out.RiskLevel)
	assert.Zero(t, adv.csrfCalls)
}

func TestCSRFDetector_AIContextAndHighTier(t *testing.T) {
	t.Parallel()

	adv := &stubAdvisor{csrf: ai.Assessment{
		Analysis:  "state change without token",
		RiskLevel: models.RiskHigh,
		Findings:  []models.Finding{},
	}}
	d := NewCSRFDetector(nil, adv, quietLogger())
	body := `<form method="post" id="pay"><input type="text" name="to" value="bob"></form>` +
		`<form method="delete"><input type="hidden" name="id" value="1"></form>`
	out := d.Scan(context.Background(), "https://example.com/", body, nil)

	require.Equal(t, 1, adv.csrfCalls)
	require.Len(t, adv.lastCSRF.Forms, 2)
	assert.Equal(t, "pay", adv.lastCSRF.Forms[0].ID)
	assert.Equal(t, "form_1", adv.lastCSRF.Forms[1].ID)
	assert.Equal(t, "DELETE", adv.lastCSRF.Forms[1].Method)
	assert.Equal(t, []ai.FormInput{{Name: "to", Type: "text", Value: "bob"}}, adv.lastCSRF.Forms[0].Inputs)
	assert.False(t, adv.lastCSRF.HasCSRFToken)
	assert.Equal(t, models.RiskHigh, out.RiskLevel)
	assert.Equal(t, "state change without token", out.AIAnalysis)
}
