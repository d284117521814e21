package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrandLookalike(t *testing.T) {
	t.Parallel()
	lib := Default()
	tests := []struct {
		host string
		want bool
	}{
		{"paypal-login.com", true},
		{"secure-paypal.com.evil.net", true},
		{"paypal.com.paypal.com", false},
		{"paypal.com", false},
		{"www.paypal.com", false},
		{"accounts.google.com", false},
		{"google-support.com", true},
		{"amazon.example.com", true},
		{"example.com", false},
		{"mysecure-bank.net", true},
		{"verify-your-account.io", true},
		{"login-secure.net", true},
		{"secure-login.net", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lib.MatchLookalike(tt.host), tt.host)
	}
}

func TestCountMatches(t *testing.T) {
	t.Parallel()
	bodies := []string{
		"eval(x); EVAL (y); el.innerHTML = location.hash;",
		"document.write(document.URL)",
	}
	sinks := CountMatches(Default().JSSinks, bodies)
	assert.Equal(t, 2, sinks["eval ("])
	assert.Equal(t, 1, sinks["innerHTML ="])
	assert.Equal(t, 1, sinks["location.hash"])
	assert.Equal(t, 1, sinks["document.write ("])
	assert.Equal(t, 1, sinks["document.URL"])
	assert.NotContains(t, sinks, "outerHTML =")

	dom := CountMatches(Default().DOMXSSPatterns, bodies)
	assert.Equal(t, 1, dom["document.write( document.URL"])
	assert.Empty(t, CountMatches(Default().DOMXSSPatterns, []string{"var a = 1;"}))
}

func TestIsCSRFTokenName(t *testing.T) {
	t.Parallel()
	lib := Default()
	for _, name := range []string{"csrf_token", "CSRFMiddlewareToken", "authenticity_token", "_xsrf", "form_nonce"} {
		assert.True(t, lib.IsCSRFTokenName(name), name)
	}
	for _, name := range []string{"", "username", "email"} {
		assert.False(t, lib.IsCSRFTokenName(name), name)
	}
}

func TestSanitizerAndSourceMarkers(t *testing.T) {
	t.Parallel()
	lib := Default()
	assert.True(t, lib.MentionsSanitizer("x = DOMPurify.sanitize(y)"))
	assert.False(t, lib.MentionsSanitizer("x = y"))
	assert.True(t, lib.ReferencesSource("go(document.cookie)"))
	assert.True(t, lib.ReferencesSource("window.location = x"))
	assert.False(t, lib.ReferencesSource("alert(1)"))
}
