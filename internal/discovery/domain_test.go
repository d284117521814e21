package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com", "example.com"},
		{"https://WWW.Example.COM/path?q=1", "example.com"},
		{"http://a.b.example.co.uk:8080/", "example.co.uk"},
		{"https://foo.github.io/x", "foo.github.io"},
		{"http://127.0.0.1:5000/", "127.0.0.1"},
		{"http://localhost/", "localhost"},
	}
	for _, tt := range tests {
		got, err := RegistrableDomain(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}

func TestRegistrableDomain_Invalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "example.com", "ftp://example.com/", "http://", "://bad", "javascript:alert(1)"} {
		_, err := RegistrableDomain(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestSameSite(t *testing.T) {
	t.Parallel()
	assert.True(t, SameSite("https://blog.example.com/a", "http://EXAMPLE.com/b"))
	assert.False(t, SameSite("https://example.com", "https://evil.com"))
	assert.False(t, SameSite("https://example.com", "not a url"))
}

func TestSubdomainLabels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"paypal", "login"}, SubdomainLabels("paypal.login.evil.com"))
	assert.Nil(t, SubdomainLabels("example.com"))
	assert.Nil(t, SubdomainLabels("10.0.0.1"))
}
