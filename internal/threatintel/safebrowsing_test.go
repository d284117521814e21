package threatintel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *SafeBrowsing {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sb, err := NewSafeBrowsing(context.Background(), "test-key", 2*time.Second, nil, quietLogger(),
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return sb
}

func TestSafeBrowsing_NoKeyIsSkipped(t *testing.T) {
	t.Parallel()

	sb, err := NewSafeBrowsing(context.Background(), "", 0, nil, quietLogger())
	require.NoError(t, err)
	assert.False(t, sb.Enabled())

	report := sb.Check(context.Background(), "https://example.com/")
	assert.False(t, report.Success)
	assert.True(t, report.Skipped)
	assert.Equal(t, "Safe Browsing API key not configured", report.Error)
	assert.NotNil(t, report.Threats)
	assert.Empty(t, report.Threats)
}

func TestSafeBrowsing_Matches(t *testing.T) {
	t.Parallel()

	var got map[string]any
	sb := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v4/threatMatches:find", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[{"threatType":"SOCIAL_ENGINEERING","platformType":"ANY_PLATFORM","threatEntryType":"URL","threat":{"url":"https://bad.example/"}}]}`))
	})

	report := sb.Check(context.Background(), "https://bad.example/")
	require.True(t, report.Success)
	require.Len(t, report.Threats, 1)
	assert.Equal(t, "SOCIAL_ENGINEERING", report.Threats[0].ThreatType)
	assert.Equal(t, "ANY_PLATFORM", report.Threats[0].PlatformType)
	assert.Equal(t, "URL", report.Threats[0].ThreatEntryType)
	assert.NotEmpty(t, report.Recommendations)

	client, _ := got["client"].(map[string]any)
	assert.Equal(t, ClientID, client["clientId"])
	assert.Equal(t, ClientVersion, client["clientVersion"])
}

func TestSafeBrowsing_NoMatches(t *testing.T) {
	t.Parallel()

	sb := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	report := sb.Check(context.Background(), "https://example.com/")
	assert.True(t, report.Success)
	assert.Empty(t, report.Threats)
	assert.Empty(t, report.Recommendations)
	assert.False(t, report.HasThreats())
}

func TestSafeBrowsing_ErrorIsSoft(t *testing.T) {
	t.Parallel()

	sb := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})

	report := sb.Check(context.Background(), "https://example.com/")
	assert.False(t, report.Success)
	assert.False(t, report.Skipped)
	assert.NotEmpty(t, report.Error)
	assert.Empty(t, report.Threats)
}
