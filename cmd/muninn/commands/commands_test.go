package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bl4ck0w1/muninn/internal/reporting"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig(t *testing.T) *models.Config {
	cfg := models.DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Metrics.Enabled = false
	cfg.ThreatIntel.Enabled = false
	return cfg
}

func TestNewApp_WithoutAIKeyRunsLocally(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.AI.Enabled = true
	cfg.AI.APIKey = ""

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	advisor, err := a.newAdvisor(context.Background())
	require.NoError(t, err)
	assert.Nil(t, advisor)
	assert.Nil(t, a.threats)
	assert.NotNil(t, a.scanner)
	assert.Equal(t, cfg.Storage.Path, a.store.Dir())

	out := a.detectors.Phishing.Analyze(context.Background(), "https://www.example.com/", "")
	assert.Equal(t, "AI analysis not configured", a.detectors.XSS.Scan(context.Background(), "https://www.example.com/", "<p>x</p>").AIAnalysis)
	assert.Equal(t, models.RiskLow, out.RiskLevel)
}

func TestNewApp_ThreatIntelWithoutKeyIsSkipped(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.AI.Enabled = false
	cfg.ThreatIntel.Enabled = true

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.threats)
	report := a.threats.Check(context.Background(), "https://www.example.com/")
	assert.True(t, report.Skipped)
	assert.False(t, report.Success)
}

func TestSupportsFormat(t *testing.T) {
	rg := reporting.NewReportGenerator(nil)
	assert.True(t, supportsFormat(rg, "json"))
	assert.True(t, supportsFormat(rg, "text"))
	assert.False(t, supportsFormat(rg, "pdf"))
}

func TestMaskSecret(t *testing.T) {
	s := "supersecretvalue"
	maskSecret(&s)
	assert.Equal(t, "su****ue", s)

	empty := ""
	maskSecret(&empty)
	assert.Empty(t, empty)
}

func TestNewReportGenerator_AppliesTemplateOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.tmpl"), []byte("custom report for {{.TargetURL}}\n"), 0o644))

	cfg := offlineConfig(t)
	cfg.Reporting.TemplatesDir = dir
	rg, err := newReportGenerator(cfg, nil)
	require.NoError(t, err)

	scan := models.NewScanResult("a", "https://example.com/", time.Now())
	out, err := rg.Render(scan, "text")
	require.NoError(t, err)
	assert.Equal(t, "custom report for https://example.com/\n", string(out))
}

func TestNewReportGenerator_BadTemplateDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.tmpl"), []byte("{{.Broken"), 0o644))

	cfg := offlineConfig(t)
	cfg.Reporting.TemplatesDir = dir
	_, err := newReportGenerator(cfg, nil)
	assert.Error(t, err)

	cfg.Reporting.TemplatesDir = filepath.Join(dir, "missing")
	_, err = newReportGenerator(cfg, nil)
	assert.Error(t, err)
}
