package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const summaryTemplate = "summary.tmpl"

type Formatter interface {
	Format(scan *models.ScanResult) ([]byte, error)
	FileExtension() string
}

// ReportGenerator renders scan documents in the registered formats.
type ReportGenerator struct {
	formatters map[string]Formatter
	templates  *TemplateManager
	logger     *logrus.Logger
	mu         sync.RWMutex
}

func NewReportGenerator(logger *logrus.Logger) *ReportGenerator {
	if logger == nil {
		logger = logrus.New()
	}

	tm := NewTemplateManager(templateFuncs)
	if err := tm.Register(summaryTemplate, defaultSummary); err != nil {
		panic(err)
	}

	rg := &ReportGenerator{
		formatters: make(map[string]Formatter),
		templates:  tm,
		logger:     logger,
	}
	rg.RegisterFormatter("text", &TextFormatter{templates: tm})
	rg.RegisterFormatter("json", &JSONFormatter{})
	rg.RegisterFormatter("yaml", &YAMLFormatter{})
	return rg
}

func (rg *ReportGenerator) Templates() *TemplateManager {
	return rg.templates
}

func (rg *ReportGenerator) RegisterFormatter(name string, formatter Formatter) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.formatters[name] = formatter
}

func (rg *ReportGenerator) SupportedFormats() []string {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	names := make([]string, 0, len(rg.formatters))
	for k := range rg.formatters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (rg *ReportGenerator) Render(scan *models.ScanResult, format string) ([]byte, error) {
	rg.mu.RLock()
	formatter, exists := rg.formatters[format]
	rg.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}

	data, err := formatter.Format(scan)
	if err != nil {
		return nil, fmt.Errorf("failed to format report: %w", err)
	}
	return data, nil
}

// Export renders scan and writes it to path through a temp file. An empty
// extension on path gets the formatter's extension appended.
func (rg *ReportGenerator) Export(scan *models.ScanResult, format, path string) (string, error) {
	data, err := rg.Render(scan, format)
	if err != nil {
		return "", err
	}
	if filepath.Ext(path) == "" {
		rg.mu.RLock()
		path += rg.formatters[format].FileExtension()
		rg.mu.RUnlock()
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	rg.logger.Infof("Report exported to %s", path)
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".report_*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// snapshot returns a private copy of scan so formatters can read it without
// holding its lock.
func snapshot(scan *models.ScanResult) (*models.ScanResult, error) {
	data, err := json.Marshal(scan)
	if err != nil {
		return nil, err
	}
	var cp models.ScanResult
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

type JSONFormatter struct{}

func (JSONFormatter) Format(scan *models.ScanResult) ([]byte, error) {
	return json.MarshalIndent(scan, "", "  ")
}

func (JSONFormatter) FileExtension() string { return ".json" }

type YAMLFormatter struct{}

func (YAMLFormatter) Format(scan *models.ScanResult) ([]byte, error) {
	cp, err := snapshot(scan)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cp); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLFormatter) FileExtension() string { return ".yaml" }

type TextFormatter struct {
	templates *TemplateManager
}

func (f *TextFormatter) Format(scan *models.ScanResult) ([]byte, error) {
	cp, err := snapshot(scan)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.templates.MustGet(summaryTemplate).Execute(&buf, cp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *TextFormatter) FileExtension() string { return ".txt" }

var templateFuncs = template.FuncMap{
	"duration": func(secs *float64) string {
		if secs == nil {
			return "-"
		}
		return utils.HumanizeDuration(time.Duration(*secs * float64(time.Second)))
	},
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	},
	"upper": strings.ToUpper,
	"join":  strings.Join,
	"details": func(v any) string {
		if v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	},
}

const defaultSummary = `Scan {{.ID}}
Target:   {{.TargetURL}}
Status:   {{.Status}}{{if .Error}} ({{.Error}}){{end}}
Started:  {{timestamp .StartTime}}
Duration: {{duration .Duration}}

Overall risk: {{upper (print .Results.Overview.RiskLevel)}}
Findings: {{.Results.Overview.TotalVulnerabilities}} (critical {{.Results.Overview.Critical}}, high {{.Results.Overview.High}}, medium {{.Results.Overview.Medium}}, low {{.Results.Overview.Low}})
URLs scanned: {{len .Results.URLsScanned}}
{{- with .Results.SafeBrowsing}}

Safe Browsing: {{if .Skipped}}skipped{{else if not .Success}}failed: {{.Error}}{{else if .Threats}}{{len .Threats}} threat(s){{range .Threats}}
  - {{.ThreatType}} on {{.PlatformType}}{{end}}{{else}}no threats found{{end}}
{{- end}}
{{- range $url, $o := .Results.XSS}}{{if $o.Vulnerabilities}}

[XSS {{$o.RiskLevel}}] {{$url}}{{range $o.Vulnerabilities}}
  - {{.Type}}: {{.Description}}{{with details .Details}}
      {{.}}{{end}}{{end}}{{end}}{{end}}
{{- range $url, $o := .Results.CSRF}}{{if $o.Vulnerabilities}}

[CSRF {{$o.RiskLevel}}] {{$url}}{{range $o.Vulnerabilities}}
  - {{.Type}}: {{.Description}}{{end}}{{end}}{{end}}
{{- range $url, $o := .Results.Phishing}}{{if $o.RiskFactors}}

[Phishing {{$o.RiskLevel}}] {{$url}}{{range $o.RiskFactors}}
  - {{.}}{{end}}{{end}}{{end}}
`
