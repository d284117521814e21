package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Global      GlobalConfig      `yaml:"global" json:"global"`
	Crawler     CrawlerConfig     `yaml:"crawler" json:"crawler"`
	Scan        ScanConfig        `yaml:"scan" json:"scan"`
	AI          AIConfig          `yaml:"ai" json:"ai"`
	ThreatIntel ThreatIntelConfig `yaml:"threat_intel" json:"threat_intel"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	API         APIConfig         `yaml:"api" json:"api"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Reporting   ReportingConfig   `yaml:"reporting" json:"reporting"`
}

type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	LogFile   string `yaml:"log_file" json:"log_file"`
	Debug     bool   `yaml:"debug" json:"debug"`
}

type CrawlerConfig struct {
	MaxDepth     int           `yaml:"max_depth" json:"max_depth"`
	MaxURLs      int           `yaml:"max_urls" json:"max_urls"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	Delay        time.Duration `yaml:"delay" json:"delay"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	MaxRedirects int           `yaml:"max_redirects" json:"max_redirects"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
}

type ScanConfig struct {
	URLDelay      time.Duration `yaml:"url_delay" json:"url_delay"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	AutoStart     bool          `yaml:"autostart" json:"autostart"`
}

type AIConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type ThreatIntelConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type StorageConfig struct {
	Path      string        `yaml:"path" json:"path"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

type APIConfig struct {
	Host    string        `yaml:"host" json:"host"`
	Port    int           `yaml:"port" json:"port"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
}

type AuthConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	JWTSecret         string        `yaml:"jwt_secret" json:"-"`
	AdminPasswordHash string        `yaml:"admin_password_hash" json:"-"`
	TokenTTL          time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ReportingConfig tunes report rendering. TemplatesDir holds *.tmpl files
// that replace the built-in templates of the same name. RiskWeights
// overrides quick-scan score weights by key: a phishing risk level, "xss",
// "csrf" or "threat".
type ReportingConfig struct {
	TemplatesDir string         `yaml:"templates_dir" json:"templates_dir"`
	RiskWeights  map[string]int `yaml:"risk_weights,omitempty" json:"risk_weights,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Crawler: CrawlerConfig{
			MaxDepth:     3,
			MaxURLs:      15,
			Timeout:      30 * time.Second,
			Delay:        500 * time.Millisecond,
			UserAgent:    "Muninn Security Scanner/1.0",
			MaxRedirects: 10,
			MaxBodyBytes: 5 << 20,
		},
		Scan: ScanConfig{
			URLDelay:      200 * time.Millisecond,
			MaxConcurrent: 4,
			AutoStart:     true,
		},
		AI: AIConfig{
			Enabled: true,
			Model:   "gemini-2.0-flash-lite",
			Timeout: 20 * time.Second,
		},
		ThreatIntel: ThreatIntelConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path: "./scan_results",
		},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    5000,
			Timeout: 30 * time.Second,
			Auth: AuthConfig{
				TokenTTL: 24 * time.Hour,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// SetViperDefaults registers every key of DefaultConfig on v, along with the
// legacy environment variables for the API keys.
func SetViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("global.log_level", d.Global.LogLevel)
	v.SetDefault("global.log_format", d.Global.LogFormat)
	v.SetDefault("global.log_file", d.Global.LogFile)
	v.SetDefault("global.debug", d.Global.Debug)

	v.SetDefault("crawler.max_depth", d.Crawler.MaxDepth)
	v.SetDefault("crawler.max_urls", d.Crawler.MaxURLs)
	v.SetDefault("crawler.timeout", d.Crawler.Timeout)
	v.SetDefault("crawler.delay", d.Crawler.Delay)
	v.SetDefault("crawler.user_agent", d.Crawler.UserAgent)
	v.SetDefault("crawler.max_redirects", d.Crawler.MaxRedirects)
	v.SetDefault("crawler.max_body_bytes", d.Crawler.MaxBodyBytes)

	v.SetDefault("scan.url_delay", d.Scan.URLDelay)
	v.SetDefault("scan.max_concurrent", d.Scan.MaxConcurrent)
	v.SetDefault("scan.autostart", d.Scan.AutoStart)

	v.SetDefault("ai.enabled", d.AI.Enabled)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.timeout", d.AI.Timeout)

	v.SetDefault("threat_intel.enabled", d.ThreatIntel.Enabled)
	v.SetDefault("threat_intel.api_key", "")
	v.SetDefault("threat_intel.timeout", d.ThreatIntel.Timeout)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.retention", d.Storage.Retention)

	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.auth.enabled", d.API.Auth.Enabled)
	v.SetDefault("api.auth.jwt_secret", "")
	v.SetDefault("api.auth.admin_password_hash", "")
	v.SetDefault("api.auth.token_ttl", d.API.Auth.TokenTTL)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("reporting.templates_dir", d.Reporting.TemplatesDir)

	_ = v.BindEnv("ai.api_key", "MUNINN_AI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("threat_intel.api_key", "MUNINN_THREAT_INTEL_API_KEY", "SAFE_BROWSING_API_KEY")
}

// FromViper builds a Config from the keys registered by SetViperDefaults.
func FromViper(v *viper.Viper) *Config {
	var weights map[string]int
	_ = v.UnmarshalKey("reporting.risk_weights", &weights)

	return &Config{
		Global: GlobalConfig{
			LogLevel:  v.GetString("global.log_level"),
			LogFormat: v.GetString("global.log_format"),
			LogFile:   v.GetString("global.log_file"),
			Debug:     v.GetBool("global.debug"),
		},
		Crawler: CrawlerConfig{
			MaxDepth:     v.GetInt("crawler.max_depth"),
			MaxURLs:      v.GetInt("crawler.max_urls"),
			Timeout:      v.GetDuration("crawler.timeout"),
			Delay:        v.GetDuration("crawler.delay"),
			UserAgent:    v.GetString("crawler.user_agent"),
			MaxRedirects: v.GetInt("crawler.max_redirects"),
			MaxBodyBytes: v.GetInt64("crawler.max_body_bytes"),
		},
		Scan: ScanConfig{
			URLDelay:      v.GetDuration("scan.url_delay"),
			MaxConcurrent: v.GetInt("scan.max_concurrent"),
			AutoStart:     v.GetBool("scan.autostart"),
		},
		AI: AIConfig{
			Enabled: v.GetBool("ai.enabled"),
			APIKey:  v.GetString("ai.api_key"),
			Model:   v.GetString("ai.model"),
			Timeout: v.GetDuration("ai.timeout"),
		},
		ThreatIntel: ThreatIntelConfig{
			Enabled: v.GetBool("threat_intel.enabled"),
			APIKey:  v.GetString("threat_intel.api_key"),
			Timeout: v.GetDuration("threat_intel.timeout"),
		},
		Storage: StorageConfig{
			Path:      v.GetString("storage.path"),
			Retention: v.GetDuration("storage.retention"),
		},
		API: APIConfig{
			Host:    v.GetString("api.host"),
			Port:    v.GetInt("api.port"),
			Timeout: v.GetDuration("api.timeout"),
			Auth: AuthConfig{
				Enabled:           v.GetBool("api.auth.enabled"),
				JWTSecret:         v.GetString("api.auth.jwt_secret"),
				AdminPasswordHash: v.GetString("api.auth.admin_password_hash"),
				TokenTTL:          v.GetDuration("api.auth.token_ttl"),
			},
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
		Reporting: ReportingConfig{
			TemplatesDir: v.GetString("reporting.templates_dir"),
			RiskWeights:  weights,
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Global.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "global.log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, "global.log_format must be text or json")
	}

	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, "crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxURLs <= 0 {
		errs = append(errs, "crawler.max_urls must be > 0")
	}
	if c.Crawler.Timeout <= 0 {
		errs = append(errs, "crawler.timeout must be > 0")
	}
	if c.Crawler.Delay < 0 {
		errs = append(errs, "crawler.delay must be >= 0")
	}
	if c.Crawler.UserAgent == "" {
		errs = append(errs, "crawler.user_agent must not be empty")
	}
	if c.Crawler.MaxRedirects < 0 {
		errs = append(errs, "crawler.max_redirects must be >= 0")
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		errs = append(errs, "crawler.max_body_bytes must be > 0")
	}

	if c.Scan.URLDelay < 0 {
		errs = append(errs, "scan.url_delay must be >= 0")
	}
	if c.Scan.MaxConcurrent <= 0 {
		errs = append(errs, "scan.max_concurrent must be > 0")
	}

	if c.AI.Enabled {
		if c.AI.Model == "" {
			errs = append(errs, "ai.model must not be empty when AI is enabled")
		}
		if c.AI.Timeout <= 0 {
			errs = append(errs, "ai.timeout must be > 0 when AI is enabled")
		}
	}
	if c.ThreatIntel.Enabled && c.ThreatIntel.Timeout <= 0 {
		errs = append(errs, "threat_intel.timeout must be > 0 when threat intel is enabled")
	}

	if c.Storage.Path == "" {
		errs = append(errs, "storage.path must not be empty")
	}
	if c.Storage.Retention < 0 {
		errs = append(errs, "storage.retention must be >= 0")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be in 1..65535")
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, "api.timeout must be > 0")
	}
	if c.API.Auth.Enabled {
		if len(c.API.Auth.JWTSecret) < 32 {
			errs = append(errs, "api.auth.jwt_secret must be at least 32 bytes when auth is enabled")
		}
		if c.API.Auth.TokenTTL <= 0 {
			errs = append(errs, "api.auth.token_ttl must be > 0 when auth is enabled")
		}
	}

	for k, w := range c.Reporting.RiskWeights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("reporting.risk_weights.%s must be >= 0", k))
		}
		if !validWeightKey(k) {
			errs = append(errs, fmt.Sprintf("reporting.risk_weights.%s is not a known weight", k))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validWeightKey(k string) bool {
	switch strings.ToLower(k) {
	case "xss", "csrf", "threat":
		return true
	}
	return ParseRiskLevel(k) != RiskUnknown
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}

	return c.Validate()
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
