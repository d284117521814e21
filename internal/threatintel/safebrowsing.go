package threatintel

import (
	"context"
	"fmt"
	"time"

	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	safebrowsing "google.golang.org/api/safebrowsing/v4"
)

const (
	ClientID      = "muninn-web-security-scanner"
	ClientVersion = "1.0.0"
)

var (
	threatTypes      = []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION"}
	platformTypes    = []string{"ANY_PLATFORM"}
	threatEntryTypes = []string{"URL"}

	threatRecommendations = []string{
		"Leave this website immediately",
		"Do not download any files or enter any information",
		"Consider running a malware scan on your device",
	}
)

// SafeBrowsing looks URLs up in the Google Safe Browsing v4 threat lists.
// A client built without an API key reports every lookup as skipped.
type SafeBrowsing struct {
	svc     *safebrowsing.Service
	timeout time.Duration
	metrics *utils.MetricsCollector
	logger  *logrus.Logger
}

func NewSafeBrowsing(ctx context.Context, apiKey string, timeout time.Duration, metrics *utils.MetricsCollector, logger *logrus.Logger, opts ...option.ClientOption) (*SafeBrowsing, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sb := &SafeBrowsing{timeout: timeout, metrics: metrics, logger: logger}
	if apiKey == "" {
		return sb, nil
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := safebrowsing.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create safe browsing client: %w", err)
	}
	sb.svc = svc
	return sb, nil
}

func (s *SafeBrowsing) Enabled() bool {
	return s != nil && s.svc != nil
}

// Check never fails; lookup errors are reported in the returned report.
func (s *SafeBrowsing) Check(ctx context.Context, target string) *models.ThreatReport {
	if !s.Enabled() {
		return &models.ThreatReport{
			Success: false,
			Skipped: true,
			Error:   "Safe Browsing API key not configured",
			Threats: []models.ThreatMatch{},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := &safebrowsing.GoogleSecuritySafebrowsingV4FindThreatMatchesRequest{
		Client: &safebrowsing.GoogleSecuritySafebrowsingV4ClientInfo{
			ClientId:      ClientID,
			ClientVersion: ClientVersion,
		},
		ThreatInfo: &safebrowsing.GoogleSecuritySafebrowsingV4ThreatInfo{
			ThreatTypes:      threatTypes,
			PlatformTypes:    platformTypes,
			ThreatEntryTypes: threatEntryTypes,
			ThreatEntries: []*safebrowsing.GoogleSecuritySafebrowsingV4ThreatEntry{
				{Url: target},
			},
		},
	}

	resp, err := s.svc.ThreatMatches.Find(req).Context(ctx).Do()
	if err != nil {
		s.metrics.IncCounter(utils.MetricCollaboratorFailures, 1, prometheus.Labels{"collaborator": "safe_browsing"})
		s.logger.Warnf("Safe Browsing lookup for %s failed: %v", target, err)
		return &models.ThreatReport{
			Success: false,
			Error:   err.Error(),
			Threats: []models.ThreatMatch{},
		}
	}

	report := &models.ThreatReport{Success: true, Threats: []models.ThreatMatch{}}
	for _, m := range resp.Matches {
		if m == nil {
			continue
		}
		report.Threats = append(report.Threats, models.ThreatMatch{
			ThreatType:      orUnknown(m.ThreatType),
			PlatformType:    orUnknown(m.PlatformType),
			ThreatEntryType: orUnknown(m.ThreatEntryType),
		})
	}
	if report.HasThreats() {
		report.Recommendations = append([]string(nil), threatRecommendations...)
		s.logger.Warnf("Safe Browsing reports %d threat(s) for %s", len(report.Threats), target)
	}
	return report
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
