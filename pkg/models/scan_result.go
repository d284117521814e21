package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusError     ScanStatus = "error"
)

const ScanTypeFull = "full"

var ErrInvalidTransition = errors.New("invalid scan status transition")

func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

type Overview struct {
	RiskLevel            RiskLevel `json:"risk_level" yaml:"risk_level"`
	TotalVulnerabilities int       `json:"total_vulnerabilities" yaml:"total_vulnerabilities"`
	Critical             int       `json:"critical" yaml:"critical"`
	High                 int       `json:"high" yaml:"high"`
	Medium               int       `json:"medium" yaml:"medium"`
	Low                  int       `json:"low" yaml:"low"`
}

type Results struct {
	XSS          map[string]*PageScanOutcome `json:"xss" yaml:"xss"`
	CSRF         map[string]*PageScanOutcome `json:"csrf" yaml:"csrf"`
	URLsScanned  []string                    `json:"urls_scanned" yaml:"urls_scanned"`
	Overview     Overview                    `json:"overview" yaml:"overview"`
	Phishing     map[string]*PhishingOutcome `json:"phishing,omitempty" yaml:"phishing,omitempty"`
	SafeBrowsing *ThreatReport               `json:"safe_browsing,omitempty" yaml:"safe_browsing,omitempty"`
}

// ScanResult is the state of one scan. The orchestrator is its only writer
// while the scan runs; readers go through the locked accessors.
type ScanResult struct {
	mu sync.RWMutex

	ID        string     `json:"id" yaml:"id"`
	TargetURL string     `json:"target_url" yaml:"target_url"`
	ScanType  string     `json:"scan_type" yaml:"scan_type"`
	StartTime time.Time  `json:"start_time" yaml:"start_time"`
	EndTime   *time.Time `json:"end_time" yaml:"end_time"`
	Duration  *float64   `json:"duration" yaml:"duration"`
	Status    ScanStatus `json:"status" yaml:"status"`
	Results   Results    `json:"results" yaml:"results"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

type Progress struct {
	URLsScanned int `json:"urls_scanned"`
	XSSResults  int `json:"xss_results"`
	CSRFResults int `json:"csrf_results"`
}

func NewScanResult(id, targetURL string, now time.Time) *ScanResult {
	return &ScanResult{
		ID:        id,
		TargetURL: targetURL,
		ScanType:  ScanTypeFull,
		StartTime: now,
		Status:    StatusPending,
		Results: Results{
			XSS:         make(map[string]*PageScanOutcome),
			CSRF:        make(map[string]*PageScanOutcome),
			URLsScanned: []string{},
			Overview:    Overview{RiskLevel: RiskUnknown},
		},
	}
}

func (s *ScanResult) MarshalJSON() ([]byte, error) {
	type plain ScanResult
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal((*plain)(s))
}

// UnmarshalJSON accepts start and end times with or without a zone offset,
// so documents written by older releases still load.
func (s *ScanResult) UnmarshalJSON(data []byte) error {
	type plain ScanResult
	aux := struct {
		*plain
		StartTime Timestamp  `json:"start_time"`
		EndTime   *Timestamp `json:"end_time"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.StartTime = aux.StartTime.Time
	s.EndTime = nil
	if aux.EndTime != nil {
		end := aux.EndTime.Time
		s.EndTime = &end
	}
	return nil
}

func (s *ScanResult) CurrentStatus() ScanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

func (s *ScanResult) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Error
}

func (s *ScanResult) CurrentOverview() Overview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Results.Overview
}

func (s *ScanResult) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Progress{
		URLsScanned: len(s.Results.URLsScanned),
		XSSResults:  len(s.Results.XSS),
		CSRFResults: len(s.Results.CSRF),
	}
}

func (s *ScanResult) MarkRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusRunning)
	}
	s.Status = StatusRunning
	return nil
}

// MarkError moves a running scan to error. Accumulated results are kept.
func (s *ScanResult) MarkError(msg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusError)
	}
	s.Status = StatusError
	s.Error = msg
	s.stamp(now)
	return nil
}

// Finalize derives the overview from the XSS and CSRF maps, stamps the end
// time and completes the scan.
func (s *ScanResult) Finalize(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusCompleted)
	}
	s.Results.Overview = DeriveOverview(&s.Results)
	s.stamp(now)
	s.Status = StatusCompleted
	return nil
}

func (s *ScanResult) stamp(now time.Time) {
	end := now
	d := end.Sub(s.StartTime).Seconds()
	s.EndTime = &end
	s.Duration = &d
}

// AddScannedURL records u once, keeping first-seen order.
func (s *ScanResult) AddScannedURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Results.URLsScanned {
		if existing == u {
			return
		}
	}
	s.Results.URLsScanned = append(s.Results.URLsScanned, u)
}

func (s *ScanResult) SetXSS(u string, o *PageScanOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results.XSS[u] = o
}

func (s *ScanResult) SetCSRF(u string, o *PageScanOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results.CSRF[u] = o
}

func (s *ScanResult) SetPhishing(u string, o *PhishingOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Results.Phishing == nil {
		s.Results.Phishing = make(map[string]*PhishingOutcome)
	}
	s.Results.Phishing[u] = o
}

func (s *ScanResult) SetSafeBrowsing(r *ThreatReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results.SafeBrowsing = r
}

// DeriveOverview buckets every XSS and CSRF finding by the tier of the
// outcome that holds it. Phishing outcomes do not contribute.
func DeriveOverview(r *Results) Overview {
	ov := Overview{RiskLevel: RiskLow}
	tally := func(outcomes map[string]*PageScanOutcome) {
		for _, o := range outcomes {
			if o == nil {
				continue
			}
			n := len(o.Vulnerabilities)
			ov.TotalVulnerabilities += n
			switch o.RiskLevel {
			case RiskCritical:
				ov.Critical += n
			case RiskHigh:
				ov.High += n
			case RiskMedium:
				ov.Medium += n
			default:
				ov.Low += n
			}
		}
	}
	tally(r.XSS)
	tally(r.CSRF)

	switch {
	case ov.Critical > 0:
		ov.RiskLevel = RiskCritical
	case ov.High > 0:
		ov.RiskLevel = RiskHigh
	case ov.Medium > 0:
		ov.RiskLevel = RiskMedium
	}
	return ov
}
