package detection

import (
	"context"

	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
)

type stubAdvisor struct {
	xss      ai.Assessment
	csrf     ai.Assessment
	phishing ai.PhishingAssessment

	xssCalls      int
	csrfCalls     int
	phishingCalls int
	lastXSS       ai.XSSContext
	lastCSRF      ai.CSRFContext
	lastPhishing  ai.PhishingContext
}

func (s *stubAdvisor) AssessXSS(_ context.Context, c ai.XSSContext) ai.Assessment {
	s.xssCalls++
	s.lastXSS = c
	return s.xss
}

func (s *stubAdvisor) AssessCSRF(_ context.Context, c ai.CSRFContext) ai.Assessment {
	s.csrfCalls++
	s.lastCSRF = c
	return s.csrf
}

func (s *stubAdvisor) AssessPhishing(_ context.Context, c ai.PhishingContext) ai.PhishingAssessment {
	s.phishingCalls++
	s.lastPhishing = c
	return s.phishing
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func findingTypes(o *models.PageScanOutcome) []string {
	var out []string
	for _, f := range o.Vulnerabilities {
		out = append(out, f.Type)
	}
	return out
}
