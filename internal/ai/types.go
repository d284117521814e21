package ai

import "github.com/bl4ck0w1/muninn/pkg/models"

// XSSContext is the condensed page summary sent for XSS review.
type XSSContext struct {
	URL           string            `json:"url"`
	Scripts       []string          `json:"scripts"`
	InputCount    int               `json:"input_count"`
	FormCount     int               `json:"form_count"`
	EventHandlers []string          `json:"event_handlers"`
	URLParams     map[string]string `json:"url_params"`
	JSSinks       map[string]int    `json:"js_sinks"`
	DOMPatterns   map[string]int    `json:"dom_patterns"`
}

type FormInput struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

type FormSummary struct {
	ID           string      `json:"id"`
	Action       string      `json:"action"`
	Method       string      `json:"method"`
	Inputs       []FormInput `json:"inputs"`
	HasCSRFToken bool        `json:"has_csrf_token"`
}

// CSRFContext is the condensed page summary sent for CSRF review.
type CSRFContext struct {
	URL             string        `json:"url"`
	Forms           []FormSummary `json:"forms"`
	HasCSRFToken    bool          `json:"has_csrf_token"`
	CSRFHeaders     bool          `json:"csrf_headers"`
	SameSiteCookies bool          `json:"same_site_cookies"`
}

// LoginFormContext describes a password-bearing form and the page text
// around it.
type LoginFormContext struct {
	Action          string      `json:"action"`
	Method          string      `json:"method"`
	Fields          []FormInput `json:"fields"`
	SurroundingText string      `json:"surrounding_text"`
}

type PhishingContext struct {
	URL   string             `json:"url"`
	Forms []LoginFormContext `json:"forms"`
}

// Assessment is the typed result of an XSS or CSRF review.
type Assessment struct {
	Analysis  string
	RiskLevel models.RiskLevel
	Findings  []models.Finding
	// Degraded is set when the answer came from a fallback rather than
	// from a parsed model response.
	Degraded bool
}

type PhishingAssessment struct {
	Confidence  float64
	Indicators  []string
	Explanation string
	Degraded    bool
}
