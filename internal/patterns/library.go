// Package patterns holds the static detection tables shared by every
// detector. Everything here is built once at init and never mutated.
package patterns

import (
	"regexp"
	"strings"
)

type NamedPattern struct {
	Name string
	Re   *regexp.Regexp
}

// BrandLookalike matches hosts that mention a brand before a ".com" which is
// not the brand's own ".<brand>.com". The brand's real domain and its
// subdomains never match.
type BrandLookalike struct {
	Brand string
}

type Library struct {
	CSRFTokenNames       []string
	JSSinks              []NamedPattern
	DOMXSSPatterns       []NamedPattern
	SanitizerNames       []string
	HandlerSourceMarkers []string
	BrandLookalikes      []BrandLookalike
	GenericLookalikes    []NamedPattern
	Typosquats           map[string]string
	TrustedBrands        []string
	SuspiciousPathTerms  []string
}

func mustNamed(pairs ...string) []NamedPattern {
	out := make([]NamedPattern, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, NamedPattern{Name: pairs[i], Re: regexp.MustCompile(`(?i)` + pairs[i+1])})
	}
	return out
}

var defaultLibrary = &Library{
	CSRFTokenNames: []string{
		"csrf", "csrf_token", "csrftoken", "csrfmiddlewaretoken",
		"authenticity_token", "_token", "token", "xsrf", "nonce",
	},
	JSSinks: mustNamed(
		"eval (", `eval\s*\(`,
		"document.write (", `document\.write\s*\(`,
		"innerHTML =", `innerHTML\s*=`,
		"outerHTML =", `outerHTML\s*=`,
		"insertAdjacentHTML (", `insertAdjacentHTML\s*\(`,
		"document.execCommand (", `document\.execCommand\s*\(`,
		"window.location", `window\.location`,
		"document.URL", `document\.URL`,
		"document.documentURI", `document\.documentURI`,
		"document.location", `document\.location`,
		"location.href", `location\.href`,
		"location.search", `location\.search`,
		"location.hash", `location\.hash`,
	),
	DOMXSSPatterns: mustNamed(
		"getElementById().innerHTML =", `document\.getElementById\s*\([^)]*\)\.innerHTML\s*=`,
		"getElementById().outerHTML =", `document\.getElementById\s*\([^)]*\)\.outerHTML\s*=`,
		"$().html(", `\$\s*\([^)]*\)\.html\s*\(`,
		".html( location", `\.html\s*\(.*location`,
		".html( document.URL", `\.html\s*\(.*document\.URL`,
		".html( document.documentURI", `\.html\s*\(.*document\.documentURI`,
		".html( document.location", `\.html\s*\(.*document\.location`,
		"document.write( location", `document\.write\s*\(.*location`,
		"document.write( document.URL", `document\.write\s*\(.*document\.URL`,
		"document.write( document.documentURI", `document\.write\s*\(.*document\.documentURI`,
		"document.write( document.location", `document\.write\s*\(.*document\.location`,
	),
	SanitizerNames:       []string{"encodeURIComponent", "escapeHTML", "sanitize", "DOMPurify"},
	HandlerSourceMarkers: []string{"location", "URL", "document.cookie"},
	BrandLookalikes: []BrandLookalike{
		newBrandLookalike("paypal"),
		newBrandLookalike("google"),
		newBrandLookalike("facebook"),
		newBrandLookalike("apple"),
		newBrandLookalike("microsoft"),
		newBrandLookalike("amazon"),
	},
	GenericLookalikes: mustNamed(
		"secure bank", `secure.*bank`,
		"verify account", `verify.*account`,
		"login secure", `login.*secure`,
	),
	Typosquats: map[string]string{
		"paypa1":   "paypal",
		"g00gle":   "google",
		"faceb00k": "facebook",
		"micosoft": "microsoft",
		"amaz0n":   "amazon",
	},
	TrustedBrands: []string{"paypal", "google", "facebook", "microsoft", "apple", "amazon", "bank"},
	SuspiciousPathTerms: []string{
		"login", "signin", "verify", "validation", "authenticate", "password", "credential", "secure",
	},
}

// Default returns the process-wide library. Callers must treat it as read-only.
func Default() *Library {
	return defaultLibrary
}

func newBrandLookalike(brand string) BrandLookalike {
	return BrandLookalike{Brand: brand}
}

func (b BrandLookalike) Match(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	official := b.Brand + ".com"
	if host == official || strings.HasSuffix(host, "."+official) {
		return false
	}
	own := "." + official
	for from := 0; from < len(host); {
		i := strings.Index(host[from:], b.Brand)
		if i < 0 {
			return false
		}
		brandEnd := from + i + len(b.Brand)
		// Any ".com" after this occurrence can close the match.
		for pos := brandEnd; pos < len(host); {
			j := strings.Index(host[pos:], ".com")
			if j < 0 {
				break
			}
			end := pos + j + len(".com")
			if !strings.HasPrefix(host[end:], own) {
				return true
			}
			pos += j + 1
		}
		from += i + 1
	}
	return false
}

// MatchLookalike reports whether host matches any brand or generic
// lookalike pattern.
func (l *Library) MatchLookalike(host string) bool {
	for _, b := range l.BrandLookalikes {
		if b.Match(host) {
			return true
		}
	}
	for _, p := range l.GenericLookalikes {
		if p.Re.MatchString(host) {
			return true
		}
	}
	return false
}

// CountMatches returns, per pattern name, how many times it matched across
// bodies. Patterns that never match are omitted.
func CountMatches(patterns []NamedPattern, bodies []string) map[string]int {
	counts := make(map[string]int)
	for _, p := range patterns {
		n := 0
		for _, body := range bodies {
			n += len(p.Re.FindAllStringIndex(body, -1))
		}
		if n > 0 {
			counts[p.Name] = n
		}
	}
	return counts
}

// IsCSRFTokenName reports whether name contains a known CSRF token name,
// case-insensitively.
func (l *Library) IsCSRFTokenName(name string) bool {
	name = strings.ToLower(name)
	if name == "" {
		return false
	}
	for _, t := range l.CSRFTokenNames {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}

func (l *Library) MentionsSanitizer(script string) bool {
	for _, s := range l.SanitizerNames {
		if strings.Contains(script, s) {
			return true
		}
	}
	return false
}

func (l *Library) ReferencesSource(handler string) bool {
	for _, m := range l.HandlerSourceMarkers {
		if strings.Contains(handler, m) {
			return true
		}
	}
	return false
}
