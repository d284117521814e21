package discovery

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var ErrInvalidURL = errors.New("invalid URL")

// ParseTarget parses raw as an absolute http(s) URL with a host. The
// fragment is dropped.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// RegistrableDomain returns the public-suffix-aware domain+suffix of the
// URL's host, e.g. "a.b.example.co.uk" -> "example.co.uk".
func RegistrableDomain(rawURL string) (string, error) {
	u, err := ParseTarget(rawURL)
	if err != nil {
		return "", err
	}
	return RegistrableDomainOfHost(u.Hostname()), nil
}

// RegistrableDomainOfHost handles bare hosts. IP literals, single-label
// hosts and hosts that are themselves public suffixes map to themselves.
func RegistrableDomainOfHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func SameSite(a, b string) bool {
	da, err := RegistrableDomain(a)
	if err != nil {
		return false
	}
	db, err := RegistrableDomain(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(da, db)
}

// SubdomainLabels returns the labels of host in front of its registrable
// domain, outermost first.
func SubdomainLabels(host string) []string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	reg := RegistrableDomainOfHost(host)
	if reg == host {
		return nil
	}
	prefix := strings.TrimSuffix(strings.TrimSuffix(host, reg), ".")
	if prefix == "" {
		return nil
	}
	return strings.Split(prefix, ".")
}
