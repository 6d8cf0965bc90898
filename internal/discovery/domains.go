package discovery

import "strings"

// DomainMatcher decides whether a discovered host may be followed.
//
// Patterns are "*" (any host), "*.example.com" (example.com and every
// subdomain of it) or an exact host name. Matching is case-insensitive and
// ignores ports.
type DomainMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainMatcher builds a matcher from patterns. Empty entries are skipped.
func NewDomainMatcher(patterns ...string) *DomainMatcher {
	m := &DomainMatcher{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case p == "*":
			m.any = true
		case strings.HasPrefix(p, "*."):
			apex := strings.TrimPrefix(p, "*.")
			m.exact[apex] = struct{}{}
			m.suffixes = append(m.suffixes, "."+apex)
		default:
			m.exact[p] = struct{}{}
		}
	}
	return m
}

// Allow reports whether host matches any pattern.
func (m *DomainMatcher) Allow(host string) bool {
	if m.any {
		return true
	}
	host = stripPort(strings.ToLower(host))
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i >= 0 {
			return host[1:i]
		}
		return host
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 && strings.Count(host, ":") == 1 {
		return host[:i]
	}
	return host
}
