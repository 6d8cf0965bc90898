package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// QueryPolicy controls how the query string takes part in deduplication.
type QueryPolicy string

const (
	QueryKeep  QueryPolicy = "keep"
	QuerySort  QueryPolicy = "sort"
	QueryStrip QueryPolicy = "strip"
)

// ParseQueryPolicy validates a policy name. Empty means keep.
func ParseQueryPolicy(s string) (QueryPolicy, error) {
	switch p := QueryPolicy(strings.ToLower(s)); p {
	case "":
		return QueryKeep, nil
	case QueryKeep, QuerySort, QueryStrip:
		return p, nil
	default:
		return "", fmt.Errorf("unknown query policy %q", s)
	}
}

// Normalizer canonicalizes URLs so that equivalent spellings share one
// dedupe key.
type Normalizer struct {
	Query QueryPolicy
}

// Normalize returns a canonical copy of u: fragment removed, scheme and host
// lower-cased, default port dropped, empty path set to "/", and the query
// handled per policy. Under QueryStrip the returned URL has no query.
func (n Normalizer) Normalize(u *url.URL) *url.URL {
	out := *u
	out.User = nil
	out.Fragment = ""
	out.RawFragment = ""
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = normalizeHost(out.Scheme, out.Host)
	if out.Path == "" {
		out.Path = "/"
		out.RawPath = ""
	}

	switch n.Query {
	case QueryStrip:
		out.RawQuery = ""
		out.ForceQuery = false
	case QuerySort:
		if out.RawQuery != "" {
			// Encode sorts by key; values keep their original order.
			out.RawQuery = out.Query().Encode()
		}
	}
	return &out
}

// Key returns the dedupe key for u.
func (n Normalizer) Key(u *url.URL) string {
	return n.Normalize(u).String()
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
