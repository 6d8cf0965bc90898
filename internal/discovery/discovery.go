// Package discovery turns fetched HTML pages into new work items for the
// crawl frontier.
package discovery

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"stampede/internal/core"
)

// Pusher accepts discovered work. *source.Frontier satisfies it.
type Pusher interface {
	Push(items ...core.WorkItem)
}

// Page is a fetched response handed to the engine.
type Page struct {
	// URL is the final URL after redirects; links resolve against it.
	URL         *url.URL
	StatusCode  int
	ContentType string
	Body        []byte
}

// Config configures an Engine.
type Config struct {
	// SeedHost is always followable.
	SeedHost string
	// AllowedDomains are additional host patterns, see DomainMatcher.
	AllowedDomains []string
	// PreventDuplicates enables the visited set.
	PreventDuplicates bool
	Query             QueryPolicy

	// Template carries the method, headers and body applied to every
	// discovered item.
	Template core.WorkItem
}

// Engine extracts, filters, deduplicates and enqueues links.
type Engine struct {
	extractor  LinkExtractor
	normalizer Normalizer
	domains    *DomainMatcher
	seedHost   string
	visited    *VisitedSet
	template   core.WorkItem
	out        Pusher
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtractor replaces the default HTML extractor.
func WithExtractor(x LinkExtractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine pushing accepted links to out.
func NewEngine(cfg Config, out Pusher, opts ...Option) *Engine {
	e := &Engine{
		extractor:  HTMLExtractor{},
		normalizer: Normalizer{Query: cfg.Query},
		domains:    NewDomainMatcher(cfg.AllowedDomains...),
		seedHost:   strings.ToLower(cfg.SeedHost),
		template:   cfg.Template,
		out:        out,
		logger:     zap.NewNop(),
	}
	if cfg.PreventDuplicates {
		e.visited = NewVisitedSet()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MarkVisited inserts a seed URL into the visited set so it is not fetched
// twice. It is a no-op when duplicates are allowed.
func (e *Engine) MarkVisited(raw string) {
	if e.visited == nil {
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	e.visited.Add(e.normalizer.Key(u))
}

// Visited returns the visited set, nil when duplicates are allowed.
func (e *Engine) Visited() *VisitedSet { return e.visited }

// Wants reports whether a response with this status and content type is
// worth parsing. Callers use it to decide whether to keep the body.
func Wants(statusCode int, contentType string) bool {
	return statusCode >= 200 && statusCode < 300 && IsHTML(contentType)
}

// Discover extracts links from p and enqueues the accepted ones in document
// order. It returns the number of items enqueued.
func (e *Engine) Discover(p Page) int {
	if !Wants(p.StatusCode, p.ContentType) || p.URL == nil {
		return 0
	}

	links, err := e.extractor.ExtractLinks(p.Body, p.ContentType, p.URL)
	if err != nil {
		e.logger.Debug("link extraction failed",
			zap.String("url", p.URL.String()), zap.Error(err))
		return 0
	}

	origin := strings.ToLower(p.URL.Hostname())
	var accepted []core.WorkItem
	for _, link := range links {
		if !e.followable(link.Hostname()) {
			continue
		}
		norm := e.normalizer.Normalize(link)
		if e.visited != nil && !e.visited.Add(norm.String()) {
			continue
		}

		item := e.template
		item.URL = norm.String()
		item.Literal = true
		item.Origin = origin
		accepted = append(accepted, item)
	}

	e.logger.Debug("links discovered",
		zap.String("url", p.URL.String()),
		zap.Int("found", len(links)),
		zap.Int("enqueued", len(accepted)))

	e.out.Push(accepted...)
	return len(accepted)
}

func (e *Engine) followable(host string) bool {
	return strings.EqualFold(host, e.seedHost) || e.domains.Allow(host)
}
