// Package config handles run configuration: defaults, YAML files and
// validation.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"stampede/internal/collector"
	"stampede/internal/template"

	"gopkg.in/yaml.v3"
)

// Mode selects the work source.
type Mode string

const (
	ModeDiscover Mode = "discover"
	ModeSingle   Mode = "single"
	ModeFile     Mode = "file"
)

// Dedupe query policies used when normalizing discovered URLs.
const (
	QueryKeep  = "keep"
	QuerySort  = "sort"
	QueryStrip = "strip"
)

// MinTimeout is the lower bound for both connect and total timeouts.
const MinTimeout = 50 * time.Millisecond

// DefaultRequests applies to single and file mode runs that set neither a
// request count nor a duration.
const DefaultRequests = 1000

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodTrace:   true,
	http.MethodPatch:   true,
}

// ConfigError reports an invalid configuration value. Always fatal, detected
// before any request is issued.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func fieldErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// BasicAuth holds credentials sent with every request.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RunConfig is the immutable configuration for one run.
type RunConfig struct {
	// Target is the seed URL, or the URL list path in file mode.
	Target string `yaml:"target"`

	Mode        Mode     `yaml:"mode"`
	Method      string   `yaml:"method"`
	Concurrency int      `yaml:"concurrency"`
	MaxRequests int      `yaml:"requests"`
	Duration    Duration `yaml:"duration"`

	ConnectTimeout Duration `yaml:"connect_timeout"`
	Timeout        Duration `yaml:"timeout"`

	Headers   map[string]string `yaml:"headers"`
	Body      string            `yaml:"body"`
	BasicAuth *BasicAuth        `yaml:"basic_auth,omitempty"`
	UserAgent string            `yaml:"user_agent"`

	DisableCompression bool `yaml:"disable_compression"`
	FollowRedirects    bool `yaml:"follow_redirects"`
	Insecure           bool `yaml:"insecure"`

	AllowedDomains    []string `yaml:"domains"`
	PreventDuplicates bool     `yaml:"prevent_duplicates"`
	DedupeQuery       string   `yaml:"dedupe_query"`

	RandomArguments bool `yaml:"random_arguments"`
	Verbose         bool `yaml:"verbose"`
	NoDelayedStart  bool `yaml:"no_delayed_start"`
	Quiet           bool `yaml:"quiet"`

	// Rate caps issued requests per second across all workers; 0 disables.
	Rate int `yaml:"rate"`

	Output           string   `yaml:"output"`
	ProgressInterval Duration `yaml:"progress_interval"`
	MetricsAddr      string   `yaml:"metrics_addr"`
	LogLevel         string   `yaml:"log_level"`
	LogFormat        string   `yaml:"log_format"`

	Thresholds *collector.Thresholds `yaml:"thresholds,omitempty"`

	// URLs holds the loaded URL list in file mode.
	URLs []string `yaml:"-"`
}

// Default returns a RunConfig populated with the built-in defaults.
func Default() *RunConfig {
	return &RunConfig{
		Mode:             ModeDiscover,
		Method:           http.MethodGet,
		Concurrency:      2,
		ConnectTimeout:   Duration(1000 * time.Millisecond),
		Timeout:          Duration(3000 * time.Millisecond),
		DedupeQuery:      QueryKeep,
		Output:           "text",
		ProgressInterval: Duration(time.Second),
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadConfig reads a YAML configuration file and applies it on top of the
// built-in defaults.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Normalize fills values derived from other fields. Call before Validate.
func (c *RunConfig) Normalize() {
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	c.Mode = Mode(strings.ToLower(string(c.Mode)))
	if c.DedupeQuery == "" {
		c.DedupeQuery = QueryKeep
	}
	if c.MaxRequests == 0 && c.Duration == 0 && c.Mode != ModeDiscover {
		c.MaxRequests = DefaultRequests
	}
}

// Validate checks every field and returns the joined ConfigErrors.
func (c *RunConfig) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeDiscover, ModeSingle, ModeFile:
	default:
		errs = append(errs, fieldErr("mode", "unknown mode %q (use discover, single or file)", c.Mode))
	}

	if !allowedMethods[c.Method] {
		errs = append(errs, fieldErr("method", "unsupported method %q", c.Method))
	}

	if c.Concurrency < 1 {
		errs = append(errs, fieldErr("concurrency", "must be >= 1, got %d", c.Concurrency))
	}

	if c.ConnectTimeout.Std() < MinTimeout {
		errs = append(errs, fieldErr("connect timeout", "must be at least %v, got %v", MinTimeout, c.ConnectTimeout))
	}
	if c.Timeout.Std() < MinTimeout {
		errs = append(errs, fieldErr("timeout", "must be at least %v, got %v", MinTimeout, c.Timeout))
	}

	if c.MaxRequests < 0 {
		errs = append(errs, fieldErr("requests", "must not be negative"))
	} else if c.MaxRequests > 0 && c.MaxRequests < c.Concurrency {
		errs = append(errs, fieldErr("requests",
			"number of requests (%d) must be greater than or equal to the number of concurrent requests (%d)",
			c.MaxRequests, c.Concurrency))
	}

	if c.Duration < 0 {
		errs = append(errs, fieldErr("duration", "must not be negative"))
	}

	if c.PreventDuplicates && c.Mode != ModeDiscover {
		errs = append(errs, fieldErr("prevent duplicates", "only supported in discover mode"))
	}

	switch c.DedupeQuery {
	case QueryKeep, QuerySort, QueryStrip:
	default:
		errs = append(errs, fieldErr("dedupe query", "unknown policy %q (use keep, sort or strip)", c.DedupeQuery))
	}

	if c.Output != "text" && c.Output != "json" {
		errs = append(errs, fieldErr("output", "must be 'text' or 'json', got %q", c.Output))
	}

	if c.Rate < 0 {
		errs = append(errs, fieldErr("rate", "must not be negative"))
	}

	if c.ProgressInterval < 0 {
		errs = append(errs, fieldErr("progress interval", "must not be negative"))
	}

	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, &ConfigError{Field: "thresholds", Err: err})
	}

	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		errs = append(errs, fieldErr("basic auth", "username must not be empty"))
	}

	for name, value := range c.Headers {
		if name == "" || strings.ContainsAny(name, " \t\r\n:") {
			errs = append(errs, fieldErr("header", "invalid header name %q", name))
		}
		if _, err := template.Parse(value); err != nil {
			errs = append(errs, &ConfigError{Field: "header " + name, Err: err})
		}
	}

	if _, err := template.Parse(c.Body); err != nil {
		errs = append(errs, &ConfigError{Field: "body", Err: err})
	}

	switch c.Mode {
	case ModeFile:
		if len(c.URLs) == 0 {
			errs = append(errs, fieldErr("url file", "no valid URLs found in %s", c.Target))
		}
		for _, u := range c.URLs {
			if err := ValidateURLTemplate(u); err != nil {
				errs = append(errs, &ConfigError{Field: "url", Err: err})
			}
		}
	case ModeDiscover, ModeSingle:
		if err := ValidateURLTemplate(c.Target); err != nil {
			errs = append(errs, &ConfigError{Field: "url", Err: err})
		}
	}

	return errors.Join(errs...)
}

// ValidateURLTemplate parses raw as a template and checks that its sample
// rendering is an absolute http(s) URL with a host.
func ValidateURLTemplate(raw string) error {
	t, err := template.Parse(raw)
	if err != nil {
		return err
	}
	_, err = ParseTargetURL(t.Sample())
	return err
}

// ParseTargetURL parses an absolute http or https URL.
func ParseTargetURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return u, nil
}

// Hosts returns the distinct hosts of the configured targets in first-seen
// order: the seed host, or every listed host in file mode.
func (c *RunConfig) Hosts() []string {
	var raws []string
	if c.Mode == ModeFile {
		raws = c.URLs
	} else {
		raws = []string{c.Target}
	}

	seen := make(map[string]bool)
	var hosts []string
	for _, raw := range raws {
		t, err := template.Parse(raw)
		if err != nil {
			continue
		}
		u, err := ParseTargetURL(t.Sample())
		if err != nil {
			continue
		}
		h := strings.ToLower(u.Hostname())
		if !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	return hosts
}
