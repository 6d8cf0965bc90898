package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var durationPattern = regexp.MustCompile(`^(\d+)([smhdMy])$`)

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"M": 30 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour,
}

// Duration is a time.Duration that accepts the <n>[smhdMy] shorthand in
// addition to Go duration strings.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses run durations such as 10s, 5m, 2h, 1d, 1M (30 days)
// or 1y (365 days). Go duration strings like 1m30s are accepted too.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if m := durationPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fieldErr("duration", "invalid time format %q", s)
		}
		unit := durationUnits[m[2]]
		if n > int64(1<<63-1)/int64(unit) {
			return 0, fieldErr("duration", "%q is too large", s)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fieldErr("duration", "invalid time format %q (examples: 60s, 10m, 2h)", s)
	}
	return d, nil
}

// ParseHeaders parses "Key: Value" strings into a map. The value may contain
// further colons.
func ParseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	headers := make(map[string]string, len(raw))
	var errs []error
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			errs = append(errs, fieldErr("header", "%q must have the form Key: Value", h))
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return headers, nil
}

// ParseBasicAuth parses "user" or "user:password".
func ParseBasicAuth(raw string) (*BasicAuth, error) {
	if raw == "" {
		return nil, nil
	}
	user, pass, _ := strings.Cut(raw, ":")
	if user == "" {
		return nil, fieldErr("basic auth", "should be username:password or username")
	}
	return &BasicAuth{Username: user, Password: pass}, nil
}

// ParseDomains splits comma separated allowed-domain arguments.
func ParseDomains(raw []string) []string {
	var domains []string
	for _, r := range raw {
		for _, d := range strings.Split(r, ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				domains = append(domains, d)
			}
		}
	}
	return domains
}

// URLFileIssue describes a skipped line of a URL file.
type URLFileIssue struct {
	Line int
	Text string
	Err  error
}

// LoadURLFile reads one URL per line. Blank lines and lines starting with #
// are ignored; invalid lines are skipped and reported through issues.
func LoadURLFile(path string) (urls []string, issues []URLFileIssue, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ConfigError{Field: "url file", Err: err}
	}
	defer f.Close()

	urls, issues, err = ReadURLs(f)
	if err != nil {
		return nil, issues, &ConfigError{Field: "url file", Err: fmt.Errorf("reading %s: %w", path, err)}
	}
	if len(urls) == 0 {
		return nil, issues, fieldErr("url file", "no valid URLs found in %s", path)
	}
	return urls, issues, nil
}

// ReadURLs parses a URL list from r.
func ReadURLs(r io.Reader) ([]string, []URLFileIssue, error) {
	var (
		urls   []string
		issues []URLFileIssue
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := ValidateURLTemplate(text); err != nil {
			issues = append(issues, URLFileIssue{Line: line, Text: text, Err: err})
			continue
		}
		urls = append(urls, text)
	}
	return urls, issues, scanner.Err()
}
