package collector

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"stampede/internal/core"
)

// Thresholds are the pass/fail criteria of a run, loaded from the YAML run
// file. Any violation makes the CLI exit with code 1.
type Thresholds struct {
	HTTPReqDuration *DurationThresholds `yaml:"http_req_duration"`
	HTTPReqFailed   *FailureThresholds  `yaml:"http_req_failed"`

	// HTTPStatus caps the share of responses per status class, keyed "2xx"
	// through "5xx", e.g. {"5xx": "1%"}.
	HTTPStatus map[string]string `yaml:"http_status"`

	// RequestsPerSec is a lower bound on mean throughput.
	RequestsPerSec *float64 `yaml:"http_reqs_per_sec"`
}

// DurationThresholds are latency ceilings. Zero fields are not checked.
type DurationThresholds struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
}

// FailureThresholds cap the transport failure rate, overall and per kind.
type FailureThresholds struct {
	Rate  string                      `yaml:"rate"`
	Kinds map[core.FailureKind]string `yaml:"kinds"`
}

// ThresholdResult is the outcome of one check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults holds every check of a run in evaluation order.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

func (r *ThresholdResults) add(name string, passed bool, threshold, actual string) {
	if !passed {
		r.Passed = false
	}
	r.Results = append(r.Results, ThresholdResult{
		Name:      name,
		Passed:    passed,
		Threshold: threshold,
		Actual:    actual,
	})
}

// Check evaluates t against m. A nil t passes with no results.
func (t *Thresholds) Check(m *Metrics) *ThresholdResults {
	results := &ThresholdResults{Passed: true}
	if t == nil {
		return results
	}
	results.Results = make([]ThresholdResult, 0)

	if t.HTTPReqDuration != nil {
		results.checkLatency(t.HTTPReqDuration, m.Duration)
	}
	if t.HTTPReqFailed != nil {
		results.checkFailures(t.HTTPReqFailed, m)
	}
	if len(t.HTTPStatus) > 0 {
		results.checkStatusClasses(t.HTTPStatus, m)
	}
	if t.RequestsPerSec != nil && *t.RequestsPerSec > 0 {
		floor := *t.RequestsPerSec
		results.add("http_reqs_per_sec", m.RequestsPerSec >= floor,
			fmt.Sprintf(">= %.1f", floor), fmt.Sprintf("%.1f", m.RequestsPerSec))
	}
	return results
}

func (r *ThresholdResults) checkLatency(limits *DurationThresholds, actual DurationMetrics) {
	for _, c := range []struct {
		name  string
		limit time.Duration
		got   time.Duration
	}{
		{"avg", limits.Avg, actual.Avg},
		{"p50", limits.P50, actual.P50},
		{"p90", limits.P90, actual.P90},
		{"p95", limits.P95, actual.P95},
		{"p99", limits.P99, actual.P99},
	} {
		if c.limit == 0 {
			continue
		}
		r.add("http_req_duration."+c.name, c.got < c.limit,
			FormatDuration(c.limit), FormatDuration(c.got))
	}
}

func (r *ThresholdResults) checkFailures(limits *FailureThresholds, m *Metrics) {
	if limits.Rate != "" {
		r.checkRate("http_req_failed.rate", limits.Rate, m.ErrorRate)
	}
	for _, kind := range core.FailureKinds {
		ceiling, ok := limits.Kinds[kind]
		if !ok {
			continue
		}
		r.checkRate("http_req_failed."+string(kind), ceiling, share(m.FailuresByKind[kind], m.TotalRequests))
	}
}

func (r *ThresholdResults) checkStatusClasses(limits map[string]string, m *Metrics) {
	classes := make([]string, 0, len(limits))
	for class := range limits {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		digit, _ := statusClass(class)
		var n int64
		for code, count := range m.StatusCodes {
			if code/100 == digit {
				n += count
			}
		}
		r.checkRate("http_status."+class, limits[class], share(n, m.TotalRequests))
	}
}

// checkRate compares a percentage against a "<n>%" ceiling. Malformed
// ceilings are rejected by Validate and skipped here.
func (r *ThresholdResults) checkRate(name, ceiling string, actual float64) {
	limit, err := parsePercentage(ceiling)
	if err != nil {
		return
	}
	r.add(name, actual < limit, ceiling, fmt.Sprintf("%.2f%%", actual))
}

func share(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Validate reports malformed threshold values.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	var errs []error
	if f := t.HTTPReqFailed; f != nil {
		if f.Rate != "" {
			if _, err := parsePercentage(f.Rate); err != nil {
				errs = append(errs, fmt.Errorf("http_req_failed.rate: %w", err))
			}
		}
		for kind, ceiling := range f.Kinds {
			if !knownKind(kind) {
				errs = append(errs, fmt.Errorf("http_req_failed: unknown failure kind %q", kind))
				continue
			}
			if _, err := parsePercentage(ceiling); err != nil {
				errs = append(errs, fmt.Errorf("http_req_failed.%s: %w", kind, err))
			}
		}
	}
	for class, ceiling := range t.HTTPStatus {
		if _, ok := statusClass(class); !ok {
			errs = append(errs, fmt.Errorf("http_status: unknown status class %q (use 1xx to 5xx)", class))
			continue
		}
		if _, err := parsePercentage(ceiling); err != nil {
			errs = append(errs, fmt.Errorf("http_status.%s: %w", class, err))
		}
	}
	return errors.Join(errs...)
}

func knownKind(kind core.FailureKind) bool {
	for _, k := range core.FailureKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// statusClass maps "4xx" to 4.
func statusClass(s string) (int, bool) {
	s = strings.ToLower(s)
	if len(s) != 3 || s[1:] != "xx" || s[0] < '1' || s[0] > '5' {
		return 0, false
	}
	return int(s[0] - '0'), true
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	num, ok := strings.CutSuffix(s, "%")
	if !ok {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	return strconv.ParseFloat(num, 64)
}

// FormatDuration renders a latency with a unit suited to its magnitude.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// Violations returns the failed checks.
func (r *ThresholdResults) Violations() []ThresholdResult {
	var violations []ThresholdResult
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}
