package collector

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"

	"stampede/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

// FormatText writes metrics in human-readable format.
func FormatText(w io.Writer, m *Metrics, concurrency int, thresholds *ThresholdResults) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "*** Processed a total of %s requests in %.2f seconds!\n",
		green(formatNumber(m.TotalRequests)), m.TestDuration.Seconds())

	if m.TotalRequests == 0 {
		fmt.Fprintln(w, "No requests completed")
		printStopReason(w, m)
		return
	}

	fmt.Fprintf(w, "*** Received %s HTTP responses (%.2f%%) while %s requests failed (%.2f%%).\n",
		green(formatNumber(m.SuccessCount)), m.SuccessRate,
		red(formatNumber(m.FailureCount)), m.ErrorRate)
	fmt.Fprintln(w, "")

	for _, row := range m.SortedStatusCodes() {
		pct := 0.0
		if m.SuccessCount > 0 {
			pct = float64(row.Count) / float64(m.SuccessCount) * 100
		}
		fmt.Fprintf(w, "* [status %s] : %s requests (%.2f%%)\n",
			colorStatus(row.Code), green(formatNumber(row.Count)), pct)
	}

	if m.FailureCount > 0 {
		fmt.Fprintln(w, "")
		for _, kind := range core.FailureKinds {
			if n := m.FailuresByKind[kind]; n > 0 {
				fmt.Fprintf(w, "* [%s] : %s requests\n", red(string(kind)), formatNumber(n))
			}
		}
	}

	fmt.Fprintln(w, "")
	if concurrency > 0 {
		fmt.Fprintf(w, "* Concurrency level: %d\n", concurrency)
	}
	fmt.Fprintf(w, "* Requests per second: %.2f [#/sec] (mean)\n", m.RequestsPerSec)
	fmt.Fprintf(w, "* Transfer rate: %s/sec\n", formatBytes(int64(m.BytesPerSec)))
	fmt.Fprintf(w, "* Total content body length of responses: %d bytes\n", m.TotalBytes)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Response Times:")
	fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.Duration.Min))
	fmt.Fprintf(w, "  Mean:   %s\n", FormatDuration(m.Duration.Avg))
	fmt.Fprintf(w, "  StdDev: %s\n", FormatDuration(m.Duration.StdDev))
	fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.Duration.P50))
	fmt.Fprintf(w, "  P90:    %s\n", FormatDuration(m.Duration.P90))
	fmt.Fprintf(w, "  P95:    %s\n", green(FormatDuration(m.Duration.P95)))
	fmt.Fprintf(w, "  P99:    %s\n", green(FormatDuration(m.Duration.P99)))
	fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.Duration.Max))

	printStopReason(w, m)

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := green("✓")
			if !result.Passed {
				symbol = red("✗")
			}
			limit := result.Threshold
			if !strings.HasPrefix(limit, ">") {
				limit = "< " + limit
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n",
				symbol, result.Name, limit, result.Actual)
		}
	}
}

func printStopReason(w io.Writer, m *Metrics) {
	if m.StopReason == "" && m.RunID == "" {
		return
	}
	fmt.Fprintln(w, "")
	if m.StopReason != "" {
		fmt.Fprintf(w, "Stopped: %s\n", m.StopReason)
	}
	if m.RunID != "" {
		fmt.Fprintf(w, "Run ID:  %s\n", m.RunID)
	}
}

func colorStatus(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 200 && code < 300:
		return green(s)
	case code >= 300 && code < 400:
		return yellow(s)
	default:
		return red(s)
	}
}

// FormatJSON writes metrics in JSON format.
func FormatJSON(w io.Writer, m *Metrics, thresholds *ThresholdResults) error {
	output := struct {
		RunID          string              `json:"runId,omitempty"`
		StopReason     string              `json:"stopReason,omitempty"`
		Duration       string              `json:"duration"`
		TotalRequests  int64               `json:"totalRequests"`
		SuccessCount   int64               `json:"successCount"`
		FailureCount   int64               `json:"failureCount"`
		FailuresByKind map[string]int64    `json:"failuresByKind"`
		SuccessRate    float64             `json:"successRate"`
		RequestsPerSec float64             `json:"requestsPerSec"`
		TotalBytes     int64               `json:"totalBytes"`
		BytesPerSec    float64             `json:"bytesPerSec"`
		StatusCodes    map[string]int64    `json:"statusCodes"`
		Durations      jsonDurationMetrics `json:"durations"`
		Thresholds     *ThresholdResults   `json:"thresholds,omitempty"`
	}{
		RunID:          m.RunID,
		StopReason:     m.StopReason,
		Duration:       m.TestDuration.Round(time.Millisecond).String(),
		TotalRequests:  m.TotalRequests,
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		FailuresByKind: make(map[string]int64, len(m.FailuresByKind)),
		SuccessRate:    m.SuccessRate,
		RequestsPerSec: m.RequestsPerSec,
		TotalBytes:     m.TotalBytes,
		BytesPerSec:    m.BytesPerSec,
		StatusCodes:    make(map[string]int64, len(m.StatusCodes)),
		Durations:      toJSONDurationMetrics(m.Duration),
		Thresholds:     thresholds,
	}

	for kind, n := range m.FailuresByKind {
		output.FailuresByKind[string(kind)] = n
	}
	for code, n := range m.StatusCodes {
		output.StatusCodes[strconv.Itoa(code)] = n
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

type jsonDurationMetrics struct {
	Min    string `json:"min"`
	Max    string `json:"max"`
	Avg    string `json:"avg"`
	StdDev string `json:"stddev"`
	P50    string `json:"p50"`
	P90    string `json:"p90"`
	P95    string `json:"p95"`
	P99    string `json:"p99"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min:    FormatDuration(d.Min),
		Max:    FormatDuration(d.Max),
		Avg:    FormatDuration(d.Avg),
		StdDev: FormatDuration(d.StdDev),
		P50:    FormatDuration(d.P50),
		P90:    FormatDuration(d.P90),
		P95:    FormatDuration(d.P95),
		P99:    FormatDuration(d.P99),
	}
}

func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if len(s) <= 3 {
		return s
	}
	var out []byte
	pre := len(s) % 3
	if pre > 0 {
		out = append(out, s[:pre]...)
	}
	for i := pre; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
