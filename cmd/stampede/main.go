// Command stampede drives concurrent HTTP load against a single URL, a list
// of URLs, or every page reachable from a seed URL.
//
// Usage:
//
//	stampede [flags] <url|file>
//
// Settings are resolved from built-in defaults, then the --config YAML
// file, then STAMPEDE_* environment variables, then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// warmup is the pause between the banner and the first request.
const warmup = 1500 * time.Millisecond

var errThresholdsFailed = errors.New("threshold check failed")

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return ExitError
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(&app{stdout: stdout, stderr: stderr, warmup: warmup})
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errThresholdsFailed) {
			fmt.Fprintln(stderr, "\nThreshold check failed!")
		} else {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return exitCode(err)
	}
	return ExitSuccess
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stampede [flags] <url|file>",
		Short: "Concurrent HTTP load generator and site crawler",
		Long: `stampede issues HTTP requests from a pool of concurrent workers and
reports latency, throughput and error rates.

Modes:
  discover  start at the URL and follow links to pages on allowed hosts
  single    request the same URL repeatedly
  file      cycle through the URLs listed in a file, one per line

URLs, header values and the body may contain %RAND(min,max)% placeholders,
expanded per request when --random-arguments is set.

Examples:
  stampede https://example.com/                        # crawl the site
  stampede -m single -c 10 -d 30s https://example.com/ # hammer one URL
  stampede -m file -n 5000 urls.txt                    # cycle a URL list
  stampede -m single -r -H "X-Id: %RAND(1,5)%" https://example.com/`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.Flags(), args)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}
