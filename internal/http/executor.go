package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stampede/internal/core"
)

// MaxRetainedBody caps how much of a response body is kept for link
// discovery.
const MaxRetainedBody = 10 * 1024 * 1024

// BasicAuth holds credentials applied to every request.
type BasicAuth struct {
	Username string
	Password string
}

// Options configures an Executor.
type Options struct {
	// Timeout bounds a request from dispatch to the last body byte.
	Timeout            time.Duration
	DisableCompression bool
	UserAgent          string
	BasicAuth          *BasicAuth

	// Retain reports whether the body of a response should be kept. Nil
	// retains nothing.
	Retain func(statusCode int, contentType string) bool
}

// Request is a fully expanded request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response is the outcome of Execute.
type Response struct {
	Result core.RequestResult

	// FinalURL is the URL of the last request in a redirect chain. Nil on
	// failure.
	FinalURL    *url.URL
	ContentType string
	// Body holds the decoded body when Retain asked for it.
	Body []byte
}

// Executor issues requests over a shared client.
type Executor struct {
	client *http.Client
	opts   Options
	clock  core.Clock
	debug  *DebugLogger
}

// NewExecutor creates an Executor. A nil logger disables debug output.
func NewExecutor(client *http.Client, opts Options, logger *zap.Logger) *Executor {
	if opts.UserAgent == "" {
		opts.UserAgent = "stampede"
	}
	return &Executor{
		client: client,
		opts:   opts,
		clock:  core.RealClock{},
		debug:  NewDebugLogger(logger),
	}
}

// Execute issues one request. Transport failures are reported in the
// result, never returned; latency is recorded on every outcome.
func (e *Executor) Execute(ctx context.Context, r Request) Response {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	// Tracks the current hop only, so a redirect that fails to connect is
	// still a connect failure.
	var connected atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GetConn: func(string) { connected.Store(false) },
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	})

	start := e.clock.Now()
	result := core.RequestResult{
		URL:       r.URL,
		Method:    r.Method,
		Timestamp: start,
	}
	fail := func(err error) Response {
		result.Latency = e.clock.Since(start)
		result.Failure = Classify(err, connected.Load())
		result.Err = err
		e.debug.LogError(r.Method, r.URL, result.Failure, err, result.Latency)
		return Response{Result: result}
	}

	req, err := e.newRequest(ctx, r)
	if err != nil {
		return fail(err)
	}
	e.debug.LogRequest(req, r.Body)

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	retain := e.opts.Retain != nil && e.opts.Retain(resp.StatusCode, contentType)

	var body io.Reader = resp.Body
	closeDecoder := func() {}
	if !bodyless(r.Method, resp.StatusCode) {
		body, closeDecoder, err = decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	}
	if err != nil {
		return fail(err)
	}
	defer closeDecoder()

	var kept *bytes.Buffer
	var sink io.Writer = io.Discard
	if retain {
		kept = &bytes.Buffer{}
		sink = &cappedWriter{buf: kept, limit: MaxRetainedBody}
	}
	n, err := io.Copy(sink, body)
	result.Bytes = n
	if err != nil {
		return fail(err)
	}

	result.Latency = e.clock.Since(start)
	result.StatusCode = resp.StatusCode

	out := Response{
		Result:      result,
		FinalURL:    resp.Request.URL,
		ContentType: contentType,
	}
	if kept != nil {
		out.Body = kept.Bytes()
	}
	e.debug.LogResponse(resp, result.Bytes, result.Latency)
	return out
}

func (e *Executor) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	var body io.Reader
	if r.Body != "" && hasBody(r.Method) {
		body = strings.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", e.opts.UserAgent)
	if !e.opts.DisableCompression {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if e.opts.BasicAuth != nil {
		req.SetBasicAuth(e.opts.BasicAuth.Username, e.opts.BasicAuth.Password)
	}
	return req, nil
}

// bodyless reports whether a response can carry no body, whatever its
// headers declare.
func bodyless(method string, status int) bool {
	return method == http.MethodHead ||
		status == http.StatusNoContent ||
		status == http.StatusNotModified ||
		(status >= 100 && status < 200)
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// cappedWriter keeps the first limit bytes and discards the rest while still
// reporting full writes, so io.Copy keeps counting.
type cappedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
