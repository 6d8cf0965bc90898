// Package core defines the fundamental types shared by stampede's engine.
package core

import (
	"time"
)

// FailureKind classifies a transport-level failure. HTTP status codes are
// never failures; the zero value means the request produced a response.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureConnectTimeout FailureKind = "connect-timeout"
	FailureReadTimeout    FailureKind = "read-timeout"
	FailureDNS            FailureKind = "dns-failure"
	FailureTLS            FailureKind = "tls-failure"
	FailureRefusedOrReset FailureKind = "connection-refused-or-reset"
	FailureProtocol       FailureKind = "other-protocol-error"
)

// FailureKinds lists every failure kind in report order.
var FailureKinds = []FailureKind{
	FailureConnectTimeout,
	FailureReadTimeout,
	FailureDNS,
	FailureTLS,
	FailureRefusedOrReset,
	FailureProtocol,
}

// WorkItem is one unit of work: a request to issue. Fields hold raw template
// text; placeholders are expanded per request by the worker.
type WorkItem struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string

	// Literal marks items whose URL must not be template-expanded
	// (discovered links). Headers and body are always expanded.
	Literal bool

	// Origin is the host of the page this item was discovered on, empty for
	// seeds.
	Origin string
}

// RequestResult is the outcome of one executed WorkItem.
type RequestResult struct {
	URL        string
	Method     string
	StatusCode int
	Latency    time.Duration
	Bytes      int64
	Failure    FailureKind
	Err        error
	Timestamp  time.Time
}

// Success reports whether the request produced an HTTP response.
func (r RequestResult) Success() bool {
	return r.Failure == FailureNone
}

// Reporter receives request results from workers. Implementations must be
// safe for concurrent use.
type Reporter interface {
	Report(RequestResult)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(RequestResult)

func (f ReporterFunc) Report(r RequestResult) { f(r) }

// NullReporter discards all results.
var NullReporter Reporter = ReporterFunc(func(RequestResult) {})
