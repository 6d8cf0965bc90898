package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"stampede/internal/core"
)

// Classify maps a transport error to a failure kind. connected reports
// whether a connection had been obtained before the error, which separates
// connect timeouts from read timeouts.
func Classify(err error, connected bool) core.FailureKind {
	if err == nil {
		return core.FailureNone
	}

	if errors.Is(err, ErrTooManyRedirects) || errors.Is(err, ErrDecode) {
		return core.FailureProtocol
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout && !connected {
			return core.FailureConnectTimeout
		}
		return core.FailureDNS
	}

	if isTLSError(err) {
		return core.FailureTLS
	}

	if isTimeout(err) {
		if connected {
			return core.FailureReadTimeout
		}
		return core.FailureConnectTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return core.FailureRefusedOrReset
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return core.FailureRefusedOrReset
	}

	return core.FailureProtocol
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		certErr     *tls.CertificateVerificationError
		alertErr    tls.AlertError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &certErr),
		errors.As(err, &alertErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return true
	}
	// Handshake failures without a typed error, e.g. "tls: handshake failure".
	// The handshake timeout is reported as a connect timeout instead.
	msg := err.Error()
	return strings.Contains(msg, "tls: ") && !strings.Contains(msg, "handshake timeout")
}
