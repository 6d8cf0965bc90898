package http

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stampede/internal/core"
)

const maxBodyLogSize = 1024

// DebugLogger writes request and response lines at debug level.
// A nil *DebugLogger is valid and logs nothing.
type DebugLogger struct {
	logger *zap.Logger
}

// NewDebugLogger returns nil unless logger has debug enabled.
func NewDebugLogger(logger *zap.Logger) *DebugLogger {
	if logger == nil || !logger.Core().Enabled(zapcore.DebugLevel) {
		return nil
	}
	return &DebugLogger{logger: logger}
}

func (d *DebugLogger) LogRequest(req *http.Request, body string) {
	if d == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Strings("headers", headerLines(req.Header)),
	}
	if req.Body != nil && body != "" {
		fields = append(fields, zap.String("body", truncateBody(body)))
	}
	d.logger.Debug(">>> request", fields...)
}

func (d *DebugLogger) LogResponse(resp *http.Response, bytes int64, duration time.Duration) {
	if d == nil {
		return
	}
	d.logger.Debug("<<< response",
		zap.String("url", resp.Request.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Strings("headers", headerLines(resp.Header)),
		zap.Int64("bytes", bytes),
		zap.Duration("duration", duration.Round(time.Microsecond)),
	)
}

func (d *DebugLogger) LogError(method, url string, kind core.FailureKind, err error, duration time.Duration) {
	if d == nil {
		return
	}
	d.logger.Debug("!!! error",
		zap.String("method", method),
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Duration("duration", duration.Round(time.Microsecond)),
		zap.Error(err),
	)
}

func headerLines(h http.Header) []string {
	lines := make([]string, 0, len(h))
	for name, values := range h {
		lines = append(lines, name+": "+strings.Join(values, ", "))
	}
	return lines
}

func truncateBody(body string) string {
	if len(body) <= maxBodyLogSize {
		return body
	}
	return body[:maxBodyLogSize] + "... (truncated)"
}
