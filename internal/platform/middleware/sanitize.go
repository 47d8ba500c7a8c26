package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize bounds any single header value.
const maxHeaderValueSize = 8 << 10

var (
	// Logged as suspicious but never blocked; parameterized queries are
	// the real defense against SQL injection.
	sqlProbe = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Blocked outright. Markup has no business in a scheduling API.
	scriptProbe = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize rejects requests carrying path traversal sequences, null bytes,
// header injection or script fragments before they reach a handler.
// Blocked requests receive a 400 Bad Request.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger is Sanitize with suspicious-input logging attached.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if msg := inspectPath(req.URL.Path, req.URL.RawPath); msg != "" {
				return rejectRequest(c, msg)
			}
			if msg := inspectHeaders(req.Header); msg != "" {
				return rejectRequest(c, msg)
			}
			if msg := inspectQuery(c, logger); msg != "" {
				return rejectRequest(c, msg)
			}
			return next(c)
		}
	}
}

// inspectPath flags traversal sequences and null bytes in both the decoded
// and the raw request path.
func inspectPath(path, rawPath string) string {
	if rawPath == "" {
		rawPath = path
	}
	for _, p := range []string{path, rawPath} {
		if hasTraversal(p) {
			return "path traversal detected"
		}
		if hasNullByte(p) {
			return "null byte injection detected"
		}
	}
	return ""
}

// inspectHeaders flags oversized values and CRLF smuggling.
func inspectHeaders(h http.Header) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}
	return ""
}

// inspectQuery blocks null bytes and script fragments in query parameters.
// SQL-looking values are logged and let through.
func inspectQuery(c echo.Context, logger zerolog.Logger) string {
	for key, values := range c.Request().URL.Query() {
		if hasNullByte(key) {
			return "null byte injection detected in query parameter"
		}
		if scriptProbe.MatchString(key) {
			return "script injection detected in query parameter"
		}
		for _, v := range values {
			if hasNullByte(v) {
				return "null byte injection detected in query parameter"
			}
			if sqlProbe.MatchString(v) {
				logger.Warn().
					Str("param", key).
					Str("path", c.Request().URL.Path).
					Str("remote_ip", c.RealIP()).
					Msg("potential SQL injection pattern in query parameter")
			}
			if scriptProbe.MatchString(v) {
				return "script injection detected in query parameter"
			}
		}
	}
	return ""
}

// hasTraversal matches dot-dot sequences in raw, percent-encoded and
// double-encoded forms.
func hasTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

// rejectRequest answers 400 with a one-line message body.
func rejectRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"message": message})
}

// SanitizeString strips null bytes and control characters (keeping \n, \r
// and \t) and trims surrounding whitespace. Handlers apply it to free-text
// fields like visit reasons and notes.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
