package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig controls the hardening headers applied to every
// response.
type SecurityHeadersConfig struct {
	// HSTS enables Strict-Transport-Security. Turn it off for plain-HTTP
	// development setups so browsers do not pin localhost to HTTPS.
	HSTS bool
	// ContentSecurityPolicy overrides the default deny-everything policy.
	ContentSecurityPolicy string
}

// DefaultSecurityHeadersConfig suits a TLS-terminated JSON API.
var DefaultSecurityHeadersConfig = SecurityHeadersConfig{
	HSTS: true,
}

// SecurityHeaders applies the default hardening headers on every response.
func SecurityHeaders() echo.MiddlewareFunc {
	return SecurityHeadersWithConfig(DefaultSecurityHeadersConfig)
}

// SecurityHeadersWithConfig builds the middleware from an explicit config.
// The header set never varies per request, so it is assembled once.
func SecurityHeadersWithConfig(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	csp := cfg.ContentSecurityPolicy
	if csp == "" {
		// The API serves no markup: deny all resource loading and refuse
		// to be embedded.
		csp = "default-src 'none'; frame-ancestors 'none'"
	}

	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "0",
		"Content-Security-Policy": csp,
		"Referrer-Policy":         "no-referrer",
		"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
		// Appointment data must never land in shared caches.
		"Cache-Control": "no-store",
	}
	if cfg.HSTS {
		headers["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for name, value := range headers {
				h.Set(name, value)
			}
			return next(c)
		}
	}
}
