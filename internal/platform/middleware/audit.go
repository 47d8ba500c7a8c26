package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

// AuditEntry represents an audit log entry produced by the middleware.
// It captures who accessed what, when, from where, and the action type.
// Appointment records identify patients, so every API access is logged.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string // first path segment under /api/v1/
	RecordID   string // record UUID from the path, when present
	Action     string // read, create, update, delete, cancel, reschedule, transition
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder is the interface that the audit middleware uses to persist
// audit entries. This decouples the middleware from any concrete storage
// so that tests can provide a mock implementation.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns Echo middleware that intercepts requests to /api/v1/*,
// extracts the authenticated user from the request context, determines the
// accessed resource and action from the URL path, and logs the access.
//
// If no AuditRecorder is provided, it falls back to structured zerolog
// logging only.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			// Execute the handler first so we capture the response status
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
			}

			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)

			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			entry.Action = actionFromRequest(req.Method, path)
			entry.Resource = extractResource(path)
			entry.RecordID = extractRecordID(path)

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			// Always emit a structured log for the audit trail
			logger.Info().
				Str("type", "api_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_access")

			return err
		}
	}
}

// isAuditablePath returns true if the path is under /api/v1/.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// lifecycleActions maps trailing path segments of lifecycle endpoints onto
// audit verbs. Anything not listed falls back to the HTTP method mapping.
var lifecycleActions = map[string]string{
	"book":       "create",
	"conflicts":  "check",
	"cancel":     "cancel",
	"reschedule": "reschedule",
	"confirm":    "transition",
	"start":      "transition",
	"complete":   "transition",
	"status":     "transition",
	"rotate":     "rotate",
}

// actionFromRequest determines the audit action for a request. Lifecycle
// endpoints are named by their final path segment; everything else derives
// from the HTTP method.
func actionFromRequest(method, path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		if action, ok := lifecycleActions[path[i+1:]]; ok {
			return action
		}
	}
	return httpMethodToAction(method)
}

// httpMethodToAction maps HTTP methods to audit action codes.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource parses the resource name from a URL path.
//
// Supported patterns:
//   - /api/v1/appointments          -> appointments
//   - /api/v1/appointments/123      -> appointments
//   - /api/v1/auth/keys             -> auth
func extractResource(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractRecordID returns the first UUID path segment, if any. Routes place
// record identifiers directly in the path (/appointments/<id>/cancel).
func extractRecordID(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if _, err := uuid.Parse(seg); err == nil {
			return seg
		}
	}
	return ""
}
