package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// revokeTokenRequest revokes a single token by its JTI claim.
type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// revokeUserRequest invalidates every token issued to a user so far.
type revokeUserRequest struct {
	UserID string `json:"user_id"`
}

type revokeUserResponse struct {
	UserID      string    `json:"user_id"`
	RevokedFrom time.Time `json:"revoked_from"`
}

type revocationListResponse struct {
	Count   int              `json:"count"`
	Entries []RevocationInfo `json:"entries"`
}

// RegisterRevocationRoutes mounts the token revocation endpoints under
// /auth. Revoking credentials is an administrative action, so the whole
// group is gated on the admin role.
func RegisterRevocationRoutes(g *echo.Group, store *TokenRevocationStore) {
	authGroup := g.Group("/auth", RequireRole("admin"))

	authGroup.POST("/revoke", handleRevokeToken(store))
	authGroup.POST("/revoke-user", handleRevokeUser(store))
	authGroup.GET("/revocations", handleListRevocations(store))
}

func handleRevokeToken(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.JTI == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
		}

		// Without an expiry we cannot tell when the entry stops
		// mattering, so hold it for the maximum token lifetime.
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = time.Now().Add(maxTokenLifetime)
		}

		if req.UserID != "" {
			store.RevokeForUser(req.JTI, req.UserID, req.ExpiresAt)
		} else {
			store.Revoke(req.JTI, req.ExpiresAt)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func handleRevokeUser(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeUserRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.UserID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
		}

		cutoff := store.RevokeAllForUser(req.UserID)
		return c.JSON(http.StatusOK, revokeUserResponse{
			UserID:      req.UserID,
			RevokedFrom: cutoff,
		})
	}
}

// handleListRevocations lists the individually revoked tokens, optionally
// narrowed to one user with ?user_id=.
func handleListRevocations(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := store.Entries()

		if userID := c.QueryParam("user_id"); userID != "" {
			filtered := entries[:0]
			for _, e := range entries {
				if e.UserID == userID {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}

		return c.JSON(http.StatusOK, revocationListResponse{
			Count:   len(entries),
			Entries: entries,
		})
	}
}
