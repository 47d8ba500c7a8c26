package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	// ErrKeyNotFound indicates the requested API key does not exist in the store.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyRevoked indicates the API key has been revoked and can no longer be used.
	ErrKeyRevoked = errors.New("api key revoked")

	// ErrKeyExpired indicates the API key has passed its expiration time.
	ErrKeyExpired = errors.New("api key expired")

	// ErrInvalidKey indicates the provided raw key does not match any stored hash.
	ErrInvalidKey = errors.New("invalid api key")
)

// APIKey is a managed credential for programmatic access, used by partner
// integrations (booking widgets, reminder services) that call the API
// server-to-server. Requests authenticated with a key act as the key's
// configured user identity and roles. The raw key material is never
// stored; only a SHA-256 hash is persisted.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"` // never serialize
	KeyPrefix  string     `json:"key_prefix"`
	UserID     string     `json:"user_id"`
	Roles      []string   `json:"roles"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// APIKeyStore defines the contract for persisting and querying API keys.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *APIKey) error
	GetByID(ctx context.Context, id string) (*APIKey, error)
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	// List returns keys in creation order with pagination, plus the total
	// count before pagination.
	List(ctx context.Context, limit, offset int) ([]*APIKey, int, error)
	UpdateKey(ctx context.Context, key *APIKey) error
	DeleteKey(ctx context.Context, id string) error
}

// InMemoryAPIKeyStore is a thread-safe in-memory APIKeyStore, suitable for
// development and single-node deployments.
type InMemoryAPIKeyStore struct {
	mu      sync.RWMutex
	byID    map[string]*APIKey
	byHash  map[string]string // hash -> ID
	ordered []string          // insertion-order IDs for stable pagination
}

// NewInMemoryAPIKeyStore creates a new empty in-memory store.
func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{
		byID:   make(map[string]*APIKey),
		byHash: make(map[string]string),
	}
}

func (s *InMemoryAPIKeyStore) CreateKey(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyKey(key)
	s.byID[cp.ID] = cp
	if cp.KeyHash != "" {
		s.byHash[cp.KeyHash] = cp.ID
	}
	s.ordered = append(s.ordered, cp.ID)
	return nil
}

func (s *InMemoryAPIKeyStore) GetByID(_ context.Context, id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyKey(k), nil
}

func (s *InMemoryAPIKeyStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	k, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyKey(k), nil
}

func (s *InMemoryAPIKeyStore) List(_ context.Context, limit, offset int) ([]*APIKey, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.ordered)
	ids := s.ordered
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	result := make([]*APIKey, 0, len(ids))
	for _, id := range ids {
		if k, ok := s.byID[id]; ok {
			result = append(result, copyKey(k))
		}
	}
	return result, total, nil
}

func (s *InMemoryAPIKeyStore) UpdateKey(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[key.ID]
	if !ok {
		return ErrKeyNotFound
	}

	if existing.KeyHash != key.KeyHash {
		delete(s.byHash, existing.KeyHash)
		if key.KeyHash != "" {
			s.byHash[key.KeyHash] = key.ID
		}
	}

	s.byID[key.ID] = copyKey(key)
	return nil
}

func (s *InMemoryAPIKeyStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}

	delete(s.byHash, existing.KeyHash)
	delete(s.byID, id)

	for i, oid := range s.ordered {
		if oid == id {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	return nil
}

// copyKey returns a deep copy so callers cannot mutate the store's copy.
func copyKey(k *APIKey) *APIKey {
	cp := *k
	if k.Roles != nil {
		cp.Roles = make([]string, len(k.Roles))
		copy(cp.Roles, k.Roles)
	}
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		cp.RevokedAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

const (
	// apiKeyPrefix is prepended to every generated key for easy
	// identification in logs and configuration files.
	apiKeyPrefix = "cd_k1_"

	// apiKeyRandomBytes is the number of random bytes of key material
	// (encoded as hex => 32 hex chars).
	apiKeyRandomBytes = 16
)

// APIKeyManager orchestrates API key lifecycle operations: generation,
// validation, revocation, and rotation.
type APIKeyManager struct {
	store APIKeyStore
}

// NewAPIKeyManager creates a new manager backed by the given store.
func NewAPIKeyManager(store APIKeyStore) *APIKeyManager {
	return &APIKeyManager{store: store}
}

// GenerateKey creates a new API key acting as the given user identity and
// persists it. It returns the APIKey struct and the raw key string. The
// raw key is only available at creation time and must be shown to the
// caller exactly once.
func (m *APIKeyManager) GenerateKey(ctx context.Context, name, userID string, roles []string, expiresAt *time.Time) (*APIKey, string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return nil, "", fmt.Errorf("generating raw key: %w", err)
	}

	key := &APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   hashKey(rawKey),
		KeyPrefix: rawKey[:len(apiKeyPrefix)+6],
		UserID:    userID,
		Roles:     roles,
		Status:    "active",
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	if err := m.store.CreateKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("storing key: %w", err)
	}
	return key, rawKey, nil
}

// ValidateKey hashes the provided raw key, looks it up in the store, and
// verifies the key is active and not expired. On success it updates
// LastUsedAt and returns the APIKey.
func (m *APIKeyManager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("looking up key: %w", err)
	}

	if key.Status == "revoked" {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrKeyExpired
	}

	now := time.Now()
	key.LastUsedAt = &now
	// Best effort; a failed timestamp update must not fail the request.
	_ = m.store.UpdateKey(ctx, key)

	return key, nil
}

// RevokeKey sets the key's status to "revoked" and records the revocation
// timestamp. Revoking an already-revoked key succeeds silently.
func (m *APIKeyManager) RevokeKey(ctx context.Context, id string) error {
	key, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if key.Status == "revoked" {
		return nil // idempotent
	}

	now := time.Now()
	key.Status = "revoked"
	key.RevokedAt = &now
	return m.store.UpdateKey(ctx, key)
}

// RotateKey revokes the existing key and creates a new one with the same
// configuration. Returns the new APIKey and the raw key string.
func (m *APIKeyManager) RotateKey(ctx context.Context, id string) (*APIKey, string, error) {
	old, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if err := m.RevokeKey(ctx, id); err != nil {
		return nil, "", fmt.Errorf("revoking old key: %w", err)
	}

	return m.GenerateKey(ctx, old.Name, old.UserID, old.Roles, old.ExpiresAt)
}

// ListKeys returns API keys with pagination.
func (m *APIKeyManager) ListKeys(ctx context.Context, limit, offset int) ([]*APIKey, int, error) {
	return m.store.List(ctx, limit, offset)
}

// generateRawKey produces a cryptographically random key string of the
// form cd_k1_<32-hex-chars>.
func generateRawKey() (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

// hashKey returns the hex-encoded SHA-256 hash of the raw key string.
func hashKey(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}

// APIKeyMiddleware returns an Echo middleware that authenticates requests
// using API keys from the X-API-Key header or an Authorization: Bearer
// token carrying the cd_k1_ prefix. A validated key populates the request
// context with the key's user identity and roles, so downstream role
// checks and handlers treat the request like any authenticated user.
//
// Requests without an API key pass through untouched so the JWT flow can
// take over.
func APIKeyMiddleware(manager *APIKeyManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawKey := extractAPIKey(c)
			if rawKey == "" {
				return next(c)
			}

			key, err := manager.ValidateKey(c.Request().Context(), rawKey)
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidKey):
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
				case errors.Is(err, ErrKeyRevoked):
					return echo.NewHTTPError(http.StatusUnauthorized, "api key revoked")
				case errors.Is(err, ErrKeyExpired):
					return echo.NewHTTPError(http.StatusUnauthorized, "api key expired")
				default:
					return echo.NewHTTPError(http.StatusInternalServerError, "api key validation error")
				}
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, key.UserID)
			ctx = context.WithValue(ctx, UserRolesKey, key.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("api_key_id", key.ID)

			return next(c)
		}
	}
}

// extractAPIKey returns the raw API key from the request, checking the
// X-API-Key header first and then the Authorization: Bearer header.
func extractAPIKey(c echo.Context) string {
	if apiKey := c.Request().Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}

	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	if strings.HasPrefix(parts[1], apiKeyPrefix) {
		return parts[1]
	}
	return ""
}

// APIKeyHandler provides Echo HTTP handlers for API key management.
type APIKeyHandler struct {
	manager *APIKeyManager
}

// NewAPIKeyHandler creates a new handler backed by the given manager.
func NewAPIKeyHandler(manager *APIKeyManager) *APIKeyHandler {
	return &APIKeyHandler{manager: manager}
}

// RegisterRoutes registers the API key management routes on the given group.
func (h *APIKeyHandler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.CreateKey)
	g.GET("", h.ListKeys)
	g.GET("/:id", h.GetKey)
	g.DELETE("/:id", h.RevokeKey)
	g.POST("/:id/rotate", h.RotateKey)
}

// createKeyRequest is the JSON request body for creating a new API key.
type createKeyRequest struct {
	Name      string     `json:"name"`
	UserID    string     `json:"user_id"`
	Roles     []string   `json:"roles"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	Key     *APIKey `json:"key"`
	RawKey  string  `json:"raw_key"`
	Warning string  `json:"warning"`
}

const rawKeyWarning = "Store this key securely. It will not be shown again."

// CreateKey handles POST /auth/keys. It creates a new API key and returns
// the raw key string exactly once in the response.
func (h *APIKeyHandler) CreateKey(c echo.Context) error {
	var req createKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id must be a UUID")
	}
	if len(req.Roles) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one role is required")
	}

	key, rawKey, err := h.manager.GenerateKey(c.Request().Context(), req.Name, req.UserID, req.Roles, req.ExpiresAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create api key")
	}

	return c.JSON(http.StatusCreated, createKeyResponse{Key: key, RawKey: rawKey, Warning: rawKeyWarning})
}

// ListKeys handles GET /auth/keys. The key hash is never exposed.
func (h *APIKeyHandler) ListKeys(c echo.Context) error {
	limit, offset := 50, 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}

	keys, total, err := h.manager.ListKeys(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list api keys")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"keys":   keys,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetKey handles GET /auth/keys/:id.
func (h *APIKeyHandler) GetKey(c echo.Context) error {
	key, err := h.manager.store.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to retrieve api key")
	}

	return c.JSON(http.StatusOK, key)
}

// RevokeKey handles DELETE /auth/keys/:id.
func (h *APIKeyHandler) RevokeKey(c echo.Context) error {
	if err := h.manager.RevokeKey(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke api key")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

// RotateKey handles POST /auth/keys/:id/rotate.
func (h *APIKeyHandler) RotateKey(c echo.Context) error {
	newKey, rawKey, err := h.manager.RotateKey(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to rotate api key")
	}

	return c.JSON(http.StatusOK, createKeyResponse{Key: newKey, RawKey: rawKey, Warning: rawKeyWarning})
}
