// Package webhook delivers appointment lifecycle events to registered HTTP
// endpoints. It supports endpoint registration, HMAC-SHA256 payload signing,
// bounded retries, delivery logging, and an Echo HTTP handler for management.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

// ---------------------------------------------------------------------------
// Domain structs
// ---------------------------------------------------------------------------

// Endpoint represents a registered webhook destination.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryAttempt records a single delivery attempt for an event.
type DeliveryAttempt struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpoint_id"`
	EventType    string        `json:"event_type"`
	EventID      string        `json:"event_id"`
	Payload      []byte        `json:"payload"`
	Signature    string        `json:"signature"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body"`
	Duration     time.Duration `json:"duration_ns"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"` // "success", "failed"
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Event is the envelope posted to subscribed endpoints.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryResult summarises the outcome of delivering an event to one endpoint.
type DeliveryResult struct {
	EndpointID string `json:"endpoint_id"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the persistence interface for endpoints and delivery attempts.
type Store interface {
	CreateEndpoint(ctx context.Context, endpoint *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context, limit, offset int) ([]*Endpoint, int, error)
	UpdateEndpoint(ctx context.Context, endpoint *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, attempt *DeliveryAttempt) error
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*DeliveryAttempt, int, error)
	GetDelivery(ctx context.Context, id string) (*DeliveryAttempt, error)
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe, in-memory implementation of Store.
type MemoryStore struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	deliveries map[string]*DeliveryAttempt
	// ordered keys for deterministic pagination
	endpointOrder []string
	deliveryOrder []string
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string]*DeliveryAttempt),
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = ep
	s.endpointOrder = append(s.endpointOrder, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	return ep, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context, limit, offset int) ([]*Endpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Endpoint
	for _, id := range s.endpointOrder {
		if ep := s.endpoints[id]; ep != nil {
			all = append(all, ep)
		}
	}
	total := len(all)
	if offset >= total {
		return []*Endpoint{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return fmt.Errorf("endpoint %s not found", ep.ID)
	}
	s.endpoints[ep.ID] = ep
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	delete(s.endpoints, id)
	for i, eid := range s.endpointOrder {
		if eid == id {
			s.endpointOrder = append(s.endpointOrder[:i], s.endpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, attempt *DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[attempt.ID]; !ok {
		s.deliveryOrder = append(s.deliveryOrder, attempt.ID)
	}
	s.deliveries[attempt.ID] = attempt
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string, limit, offset int) ([]*DeliveryAttempt, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*DeliveryAttempt
	for _, id := range s.deliveryOrder {
		d := s.deliveries[id]
		if d == nil {
			continue
		}
		if d.EndpointID == endpointID {
			filtered = append(filtered, d)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*DeliveryAttempt{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Signature helpers
// ---------------------------------------------------------------------------

// SignPayload computes an HMAC-SHA256 signature of the payload using the given
// secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithMaxAttempts sets the number of delivery attempts per endpoint before
// an event is left for manual retry.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithRetryDelays sets the wait between consecutive delivery attempts.
func WithRetryDelays(delays []time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

// Dispatcher fans appointment events out to registered endpoints, signing
// payloads and recording every attempt.
type Dispatcher struct {
	store       Store
	httpClient  *http.Client
	maxAttempts int
	retryDelays []time.Duration
}

// NewDispatcher creates a Dispatcher with sensible defaults.
func NewDispatcher(store Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store: store,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: 3,
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// generateSecret produces a cryptographically random 32-byte hex string.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validateEndpointURL checks that the URL is non-empty and uses http or https.
func validateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// RegisterEndpoint validates and persists a new endpoint. If secret is empty,
// a cryptographically random one is generated.
func (d *Dispatcher) RegisterEndpoint(ctx context.Context, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateEndpointURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}
		secret = s
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Status:    "active",
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// PauseEndpoint sets the endpoint status to "paused".
func (d *Dispatcher) PauseEndpoint(ctx context.Context, id string) error {
	ep, err := d.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Status = "paused"
	return d.store.UpdateEndpoint(ctx, ep)
}

// ResumeEndpoint sets the endpoint status to "active".
func (d *Dispatcher) ResumeEndpoint(ctx context.Context, id string) error {
	ep, err := d.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Status = "active"
	return d.store.UpdateEndpoint(ctx, ep)
}

// eventMatches returns true if the event type matches a subscription pattern.
// Patterns can be exact ("appointment.created") or wildcard ("appointment.*",
// "*.cancelled").
func eventMatches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".cancelled"
		return strings.HasSuffix(eventType, suffix)
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-1] // "appointment."
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}

// endpointMatchesEvent returns true if the endpoint subscribes to the event type.
func endpointMatchesEvent(ep *Endpoint, eventType string) bool {
	for _, pat := range ep.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// Dispatch wraps the payload in an event envelope and delivers it to every
// active endpoint subscribed to the event type.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload interface{}) []DeliveryResult {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}

	endpoints, _, err := d.store.ListEndpoints(ctx, 1000, 0)
	if err != nil {
		return nil
	}

	var results []DeliveryResult
	for _, ep := range endpoints {
		if ep.Status != "active" {
			continue
		}
		if !endpointMatchesEvent(ep, event.Type) {
			continue
		}
		attempt := d.DeliverToEndpoint(ctx, ep, event)
		results = append(results, DeliveryResult{
			EndpointID: ep.ID,
			Success:    attempt.Status == "success",
			StatusCode: attempt.StatusCode,
			Error:      attempt.Error,
		})
	}
	return results
}

// DeliverToEndpoint signs the event and POSTs it to the endpoint, retrying up
// to the configured attempt count. Every attempt is recorded; the final one is
// returned.
func (d *Dispatcher) DeliverToEndpoint(ctx context.Context, ep *Endpoint, event Event) *DeliveryAttempt {
	payload, _ := json.Marshal(event)
	sig := SignPayload(payload, ep.Secret)

	var attempt *DeliveryAttempt
	for i := 1; i <= d.maxAttempts; i++ {
		attempt = d.deliverOnce(ctx, ep, event, payload, sig, i)
		d.store.RecordDelivery(ctx, attempt)
		if attempt.Status == "success" {
			return attempt
		}
		if i == d.maxAttempts {
			break
		}
		select {
		case <-time.After(d.delayFor(i)):
		case <-ctx.Done():
			return attempt
		}
	}
	return attempt
}

func (d *Dispatcher) delayFor(attempt int) time.Duration {
	if len(d.retryDelays) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx >= len(d.retryDelays) {
		idx = len(d.retryDelays) - 1
	}
	return d.retryDelays[idx]
}

func (d *Dispatcher) deliverOnce(ctx context.Context, ep *Endpoint, event Event, payload []byte, sig string, attemptNo int) *DeliveryAttempt {
	now := time.Now()
	attempt := &DeliveryAttempt{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  event.Type,
		EventID:    event.ID,
		Payload:    payload,
		Signature:  sig,
		Attempt:    attemptNo,
		Status:     "failed",
		CreatedAt:  now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	attempt.Duration = time.Since(start)

	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode

	// Read at most 1KB of response body.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(bodyBytes)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = "success"
	} else {
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return attempt
}

// RetryDelivery re-delivers a previously failed attempt, continuing its
// attempt counter.
func (d *Dispatcher) RetryDelivery(ctx context.Context, deliveryID string) (*DeliveryAttempt, error) {
	original, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("delivery not found: %w", err)
	}

	ep, err := d.store.GetEndpoint(ctx, original.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("endpoint not found: %w", err)
	}

	var event Event
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal original payload: %w", err)
	}

	attempt := d.deliverOnce(ctx, ep, event, original.Payload, original.Signature, original.Attempt+1)
	d.store.RecordDelivery(ctx, attempt)
	return attempt, nil
}

// TestEndpoint sends a synthetic test event to verify endpoint connectivity.
func (d *Dispatcher) TestEndpoint(ctx context.Context, endpointID string) (*DeliveryAttempt, error) {
	ep, err := d.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("endpoint not found: %w", err)
	}

	testEvent := Event{
		ID:        uuid.New().String(),
		Type:      "webhook.test",
		Payload:   json.RawMessage(`{"test":true}`),
		Timestamp: time.Now(),
	}

	return d.DeliverToEndpoint(ctx, ep, testEvent), nil
}

// DeliveryLogs returns paginated delivery attempts for an endpoint.
func (d *Dispatcher) DeliveryLogs(ctx context.Context, endpointID string, limit, offset int) ([]*DeliveryAttempt, int, error) {
	return d.store.ListDeliveries(ctx, endpointID, limit, offset)
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes webhook management via Echo HTTP routes.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new Handler.
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes binds all webhook management routes to the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.RegisterEndpoint)
	g.GET("", h.ListEndpoints)
	g.GET("/:id", h.GetEndpoint)
	g.PUT("/:id", h.UpdateEndpoint)
	g.DELETE("/:id", h.DeleteEndpoint)
	g.POST("/:id/test", h.TestEndpointHandler)
	g.GET("/:id/deliveries", h.DeliveryLogsHandler)
	g.POST("/:id/pause", h.PauseEndpointHandler)
	g.POST("/:id/resume", h.ResumeEndpointHandler)
	g.POST("/deliveries/:id/retry", h.RetryDeliveryHandler)
}

// registerRequest is the JSON body for endpoint registration.
type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// RegisterEndpoint handles POST /webhooks.
func (h *Handler) RegisterEndpoint(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.dispatcher.RegisterEndpoint(c.Request().Context(), req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

// ListEndpoints handles GET /webhooks.
func (h *Handler) ListEndpoints(c echo.Context) error {
	p := pagination.FromContext(c)
	eps, total, err := h.dispatcher.store.ListEndpoints(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(eps, total, p.Limit, p.Offset))
}

// GetEndpoint handles GET /webhooks/:id.
func (h *Handler) GetEndpoint(c echo.Context) error {
	id := c.Param("id")
	ep, err := h.dispatcher.store.GetEndpoint(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.JSON(http.StatusOK, ep)
}

// updateRequest is the JSON body for endpoint updates.
type updateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Status string   `json:"status"`
}

// UpdateEndpoint handles PUT /webhooks/:id.
func (h *Handler) UpdateEndpoint(c echo.Context) error {
	id := c.Param("id")
	ep, err := h.dispatcher.store.GetEndpoint(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL != "" {
		if err := validateEndpointURL(req.URL); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ep.URL = req.URL
	}
	if len(req.Events) > 0 {
		ep.Events = req.Events
	}
	if req.Status != "" {
		ep.Status = req.Status
	}
	if err := h.dispatcher.store.UpdateEndpoint(c.Request().Context(), ep); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ep)
}

// DeleteEndpoint handles DELETE /webhooks/:id.
func (h *Handler) DeleteEndpoint(c echo.Context) error {
	id := c.Param("id")
	if err := h.dispatcher.store.DeleteEndpoint(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// TestEndpointHandler handles POST /webhooks/:id/test.
func (h *Handler) TestEndpointHandler(c echo.Context) error {
	id := c.Param("id")
	attempt, err := h.dispatcher.TestEndpoint(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

// DeliveryLogsHandler handles GET /webhooks/:id/deliveries.
func (h *Handler) DeliveryLogsHandler(c echo.Context) error {
	endpointID := c.Param("id")
	p := pagination.FromContext(c)

	logs, total, err := h.dispatcher.DeliveryLogs(c.Request().Context(), endpointID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, p.Limit, p.Offset))
}

// RetryDeliveryHandler handles POST /webhooks/deliveries/:id/retry.
func (h *Handler) RetryDeliveryHandler(c echo.Context) error {
	id := c.Param("id")
	attempt, err := h.dispatcher.RetryDelivery(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

// PauseEndpointHandler handles POST /webhooks/:id/pause.
func (h *Handler) PauseEndpointHandler(c echo.Context) error {
	id := c.Param("id")
	if err := h.dispatcher.PauseEndpoint(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeEndpointHandler handles POST /webhooks/:id/resume.
func (h *Handler) ResumeEndpointHandler(c echo.Context) error {
	id := c.Param("id")
	if err := h.dispatcher.ResumeEndpoint(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}
