// Package api is the REST client for the QRMeja backend. Every response
// travels in a {message, data} envelope; errors carry the backend's
// message plus the HTTP status so callers can branch on them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qrmeja/client/internal/model"
)

// ErrNotFound matches any API error with a 404 status via errors.Is.
// A pending-order marker that resolves to ErrNotFound is stale and gets
// cleared rather than surfaced as a failure.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the backend REST API. Safe for concurrent use once the
// token is set.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a Client for the given base URL (e.g. "https://host/api").
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken attaches a bearer token to subsequent requests. An empty token
// clears it.
func (c *Client) SetToken(token string) {
	c.token = token
}

// do executes one API call: marshals body (if any), unwraps the envelope
// into out (if non-nil), and maps non-2xx responses to *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithHeaders(ctx, method, path, nil, body, out)
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		logrus.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Debug("api request failed")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// ── Auth ──

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token and the restaurant it belongs
// to. The token is not stored on the client; callers decide that.
func (c *Client) Login(ctx context.Context, email, password string) (model.AuthSession, error) {
	var session model.AuthSession
	err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &session)
	return session, err
}

// Profile returns the authenticated restaurant's profile.
func (c *Client) Profile(ctx context.Context) (model.Restaurant, error) {
	var r model.Restaurant
	err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &r)
	return r, err
}

// UpdateProfileRequest carries the editable profile fields.
type UpdateProfileRequest struct {
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl,omitempty"`
}

// UpdateProfile updates the restaurant's profile.
func (c *Client) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (model.Restaurant, error) {
	var r model.Restaurant
	err := c.do(ctx, http.MethodPut, "/auth/profile", req, &r)
	return r, err
}

// ── Catalog ──

// ProductRequest is the create/update payload for a product. Addons
// travel as {name, price} pairs.
type ProductRequest struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Price       model.Money   `json:"price"`
	Description string        `json:"description,omitempty"`
	Image       string        `json:"image,omitempty"`
	IsAvailable bool          `json:"isAvailable"`
	Addons      []model.Addon `json:"addons"`
}

// ListProducts returns the authenticated restaurant's catalog.
func (c *Client) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	err := c.do(ctx, http.MethodGet, "/products", nil, &products)
	return products, err
}

// CreateProduct adds a product to the catalog.
func (c *Client) CreateProduct(ctx context.Context, req ProductRequest) (model.Product, error) {
	var p model.Product
	err := c.do(ctx, http.MethodPost, "/products", req, &p)
	return p, err
}

// UpdateProduct replaces a product's fields.
func (c *Client) UpdateProduct(ctx context.Context, id int64, req ProductRequest) (model.Product, error) {
	var p model.Product
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d", id), req, &p)
	return p, err
}

// DeleteProduct removes a product from the catalog.
func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/products/%d", id), nil, nil)
}

// ── Menu ──

// MenuBySlug returns restaurant identity plus its catalog for the
// customer-facing menu page. Public, no token required.
func (c *Client) MenuBySlug(ctx context.Context, slug string) (model.Menu, error) {
	var m model.Menu
	err := c.do(ctx, http.MethodGet, "/orders/menu/"+slug, nil, &m)
	return m, err
}

// ── Orders ──

// OrderItemRequest is one line of an order creation payload.
type OrderItemRequest struct {
	ProductID int64         `json:"productId"`
	Quantity  int64         `json:"quantity"`
	Addons    []model.Addon `json:"addons"`
}

// CreateOrderRequest is the order creation payload.
type CreateOrderRequest struct {
	RestaurantID   int64              `json:"restaurantId"`
	TableNumber    string             `json:"tableNumber"`
	CustomerName   string             `json:"customerName"`
	Items          []OrderItemRequest `json:"items"`
	IdempotencyKey string             `json:"-"`
}

// CreateOrder places a new order. The idempotency key, when set, rides in
// a header so a retried POST cannot double-create.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (model.Order, error) {
	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	}
	var order model.Order
	err := c.doWithHeaders(ctx, http.MethodPost, "/orders", headers, req, &order)
	return order, err
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", id), nil, &o)
	return o, err
}

// ListOrders returns the authenticated restaurant's orders, newest first.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := c.do(ctx, http.MethodGet, "/orders", nil, &orders)
	return orders, err
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus patches an order's status.
func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status string) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/orders/%d/status", id), updateStatusRequest{Status: status}, &o)
	return o, err
}

// DeleteOrder removes an order.
func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/orders/%d", id), nil, nil)
}
