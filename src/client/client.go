package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/model"
)

// ErrOrderNotFound is returned by GetOrder for an unknown identifier.
var ErrOrderNotFound = errors.New("order not found")

// APIError is a non-2xx answer from the engine.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Metrics mirrors the engine's metrics endpoint.
type Metrics struct {
	Waiting           int `json:"waiting"`
	Active            int `json:"active"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`
	Total             int `json:"total"`
	ActiveConnections int `json:"activeConnections"`
}

// Client talks to a running order engine over HTTP and WebSocket.
type Client struct {
	baseURL string
	http    *resty.Client
	dialer  *websocket.Dialer
}

// isRetryableResp never retries a POST: each submission gets a new order identifier.
func isRetryableResp(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
		return false
	}
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 && code != http.StatusServiceUnavailable {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		dialer:  websocket.DefaultDialer,
	}
}

// SubmitOrder posts req to the intake endpoint.
func (c *Client) SubmitOrder(ctx context.Context, req model.CreateOrderRequest) (*model.CreateOrderResponse, error) {
	var out model.CreateOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post("/api/orders/execute")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return &out, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var out model.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("orderId", orderID).
		SetResult(&out).
		Get("/api/orders/{orderId}")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, userID string, limit int) ([]model.Order, error) {
	var out []model.Order
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", userID).
		SetResult(&out)
	if limit > 0 {
		req = req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := req.Get("/api/orders/history")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return out, nil
}

func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/orders/metrics")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	var m Metrics
	if err := json.Unmarshal(resp.Body(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Stream subscribes to orderID and calls fn for every update after the
// connected acknowledgment. It returns the terminal update, or an error if the
// connection ends first.
func (c *Client) Stream(ctx context.Context, orderID string, fn func(model.StatusUpdate)) (model.StatusUpdate, error) {
	wsURL, err := c.streamURL(orderID)
	if err != nil {
		return model.StatusUpdate{}, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return model.StatusUpdate{}, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var update model.StatusUpdate
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() != nil {
				return model.StatusUpdate{}, ctx.Err()
			}
			return model.StatusUpdate{}, fmt.Errorf("read update: %w", err)
		}
		if update.Status == model.StatusConnected {
			continue
		}
		if fn != nil {
			fn(update)
		}
		if update.Status.Terminal() {
			return update, nil
		}
	}
}

func (c *Client) streamURL(orderID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/orders/ws/" + orderID
	return u.String(), nil
}
