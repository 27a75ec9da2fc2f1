// Package client is a typed HTTP client for the shortlink API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/imroc/req/v3"

	"github.com/darkodi/shortlink/internal/model"
)

// APIError is an error response from the server
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s (%s)", e.StatusCode, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// Client talks to a shortlink server
type Client struct {
	http *req.Client
}

// Option configures a Client
type Option func(*req.Client)

// WithToken sends a bearer token with every request
func WithToken(token string) Option {
	return func(c *req.Client) {
		if token != "" {
			c.SetCommonBearerAuthToken(token)
		}
	}
}

// WithTimeout overrides the 5s request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *req.Client) { c.SetTimeout(d) }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := req.C().
		SetBaseURL(baseURL).
		SetTimeout(5*time.Second).
		SetUserAgent("shortctl").
		SetCommonHeader("Accept", "application/json").
		// Resolve reports the Location header instead of following it
		SetRedirectPolicy(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})

	for _, opt := range opts {
		opt(c)
	}
	return &Client{http: c}
}

// Shorten creates a mapping
func (c *Client) Shorten(ctx context.Context, in model.ShortenRequest) (*model.ShortenResponse, error) {
	var out model.ShortenResponse
	resp, err := c.request(ctx).
		SetBody(&in).
		SetSuccessResult(&out).
		Post("/api/shorten")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// List fetches one page of mappings; zero page or limit use the server defaults
func (c *Client) List(ctx context.Context, page, limit int) (*model.ListResponse, error) {
	r := c.request(ctx)
	if page > 0 {
		r.SetQueryParam("page", strconv.Itoa(page))
	}
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}

	var out model.ListResponse
	resp, err := r.SetSuccessResult(&out).Get("/api/urls")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a mapping
func (c *Client) Get(ctx context.Context, code string) (*model.Mapping, error) {
	var out model.Mapping
	resp, err := c.request(ctx).
		SetPathParam("shortCode", code).
		SetSuccessResult(&out).
		Get("/api/urls/{shortCode}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a mapping
func (c *Client) Delete(ctx context.Context, code string) error {
	resp, err := c.request(ctx).
		SetPathParam("shortCode", code).
		Delete("/api/urls/{shortCode}")
	return check(resp, err)
}

// Analytics fetches click data for a mapping
func (c *Client) Analytics(ctx context.Context, code string) (*model.Analytics, error) {
	var out model.Analytics
	resp, err := c.request(ctx).
		SetPathParam("shortCode", code).
		SetSuccessResult(&out).
		Get("/api/analytics/{shortCode}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve follows nothing: it returns the redirect target for code. The
// server counts this as a click.
func (c *Client) Resolve(ctx context.Context, code string) (*model.RedirectTarget, error) {
	resp, err := c.request(ctx).
		SetPathParam("shortCode", code).
		Get("/{shortCode}")
	if err := check(resp, err); err != nil {
		return nil, err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("resolve %s: %s without Location header", code, resp.Status)
	}
	return &model.RedirectTarget{URL: location, StatusCode: resp.StatusCode}, nil
}

// Health checks the server's health endpoint
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.request(ctx).Get("/health")
	return check(resp, err)
}

func (c *Client) request(ctx context.Context) *req.Request {
	return c.http.R().SetContext(ctx).SetErrorResult(&errorResponse{})
}

// check turns transport failures and 4xx/5xx responses into errors
func check(resp *req.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsErrorState() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
	if body, ok := resp.ErrorResult().(*errorResponse); ok && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.Details = body.Error.Details
	}
	return apiErr
}
