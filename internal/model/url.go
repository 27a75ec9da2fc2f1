package model

import (
	"encoding/json"
	"net/http"
	"time"
)

// Mapping represents a short code -> original URL mapping
type Mapping struct {
	ShortCode     string     `json:"shortCode"`               // unique, immutable
	OriginalURL   string     `json:"originalUrl"`             // http/https target
	CustomDomain  string     `json:"customDomain,omitempty"`  // display domain for the short URL
	CreatedAt     time.Time  `json:"createdAt"`               // timestamp of creation
	Clicks        int64      `json:"clicks"`                  // successful redirects
	LastClickedAt *time.Time `json:"lastClickedAt,omitempty"` // time of the last redirect
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`     // nil means never
	UserID        string     `json:"userId,omitempty"`        // owner, if known
}

// ShortenRequest is the API request body
type ShortenRequest struct {
	OriginalURL  string   `json:"originalUrl"`
	CustomCode   string   `json:"customCode,omitempty"`
	CustomDomain string   `json:"customDomain,omitempty"`
	ExpiresIn    *float64 `json:"expiresIn,omitempty"` // days, fractional allowed
	UserID       string   `json:"-"`                   // filled from the auth token
}

// UnmarshalJSON decodes a request body. expiresIn only counts when it is a
// positive JSON number; any other value leaves the mapping without expiry.
func (r *ShortenRequest) UnmarshalJSON(data []byte) error {
	type plain ShortenRequest
	aux := struct {
		*plain
		ExpiresIn json.RawMessage `json:"expiresIn"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.ExpiresIn = nil
	var days float64
	if json.Unmarshal(aux.ExpiresIn, &days) == nil && days > 0 {
		r.ExpiresIn = &days
	}
	return nil
}

// ShortenResponse is the API response for a created mapping
type ShortenResponse struct {
	ShortCode   string     `json:"shortCode"`
	ShortURL    string     `json:"shortUrl"`
	OriginalURL string     `json:"originalUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Pagination describes one page of a listing
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// ListResponse is the API response for GET /api/urls
type ListResponse struct {
	URLs       []*Mapping `json:"urls"`
	Pagination Pagination `json:"pagination"`
}

// Analytics is the public projection of a mapping's click data
type Analytics struct {
	ShortCode     string     `json:"shortCode"`
	OriginalURL   string     `json:"originalUrl"`
	Clicks        int64      `json:"clicks"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastClickedAt *time.Time `json:"lastClickedAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// RedirectTarget is what a successful resolution hands to the HTTP layer
type RedirectTarget struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
}

// NewPermanentRedirect builds a 301 target
func NewPermanentRedirect(url string) *RedirectTarget {
	return &RedirectTarget{URL: url, StatusCode: http.StatusMovedPermanently}
}

// RedirectEntry is the immutable part of a mapping that the redirect path
// may serve from a cache
type RedirectEntry struct {
	OriginalURL string     `json:"originalUrl"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// RedirectEntry returns the cacheable view of m
func (m *Mapping) RedirectEntry() *RedirectEntry {
	return &RedirectEntry{OriginalURL: m.OriginalURL, ExpiresAt: m.ExpiresAt}
}

// IsExpired reports whether the entry has an expiry strictly before now
func (e *RedirectEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
