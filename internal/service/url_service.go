package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/darkodi/shortlink/internal/logger"
	"github.com/darkodi/shortlink/internal/model"
	"github.com/darkodi/shortlink/internal/repository"
	"github.com/darkodi/shortlink/internal/shortcode"
	"github.com/darkodi/shortlink/internal/validator"
)

// Custom errors for the service layer
var (
	ErrInvalidURL   = validator.ErrInvalidURL
	ErrInvalidCode  = validator.ErrInvalidCode
	ErrCodeConflict = errors.New("short code already in use")
	ErrNotFound     = errors.New("short URL not found")
	ErrExpired      = errors.New("short URL has expired")
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100

	// a generated code can lose the race to a concurrent insert
	maxInsertAttempts = 3
	// keeps now+expiresIn inside time.Duration
	maxExpiresInDays = 100000
)

// Config is the per-deployment behaviour of the service
type Config struct {
	DefaultDomain string // display domain when the request names none
	Secure        bool   // build https short URLs
	CodeLength    int    // generated code length, 6 when zero
}

// RedirectCache holds the immutable part of mappings for the redirect path
type RedirectCache interface {
	Get(ctx context.Context, code string) (*model.RedirectEntry, error)
	Set(ctx context.Context, code string, entry *model.RedirectEntry) error
	Delete(ctx context.Context, code string) error
}

// deps are shared by URLService and Resolver
type deps struct {
	repo      repository.Store
	cache     RedirectCache
	validator *validator.URLValidator
	log       *logger.Logger
	now       func() time.Time
}

// Option configures a URLService or Resolver
type Option func(*deps)

// WithCache enables the redirect cache
func WithCache(c RedirectCache) Option {
	return func(d *deps) { d.cache = c }
}

// WithValidator replaces the default URL/code validation policy
func WithValidator(v *validator.URLValidator) Option {
	return func(d *deps) { d.validator = v }
}

// WithLogger sets the logger; records are discarded by default
func WithLogger(l *logger.Logger) Option {
	return func(d *deps) { d.log = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func newDeps(repo repository.Store, opts []Option) deps {
	d := deps{
		repo:      repo,
		validator: validator.NewURLValidator(),
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (d *deps) dropCache(ctx context.Context, code string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Delete(ctx, code); err != nil {
		d.log.Warn("cache delete failed", "short_code", code, "error", err.Error())
	}
}

// URLService handles creation and management of mappings
type URLService struct {
	deps
	cfg       Config
	generator *shortcode.Generator
}

// NewURLService creates a new service instance
func NewURLService(repo repository.Store, cfg Config, opts ...Option) *URLService {
	return &URLService{
		deps:      newDeps(repo, opts),
		cfg:       cfg,
		generator: shortcode.NewGenerator(cfg.CodeLength, shortcode.DefaultMaxAttempts),
	}
}

// Shorten validates the request, picks a code and stores a new mapping.
// host is the request's Host, the last resort for the short URL's domain.
func (s *URLService) Shorten(ctx context.Context, req model.ShortenRequest, host string) (*model.ShortenResponse, error) {
	// ============ STEP 1: Validation ============
	if err := s.validator.ValidateURL(req.OriginalURL); err != nil {
		return nil, err
	}

	custom := req.CustomCode != ""
	if custom {
		if err := s.validator.ValidateCustomCode(req.CustomCode); err != nil {
			return nil, err
		}
		taken, err := s.codeExists(ctx, req.CustomCode)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", ErrCodeConflict, req.CustomCode)
		}
	}

	// ============ STEP 2: Build the record ============
	now := s.now().UTC()
	mapping := &model.Mapping{
		OriginalURL:  req.OriginalURL,
		CustomDomain: firstNonEmpty(req.CustomDomain, s.cfg.DefaultDomain),
		CreatedAt:    now,
		ExpiresAt:    expiresAt(now, req.ExpiresIn),
		UserID:       req.UserID,
	}

	// ============ STEP 3: Pick a code and insert ============
	for attempt := 1; ; attempt++ {
		code := req.CustomCode
		if !custom {
			var err error
			code, err = s.generator.GenerateUnique(ctx, s.codeExists)
			if errors.Is(err, shortcode.ErrExhausted) {
				return nil, fmt.Errorf("%w: %v", ErrCodeConflict, err)
			}
			if err != nil {
				return nil, fmt.Errorf("generate short code: %w", err)
			}
		}
		mapping.ShortCode = code

		err := s.repo.Insert(ctx, mapping)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return nil, fmt.Errorf("insert %s: %w", code, err)
		}
		if custom || attempt >= maxInsertAttempts {
			return nil, fmt.Errorf("%w: %s", ErrCodeConflict, code)
		}
		s.log.Warn("generated code taken at insert, retrying", "short_code", code, "attempt", attempt)
	}

	s.log.Info("short url created",
		"short_code", mapping.ShortCode,
		"custom", custom,
		"expires", mapping.ExpiresAt != nil)

	// ============ STEP 4: Build response ============
	return &model.ShortenResponse{
		ShortCode:   mapping.ShortCode,
		ShortURL:    s.shortURL(mapping.ShortCode, req.CustomDomain, host),
		OriginalURL: mapping.OriginalURL,
		CreatedAt:   mapping.CreatedAt,
		ExpiresAt:   mapping.ExpiresAt,
	}, nil
}

// List returns one page of mappings, newest first. page and limit below 1
// fall back to 1 and 20; limit is capped at 100.
func (s *URLService) List(ctx context.Context, page, limit int) (*model.ListResponse, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	mappings, total, err := s.repo.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}

	return &model.ListResponse{
		URLs: mappings,
		Pagination: model.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + int64(limit) - 1) / int64(limit),
		},
	}, nil
}

// Get returns the mapping for code
func (s *URLService) Get(ctx context.Context, code string) (*model.Mapping, error) {
	mapping, err := s.repo.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", code, err)
	}
	return mapping, nil
}

// Delete removes the mapping; deleting twice reports ErrNotFound
func (s *URLService) Delete(ctx context.Context, code string) error {
	deleted, err := s.repo.DeleteByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("delete %s: %w", code, err)
	}
	if !deleted {
		return ErrNotFound
	}

	s.dropCache(ctx, code)
	s.log.Info("short url deleted", "short_code", code)
	return nil
}

// Analytics returns the click projection of a mapping
func (s *URLService) Analytics(ctx context.Context, code string) (*model.Analytics, error) {
	mapping, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	return &model.Analytics{
		ShortCode:     mapping.ShortCode,
		OriginalURL:   mapping.OriginalURL,
		Clicks:        mapping.Clicks,
		CreatedAt:     mapping.CreatedAt,
		LastClickedAt: mapping.LastClickedAt,
		ExpiresAt:     mapping.ExpiresAt,
	}, nil
}

// ============ HELPERS ============

func (s *URLService) codeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.repo.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check code %s: %w", code, err)
	}
	return true, nil
}

func (s *URLService) shortURL(code, requestDomain, host string) string {
	domain := firstNonEmpty(requestDomain, s.cfg.DefaultDomain, host)
	scheme := "http"
	if s.cfg.Secure {
		scheme = "https"
	}
	return scheme + "://" + domain + "/" + code
}

// expiresAt is now+days for a positive finite number of days, else nil
func expiresAt(now time.Time, days *float64) *time.Time {
	if days == nil || *days <= 0 || math.IsNaN(*days) || math.IsInf(*days, 0) {
		return nil
	}
	d := min(*days, maxExpiresInDays)
	t := now.Add(time.Duration(d * float64(24*time.Hour)))
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
