package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	apperr "github.com/darkodi/shortlink/internal/errors"
	"github.com/darkodi/shortlink/internal/logger"
	"github.com/darkodi/shortlink/internal/metrics"
	"github.com/darkodi/shortlink/internal/middleware"
	"github.com/darkodi/shortlink/internal/model"
	"github.com/darkodi/shortlink/internal/service"
)

const maxBodyBytes = 1 << 20

// Route patterns that other layers key on
const (
	RouteShorten  = "POST /api/shorten"
	RouteRedirect = "GET /{shortCode}"
)

// HealthChecker is anything whose reachability /health reports
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthChecks pings every named dependency in name order and reports the
// first one that fails
type HealthChecks map[string]HealthChecker

func (hc HealthChecks) Ping(ctx context.Context) error {
	for _, name := range slices.Sorted(maps.Keys(hc)) {
		if err := hc[name].Ping(ctx); err != nil {
			return &unhealthyError{name: name, err: err}
		}
	}
	return nil
}

type unhealthyError struct {
	name string
	err  error
}

func (e *unhealthyError) Error() string { return fmt.Sprintf("%s: %v", e.name, e.err) }
func (e *unhealthyError) Unwrap() error { return e.err }

// URLHandler handles HTTP requests for URL operations
type URLHandler struct {
	service  *service.URLService
	resolver *service.Resolver
	health   HealthChecker
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewURLHandler creates a new handler instance. m may be nil.
func NewURLHandler(svc *service.URLService, resolver *service.Resolver, health HealthChecker, m *metrics.Metrics, log *logger.Logger) *URLHandler {
	return &URLHandler{
		service:  svc,
		resolver: resolver,
		health:   health,
		metrics:  m,
		log:      log,
	}
}

// ============ HANDLERS ============

// HandleShorten creates a new short URL
// POST /api/shorten
func (h *URLHandler) HandleShorten(w http.ResponseWriter, r *http.Request) {
	// Parse JSON body
	var req model.ShortenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		apperr.InvalidJSON(err.Error()).WriteJSON(w)
		return
	}
	req.UserID = middleware.UserID(r.Context())

	resp, err := h.service.Shorten(r.Context(), req, r.Host)
	if err != nil {
		h.writeError(w, r, err, req.CustomCode)
		return
	}

	if h.metrics != nil {
		h.metrics.URLCreated(req.CustomCode != "")
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleList returns one page of mappings
// GET /api/urls?page=N&limit=N
func (h *URLHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page := leadingInt(r.URL.Query().Get("page"))
	limit := leadingInt(r.URL.Query().Get("limit"))

	resp, err := h.service.List(r.Context(), page, limit)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGet returns a single mapping
// GET /api/urls/{shortCode}
func (h *URLHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("shortCode")

	mapping, err := h.service.Get(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err, code)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

// HandleDelete removes a mapping
// DELETE /api/urls/{shortCode}
func (h *URLHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("shortCode")

	if err := h.service.Delete(r.Context(), code); err != nil {
		h.writeError(w, r, err, code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Short URL deleted successfully"})
}

// HandleAnalytics returns click data for a mapping
// GET /api/analytics/{shortCode}
func (h *URLHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("shortCode")

	stats, err := h.service.Analytics(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err, code)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleRedirect redirects to the original URL
// GET /{shortCode}
func (h *URLHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("shortCode")

	target, err := h.resolver.Resolve(r.Context(), code)
	h.countRedirect(err)
	if err != nil {
		h.writeError(w, r, err, code)
		return
	}

	http.Redirect(w, r, target.URL, target.StatusCode)
}

// HandleHealth reports whether the store (and cache, when enabled) is reachable
// GET /health
func (h *URLHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		h.log.Error("health check failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error())

		details := "store unreachable"
		var unhealthy *unhealthyError
		if errors.As(err, &unhealthy) {
			details = unhealthy.name + " unreachable"
		}
		apperr.ServiceUnavailable(details).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ============ ROUTER SETUP ============

// SetupRoutes configures all HTTP routes. protect wraps the /api routes
// (bearer auth); nil leaves them open.
func (h *URLHandler) SetupRoutes(protect middleware.Middleware) *http.ServeMux {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	api := func(fn http.HandlerFunc) http.Handler { return protect(fn) }

	mux := http.NewServeMux()

	mux.Handle(RouteShorten, api(h.HandleShorten))
	mux.Handle("GET /api/urls", api(h.HandleList))
	mux.Handle("GET /api/urls/{shortCode}", api(h.HandleGet))
	mux.Handle("DELETE /api/urls/{shortCode}", api(h.HandleDelete))
	mux.Handle("GET /api/analytics/{shortCode}", api(h.HandleAnalytics))

	mux.HandleFunc("GET /health", h.HandleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	// Single-segment catch-all; the literal routes above take precedence
	mux.HandleFunc(RouteRedirect, h.HandleRedirect)

	return mux
}

// ============ HELPERS ============

// writeError maps service errors onto HTTP errors
func (h *URLHandler) writeError(w http.ResponseWriter, r *http.Request, err error, code string) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		apperr.InvalidURL(err.Error()).WriteJSON(w)
	case errors.Is(err, service.ErrInvalidCode):
		apperr.InvalidCode(err.Error()).WriteJSON(w)
	case errors.Is(err, service.ErrCodeConflict):
		apperr.CodeConflict(code).WriteJSON(w)
	case errors.Is(err, service.ErrNotFound):
		apperr.URLNotFound(code).WriteJSON(w)
	case errors.Is(err, service.ErrExpired):
		apperr.URLExpired(code).WriteJSON(w)
	default:
		h.log.Error("request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error())
		apperr.Internal("").WriteJSON(w)
	}
}

func (h *URLHandler) countRedirect(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case err == nil:
		h.metrics.Redirect(metrics.RedirectOK)
	case errors.Is(err, service.ErrNotFound):
		h.metrics.Redirect(metrics.RedirectNotFound)
	case errors.Is(err, service.ErrExpired):
		h.metrics.Redirect(metrics.RedirectExpired)
	default:
		h.metrics.Redirect(metrics.RedirectError)
	}
}

// leadingInt reads the integer prefix of s, so "2.5" and "3abc" give 2
// and 3. Values without one give 0, which List turns into its defaults.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
