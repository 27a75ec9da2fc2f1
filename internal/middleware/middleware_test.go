package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/shortlink/internal/logger"
	"github.com/darkodi/shortlink/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-id")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "upstream-id", seen)
		assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))
	})
}

func TestLoggingWithLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), RequestID, LoggingWithLogger(log))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "/missing", entry["path"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestRecoveryWithLogger(t *testing.T) {
	h := RecoveryWithLogger(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(okHandler, mark("a"), mark("b"), mark("c")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2, Interval: time.Hour}, logger.Nop())
	defer rl.Stop()
	h := rl.Middleware(nil)(okHandler)

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:2222").Code)

	limited := do("10.0.0.1:3333")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, limited))

	// other clients have their own bucket
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1111").Code)
}

func TestRateLimiter_PerRouteBudgets(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:     1,
		Burst:    5,
		Interval: time.Hour,
		Routes: map[string]RouteLimit{
			"POST /api/shorten": {Rate: 1, Burst: 2},
		},
	}, logger.Nop())
	defer rl.Stop()

	mux := http.NewServeMux()
	mux.Handle("POST /api/shorten", okHandler)
	mux.Handle("GET /api/urls", okHandler)
	mux.Handle("GET /{shortCode}", okHandler)
	h := rl.Middleware(mux)(mux)

	do := func(method, path, addr string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// shorten has the tighter bucket
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/shorten", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/shorten", "10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "/api/shorten", "10.0.0.1:1"))

	// redirects still have their own, larger budget
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/code"+strconv.Itoa(i), "10.0.0.1:1"), "redirect %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodGet, "/another", "10.0.0.1:1"))

	// routes without an override share that budget
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodGet, "/api/urls", "10.0.0.1:1"))

	// other clients are unaffected
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/shorten", "10.0.0.2:1"))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/abc", "10.0.0.2:1"))
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:     1,
		Burst:    1,
		Interval: time.Hour,
		Routes:   map[string]RouteLimit{"POST /api/shorten": {Rate: 1, Burst: 1}},
	}, nil)
	defer rl.Stop()

	assert.True(t, rl.Allow("POST /api/shorten", "1.2.3.4"))
	assert.False(t, rl.Allow("POST /api/shorten", "1.2.3.4"))

	// unknown patterns fall into the shared bucket together
	assert.True(t, rl.Allow("GET /{shortCode}", "1.2.3.4"))
	assert.False(t, rl.Allow("", "1.2.3.4"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:5555", "2001:db8::1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:1", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.1:1", "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func signToken(t *testing.T, secret, subject string, method jwt.SigningMethod) string {
	t.Helper()
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"

	var user string
	h := BearerAuth(secret, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
		Subject:   "late@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	expiredToken, err := expired.SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"anonymous", "", http.StatusOK, ""},
		{"valid token", "Bearer " + signToken(t, secret, "alice@example.com", jwt.SigningMethodHS256), http.StatusOK, "alice@example.com"},
		{"wrong secret", "Bearer " + signToken(t, "other", "alice@example.com", jwt.SigningMethodHS256), http.StatusUnauthorized, ""},
		{"wrong algorithm", "Bearer " + signToken(t, secret, "alice@example.com", jwt.SigningMethodHS512), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expiredToken, http.StatusUnauthorized, ""},
		{"not bearer", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user = ""
			req := httptest.NewRequest(http.MethodPost, "/api/shorten", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, user)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
			}
		})
	}
}

func TestBearerAuth_Disabled(t *testing.T) {
	h := BearerAuth("", logger.Nop())(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_RouteLabel(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{shortCode}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://example.com", http.StatusMovedPermanently)
	})
	h := Metrics(m)(mux)

	for _, path := range []string{"/abc", "/def"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a/b/c", nil))

	expected := `
# HELP shortlink_http_requests_total HTTP requests by route and status code
# TYPE shortlink_http_requests_total counter
shortlink_http_requests_total{code="301",method="GET",route="GET /{shortCode}"} 2
shortlink_http_requests_total{code="404",method="GET",route="unmatched"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "shortlink_http_requests_total"))
}
