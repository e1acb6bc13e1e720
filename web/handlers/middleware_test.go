package handlers_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/rollcall/internal/config"
	"github.com/scrypster/rollcall/web/handlers"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_SkipInDevelopmentMode(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "development",
			APIToken:     "secret",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/pending", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_RejectMissingToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/pending", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestRequireAuth_RejectWrongToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret-token",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/pending", nil)
	req.Header.Set("Authorization", "Bearer guess")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_AcceptValidToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret-token",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/pending", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_AllowsNormalRate(t *testing.T) {
	limiter := handlers.NewRateLimiter(10, 20)
	handler := handlers.RateLimitMiddleware(okHandler(), limiter)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/pending", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitMiddleware_RejectsExcessiveRate(t *testing.T) {
	limiter := handlers.NewRateLimiter(1, 2)
	handler := handlers.RateLimitMiddleware(okHandler(), limiter)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/pending", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("GET", "/api/pending", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimitMiddleware_LimitsPerClient(t *testing.T) {
	limiter := handlers.NewRateLimiter(1, 1)
	handler := handlers.RateLimitMiddleware(okHandler(), limiter)

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/api/pending", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"), "same host, other port")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000"))
	assert.Equal(t, 2, limiter.Clients())
}

func TestRequestLogger_LogsServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	handler := handlers.RequestLogger(failing, logger)

	req := httptest.NewRequest("POST", "/api/confirm", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "status=500")
	assert.Contains(t, buf.String(), "path=/api/confirm")

	buf.Reset()
	handlers.RequestLogger(okHandler(), logger).ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, buf.String(), "successful requests log at debug")
}
