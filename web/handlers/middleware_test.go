package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openglance/glance/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authConfig(mode, token string) *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{SecurityMode: mode, APIToken: token},
	}
}

func TestRequireAuthDevelopmentBypasses(t *testing.T) {
	h := RequireAuth(okHandler(), authConfig("development", ""))

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthProduction(t *testing.T) {
	h := RequireAuth(okHandler(), authConfig("production", "secret-token"))

	// No token.
	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token.
	req = httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct token.
	req = httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthProductionWithoutConfiguredToken(t *testing.T) {
	// Production mode with no token configured locks the API rather than
	// silently opening it.
	h := RequireAuth(okHandler(), authConfig("production", ""))

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1.0, 2)
	h := RateLimitMiddleware(okHandler(), rl)

	// The burst admits the first two requests; the third is limited.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
