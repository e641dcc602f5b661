package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitPerToken(t *testing.T) {
	rl := NewRateLimitMiddleware(1, 2)
	limited := 0
	rl.OnLimited = func() { limited++ }

	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2 allowed, third rejected.
	require.Equal(t, http.StatusOK, send("tok-a"))
	require.Equal(t, http.StatusOK, send("tok-a"))
	rejected := send("tok-a")
	assert.Equal(t, http.StatusTooManyRequests, rejected)
	assert.Equal(t, 1, limited)

	// A different token has its own bucket.
	assert.Equal(t, http.StatusOK, send("tok-b"))
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware("secret")
	handler := am.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(header, query string) int {
		target := "/api/v1/channels"
		if query != "" {
			target += "?token=" + query
		}
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("", ""))
	assert.Equal(t, http.StatusUnauthorized, send("Bearer wrong", ""))
	assert.Equal(t, http.StatusUnauthorized, send("Basic secret", ""))
	assert.Equal(t, http.StatusOK, send("Bearer secret", ""))
	assert.Equal(t, http.StatusOK, send("bearer secret", ""))
	assert.Equal(t, http.StatusOK, send("", "secret"))
}
