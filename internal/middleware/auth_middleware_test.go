package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docvault-server/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func TestAuthMiddleware(t *testing.T) {
	access, err := jwt.GenerateToken("alice", time.Hour, testSecret)
	require.NoError(t, err)
	refresh, err := jwt.GenerateRefreshToken("alice", time.Hour, testSecret)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: "Bearer " + access, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + access, wantStatus: http.StatusOK},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + access, wantStatus: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + refresh, wantStatus: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var userID string
			h := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID = GetUserID(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/notes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "alice", userID)
			}
		})
	}
}

func TestCORSMiddlewareExposesETag(t *testing.T) {
	h := CORSMiddleware("https://app.example.com", "GET,PUT", "Content-Type, Authorization")(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/notes/n1", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "If-Match")
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "ETag")
}

func TestCORSMiddlewareKeepsConfiguredIfMatch(t *testing.T) {
	assert.Equal(t, "If-Match, Content-Type", withHeader("If-Match, Content-Type", "If-Match"))
	assert.Equal(t, "If-Match", withHeader("", "If-Match"))
}
