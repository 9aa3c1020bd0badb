package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hudhud.im.sync/internal/jwt"
)

func newRouter(validator TokenValidator, origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins))
	r.GET("/me", JWTAuth(validator), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+"/"+GetDeviceID(c))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	service := jwt.NewService("secret", time.Hour)
	expired := jwt.NewService("secret", -time.Hour)
	r := newRouter(service, nil)

	token, _, err := service.Generate("alice", "phone", jwt.PlatformAndroid)
	require.NoError(t, err)
	stale, _, err := expired.Generate("alice", "phone", jwt.PlatformAndroid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "alice/phone"},
		{"lowercase scheme", "bearer " + token, http.StatusOK, "alice/phone"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"expired", "Bearer " + stale, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(jwt.NewService("secret", time.Hour), []string{"https://app.example"})

	req := httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
