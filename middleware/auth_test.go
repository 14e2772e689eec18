package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ward-backend/models"
	"ward-backend/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(tokens TokenParser) *gin.Engine {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/me", Auth(tokens), func(c *gin.Context) {
		cl, ok := CurrentCaller(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": cl.UserID, "role": cl.Role, "request_id": RequestID(c)})
	})
	return r
}

func TestAuth(t *testing.T) {
	issuer := services.NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue(&models.User{ID: 9, Role: models.RoleAdmin})
	require.NoError(t, err)
	r := newAuthRouter(issuer)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusForbidden},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"user_id":9`)
				assert.Contains(t, w.Body.String(), `"role":"admin"`)
			}
		})
	}
}

func TestAuth_QueryTokenOnlyForWebsocket(t *testing.T) {
	issuer := services.NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue(&models.User{ID: 9, Role: models.RoleDoctor})
	require.NoError(t, err)
	r := newAuthRouter(issuer)

	req := httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_PropagatesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}
