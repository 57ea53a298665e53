package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pelias_geocoder/platform/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signAccess(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "type": "access"})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWTAccessSecret: "secret"}
	userID := uuid.New()

	var got *uuid.UUID
	engine := gin.New()
	engine.GET("/open", func(c *gin.Context) {
		got = Actor(c)
		c.Status(http.StatusNoContent)
	})
	engine.GET("/protected", AuthRequired(cfg), func(c *gin.Context) {
		got = Actor(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, got)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, "secret", userID.String()))
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, userID, *got)

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, "other", userID.String()))
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
