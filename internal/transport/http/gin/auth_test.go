package httpgin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(testSecret), func(c *gin.Context) {
		id, _ := currentUser(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id, "admin": isAdmin(c)})
	})
	r.GET("/admin", JWTAuth(testSecret), AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doGet(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthMissingToken(t *testing.T) {
	r := authTestRouter()
	w := doGet(r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthBadSignature(t *testing.T) {
	r := authTestRouter()
	token := signToken(t, "other-secret", jwt.MapClaims{"sub": float64(7)})
	w := doGet(r, "/me", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthExpired(t *testing.T) {
	r := authTestRouter()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": float64(7),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	w := doGet(r, "/me", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthValid(t *testing.T) {
	r := authTestRouter()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  float64(7),
		"role": "user",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	w := doGet(r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"admin":false}`, w.Body.String())
}

func TestJWTAuthStringSubject(t *testing.T) {
	r := authTestRouter()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	w := doGet(r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42,"admin":false}`, w.Body.String())
}

func TestAdminOnly(t *testing.T) {
	r := authTestRouter()

	user := signToken(t, testSecret, jwt.MapClaims{
		"sub": float64(7), "role": "user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	w := doGet(r, "/admin", user)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := signToken(t, testSecret, jwt.MapClaims{
		"sub": float64(1), "role": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	w = doGet(r, "/admin", admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
