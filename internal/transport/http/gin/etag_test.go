package httpgin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etagRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/thing", func(c *gin.Context) {
		writeJSONWithCache(c, http.StatusOK, gin.H{"id": 1}, "public, max-age=60", true)
	})
	return r
}

func TestWriteJSONWithCache(t *testing.T) {
	r := etagRouter()

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"id":1}`, w.Body.String())

	// Matching If-None-Match short-circuits to 304.
	req = httptest.NewRequest(http.MethodGet, "/thing", nil)
	req.Header.Set("If-None-Match", tag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteJSONWithCacheStaleETag(t *testing.T) {
	r := etagRouter()

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	req.Header.Set("If-None-Match", `W/"stale"`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
}
