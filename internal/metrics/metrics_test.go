package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("test")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/ping", "200")))

	m.Posts.WithLabelValues("posted").Inc()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ghostreply_posts_total{result="posted"} 1`)
	assert.Contains(t, w.Body.String(), `ghostreply_build_info{version="test"} 1`)
}

func TestNewIsolatedRegistries(t *testing.T) {
	a, b := New("a"), New("b")
	a.Discovered.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.Discovered))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Discovered))
}
