package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/media/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/123", nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/media/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.TokenEvent("rotated")
	m.TokenEvent("rotated")
	m.InviteEvent("code", "redeemed")
	m.Upload("deduplicated")
	m.Swept("refresh_tokens", 5)
	m.Swept("refresh_tokens", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokens.WithLabelValues("rotated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invites.WithLabelValues("code", "redeemed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("deduplicated")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.swept.WithLabelValues("refresh_tokens")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TokenEvent("issued")
	m.InviteEvent("email", "created")
	m.Upload("created")
	m.Swept("media", 1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Upload("created")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `warden_media_uploads_total{outcome="created"} 1`))
}
