package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Metrics(), Logging(logging.NewLoggerV2("http")))
	r.GET("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromContext(c.Request.Context()))
	})
	r.GET("/boom", func(c *gin.Context) {
		c.AbortWithStatus(http.StatusInternalServerError)
	})
	return r
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	r := newRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo", nil))

	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestID_PropagatesCallerValue(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-7", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-7", w.Body.String())
}

func TestLogging_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf, "info")
	t.Cleanup(func() { logging.SetOutput(os.Stdout, "info") })

	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	assert.Equal(t, "http_request", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "/boom", entry["path"])
	assert.EqualValues(t, 500, entry["status"])
}

func TestMetrics_CountsByRouteTemplate(t *testing.T) {
	r := newRouter()
	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/echo", "200"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/echo", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/echo", "200")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404")), 1.0)
}
