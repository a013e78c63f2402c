package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/marketlive/pkg/metrics"
)

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/conversations/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/conversations/c1", "/api/conversations/c2", "/nowhere/1", "/nowhere/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.GreaterOrEqual(t, testutil.CollectAndCount(metrics.APILatency, "marketlive_api_latency_seconds"), 2)
}
