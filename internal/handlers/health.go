package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/monitoring"
	"github.com/charlesng35/marketlive/internal/services"
)

// StatusSource reports realtime channel states.
type StatusSource interface {
	Status() services.TransportStatus
}

// Health evaluates the readiness probes and reports the realtime channel states. A nil
// manager reports a plain ok.
func Health(manager *monitoring.HealthManager, source StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := monitoring.HealthReport{Success: true, Status: monitoring.StatusUp}
		if manager != nil {
			report = manager.Evaluate(requestContext(c))
		}

		payload := gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"checks":     report.Checks,
			"checked_at": time.Now().UTC(),
		}
		if source != nil {
			payload["transport"] = source.Status()
		}

		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, payload)
	}
}
