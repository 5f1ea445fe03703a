package httpd

import (
	"context"
	"net/http"
	"time"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/pkg/utils"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "scan-service",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}

	utils.WriteJSON(w, http.StatusOK, response)
}

func (h *Handler) GetServiceStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.scanWorker.GetStats()

	status := models.ServiceStatusResponse{
		Status:          "running",
		ActiveWorkers:   stats.ActiveWorkers,
		QueueLength:     stats.QueueLength,
		TotalProcessed:  stats.TotalProcessed,
		DegradedResults: stats.DegradedResults,
		FailedPublishes: stats.FailedPublishes,
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		Timestamp:       time.Now().UTC(),
	}

	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Database ping failed")
			status.Status = "degraded"
		} else {
			status.Database = true
		}
	}

	utils.SuccessResponse(w, status)
}
