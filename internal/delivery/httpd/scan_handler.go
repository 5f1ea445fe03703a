package httpd

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker/queue"
	"github.com/machgiahao/prn222-grading-system-sub001/pkg/utils"
)

// RunScan rescans a batch synchronously. The body is a SubmissionBatchUploaded
// message; the completion event is published as for queued batches and
// returned.
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	var event models.SubmissionBatchUploaded
	if err := utils.ReadJSON(r, &event); err != nil {
		utils.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	event.BatchID = strings.TrimSpace(event.BatchID)
	if event.BatchID == "" {
		utils.ErrorResponse(w, http.StatusBadRequest, queue.ErrMissingBatchID.Error())
		return
	}

	h.logger.Info().Str("batch_id", event.BatchID).Msg("Manual scan requested")

	completed, err := h.scanWorker.ProcessBatch(r.Context(), event)
	if err != nil {
		h.logger.Error().Err(err).Str("batch_id", event.BatchID).Msg("Manual scan result not published")
		utils.WriteJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   http.StatusText(http.StatusBadGateway),
			"message": "Scan finished but the result could not be published",
			"data":    completed,
		})
		return
	}

	utils.SuccessResponse(w, completed)
}

func (h *Handler) GetScanRuns(w http.ResponseWriter, r *http.Request) {
	if h.scanRuns == nil {
		utils.ErrorResponse(w, http.StatusServiceUnavailable, "Scan run ledger is disabled")
		return
	}

	batchID := chi.URLParam(r, "batch_id")
	runs, err := h.scanRuns.ListByBatch(r.Context(), batchID)
	if err != nil {
		h.logger.Error().Err(err).Str("batch_id", batchID).Msg("Failed to list scan runs")
		utils.ErrorResponse(w, http.StatusInternalServerError, "Failed to list scan runs")
		return
	}
	if runs == nil {
		runs = []models.ScanRun{}
	}

	utils.SuccessResponse(w, models.ScanRunsResponse{
		BatchID: batchID,
		Runs:    runs,
		Total:   len(runs),
	})
}

func (h *Handler) GetScanRun(w http.ResponseWriter, r *http.Request) {
	if h.scanRuns == nil {
		utils.ErrorResponse(w, http.StatusServiceUnavailable, "Scan run ledger is disabled")
		return
	}

	runID := chi.URLParam(r, "run_id")
	if !utils.ValidateUUID(runID) {
		utils.ErrorResponse(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.scanRuns.GetByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrScanRunNotFound) {
			utils.ErrorResponse(w, http.StatusNotFound, "Scan run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get scan run")
		utils.ErrorResponse(w, http.StatusInternalServerError, "Failed to get scan run")
		return
	}

	utils.SuccessResponse(w, run)
}
