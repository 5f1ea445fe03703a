package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWorker struct {
	events     []models.SubmissionBatchUploaded
	publishErr error
	stats      worker.WorkerStats
}

func (s *stubWorker) Start(context.Context) error { return nil }
func (s *stubWorker) Stop(context.Context) error  { return nil }

func (s *stubWorker) ProcessBatch(_ context.Context, event models.SubmissionBatchUploaded) (models.ScanCompleted, error) {
	s.events = append(s.events, event)
	return models.NewScanCompleted(event.ToScanRequest(), &models.ScanResult{
		StudentCodes:   []string{"SE171234"},
		StudentFolders: map[string]string{"SE171234": "SE171234"},
	}, time.Time{}), s.publishErr
}

func (s *stubWorker) GetStats() worker.WorkerStats { return s.stats }

type stubRuns struct {
	repository.ScanRunRepository
	runs []models.ScanRun
	err  error
}

func (s *stubRuns) ListByBatch(_ context.Context, batchID string) ([]models.ScanRun, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.ScanRun
	for _, run := range s.runs {
		if run.BatchID == batchID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *stubRuns) GetByID(_ context.Context, id string) (*models.ScanRun, error) {
	for _, run := range s.runs {
		if run.ID == id {
			r := run
			return &r, nil
		}
	}
	return nil, repository.ErrScanRunNotFound
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

const runID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func newTestRouter(w worker.ScanWorker, runs repository.ScanRunRepository, db Pinger) http.Handler {
	router := chi.NewRouter()
	NewHandler(w, runs, db, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func serve(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func TestHealthCheck(t *testing.T) {
	rec, body := serve(t, newTestRouter(&stubWorker{}, nil, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"healthy"`, string(body["status"]))
}

func TestServiceStatus(t *testing.T) {
	w := &stubWorker{stats: worker.WorkerStats{ActiveWorkers: 2, QueueLength: 7, TotalProcessed: 3}}

	rec, body := serve(t, newTestRouter(w, nil, stubPinger{}), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.ServiceStatusResponse
	require.NoError(t, json.Unmarshal(body["data"], &status))
	assert.Equal(t, "running", status.Status)
	assert.True(t, status.Database)
	assert.Equal(t, 2, status.ActiveWorkers)
	assert.Equal(t, 7, status.QueueLength)

	_, body = serve(t, newTestRouter(w, nil, stubPinger{err: errors.New("down")}), http.MethodGet, "/status", "")
	require.NoError(t, json.Unmarshal(body["data"], &status))
	assert.Equal(t, "degraded", status.Status)
	assert.False(t, status.Database)
}

func TestRunScan(t *testing.T) {
	w := &stubWorker{}
	router := newTestRouter(w, nil, nil)

	rec, body := serve(t, router, http.MethodPost, "/api/v1/scans",
		`{"batchId":" b1 ","rarFilePath":"batches/b1.rar","uploadedByManagerId":"m1","forbiddenKeywords":["chatgpt"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, w.events, 1)
	assert.Equal(t, "b1", w.events[0].BatchID)
	assert.Equal(t, []string{"chatgpt"}, w.events[0].ForbiddenKeywords)

	var completed models.ScanCompleted
	require.NoError(t, json.Unmarshal(body["data"], &completed))
	assert.Equal(t, "b1", completed.BatchID)
	assert.Equal(t, []string{"SE171234"}, completed.StudentCodes)
}

func TestRunScanRejectsInvalidBody(t *testing.T) {
	w := &stubWorker{}
	router := newTestRouter(w, nil, nil)

	for _, body := range []string{`{`, `{"batchId":""}`, `{"batchId":"b1","forbiddenKeywords":"x"}`} {
		rec, _ := serve(t, router, http.MethodPost, "/api/v1/scans", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, w.events)
}

func TestRunScanPublishFailure(t *testing.T) {
	w := &stubWorker{publishErr: errors.New("broker down")}

	rec, body := serve(t, newTestRouter(w, nil, nil), http.MethodPost, "/api/v1/scans", `{"batchId":"b1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body, "data")
}

func TestGetScanRuns(t *testing.T) {
	runs := &stubRuns{runs: []models.ScanRun{
		{ID: runID, BatchID: "b1", Attempt: 1, Status: "completed"},
		{ID: "other", BatchID: "b2", Attempt: 1, Status: "failed"},
	}}
	router := newTestRouter(&stubWorker{}, runs, nil)

	rec, body := serve(t, router, http.MethodGet, "/api/v1/scans/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ScanRunsResponse
	require.NoError(t, json.Unmarshal(body["data"], &resp))
	assert.Equal(t, "b1", resp.BatchID)
	assert.Equal(t, 1, resp.Total)

	rec, body = serve(t, router, http.MethodGet, "/api/v1/scans/unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(body["data"], &resp))
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Runs)
}

func TestGetScanRun(t *testing.T) {
	runs := &stubRuns{runs: []models.ScanRun{{ID: runID, BatchID: "b1", Attempt: 2, Status: "completed"}}}
	router := newTestRouter(&stubWorker{}, runs, nil)

	rec, body := serve(t, router, http.MethodGet, "/api/v1/scans/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run models.ScanRun
	require.NoError(t, json.Unmarshal(body["data"], &run))
	assert.Equal(t, 2, run.Attempt)

	rec, _ = serve(t, router, http.MethodGet, "/api/v1/scans/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, router, http.MethodGet, "/api/v1/scans/runs/00000000-0000-0000-0000-000000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerDisabled(t *testing.T) {
	router := newTestRouter(&stubWorker{}, nil, nil)

	rec, _ := serve(t, router, http.MethodGet, "/api/v1/scans/b1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
