package httpd

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker"
	"github.com/rs/zerolog"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	scanWorker worker.ScanWorker
	scanRuns   repository.ScanRunRepository
	database   Pinger
	logger     zerolog.Logger
	startTime  time.Time
}

// NewHandler builds the operational endpoints. scanRuns and database may be
// nil when the ledger is disabled.
func NewHandler(
	scanWorker worker.ScanWorker,
	scanRuns repository.ScanRunRepository,
	database Pinger,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		scanWorker: scanWorker,
		scanRuns:   scanRuns,
		database:   database,
		logger:     logger,
		startTime:  time.Now(),
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/status", h.GetServiceStatus)

	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/scans", func(r chi.Router) {
			r.Post("/", h.RunScan)
			r.Get("/runs/{run_id}", h.GetScanRun)
			r.Get("/{batch_id}", h.GetScanRuns)
		})
	})
}
