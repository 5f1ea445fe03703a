package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/archive"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker/queue"
	"github.com/rs/zerolog"
)

type ScanWorker interface {
	Start(ctx context.Context) error
	// Stop stops consuming, cancels the runs in progress and waits for their
	// degraded results to be published, bounded by ctx.
	Stop(ctx context.Context) error
	// ProcessBatch runs one batch and publishes its completion event. The
	// returned event is the one that was (or failed to be) published.
	ProcessBatch(ctx context.Context, event models.SubmissionBatchUploaded) (models.ScanCompleted, error)
	GetStats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers   int `json:"active_workers"`
	ProcessedToday  int `json:"processed_today"`
	TotalProcessed  int `json:"total_processed"`
	FailedJobs      int `json:"failed_jobs"`
	DegradedResults int `json:"degraded_results"`
	FailedPublishes int `json:"failed_publishes"`
	QueueLength     int `json:"queue_length"`
}

type ScanWorkerConfig struct {
	Bucket             string
	OutboundExchange   string
	OutboundRoutingKey string
	PublishTimeout     time.Duration
	DownloadTimeout    time.Duration
}

type scanWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.RabbitMQConsumer
	publisher     queue.RabbitMQPublisher
	objectStore   repository.ObjectStore
	scanRuns      repository.ScanRunRepository
	scanService   service.ScanService
	config        ScanWorkerConfig
	logger        zerolog.Logger
	stats         WorkerStats
	statsMutex    sync.RWMutex
	cancelMutex   sync.Mutex
	cancelRuns    context.CancelFunc
	startTime     time.Time
	now           func() time.Time
}

// NewScanWorker wires the consumer. scanRuns may be nil, in which case runs
// are not recorded.
func NewScanWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	publisher queue.RabbitMQPublisher,
	objectStore repository.ObjectStore,
	scanRuns repository.ScanRunRepository,
	scanService service.ScanService,
	config ScanWorkerConfig,
	logger zerolog.Logger,
) ScanWorker {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}
	return &scanWorker{
		workerPool:    workerPool,
		queueConsumer: queueConsumer,
		publisher:     publisher,
		objectStore:   objectStore,
		scanRuns:      scanRuns,
		scanService:   scanService,
		config:        config,
		logger:        logger,
		startTime:     time.Now(),
		now:           time.Now,
	}
}

func (w *scanWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting scan worker...")

	runCtx, cancel := context.WithCancel(ctx)
	w.cancelMutex.Lock()
	w.cancelRuns = cancel
	w.cancelMutex.Unlock()

	if err := w.workerPool.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.queueConsumer.Consume(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(runCtx, msgs)

	w.logger.Info().Msg("Scan worker started successfully")
	return nil
}

func (w *scanWorker) Stop(ctx context.Context) error {
	w.logger.Info().Msg("Stopping scan worker...")

	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	w.cancelMutex.Lock()
	if w.cancelRuns != nil {
		w.cancelRuns()
	}
	w.cancelMutex.Unlock()

	var stopErr error
	if err := w.workerPool.Stop(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
		stopErr = err
	}

	stats := w.GetStats()
	w.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("failed_jobs", stats.FailedJobs).
		Int("degraded_results", stats.DegradedResults).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Scan worker stopped")

	return stopErr
}

func (w *scanWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			err := w.workerPool.Submit(ctx, func() {
				w.handleMessage(ctx, msg)
			})
			if err != nil {
				w.logger.Warn().Err(err).Msg("Delivery not scheduled, returning it to the queue")
				if nackErr := msg.Nack(false, true); nackErr != nil {
					w.logger.Error().Err(nackErr).Msg("Failed to nack message")
				}
			}
		}
	}
}

func (w *scanWorker) handleMessage(ctx context.Context, msg queue.RabbitMQMessage) {
	if err := w.processMessage(ctx, msg); err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to process message")

		w.statsMutex.Lock()
		w.stats.FailedJobs++
		w.statsMutex.Unlock()

		if isPermanentError(err) {
			if ackErr := msg.Ack(false); ackErr != nil {
				w.logger.Error().Err(ackErr).Msg("Failed to ack message")
			}
			return
		}

		if nackErr := msg.Nack(false, true); nackErr != nil {
			w.logger.Error().Err(nackErr).Msg("Failed to nack message")
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		w.logger.Error().Err(err).Msg("Failed to ack message")
	}

	w.statsMutex.Lock()
	if time.Since(msg.Timestamp).Hours() < 24 {
		w.stats.ProcessedToday++
	}
	w.statsMutex.Unlock()
}

// processMessage returns a permanent error for deliveries that must not be
// redelivered and a plain error when the completion event could not be
// published and the run has to be repeated.
func (w *scanWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) error {
	ctx = queue.ExtractTraceContext(ctx, msg.Headers)

	event, decodeErr := queue.DecodeBatchUploaded(msg.Body)
	if decodeErr != nil {
		req := event.ToScanRequest()
		result := models.NewErrorResult(fmt.Errorf("invalid batch message: %w", decodeErr))
		if _, err := w.publish(ctx, req, result); err != nil {
			w.logger.Error().Err(err).Str("batch_id", req.BatchID).Msg("Failed to publish degraded result for invalid message")
		}
		return permanent(decodeErr)
	}

	w.logger.Info().
		Str("batch_id", event.BatchID).
		Str("exam_id", event.ExamID).
		Str("archive", event.RarFilePath).
		Bool("redelivered", msg.Redelivered).
		Msg("Processing submission batch")

	if _, err := w.ProcessBatch(ctx, event); err != nil {
		return fmt.Errorf("failed to publish scan result for batch %s: %w", event.BatchID, err)
	}
	return nil
}

func (w *scanWorker) ProcessBatch(ctx context.Context, event models.SubmissionBatchUploaded) (models.ScanCompleted, error) {
	req := event.ToScanRequest()
	result := w.runScan(ctx, req)
	completed, err := w.publish(ctx, req, result)

	w.statsMutex.Lock()
	w.stats.TotalProcessed++
	if result.HasScanError() {
		w.stats.DegradedResults++
	}
	w.statsMutex.Unlock()

	return completed, err
}

// runScan never fails: every error, panics included, becomes the single
// ScanError result.
func (w *scanWorker) runScan(ctx context.Context, req models.ScanRequest) (result *models.ScanResult) {
	startTime := time.Now()
	log := w.logger.With().Str("batch_id", req.BatchID).Logger()
	run := w.startRun(ctx, req)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Scan panicked")
			result = models.NewErrorResult(fmt.Errorf("internal error: %v", r))
		}
		w.finishRun(run, result)

		log.Info().
			Int("violations", len(result.Violations)).
			Int("students", len(result.StudentCodes)).
			Bool("degraded", result.HasScanError()).
			Dur("duration", time.Since(startTime)).
			Msg("Scan finished")
	}()

	downloadCtx := ctx
	if w.config.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		downloadCtx, cancel = context.WithTimeout(ctx, w.config.DownloadTimeout)
		defer cancel()
	}

	body, size, err := w.objectStore.Download(downloadCtx, w.config.Bucket, req.ArchivePath)
	if err != nil {
		log.Error().Err(err).Str("archive", req.ArchivePath).Msg("Failed to download archive")
		return models.NewErrorResult(fmt.Errorf("failed to download archive %s: %w", req.ArchivePath, err))
	}
	defer body.Close()

	if size == 0 {
		return models.NewErrorResult(fmt.Errorf("archive %s: %w", req.ArchivePath, archive.ErrEmptyArchive))
	}

	result, err = w.scanService.Scan(ctx, req, body)
	if err != nil || result == nil {
		if result == nil {
			result = models.NewErrorResult(err)
		}
		log.Warn().Err(err).Msg("Scan degraded")
	}
	return result
}

// publish sends the completion event with a context that survives
// cancellation of ctx, so shutdown still delivers the degraded result.
func (w *scanWorker) publish(ctx context.Context, req models.ScanRequest, result *models.ScanResult) (models.ScanCompleted, error) {
	completed := models.NewScanCompleted(req, result, w.now())

	body, err := queue.EncodeScanCompleted(completed)
	if err != nil {
		return completed, err
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.PublishTimeout)
	defer cancel()

	if err := w.publisher.Publish(publishCtx, w.config.OutboundExchange, w.config.OutboundRoutingKey, body); err != nil {
		w.statsMutex.Lock()
		w.stats.FailedPublishes++
		w.statsMutex.Unlock()
		return completed, fmt.Errorf("failed to publish scan completed event: %w", err)
	}

	w.logger.Info().
		Str("batch_id", completed.BatchID).
		Int("violations", len(completed.Violations)).
		Int("student_codes", len(completed.StudentCodes)).
		Msg("Scan completed event published")

	return completed, nil
}

func (w *scanWorker) startRun(ctx context.Context, req models.ScanRequest) *models.ScanRun {
	if w.scanRuns == nil {
		return nil
	}

	run, err := w.scanRuns.Start(ctx, req.BatchID, req.ExamID)
	if err != nil {
		w.logger.Warn().Err(err).Str("batch_id", req.BatchID).Msg("Failed to record scan run")
		return nil
	}
	if run.Attempt > 1 {
		w.logger.Info().
			Str("batch_id", req.BatchID).
			Int("attempt", run.Attempt).
			Msg("Batch is being scanned again")
	}
	return run
}

func (w *scanWorker) finishRun(run *models.ScanRun, result *models.ScanResult) {
	if run == nil || w.scanRuns == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if result.HasScanError() {
		err = w.scanRuns.Fail(ctx, run.ID, len(result.StudentCodes), len(result.Violations), systemError(result))
	} else {
		err = w.scanRuns.Complete(ctx, run.ID, len(result.StudentCodes), len(result.Violations))
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to update scan run")
	}
}

func systemError(result *models.ScanResult) string {
	for _, v := range result.Violations {
		if v.Type == models.ViolationTypeScanError && v.StudentID == models.SystemStudentID {
			return v.Description
		}
	}
	return ""
}

func (w *scanWorker) GetStats() WorkerStats {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()

	queueLength, err := w.queueConsumer.GetQueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		w.stats.QueueLength = queueLength
	}

	w.stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return w.stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
