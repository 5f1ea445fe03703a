package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/config"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/delivery/httpd"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/analyzer"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/archive"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/integration"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker/queue"
	"github.com/machgiahao/prn222-grading-system-sub001/pkg/logger"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type App struct {
	server       *http.Server
	logger       zerolog.Logger
	config       *config.Config
	db           *sql.DB
	scanWorker   worker.ScanWorker
	rabbitMQRepo repository.RabbitMQRepository
	qdrantRepo   *repository.QdrantRepository
	ctx          context.Context
	cancel       context.CancelFunc
}

// New wires the service. db may be nil, which disables the scan-run ledger.
func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	pattern, err := regexp.Compile(cfg.Scan.StudentCodePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid scan.student_code_pattern: %w", err)
	}

	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, logger.Component(log, "rabbitmq"))
	if err != nil {
		return nil, err
	}

	if err := rabbitMQRepo.SetupTopology(repository.Topology{
		ExchangeType:      cfg.RabbitMQ.ExchangeType,
		InboundExchange:   cfg.RabbitMQ.InboundExchange,
		InboundQueue:      cfg.RabbitMQ.InboundQueue,
		InboundRoutingKey: cfg.RabbitMQ.InboundRoutingKey,
		OutboundExchange:  cfg.RabbitMQ.OutboundExchange,
	}); err != nil {
		rabbitMQRepo.Close()
		return nil, err
	}

	publishTimeout := time.Duration(cfg.Scan.PublishTimeoutSeconds) * time.Second

	rabbitMQPublisher := queue.NewRabbitMQPublisher(
		rabbitMQRepo.PublisherChannel(),
		publishTimeout,
		logger.Component(log, "publisher"),
	)
	rabbitMQConsumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.ConsumerChannel(),
		cfg.RabbitMQ.InboundQueue,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		logger.Component(log, "consumer"),
	)

	minioRepo, err := repository.NewMinIORepository(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		cfg.Storage.Region,
		cfg.Storage.UseSSL,
		cfg.Storage.ConnectTimeout,
		logger.Component(log, "storage"),
	)
	if err != nil {
		rabbitMQRepo.Close()
		return nil, err
	}

	qdrantRepo, err := repository.NewQdrantRepository(
		cfg.Qdrant.Address,
		cfg.Qdrant.APIKey,
		cfg.Qdrant.UseTLS,
		cfg.Qdrant.Timeout,
		logger.Component(log, "qdrant"),
	)
	if err != nil {
		rabbitMQRepo.Close()
		return nil, err
	}

	embeddingClient := integration.NewEmbeddingClient(integration.EmbeddingClientConfig{
		BaseURL:       cfg.Embedding.URL,
		Endpoint:      cfg.Embedding.Endpoint,
		Model:         cfg.Embedding.Model,
		APIKey:        cfg.Embedding.APIKey,
		Dimension:     cfg.Embedding.Dimension,
		Timeout:       cfg.Embedding.Timeout,
		RetryCount:    cfg.Embedding.RetryCount,
		RetryDelay:    cfg.Embedding.RetryDelay,
		RatePerSecond: cfg.Embedding.RatePerSecond,
		Burst:         cfg.Embedding.Burst,
	}, logger.Component(log, "embedding"))

	extractor := archive.NewExtractor(archive.ExtractorConfig{
		Limits: archive.Limits{
			MaxExtractedBytes: cfg.Scan.MaxExtractedBytes,
			MaxFileBytes:      cfg.Scan.MaxFileBytes,
			MaxEntries:        cfg.Scan.MaxEntries,
		},
		StudentCodePattern:   pattern,
		ExpandNestedArchives: cfg.Scan.ExpandNestedArchives,
	}, logger.Component(log, "extractor"))

	scanner := analyzer.NewViolationScanner(analyzer.ViolationScannerConfig{
		SourceExtensions:   cfg.Scan.SourceExtensions,
		StudentCodePattern: pattern,
	}, logger.Component(log, "scanner"))

	vectorIndex := analyzer.NewVectorIndex(qdrantRepo, analyzer.NewCollectionCache(), analyzer.VectorIndexConfig{
		Dimension:           uint64(cfg.Embedding.Dimension),
		SearchLimit:         uint64(cfg.Scan.SearchLimit),
		SimilarityThreshold: cfg.Scan.SimilarityThreshold,
	}, logger.Component(log, "vector_index"))

	detector := analyzer.NewPlagiarismDetector(embeddingClient, vectorIndex, scanner, analyzer.PlagiarismDetectorConfig{
		SimilarityThreshold: cfg.Scan.SimilarityThreshold,
		MaxChars:            cfg.Embedding.MaxChars,
		Concurrency:         cfg.Scan.StudentConcurrency,
	}, logger.Component(log, "detector"))

	scanService := service.NewScanService(extractor, scanner, detector, service.ScanConfig{
		CollectionPrefix:   cfg.Qdrant.CollectionPrefix,
		StudentConcurrency: cfg.Scan.StudentConcurrency,
	}, logger.Component(log, "scan"))

	var (
		scanRuns repository.ScanRunRepository
		database httpd.Pinger
	)
	if db != nil {
		scanRuns = repository.NewScanRunRepository(db, logger.Component(log, "ledger"))
		database = repository.NewPostgresRepository(db, log)
	}

	workerPool := worker.NewWorkerPool(cfg.Scan.MaxWorkers, logger.Component(log, "pool"))

	scanWorker := worker.NewScanWorker(
		workerPool,
		rabbitMQConsumer,
		rabbitMQPublisher,
		minioRepo,
		scanRuns,
		scanService,
		worker.ScanWorkerConfig{
			Bucket:             cfg.Storage.Bucket,
			OutboundExchange:   cfg.RabbitMQ.OutboundExchange,
			OutboundRoutingKey: cfg.RabbitMQ.OutboundRoutingKey,
			PublishTimeout:     publishTimeout,
			DownloadTimeout:    time.Duration(cfg.Scan.DownloadTimeoutSeconds) * time.Second,
		},
		logger.Component(log, "worker"),
	)

	handler := httpd.NewHandler(scanWorker, scanRuns, database, log)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      otelhttp.NewHandler(router, "scan-service"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		ctx:          ctx,
		cancel:       cancel,
		server:       server,
		logger:       log,
		config:       cfg,
		db:           db,
		scanWorker:   scanWorker,
		rabbitMQRepo: rabbitMQRepo,
		qdrantRepo:   qdrantRepo,
	}, nil
}

// Run starts the consumer and, when serveHTTP is set, blocks serving the
// operational endpoints. Without HTTP it blocks until Shutdown.
func (a *App) Run(serveHTTP bool) error {
	if err := a.scanWorker.Start(a.ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start scan worker")
		return err
	}

	if !serveHTTP {
		a.logger.Info().Msg("Scan worker running without HTTP server")
		<-a.ctx.Done()
		return nil
	}

	a.logger.Info().Msgf("Starting scan service on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down scan service...")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}

	if err := a.scanWorker.Stop(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop scan worker")
	}

	a.cancel()

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.qdrantRepo != nil {
		if err := a.qdrantRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close Qdrant connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	a.logger.Info().Msg("Scan service stopped")
	return nil
}
