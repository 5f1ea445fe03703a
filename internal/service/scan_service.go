package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/analyzer"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/archive"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type ScanService interface {
	// Scan always returns a result. The error is non-nil when the run failed
	// as a whole; the result is then the single ScanError result.
	Scan(ctx context.Context, req models.ScanRequest, r io.Reader) (*models.ScanResult, error)
}

type ScanConfig struct {
	CollectionPrefix   string
	StudentConcurrency int
}

type scanService struct {
	extractor archive.Extractor
	scanner   analyzer.ViolationScanner
	detector  analyzer.PlagiarismDetector
	config    ScanConfig
	logger    zerolog.Logger
}

func NewScanService(
	extractor archive.Extractor,
	scanner analyzer.ViolationScanner,
	detector analyzer.PlagiarismDetector,
	config ScanConfig,
	logger zerolog.Logger,
) ScanService {
	if config.StudentConcurrency <= 0 {
		config.StudentConcurrency = 1
	}
	return &scanService{
		extractor: extractor,
		scanner:   scanner,
		detector:  detector,
		config:    config,
		logger:    logger,
	}
}

func (s *scanService) Scan(ctx context.Context, req models.ScanRequest, r io.Reader) (*models.ScanResult, error) {
	startTime := time.Now()
	log := s.logger.With().Str("batch_id", req.BatchID).Logger()

	extracted, err := s.extractor.Extract(ctx, r)
	if err != nil {
		err = fmt.Errorf("failed to extract archive: %w", err)
		log.Error().Err(err).Msg("Extraction failed")
		return models.NewErrorResult(err), err
	}

	submissions := extracted.Submissions

	perStudent := make([][]models.ViolationRecord, len(submissions))
	var g errgroup.Group
	g.SetLimit(s.config.StudentConcurrency)
	for i, sub := range submissions {
		g.Go(func() error {
			perStudent[i] = s.scanner.Scan(sub, req.ForbiddenKeywords)
			return nil
		})
	}
	_ = g.Wait()

	collection := CollectionName(s.config.CollectionPrefix, req.ExamID, req.BatchID)
	if strings.TrimSpace(req.ExamID) == "" {
		log.Warn().
			Str("collection", collection).
			Msg("Batch has no exam id, plagiarism is only checked within the batch")
	}
	plagiarism := s.detector.Detect(ctx, collection, submissions)

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("scan interrupted: %w", err)
		return models.NewErrorResult(err), err
	}

	violations := make([]models.ViolationRecord, 0, len(extracted.Violations)+len(plagiarism))
	violations = append(violations, extracted.Violations...)
	for _, vs := range perStudent {
		violations = append(violations, vs...)
	}
	violations = append(violations, plagiarism...)
	models.SortViolations(violations)

	codes := make([]string, 0, len(submissions))
	folders := make(map[string]string, len(submissions))
	for _, sub := range submissions {
		folders[sub.StudentCode] = sub.FolderName
		if s.scanner.IsRecognized(sub.StudentCode) {
			codes = append(codes, sub.StudentCode)
		}
	}
	sort.Strings(codes)

	result := &models.ScanResult{
		Violations:     violations,
		StudentCodes:   codes,
		StudentFolders: folders,
	}

	counts := result.CountByType()
	log.Info().
		Str("collection", collection).
		Int("submissions", len(submissions)).
		Int("recognized", len(codes)).
		Int("naming", counts[models.ViolationTypeNaming]).
		Int("keyword", counts[models.ViolationTypeKeyword]).
		Int("plagiarism", counts[models.ViolationTypePlagiarism]).
		Int("scan_errors", counts[models.ViolationTypeScanError]).
		Dur("processing_time", time.Since(startTime)).
		Msg("Batch scanned")

	return result, nil
}

// CollectionName is prefix plus the sanitized exam id, or the batch id when
// the exam is unknown.
func CollectionName(prefix, examID, batchID string) string {
	id := strings.TrimSpace(examID)
	if id == "" {
		id = strings.TrimSpace(batchID)
	}
	return prefix + sanitizeName(id)
}

func sanitizeName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "default"
	}
	return sb.String()
}
