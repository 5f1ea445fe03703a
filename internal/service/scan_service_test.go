package service

import (
	"archive/zip"
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/analyzer"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/archive"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingDetector struct {
	mu          sync.Mutex
	collections []string
	violations  []models.ViolationRecord
}

func (d *recordingDetector) Detect(_ context.Context, collection string, _ []models.ExtractedSubmission) []models.ViolationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collections = append(d.collections, collection)
	return d.violations
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestScanService(detector analyzer.PlagiarismDetector) ScanService {
	return newLoggedScanService(detector, zerolog.Nop())
}

func newLoggedScanService(detector analyzer.PlagiarismDetector, logger zerolog.Logger) ScanService {
	pattern := regexp.MustCompile(`(?i)[A-Z]{2}\d{6}`)

	extractor := archive.NewExtractor(archive.ExtractorConfig{
		Limits:             archive.Limits{MaxExtractedBytes: 1 << 20, MaxFileBytes: 1 << 16, MaxEntries: 100},
		StudentCodePattern: pattern,
	}, logger)
	scanner := analyzer.NewViolationScanner(analyzer.ViolationScannerConfig{
		SourceExtensions:   []string{".cs"},
		StudentCodePattern: pattern,
	}, logger)

	return NewScanService(extractor, scanner, detector, ScanConfig{
		CollectionPrefix:   "exam_",
		StudentConcurrency: 2,
	}, logger)
}

func TestScanAggregatesViolations(t *testing.T) {
	score := 0.97
	detector := &recordingDetector{violations: []models.ViolationRecord{{
		StudentID:        "SE171234",
		Type:             models.ViolationTypePlagiarism,
		Description:      "similar",
		SimilarityScore:  &score,
		MatchedStudentID: "SE171235",
	}}}

	data := buildArchive(t, map[string]string{
		"SE171234/Program.cs": "// generated by ChatGPT\nclass P {}",
		"SE171235/Program.cs": "class Q {}",
		"john/Program.cs":     "class R {}",
	})

	req := models.ScanRequest{BatchID: "batch-1", ExamID: "PRN222 SU25", ForbiddenKeywords: []string{"chatgpt"}}
	result, err := newTestScanService(detector).Scan(context.Background(), req, bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, []string{"SE171234", "SE171235"}, result.StudentCodes)
	require.Equal(t, map[string]string{"SE171234": "SE171234", "SE171235": "SE171235", "JOHN": "john"}, result.StudentFolders)

	counts := result.CountByType()
	require.Equal(t, 1, counts[models.ViolationTypeKeyword])
	require.Equal(t, 1, counts[models.ViolationTypeNaming])
	require.Equal(t, 1, counts[models.ViolationTypePlagiarism])
	require.False(t, result.HasScanError())

	require.Equal(t, []string{"exam_prn222_su25"}, detector.collections)
}

func TestScanExtractionFailureShortCircuits(t *testing.T) {
	detector := &recordingDetector{}

	result, err := newTestScanService(detector).Scan(context.Background(), models.ScanRequest{BatchID: "b1"}, strings.NewReader("not an archive"))
	require.ErrorIs(t, err, archive.ErrUnsupportedArchive)
	require.Len(t, result.Violations, 1)
	require.Equal(t, models.SystemStudentID, result.Violations[0].StudentID)
	require.Equal(t, models.ViolationTypeScanError, result.Violations[0].Type)
	require.Empty(t, result.StudentCodes)
	require.Empty(t, detector.collections)
}

func TestScanCancelled(t *testing.T) {
	data := buildArchive(t, map[string]string{"SE171234/a.cs": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestScanService(&recordingDetector{}).Scan(ctx, models.ScanRequest{BatchID: "b1"}, bytes.NewReader(data))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, result.HasScanError())
}

func TestCollectionName(t *testing.T) {
	require.Equal(t, "exam_prn222-su25", CollectionName("exam_", "PRN222-SU25", "b1"))
	require.Equal(t, "exam_batch_42", CollectionName("exam_", "  ", "batch/42"))
	require.Equal(t, "exam_default", CollectionName("exam_", "", ""))
}

func TestScanWithoutExamIDWarns(t *testing.T) {
	data := buildArchive(t, map[string]string{"SE171234/a.cs": "class A {}"})

	tests := []struct {
		name     string
		examID   string
		wantWarn bool
	}{
		{"missing exam id", "", true},
		{"blank exam id", "   ", true},
		{"exam id present", "PRN222", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			detector := &recordingDetector{}
			svc := newLoggedScanService(detector, zerolog.New(&buf))

			_, err := svc.Scan(context.Background(), models.ScanRequest{BatchID: "b7", ExamID: tt.examID}, bytes.NewReader(data))
			require.NoError(t, err)

			if tt.wantWarn {
				require.Equal(t, []string{"exam_b7"}, detector.collections)
				require.Contains(t, buf.String(), `"level":"warn"`)
				require.Contains(t, buf.String(), "no exam id")
			} else {
				require.NotContains(t, buf.String(), "no exam id")
			}
		})
	}
}
