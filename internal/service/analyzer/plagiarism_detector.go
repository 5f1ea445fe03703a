package analyzer

import (
	"context"
	"sort"
	"time"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/service/integration"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	ScopeSameBatch = "same batch"
	ScopePrevious  = "previous submission"
)

type PlagiarismDetector interface {
	Detect(ctx context.Context, collection string, submissions []models.ExtractedSubmission) []models.ViolationRecord
}

type PlagiarismDetectorConfig struct {
	SimilarityThreshold float64
	MaxChars            int
	Concurrency         int
}

type plagiarismDetector struct {
	embedder integration.EmbeddingClient
	index    VectorIndex
	scanner  ViolationScanner
	config   PlagiarismDetectorConfig
	logger   zerolog.Logger
}

func NewPlagiarismDetector(
	embedder integration.EmbeddingClient,
	index VectorIndex,
	scanner ViolationScanner,
	config PlagiarismDetectorConfig,
	logger zerolog.Logger,
) PlagiarismDetector {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &plagiarismDetector{
		embedder: embedder,
		index:    index,
		scanner:  scanner,
		config:   config,
		logger:   logger,
	}
}

type studentVector struct {
	code   string
	folder string
	vector []float32
}

type match struct {
	score float64
	scope string
}

// Detect embeds every submission, searches the collection for earlier
// vectors of other students, compares the batch pairwise and only then
// upserts the batch. Students whose embedding or search degrades contribute
// no signal; the others are unaffected.
func (d *plagiarismDetector) Detect(ctx context.Context, collection string, submissions []models.ExtractedSubmission) []models.ViolationRecord {
	startTime := time.Now()

	vectors := d.embedAll(ctx, submissions)

	batchCodes := make([]string, 0, len(submissions))
	for _, sub := range submissions {
		batchCodes = append(batchCodes, sub.StudentCode)
	}

	matches := make([]map[string]match, len(vectors))
	for i := range matches {
		matches[i] = make(map[string]match)
	}

	d.searchAll(ctx, collection, vectors, batchCodes, matches)
	d.compareBatch(vectors, matches)
	upserted := d.upsertAll(ctx, collection, vectors)

	var violations []models.ViolationRecord
	for i, sv := range vectors {
		if sv == nil {
			continue
		}

		matched := make([]string, 0, len(matches[i]))
		for code := range matches[i] {
			matched = append(matched, code)
		}
		sort.Strings(matched)

		for _, code := range matched {
			m := matches[i][code]
			violations = append(violations, models.NewPlagiarismViolation(sv.code, code, m.score, m.scope))
		}
	}

	embeddedCount := 0
	for _, sv := range vectors {
		if sv != nil {
			embeddedCount++
		}
	}

	d.logger.Info().
		Str("collection", collection).
		Int("submissions", len(submissions)).
		Int("embedded", embeddedCount).
		Int("upserted", upserted).
		Int("violations", len(violations)).
		Dur("processing_time", time.Since(startTime)).
		Msg("Plagiarism detection completed")

	return violations
}

func (d *plagiarismDetector) embedAll(ctx context.Context, submissions []models.ExtractedSubmission) []*studentVector {
	vectors := make([]*studentVector, len(submissions))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)

	for i, sub := range submissions {
		g.Go(func() error {
			text := NormalizeSource(sub.Files, d.scanner.IsSourceFile, d.config.MaxChars)
			if text == "" {
				d.logger.Debug().Str("student_code", sub.StudentCode).Msg("No source text to embed")
				return nil
			}

			out := d.embedder.Embed(ctx, text)
			if out.IsDegraded() {
				d.logger.Warn().
					Err(out.Reason()).
					Str("student_code", sub.StudentCode).
					Msg("Embedding unavailable, skipping plagiarism check for student")
				return nil
			}

			vectors[i] = &studentVector{
				code:   sub.StudentCode,
				folder: sub.FolderName,
				vector: out.Value(),
			}
			return nil
		})
	}
	_ = g.Wait()

	return vectors
}

func (d *plagiarismDetector) searchAll(ctx context.Context, collection string, vectors []*studentVector, exclude []string, matches []map[string]match) {
	found := make([][]models.SimilarMatch, len(vectors))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)

	for i, sv := range vectors {
		if sv == nil {
			continue
		}
		g.Go(func() error {
			out := d.index.SearchSimilar(ctx, collection, sv.vector, exclude)
			if out.IsDegraded() {
				return nil
			}
			found[i] = out.Value()
			return nil
		})
	}
	_ = g.Wait()

	for i, hits := range found {
		for _, hit := range hits {
			if hit.StudentCode == vectors[i].code {
				continue
			}
			record(matches[i], hit.StudentCode, hit.Score, ScopePrevious)
		}
	}
}

func (d *plagiarismDetector) compareBatch(vectors []*studentVector, matches []map[string]match) {
	for i := 0; i < len(vectors); i++ {
		if vectors[i] == nil {
			continue
		}
		for j := i + 1; j < len(vectors); j++ {
			if vectors[j] == nil || vectors[i].code == vectors[j].code {
				continue
			}
			score := CosineSimilarity(vectors[i].vector, vectors[j].vector)
			if !meetsThreshold(score, d.config.SimilarityThreshold) {
				continue
			}
			record(matches[i], vectors[j].code, score, ScopeSameBatch)
			record(matches[j], vectors[i].code, score, ScopeSameBatch)
		}
	}
}

func (d *plagiarismDetector) upsertAll(ctx context.Context, collection string, vectors []*studentVector) int {
	ok := make([]bool, len(vectors))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)

	for i, sv := range vectors {
		if sv == nil {
			continue
		}
		g.Go(func() error {
			payload := map[string]string{
				"student_code": sv.code,
				"folder_name":  sv.folder,
			}
			ok[i] = d.index.Upsert(ctx, collection, sv.vector, sv.code, payload).IsOk()
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, v := range ok {
		if v {
			count++
		}
	}
	return count
}

// record keeps the highest score per matched student.
func record(m map[string]match, code string, score float64, scope string) {
	if prev, ok := m[code]; ok && prev.score >= score {
		return
	}
	m[code] = match{score: score, scope: scope}
}
