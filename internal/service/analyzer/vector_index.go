package analyzer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/rs/zerolog"
)

// VectorStore is the vector database boundary.
type VectorStore interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, dimension uint64) error
	Upsert(ctx context.Context, collection string, point models.VectorPoint) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, threshold float32, exclude []string) ([]models.SimilarMatch, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, collection string, vector []float32, studentCode string, payload map[string]string) models.Outcome[struct{}]
	SearchSimilar(ctx context.Context, collection string, vector []float32, exclude []string) models.Outcome[[]models.SimilarMatch]
}

type VectorIndexConfig struct {
	Dimension           uint64
	SearchLimit         uint64
	SimilarityThreshold float64
}

type vectorIndex struct {
	store  VectorStore
	cache  *CollectionCache
	config VectorIndexConfig
	logger zerolog.Logger
}

func NewVectorIndex(store VectorStore, cache *CollectionCache, config VectorIndexConfig, logger zerolog.Logger) VectorIndex {
	if cache == nil {
		cache = NewCollectionCache()
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	return &vectorIndex{
		store:  store,
		cache:  cache,
		config: config,
		logger: logger,
	}
}

// PointID is stable per (collection, student) so an upsert replaces the
// student's previous vector.
func PointID(collection, studentCode string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+studentCode)).String()
}

func (i *vectorIndex) ensureCollection(ctx context.Context, collection string) error {
	return i.cache.Ensure(ctx, collection, func(ctx context.Context) error {
		exists, err := i.store.CollectionExists(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to check collection: %w", err)
		}
		if exists {
			return nil
		}

		if err := i.store.CreateCollection(ctx, collection, i.config.Dimension); err != nil {
			return err
		}

		i.logger.Info().
			Str("collection", collection).
			Uint64("dimension", i.config.Dimension).
			Msg("Vector collection created")
		return nil
	})
}

func (i *vectorIndex) Upsert(ctx context.Context, collection string, vector []float32, studentCode string, payload map[string]string) models.Outcome[struct{}] {
	if err := i.ensureCollection(ctx, collection); err != nil {
		i.logger.Warn().Err(err).Str("collection", collection).Msg("Vector collection unavailable, skipping upsert")
		return models.Degraded[struct{}](err)
	}

	point := models.VectorPoint{
		ID:          PointID(collection, studentCode),
		StudentCode: studentCode,
		Vector:      vector,
		Payload:     payload,
	}
	if err := i.store.Upsert(ctx, collection, point); err != nil {
		i.logger.Warn().
			Err(err).
			Str("collection", collection).
			Str("student_code", studentCode).
			Msg("Failed to upsert vector")
		return models.Degraded[struct{}](fmt.Errorf("failed to upsert vector: %w", err))
	}

	return models.Ok(struct{}{})
}

func (i *vectorIndex) SearchSimilar(ctx context.Context, collection string, vector []float32, exclude []string) models.Outcome[[]models.SimilarMatch] {
	if err := i.ensureCollection(ctx, collection); err != nil {
		i.logger.Warn().Err(err).Str("collection", collection).Msg("Vector collection unavailable, skipping search")
		return models.Degraded[[]models.SimilarMatch](err)
	}

	matches, err := i.store.Search(ctx, collection, vector, i.config.SearchLimit, float32(i.config.SimilarityThreshold-scoreEpsilon), exclude)
	if err != nil {
		i.logger.Warn().Err(err).Str("collection", collection).Msg("Vector search failed")
		return models.Degraded[[]models.SimilarMatch](fmt.Errorf("failed to search vectors: %w", err))
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, code := range exclude {
		excluded[code] = struct{}{}
	}

	out := make([]models.SimilarMatch, 0, len(matches))
	for _, m := range matches {
		if _, skip := excluded[m.StudentCode]; skip || m.StudentCode == "" {
			continue
		}
		if !meetsThreshold(m.Score, i.config.SimilarityThreshold) {
			continue
		}
		out = append(out, m)
		if uint64(len(out)) == i.config.SearchLimit {
			break
		}
	}

	return models.Ok(out)
}

// scoreEpsilon absorbs float32 rounding of scores sitting exactly on the threshold.
const scoreEpsilon = 1e-6

func meetsThreshold(score, threshold float64) bool {
	return score+scoreEpsilon >= threshold
}
