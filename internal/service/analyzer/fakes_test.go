package analyzer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
)

// memoryStore is an in-memory VectorStore with cosine search.
type memoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]models.VectorPoint
	creates     atomic.Int32
	existsCalls atomic.Int32
	failAll     error
	createErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{collections: make(map[string]map[string]models.VectorPoint)}
}

func (s *memoryStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.existsCalls.Add(1)
	if s.failAll != nil {
		return false, s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *memoryStore) CreateCollection(_ context.Context, collection string, _ uint64) error {
	s.creates.Add(1)
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = make(map[string]models.VectorPoint)
	return nil
}

func (s *memoryStore) Upsert(_ context.Context, collection string, point models.VectorPoint) error {
	if s.failAll != nil {
		return s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	points, ok := s.collections[collection]
	if !ok {
		return errors.New("collection not found")
	}
	points[point.ID] = point
	return nil
}

func (s *memoryStore) Search(_ context.Context, collection string, vector []float32, limit uint64, threshold float32, exclude []string) ([]models.SimilarMatch, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	skip := make(map[string]bool, len(exclude))
	for _, code := range exclude {
		skip[code] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SimilarMatch
	for _, p := range s.collections[collection] {
		if skip[p.StudentCode] {
			continue
		}
		score := CosineSimilarity(vector, p.Vector)
		if float32(score) < threshold {
			continue
		}
		out = append(out, models.SimilarMatch{StudentCode: p.StudentCode, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// stubEmbedder maps normalized text to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    map[string]bool
	calls   atomic.Int32
}

func (e *stubEmbedder) Embed(_ context.Context, text string) models.Outcome[[]float32] {
	e.calls.Add(1)
	if e.fail[text] {
		return models.Degraded[[]float32](errors.New("embedding down"))
	}
	v, ok := e.vectors[text]
	if !ok {
		return models.Degraded[[]float32](errors.New("unknown text"))
	}
	return models.Ok(v)
}
