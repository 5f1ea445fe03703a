package analyzer

import (
	"context"
	"errors"
	"sync"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"golang.org/x/sync/singleflight"
)

// CollectionCache remembers which collections are known to exist. Concurrent
// first use of one collection runs a single ensure call; other collections
// are not blocked.
type CollectionCache struct {
	known sync.Map
	group singleflight.Group
}

func NewCollectionCache() *CollectionCache {
	return &CollectionCache{}
}

func (c *CollectionCache) Known(name string) bool {
	_, ok := c.known.Load(name)
	return ok
}

// Ensure runs ensure once for a missing collection and caches success. A
// concurrent creation elsewhere (ErrCollectionAlreadyExists) counts as success.
func (c *CollectionCache) Ensure(ctx context.Context, name string, ensure func(ctx context.Context) error) error {
	if c.Known(name) {
		return nil
	}

	_, err, _ := c.group.Do(name, func() (interface{}, error) {
		if c.Known(name) {
			return nil, nil
		}
		if err := ensure(ctx); err != nil && !errors.Is(err, repository.ErrCollectionAlreadyExists) {
			return nil, err
		}
		c.known.Store(name, struct{}{})
		return nil, nil
	})
	return err
}

func (c *CollectionCache) Forget(name string) {
	c.known.Delete(name)
}
