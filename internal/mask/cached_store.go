package mask

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"golang.org/x/sync/singleflight"
)

// CachedStore keeps every mask it loads, and every absent slot, for the
// lifetime of the store. Concurrent loads of the same slot share one call,
// which runs detached from the caller's cancellation; each caller still
// stops waiting when its own context ends. Returned masks are shared between
// callers and must not be modified.
type CachedStore struct {
	store Store
	group singleflight.Group

	mu     sync.RWMutex
	masks  map[string]*raster.LandCover
	absent map[string]error
}

func NewCachedStore(store Store) *CachedStore {
	return &CachedStore{
		store:  store,
		masks:  make(map[string]*raster.LandCover),
		absent: make(map[string]error),
	}
}

func (c *CachedStore) Load(ctx context.Context, site string, year int) (*raster.LandCover, error) {
	key := site + "/" + strconv.Itoa(year)

	c.mu.RLock()
	lc, ok := c.masks[key]
	missing := c.absent[key]
	c.mu.RUnlock()
	if ok {
		return lc, nil
	}
	if missing != nil {
		return nil, missing
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lc, err := c.store.Load(shared, site, year)
		c.mu.Lock()
		defer c.mu.Unlock()
		switch {
		case err == nil:
			c.masks[key] = lc
		case errors.Is(err, ErrNoMask):
			c.absent[key] = err
		}
		return lc, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*raster.LandCover), nil
	}
}
