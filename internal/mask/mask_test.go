package mask

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	years map[int]bool
	fail  map[int]error
	calls atomic.Int32
}

func (s *memStore) Load(_ context.Context, site string, year int) (*raster.LandCover, error) {
	s.calls.Add(1)
	if err := s.fail[year]; err != nil {
		return nil, err
	}
	if !s.years[year] {
		return nil, fmt.Errorf("%w: %s/%d", ErrNoMask, site, year)
	}
	return raster.NewLandCover(1, 1, []int32{3}, raster.Affine{}, "EPSG:4326", site, year)
}

func newResolver(store Store) (*Resolver, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return &Resolver{Store: store, MinYear: 1985, MaxYear: 2024, Logger: logger}, hook
}

func TestResolveExactYear(t *testing.T) {
	r, _ := newResolver(&memStore{years: map[int]bool{2020: true}})
	lc, err := r.Resolve(context.Background(), "ATTO", 2020)
	require.NoError(t, err)
	assert.Equal(t, 2020, lc.Year)
	assert.Equal(t, "ATTO", lc.Site)
}

func TestResolveFallsBackTwoYears(t *testing.T) {
	store := &memStore{years: map[int]bool{2018: true, 2015: true}}
	r, hook := newResolver(store)

	lc, err := r.Resolve(context.Background(), "K34", 2020)
	require.NoError(t, err)
	assert.Equal(t, 2018, lc.Year)
	assert.Equal(t, int32(3), store.calls.Load())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, 2018, hook.LastEntry().Data["mask_year"])
}

func TestResolveClampsToMaxYear(t *testing.T) {
	store := &memStore{years: map[int]bool{2024: true}}
	r, hook := newResolver(store)

	lc, err := r.Resolve(context.Background(), "K67", 2025)
	require.NoError(t, err)
	assert.Equal(t, 2024, lc.Year)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
}

func TestResolveExhaustsRange(t *testing.T) {
	store := &memStore{years: map[int]bool{1980: true}}
	r, _ := newResolver(store)
	r.MinYear = 2015

	_, err := r.Resolve(context.Background(), "ATTO", 2020)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ATTO", nf.Site)
	assert.Equal(t, 2015, nf.MinYear)
	assert.Equal(t, int32(6), store.calls.Load())
}

func TestResolveBelowMinimumYear(t *testing.T) {
	store := &memStore{years: map[int]bool{1980: true}}
	r, _ := newResolver(store)

	_, err := r.Resolve(context.Background(), "ATTO", 1980)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, store.calls.Load())
	assert.Contains(t, err.Error(), "below minimum year")
}

func TestResolveStopsOnLoadError(t *testing.T) {
	boom := errors.New("corrupt tiff")
	store := &memStore{years: map[int]bool{2018: true}, fail: map[int]error{2019: boom}}
	r, _ := newResolver(store)

	_, err := r.Resolve(context.Background(), "ATTO", 2020)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := newResolver(&memStore{years: map[int]bool{2020: true}})

	_, err := r.Resolve(ctx, "ATTO", 2020)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedStoreSharesLoads(t *testing.T) {
	inner := &memStore{years: map[int]bool{2020: true}}
	c := NewCachedStore(inner)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lc, err := c.Load(context.Background(), "ATTO", 2020)
			assert.NoError(t, err)
			assert.Equal(t, 2020, lc.Year)
		}()
	}
	wg.Wait()

	first, err := c.Load(context.Background(), "ATTO", 2020)
	require.NoError(t, err)
	second, err := c.Load(context.Background(), "ATTO", 2020)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.LessOrEqual(t, inner.calls.Load(), int32(16))
}

func TestCachedStoreRemembersAbsence(t *testing.T) {
	inner := &memStore{years: map[int]bool{2018: true}}
	c := NewCachedStore(inner)
	r, _ := newResolver(c)

	for range 3 {
		lc, err := r.Resolve(context.Background(), "K34", 2020)
		require.NoError(t, err)
		assert.Equal(t, 2018, lc.Year)
	}
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCachedStoreDoesNotCacheFailures(t *testing.T) {
	boom := errors.New("read failed")
	inner := &memStore{fail: map[int]error{2020: boom}}
	c := NewCachedStore(inner)

	for range 2 {
		_, err := c.Load(context.Background(), "ATTO", 2020)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

// gatedStore blocks every load until release is closed and records whether
// the load's context was cancelled by then.
type gatedStore struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	canceled atomic.Bool
}

func (s *gatedStore) Load(ctx context.Context, site string, year int) (*raster.LandCover, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	if ctx.Err() != nil {
		s.canceled.Store(true)
	}
	return raster.NewLandCover(1, 1, []int32{3}, raster.Affine{}, "EPSG:4326", site, year)
}

func TestCachedStoreIsolatesCallerCancellation(t *testing.T) {
	inner := &gatedStore{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedStore(inner)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, "ATTO", 2020)
		first <- err
	}()
	<-inner.started

	second := make(chan error, 1)
	go func() {
		lc, err := c.Load(context.Background(), "ATTO", 2020)
		if err == nil && lc.Year != 2020 {
			err = fmt.Errorf("got year %d", lc.Year)
		}
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(inner.release)
	assert.NoError(t, <-second)
	assert.False(t, inner.canceled.Load())

	lc, err := c.Load(context.Background(), "ATTO", 2020)
	require.NoError(t, err)
	assert.Equal(t, 2020, lc.Year)
}
