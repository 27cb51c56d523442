// Package mask resolves the yearly land-cover mask that applies to a site and
// acquisition year, falling back to earlier years when a year is missing.
package mask

import (
	"context"
	"errors"
	"fmt"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoMask is returned by a Store when the (site, year) slot is empty.
	ErrNoMask = errors.New("no mask for site and year")
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("mask not found")
)

// NotFoundError reports that no mask exists between Year and MinYear.
type NotFoundError struct {
	Site    string
	Year    int
	MinYear int
}

func (e *NotFoundError) Error() string {
	if e.Year < e.MinYear {
		return fmt.Sprintf("mask not found for %s: year %d is below minimum year %d", e.Site, e.Year, e.MinYear)
	}
	return fmt.Sprintf("mask not found for %s in years %d..%d", e.Site, e.MinYear, e.Year)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Store is a read-only source of land-cover masks.
type Store interface {
	Load(ctx context.Context, site string, year int) (*raster.LandCover, error)
}

// Resolver walks back from the requested year to MinYear and returns the
// first mask the store holds. Years after MaxYear are clamped to MaxYear when
// MaxYear is set.
type Resolver struct {
	Store   Store
	MinYear int
	MaxYear int
	Logger  logrus.FieldLogger
}

func (r *Resolver) Resolve(ctx context.Context, site string, year int) (*raster.LandCover, error) {
	if r.Store == nil {
		return nil, errors.New("mask resolver has no store")
	}
	log := r.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	start := year
	if r.MaxYear > 0 && start > r.MaxYear {
		log.WithFields(logrus.Fields{"site": site, "year": year}).
			Warnf("land cover %d not available, using %d as reference", year, r.MaxYear)
		start = r.MaxYear
	}
	if start < r.MinYear {
		return nil, &NotFoundError{Site: site, Year: start, MinYear: r.MinYear}
	}

	for y := start; y >= r.MinYear; y-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lc, err := r.Store.Load(ctx, site, y)
		if errors.Is(err, ErrNoMask) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load mask %s/%d: %w", site, y, err)
		}
		if y != year {
			log.WithFields(logrus.Fields{"site": site, "year": year, "mask_year": y}).Debug("using earlier land cover")
		}
		return lc, nil
	}
	return nil, &NotFoundError{Site: site, Year: start, MinYear: r.MinYear}
}
