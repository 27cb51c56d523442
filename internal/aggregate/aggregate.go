// Package aggregate reduces fine pixels into coarse-cell statistics.
//
// Values are summed and counted per cell and divided once; partial means are
// never averaged. A fine pixel contributes only when its sample is valid and
// its land-cover class is one of the forest classes.
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/grid"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
)

const DefaultCoverageThreshold = 0.5

var DefaultForestClasses = []int32{3, 4, 5, 6}

var (
	ErrShape        = raster.ErrShape
	ErrThreshold    = errors.New("coverage threshold must be within [0, 1]")
	ErrEmptyOverlap = errors.New("raster has no overlap with the coarse grid")
)

type Options struct {
	CoverageThreshold float64
	ForestClasses     []int32
}

func DefaultOptions() Options {
	return Options{CoverageThreshold: DefaultCoverageThreshold, ForestClasses: DefaultForestClasses}
}

// Result holds the statistics of one coarse cell for one raster.
// Mean and Coverage are NaN when undefined.
type Result struct {
	Cell     grid.Cell
	Count    int
	MaxCount int
	Sum      float64
	Coverage float64
	Mean     float64
	Accepted bool
}

// MeanValue returns the mean and whether it is defined.
func (r Result) MeanValue() (float64, bool) {
	if r.Count == 0 || math.IsNaN(r.Mean) {
		return math.NaN(), false
	}
	return r.Mean, true
}

// Aggregate computes one Result per coarse cell that receives at least one fine
// pixel. The land-cover mask must share the fine raster's grid, and the mapping
// must have been aligned on that same grid.
func Aggregate(fine *raster.Fine, lc *raster.LandCover, m *grid.Mapping, opts Options) ([]Result, error) {
	if fine == nil || lc == nil || m == nil {
		return nil, fmt.Errorf("%w: missing raster, mask or mapping", ErrShape)
	}
	t := opts.CoverageThreshold
	if math.IsNaN(t) || t < 0 || t > 1 {
		return nil, fmt.Errorf("%w: got %g", ErrThreshold, t)
	}
	n := fine.Len()
	if len(fine.Values) != n || len(fine.Valid) != n {
		return nil, fmt.Errorf("%w: fine raster carries %d values for %d pixels", ErrShape, len(fine.Values), n)
	}
	if lc.Width != fine.Width || lc.Height != fine.Height || len(lc.Classes) != n {
		return nil, fmt.Errorf("%w: mask %dx%d, raster %dx%d", ErrShape, lc.Width, lc.Height, fine.Width, fine.Height)
	}
	if len(m.Index) != n {
		return nil, fmt.Errorf("%w: mapping covers %d pixels, raster has %d", ErrShape, len(m.Index), n)
	}
	if m.Empty() {
		return nil, ErrEmptyOverlap
	}

	classes := opts.ForestClasses
	if classes == nil {
		classes = DefaultForestClasses
	}
	forest := raster.NewClassSet(classes...)

	count := make([]int, len(m.Cells))
	total := make([]int, len(m.Cells))
	sum := make([]float64, len(m.Cells))
	for i, k := range m.Index {
		if k == grid.Excluded {
			continue
		}
		if int(k) >= len(m.Cells) {
			return nil, fmt.Errorf("%w: pixel %d maps to cell %d of %d", ErrShape, i, k, len(m.Cells))
		}
		total[k]++
		if !fine.Valid[i] || !lc.Matches(i, forest) {
			continue
		}
		count[k]++
		sum[k] += fine.Values[i]
	}

	results := make([]Result, 0, len(m.Cells))
	for k, cell := range m.Cells {
		if total[k] == 0 {
			continue
		}
		r := Result{
			Cell:     cell,
			Count:    count[k],
			MaxCount: total[k],
			Sum:      sum[k],
			Coverage: float64(count[k]) / float64(total[k]),
			Mean:     math.NaN(),
		}
		if r.Count > 0 {
			r.Mean = r.Sum / float64(r.Count)
			r.Accepted = r.Coverage >= t
		}
		results = append(results, r)
	}
	return results, nil
}

// Accepted filters results down to the accepted cells.
func Accepted(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Accepted {
			out = append(out, r)
		}
	}
	return out
}

type Stats struct {
	Cells       int
	Accepted    int
	Rejected    int
	ValidPixels int
}

func Summary(results []Result) Stats {
	var s Stats
	for _, r := range results {
		s.Cells++
		s.ValidPixels += r.Count
		if r.Accepted {
			s.Accepted++
		} else {
			s.Rejected++
		}
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("%d cells, %d accepted, %d rejected, %d valid pixels", s.Cells, s.Accepted, s.Rejected, s.ValidPixels)
}
