// Package grid lays a coarse virtual-pixel grid over a fine raster and maps
// every fine pixel to the coarse cell enclosing its center.
//
// The coarse grid is anchored to the fine raster's own origin. Two rasters over
// the same area share cell boundaries only when they share origin and
// resolution; callers needing a common grid across rasters must pre-align them.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/projection"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var (
	ErrRotated  = errors.New("rotated geotransforms are not supported")
	ErrCellSize = errors.New("invalid coarse cell size")
)

// Excluded marks a fine pixel that maps to no cell.
const Excluded int32 = -1

// Spec is the physical size of a coarse cell in projected units (meters).
type Spec struct {
	CellWidth  float64
	CellHeight float64
}

func (s Spec) Validate() error {
	if !(s.CellWidth > 0) || !(s.CellHeight > 0) || math.IsInf(s.CellWidth, 0) || math.IsInf(s.CellHeight, 0) {
		return fmt.Errorf("%w: %gx%g", ErrCellSize, s.CellWidth, s.CellHeight)
	}
	return nil
}

// Cell is one virtual pixel of the coarse grid.
type Cell struct {
	ID     string
	Col    int
	Row    int
	X      float64
	Y      float64
	Lon    float64
	Lat    float64
	Width  float64
	Height float64
}

// Mapping assigns every fine pixel to a slot in Cells, or to Excluded.
type Mapping struct {
	Spec   Spec
	Source raster.Geometry
	Cols   int
	Rows   int
	Cells  []Cell
	Index  []int32
}

type Option func(*options)

type options struct {
	extent orb.Geometry
}

// WithExtent restricts the grid to fine pixels whose center lies inside the
// geometry (projected coordinates). Polygon, MultiPolygon and Bound are supported.
func WithExtent(g orb.Geometry) Option {
	return func(o *options) {
		o.extent = g
	}
}

// Align computes the fine to coarse mapping for a raster geometry.
func Align(src raster.Geometry, spec Spec, tr *projection.Transformer, opts ...Option) (*Mapping, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if src.Transform.Rotated() {
		return nil, ErrRotated
	}
	if src.Width <= 0 || src.Height <= 0 || src.Transform.PixelWidth() == 0 || src.Transform.PixelHeight() == 0 {
		return nil, fmt.Errorf("%w: degenerate source raster %dx%d", raster.ErrShape, src.Width, src.Height)
	}
	if tr == nil {
		return nil, errors.New("grid alignment needs a coordinate transformer")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	contains, err := containsFunc(o.extent)
	if err != nil {
		return nil, err
	}

	t := src.Transform
	sx, sy := sign(t.PixelWidth()), sign(t.PixelHeight())
	x0, y0 := t.OriginX(), t.OriginY()
	cols := int(math.Ceil(float64(src.Width) * math.Abs(t.PixelWidth()) / spec.CellWidth))
	rows := int(math.Ceil(float64(src.Height) * math.Abs(t.PixelHeight()) / spec.CellHeight))

	index := make([]int32, src.Len())
	used := make([]bool, cols*rows)
	for r := range src.Height {
		for c := range src.Width {
			i := r*src.Width + c
			px, py := t.Center(c, r)
			if contains != nil && !contains(orb.Point{px, py}) {
				index[i] = Excluded
				continue
			}
			col := int(math.Floor((px - x0) * sx / spec.CellWidth))
			row := int(math.Floor((py - y0) * sy / spec.CellHeight))
			if col < 0 || col >= cols || row < 0 || row >= rows {
				index[i] = Excluded
				continue
			}
			k := row*cols + col
			index[i] = int32(k)
			used[k] = true
		}
	}

	slots := make([]int32, cols*rows)
	cells := make([]Cell, 0)
	for k, ok := range used {
		if !ok {
			slots[k] = Excluded
			continue
		}
		col, row := k%cols, k/cols
		x := x0 + sx*(float64(col)+0.5)*spec.CellWidth
		y := y0 + sy*(float64(row)+0.5)*spec.CellHeight
		lon, lat, err := tr.ToGeographic(x, y)
		if err != nil {
			return nil, fmt.Errorf("cell %d,%d: %w", col, row, err)
		}
		slots[k] = int32(len(cells))
		cells = append(cells, Cell{
			ID:     projection.PixelID(x, y),
			Col:    col,
			Row:    row,
			X:      x,
			Y:      y,
			Lon:    lon,
			Lat:    lat,
			Width:  spec.CellWidth,
			Height: spec.CellHeight,
		})
	}
	for i, k := range index {
		if k != Excluded {
			index[i] = slots[k]
		}
	}

	return &Mapping{
		Spec:   spec,
		Source: src,
		Cols:   cols,
		Rows:   rows,
		Cells:  cells,
		Index:  index,
	}, nil
}

// Geometry returns the geometry of the coarse grid as a raster.
func (m *Mapping) Geometry() raster.Geometry {
	t := m.Source.Transform
	return raster.Geometry{
		Width:  m.Cols,
		Height: m.Rows,
		Transform: raster.Affine{
			t.OriginX(), sign(t.PixelWidth()) * m.Spec.CellWidth, 0,
			t.OriginY(), 0, sign(t.PixelHeight()) * m.Spec.CellHeight,
		},
	}
}

// Population returns, per cell slot, the number of fine pixels mapped to it.
func (m *Mapping) Population() []int {
	pop := make([]int, len(m.Cells))
	for _, k := range m.Index {
		if k != Excluded {
			pop[k]++
		}
	}
	return pop
}

func (m *Mapping) Empty() bool { return len(m.Cells) == 0 }

func containsFunc(g orb.Geometry) (func(orb.Point) bool, error) {
	switch g := g.(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		b := g.Bound()
		return func(p orb.Point) bool {
			return b.Contains(p) && planar.PolygonContains(g, p)
		}, nil
	case orb.MultiPolygon:
		b := g.Bound()
		return func(p orb.Point) bool {
			return b.Contains(p) && planar.MultiPolygonContains(g, p)
		}, nil
	case orb.Bound:
		return g.Contains, nil
	}
	return nil, fmt.Errorf("unsupported extent geometry %s", g.GeoJSONType())
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
