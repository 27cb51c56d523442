package raster

import (
	"errors"
	"fmt"
	"math"
)

var ErrShape = errors.New("raster shape mismatch")

// Affine is a GDAL style geotransform:
// Xp = T[0] + col*T[1] + row*T[2], Yp = T[3] + col*T[4] + row*T[5].
type Affine [6]float64

func (a Affine) OriginX() float64 { return a[0] }
func (a Affine) OriginY() float64 { return a[3] }
func (a Affine) PixelWidth() float64 { return a[1] }
func (a Affine) PixelHeight() float64 { return a[5] }

func (a Affine) Rotated() bool {
	return a[2] != 0 || a[4] != 0
}

// Center returns the projected coordinates of the center of pixel (col, row).
func (a Affine) Center(col, row int) (float64, float64) {
	c, r := float64(col)+0.5, float64(row)+0.5
	return a[0] + c*a[1] + r*a[2], a[3] + c*a[4] + r*a[5]
}

// Geometry is the grid part of a raster: its size and geotransform.
type Geometry struct {
	Width     int
	Height    int
	Transform Affine
}

func (g Geometry) Len() int { return g.Width * g.Height }

func (g Geometry) SameGrid(o Geometry) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Transform == o.Transform
}

// Fine is a single band source raster. Valid carries the no-data state of each
// sample so that the aggregation never compares against sentinel values.
type Fine struct {
	Geometry
	Values []float64
	Valid  []bool
	CRS    string
}

// NewFine builds a Fine raster from row-major values. A sample is invalid when it
// is NaN, infinite or equal to nodata (when nodata is given).
func NewFine(width, height int, values []float64, transform Affine, crs string, nodata *float64) (*Fine, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrShape, width, height)
	}
	if len(values) != width*height {
		return nil, fmt.Errorf("%w: %d values for %dx%d raster", ErrShape, len(values), width, height)
	}
	valid := make([]bool, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v), math.IsInf(v, 0):
		case nodata != nil && v == *nodata:
		default:
			valid[i] = true
		}
	}
	return &Fine{
		Geometry: Geometry{Width: width, Height: height, Transform: transform},
		Values:   values,
		Valid:    valid,
		CRS:      crs,
	}, nil
}

func (f *Fine) ValidCount() int {
	n := 0
	for _, v := range f.Valid {
		if v {
			n++
		}
	}
	return n
}

// LandCover is a yearly land-cover class raster for one site.
type LandCover struct {
	Geometry
	Classes []int32
	Site    string
	Year    int
	CRS     string
}

func NewLandCover(width, height int, classes []int32, transform Affine, crs, site string, year int) (*LandCover, error) {
	if width <= 0 || height <= 0 || len(classes) != width*height {
		return nil, fmt.Errorf("%w: %d classes for %dx%d mask", ErrShape, len(classes), width, height)
	}
	return &LandCover{
		Geometry: Geometry{Width: width, Height: height, Transform: transform},
		Classes:  classes,
		Site:     site,
		Year:     year,
		CRS:      crs,
	}, nil
}

// ClassSet is a small set of land-cover class codes.
type ClassSet map[int32]struct{}

func NewClassSet(codes ...int32) ClassSet {
	s := make(ClassSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s ClassSet) Has(code int32) bool {
	_, ok := s[code]
	return ok
}

// Matches reports whether sample i of the mask belongs to one of the classes.
func (lc *LandCover) Matches(i int, classes ClassSet) bool {
	return classes.Has(lc.Classes[i])
}

// Coverage returns the fraction of mask samples belonging to classes.
func (lc *LandCover) Coverage(classes ClassSet) float64 {
	if len(lc.Classes) == 0 {
		return math.NaN()
	}
	n := 0
	for i := range lc.Classes {
		if lc.Matches(i, classes) {
			n++
		}
	}
	return float64(n) / float64(len(lc.Classes))
}
