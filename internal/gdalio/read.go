package gdalio

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/mask"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"github.com/paulmach/orb"
)

// FineOptions controls how a source raster is brought into the processing
// system. A raster without a reference system is assumed to be in CRS.
type FineOptions struct {
	CRS string
	// Resolution of the reprojected raster in CRS units. Zero lets GDAL pick.
	Resolution float64
}

// LoadFine reads band 1 of a raster as float64 samples. Rasters in another
// reference system are warped to opts.CRS with nearest-neighbour resampling.
func LoadFine(path string, opts FineOptions) (*raster.Fine, error) {
	ds, err := open(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	crs, want := Canonical(crsTag(ds)), Canonical(opts.CRS)
	if want != "" && crs != "" && crs != want {
		warped, err := warpTo(ds, opts)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		defer warped.Close()
		ds, crs = warped, want
	}
	if crs == "" {
		crs = want
	}

	f, err := readFine(ds, crs)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return f, nil
}

func warpTo(ds *godal.Dataset, opts FineOptions) (*godal.Dataset, error) {
	dst, err := epsgSwitch(opts.CRS)
	if err != nil {
		return nil, err
	}
	switches := []string{"-of", "MEM", "-t_srs", dst, "-r", "near", "-dstnodata", "nan", "-ot", "Float64"}
	if opts.Resolution > 0 {
		res := formatFloat(opts.Resolution)
		switches = append(switches, "-tr", res, res)
	}
	warped, err := ds.Warp("", switches, quiet)
	if err != nil {
		return nil, fmt.Errorf("failed to reproject to %s: %w", dst, err)
	}
	return warped, nil
}

func readFine(ds *godal.Dataset, crs string) (*raster.Fine, error) {
	g, err := geometryOf(ds)
	if err != nil {
		return nil, err
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, errors.New("raster has no bands")
	}
	band := bands[0]
	values := make([]float64, g.Len())
	if err := band.Read(0, 0, values, g.Width, g.Height, quiet); err != nil {
		return nil, fmt.Errorf("failed to read raster data: %w", err)
	}
	var nodata *float64
	if nd, ok := band.NoData(); ok && !math.IsNaN(nd) {
		nodata = &nd
	}
	return raster.NewFine(g.Width, g.Height, values, g.Transform, crs, nodata)
}

// LoadLandCover reads band 1 of a land-cover raster. When clip is not empty
// only the pixels inside it are read; clip is in geographic coordinates.
func LoadLandCover(path, site string, year int, clip orb.Bound) (*raster.LandCover, error) {
	ds, err := open(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	lc, err := readLandCover(ds, site, year, clip)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return lc, nil
}

func readLandCover(ds *godal.Dataset, site string, year int, clip orb.Bound) (*raster.LandCover, error) {
	g, err := geometryOf(ds)
	if err != nil {
		return nil, err
	}
	if g.Transform.Rotated() {
		return nil, errors.New("rotated land cover rasters are not supported")
	}
	crs := Canonical(crsTag(ds))

	x, y, w, h := 0, 0, g.Width, g.Height
	if !clip.IsZero() && !clip.IsEmpty() {
		b, err := toDatasetBound(ds, clip)
		if err != nil {
			return nil, err
		}
		x, y, w, h = window(g, b)
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("%w: clip does not intersect the raster", mask.ErrNoMask)
		}
	}

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, errors.New("raster has no bands")
	}
	classes := make([]int32, w*h)
	if err := bands[0].Read(x, y, classes, w, h, quiet); err != nil {
		return nil, fmt.Errorf("failed to read land cover: %w", err)
	}
	t := g.Transform
	t[0] += float64(x) * t[1]
	t[3] += float64(y) * t[5]
	return raster.NewLandCover(w, h, classes, t, crs, site, year)
}

// window returns the pixel window of g covering b, clamped to the raster.
func window(g raster.Geometry, b orb.Bound) (int, int, int, int) {
	t := g.Transform
	c0 := (b.Min[0] - t[0]) / t[1]
	c1 := (b.Max[0] - t[0]) / t[1]
	r0 := (b.Min[1] - t[3]) / t[5]
	r1 := (b.Max[1] - t[3]) / t[5]
	minC := clamp(int(math.Floor(math.Min(c0, c1))), 0, g.Width)
	maxC := clamp(int(math.Ceil(math.Max(c0, c1))), 0, g.Width)
	minR := clamp(int(math.Floor(math.Min(r0, r1))), 0, g.Height)
	maxR := clamp(int(math.Ceil(math.Max(r0, r1))), 0, g.Height)
	return minC, minR, maxC - minC, maxR - minR
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// toDatasetBound converts a geographic bound into the dataset's system.
func toDatasetBound(ds *godal.Dataset, b orb.Bound) (orb.Bound, error) {
	sr := ds.SpatialRef()
	if sr == nil {
		return b, nil
	}
	defer sr.Close()
	if sr.Geographic() {
		return b, nil
	}
	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return orb.Bound{}, err
	}
	defer wgs84.Close()
	tr, err := godal.NewTransform(wgs84, sr)
	if err != nil {
		return orb.Bound{}, err
	}
	defer tr.Close()

	xs := []float64{b.Min[0], b.Max[0], b.Min[0], b.Max[0]}
	ys := []float64{b.Min[1], b.Min[1], b.Max[1], b.Max[1]}
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return orb.Bound{}, fmt.Errorf("transform error: %w", err)
	}
	out := orb.Bound{Min: orb.Point{xs[0], ys[0]}, Max: orb.Point{xs[0], ys[0]}}
	for i := range xs {
		out = out.Extend(orb.Point{xs[i], ys[i]})
	}
	return out, nil
}

// MaskDecoder returns a mask.Decoder that reads each site's masks clipped to
// the site's geographic bound. Sites without a bound are read whole.
func MaskDecoder(clips map[string]orb.Bound) mask.Decoder {
	return func(ctx context.Context, path, site string, year int) (*raster.LandCover, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return LoadLandCover(path, site, year, clips[site])
	}
}
