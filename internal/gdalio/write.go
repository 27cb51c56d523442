package gdalio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/aggregate"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/grid"
	"github.com/paulmach/orb"
)

// WriteCoarse writes the accepted means onto the coarse grid of m as a
// single band Float64 GeoTIFF. Every other cell is NaN, the no-data value.
func WriteCoarse(path string, m *grid.Mapping, results []aggregate.Result, crs string) error {
	if m == nil || m.Cols == 0 || m.Rows == 0 {
		return errors.New("empty coarse grid")
	}
	values := make([]float64, m.Cols*m.Rows)
	for i := range values {
		values[i] = math.NaN()
	}
	for _, r := range results {
		mean, ok := r.MeanValue()
		if !r.Accepted || !ok {
			continue
		}
		values[r.Cell.Row*m.Cols+r.Cell.Col] = mean
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	register()
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, m.Cols, m.Rows, godal.CreationOption("COMPRESS=LZW"), quiet)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fillCoarse(ds, m, values, crs); err != nil {
		_ = ds.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return ds.Close()
}

func fillCoarse(ds *godal.Dataset, m *grid.Mapping, values []float64, crs string) error {
	if err := ds.SetGeoTransform([6]float64(m.Geometry().Transform)); err != nil {
		return err
	}
	if crs != "" {
		sr, err := spatialRef(crs)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(math.NaN()); err != nil {
		return err
	}
	return band.Write(0, 0, values, m.Cols, m.Rows)
}

// ClipToBuffer cuts a land-cover raster down to the geographic bound of a
// buffer and writes it as a GeoTIFF in the source's reference system.
func ClipToBuffer(src, dst string, bound orb.Bound) error {
	ds, err := open(src)
	if err != nil {
		return err
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return fmt.Errorf("failed to get GeoTransform: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	switches := []string{
		"-of", "GTiff",
		"-te", formatFloat(bound.Min[0]), formatFloat(bound.Min[1]), formatFloat(bound.Max[0]), formatFloat(bound.Max[1]),
		"-te_srs", Geographic,
		"-tr", formatFloat(math.Abs(gt[1])), formatFloat(math.Abs(gt[5])),
		"-r", "near",
		"-co", "COMPRESS=LZW",
	}
	out, err := ds.Warp(dst, switches, quiet)
	if err != nil {
		return fmt.Errorf("failed to clip %s: %w", src, err)
	}
	return out.Close()
}
