// Package gdalio reads and writes the rasters and vectors of the pipeline
// with GDAL. Everything outside this package works on in-memory rasters.
package gdalio

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/projection"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
)

// Geographic is the tag of WGS84 longitude/latitude rasters.
const Geographic = "EPSG:4326"

var registerOnce sync.Once

func register() {
	registerOnce.Do(godal.RegisterAll)
}

// LoadError reports a raster or vector that could not be opened or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// quiet drops GDAL warnings and turns failures into errors.
var quiet = godal.ErrLogger(func(ec godal.ErrorCategory, code int, msg string) error {
	if ec <= godal.CE_Warning {
		return nil
	}
	return fmt.Errorf("GDAL error %d: %s", code, msg)
})

func open(path string) (*godal.Dataset, error) {
	register()
	ds, err := godal.Open(path, quiet)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return ds, nil
}

func geometryOf(ds *godal.Dataset) (raster.Geometry, error) {
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return raster.Geometry{}, fmt.Errorf("failed to get GeoTransform: %w", err)
	}
	return raster.Geometry{Width: st.SizeX, Height: st.SizeY, Transform: raster.Affine(gt)}, nil
}

// crsTag names the dataset's reference system as AUTHORITY:CODE when possible.
func crsTag(ds *godal.Dataset) string {
	sr := ds.SpatialRef()
	if sr == nil {
		return ""
	}
	defer sr.Close()
	name, code := sr.AuthorityName(""), sr.AuthorityCode("")
	if name != "" && code != "" {
		return name + ":" + code
	}
	if sr.Geographic() {
		return Geographic
	}
	wkt, err := sr.WKT()
	if err != nil {
		return ""
	}
	return wkt
}

func spatialRef(crs string) (*godal.SpatialRef, error) {
	epsg, err := projection.ParseEPSG(crs)
	if err != nil {
		return nil, err
	}
	return godal.NewSpatialRefFromEPSG(epsg)
}

func epsgSwitch(crs string) (string, error) {
	epsg, err := projection.ParseEPSG(crs)
	if err != nil {
		return "", err
	}
	return "EPSG:" + strconv.Itoa(epsg), nil
}

// Canonical spells an EPSG reference system as "EPSG:<code>" so that names
// differing only in case or prefix compare equal. Other names are returned
// unchanged.
func Canonical(crs string) string {
	if c, err := epsgSwitch(crs); err == nil {
		return c
	}
	return crs
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
