package gdalio

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ReadBuffer returns the geometry of the first feature of a vector file
// (shapefile, GeoJSON, ...) reprojected to crs.
func ReadBuffer(path, crs string) (orb.Geometry, error) {
	register()
	ds, err := godal.Open(path, godal.VectorOnly(), quiet)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer ds.Close()

	g, err := firstGeometry(ds, crs)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return g, nil
}

func firstGeometry(ds *godal.Dataset, crs string) (orb.Geometry, error) {
	layers := ds.Layers()
	if len(layers) == 0 {
		return nil, errors.New("vector file has no layers")
	}
	feat := layers[0].NextFeature()
	if feat == nil {
		return nil, errors.New("vector file has no features")
	}
	defer feat.Close()

	geom := feat.Geometry()
	if geom == nil || geom.Empty() {
		return nil, errors.New("first feature has no geometry")
	}
	defer geom.Close()

	if crs != "" {
		sr, err := spatialRef(crs)
		if err != nil {
			return nil, err
		}
		defer sr.Close()
		if err := geom.Reproject(sr); err != nil {
			return nil, fmt.Errorf("failed to reproject buffer to %s: %w", crs, err)
		}
	}

	raw, err := geom.GeoJSON()
	if err != nil {
		return nil, err
	}
	parsed, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse buffer geometry: %w", err)
	}
	switch g := parsed.Geometry().(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g, nil
	default:
		return nil, fmt.Errorf("buffer must be a polygon, got %s", g.GeoJSONType())
	}
}
