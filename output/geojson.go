package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WriteGeoJSON writes one point feature per record at the pixel's geographic
// center.
func WriteGeoJSON(path, variable string, records []timeseries.Record) error {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		f := geojson.NewFeature(orb.Point{r.Longitude, r.Latitude})
		f.Properties["pixel_id"] = r.PixelID
		f.Properties["date"] = r.Date.Format("2006-01-02")
		f.Properties["x"] = r.X
		f.Properties["y"] = r.Y
		f.Properties[variable] = r.Value
		f.Properties["filename"] = r.Filename
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("error encoding GeoJSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error creating GeoJSON file: %w", err)
	}
	return nil
}
