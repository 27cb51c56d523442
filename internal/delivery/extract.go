package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/gdalio"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/projection"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/forest-guardian/virtual-pixel-regrid/output"
	"github.com/sirupsen/logrus"
)

// Table is one exported time series of a site and variable.
type Table struct {
	Site     string
	Variable string
	Path     string
	Rows     int
}

func (t Table) String() string {
	return fmt.Sprintf("%s (%d rows)", filepath.Base(t.Path), t.Rows)
}

// ExtractFile reads a regridded raster and returns one record per valid
// cell. Files without an acquisition date yield no records.
func (p *Pipeline) ExtractFile(path string) ([]timeseries.Record, error) {
	name := filepath.Base(path)
	acq, err := timeseries.ParseAcquisition(name)
	if err != nil {
		return nil, nil
	}
	coarse, err := p.LoadFine(path, gdalio.FineOptions{CRS: p.Config.ProjectedCRS})
	if err != nil {
		return nil, err
	}

	var records []timeseries.Record
	for r := range coarse.Height {
		for c := range coarse.Width {
			i := r*coarse.Width + c
			if !coarse.Valid[i] {
				continue
			}
			x, y := coarse.Transform.Center(c, r)
			lon, lat, err := p.Projection.ToGeographic(x, y)
			if err != nil {
				return nil, fmt.Errorf("%s cell %d,%d: %w", name, c, r, err)
			}
			records = append(records, timeseries.Record{
				Date:      timeseries.Date{Time: acq.Date},
				Year:      acq.Year,
				DOY:       acq.DOY,
				Latitude:  lat,
				Longitude: lon,
				Value:     coarse.Values[i],
				PixelID:   projection.PixelID(x, y),
				X:         x,
				Y:         y,
				Filename:  name,
			})
		}
	}
	return records, nil
}

// Extract rebuilds the tables of every site and variable from the rasters
// already in the output folders. Unreadable rasters are logged and skipped.
func (p *Pipeline) Extract(ctx context.Context) ([]Table, error) {
	cfg := p.Config
	var tables []Table
	for _, site := range cfg.Sites {
		for _, variable := range cfg.Variables {
			if err := ctx.Err(); err != nil {
				return tables, err
			}
			log := p.Logger.WithFields(logrus.Fields{"site": site.Name, "variable": variable})
			folder := cfg.OutputFolder(site.Name, variable)
			files, err := listRasters(folder)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return tables, err
			}
			if len(files) == 0 {
				log.Warnf("empty folder: %s", folder)
				continue
			}

			var batches [][]timeseries.Record
			for _, f := range files {
				recs, err := p.ExtractFile(f)
				if err != nil {
					log.WithError(err).Warnf("failed to read %s", filepath.Base(f))
					continue
				}
				batches = append(batches, recs)
			}
			t, err := p.writeTable(site.Name, variable, timeseries.Concat(batches...))
			if err != nil {
				return tables, err
			}
			if t.Rows == 0 {
				log.Info("no valid data found")
				continue
			}
			log.Infof("saved %s", t)
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// writeTable sorts and writes the records of one site and variable. Nothing
// is written when there are no records.
func (p *Pipeline) writeTable(site, variable string, records []timeseries.Record) (Table, error) {
	cfg := p.Config
	t := Table{Site: site, Variable: variable, Path: filepath.Join(cfg.TablesDir, output.TableName(site, variable)), Rows: len(records)}
	if len(records) == 0 {
		return t, nil
	}
	timeseries.Sort(records)
	if err := output.WriteCSV(t.Path, variable, records); err != nil {
		return t, fmt.Errorf("table %s: %w", t.Path, err)
	}
	if cfg.WriteGeoJSON {
		path := strings.TrimSuffix(t.Path, filepath.Ext(t.Path)) + ".geojson"
		if err := output.WriteGeoJSON(path, variable, records); err != nil {
			return t, fmt.Errorf("table %s: %w", path, err)
		}
	}
	return t, nil
}

// listRasters returns the GeoTIFFs of a folder in name order.
func listRasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".tif" || ext == ".tiff" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
