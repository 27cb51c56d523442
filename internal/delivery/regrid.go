// Package delivery runs the regrid stages over the configured sites and
// variables: regridding fine rasters, extracting tables from regridded
// rasters and pre-cutting masks to site buffers.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/aggregate"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/batch"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/gdalio"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/grid"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/mask"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/projection"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/properties"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

const (
	OutputPrefix = "Regrid_"

	ReasonExists    = "output exists"
	ReasonNoDate    = "year not identified"
	ReasonNoOverlap = "no overlap with site buffer"
)

type FineLoader func(path string, opts gdalio.FineOptions) (*raster.Fine, error)

type CoarseWriter func(path string, m *grid.Mapping, results []aggregate.Result, crs string) error

type MaskClipper func(src, dst string, bound orb.Bound) error

// Pipeline holds what every task of a run shares. It is safe for concurrent
// use once built.
type Pipeline struct {
	Config     properties.Config
	Projection *projection.Transformer
	Masks      *mask.Resolver
	// Extents are the site buffers in the projected system. Sites without
	// one use the whole raster.
	Extents map[string]orb.Geometry
	// Clips are the padded geographic bounds of the buffers, used to cut masks.
	Clips  map[string]orb.Bound
	Logger logrus.FieldLogger

	LoadFine    FineLoader
	WriteCoarse CoarseWriter
	ClipMask    MaskClipper
}

// NewPipeline wires a pipeline over an existing mask store.
func NewPipeline(cfg properties.Config, store mask.Store, extents map[string]orb.Geometry, log logrus.FieldLogger) (*Pipeline, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tr, err := projection.NewFromEPSG(cfg.ProjectedCRS)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Config:     cfg,
		Projection: tr,
		Masks: &mask.Resolver{
			Store:   store,
			MinYear: cfg.MaskMinYear,
			MaxYear: cfg.MaskMaxYear,
			Logger:  log,
		},
		Extents:     extents,
		Clips:       map[string]orb.Bound{},
		Logger:      log,
		LoadFine:    gdalio.LoadFine,
		WriteCoarse: gdalio.WriteCoarse,
		ClipMask:    gdalio.ClipToBuffer,
	}, nil
}

// Open reads the site buffers and builds a pipeline whose masks come from
// the configured directories, clipped to each buffer and cached for the run.
func Open(cfg properties.Config, log logrus.FieldLogger) (*Pipeline, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tr, err := projection.NewFromEPSG(cfg.ProjectedCRS)
	if err != nil {
		return nil, err
	}

	extents := make(map[string]orb.Geometry, len(cfg.Sites))
	clips := make(map[string]orb.Bound, len(cfg.Sites))
	for _, site := range cfg.Sites {
		if site.Buffer == "" {
			log.WithField("site", site.Name).Warn("no buffer configured, using whole rasters")
			continue
		}
		g, err := gdalio.ReadBuffer(site.Buffer, cfg.ProjectedCRS)
		if err != nil {
			return nil, fmt.Errorf("buffer of %s: %w", site.Name, err)
		}
		extents[site.Name] = g
		pad := max(cfg.TargetResX, cfg.TargetResY)
		clip, err := GeographicBound(tr, g.Bound().Pad(pad))
		if err != nil {
			return nil, fmt.Errorf("buffer of %s: %w", site.Name, err)
		}
		clips[site.Name] = clip
	}

	store := mask.NewCachedStore(&mask.DirStore{
		Dir:    cfg.MaskDir,
		CutDir: cfg.MaskCutDir,
		Decode: gdalio.MaskDecoder(clips),
	})
	p, err := NewPipeline(cfg, store, extents, log)
	if err != nil {
		return nil, err
	}
	p.Clips = clips
	return p, nil
}

// GeographicBound converts a projected bound to the lon/lat bound of its corners.
func GeographicBound(tr *projection.Transformer, b orb.Bound) (orb.Bound, error) {
	corners := []orb.Point{b.Min, {b.Max[0], b.Min[1]}, b.Max, {b.Min[0], b.Max[1]}}
	var out orb.Bound
	for i, c := range corners {
		lon, lat, err := tr.ToGeographic(c[0], c[1])
		if err != nil {
			return orb.Bound{}, err
		}
		if i == 0 {
			out = orb.Point{lon, lat}.Bound()
			continue
		}
		out = out.Extend(orb.Point{lon, lat})
	}
	return out, nil
}

// OutputPath is the coarse raster written for a task.
func OutputPath(task batch.Task) string {
	return filepath.Join(task.OutputDir, OutputPrefix+task.Name())
}

// Regrid processes one fine raster. It is a batch.Func.
func (p *Pipeline) Regrid(ctx context.Context, task batch.Task) (batch.Outcome, error) {
	cfg := p.Config
	log := p.Logger.WithFields(logrus.Fields{"site": task.Site, "variable": task.Variable, "file": task.Name()})

	acq, err := timeseries.ParseAcquisition(task.Name())
	if err != nil {
		return batch.Skip(ReasonNoDate), nil
	}
	out := OutputPath(task)
	if cfg.WriteRasters && exists(out) {
		return batch.Skip(ReasonExists), nil
	}

	fine, err := p.LoadFine(task.Path, gdalio.FineOptions{CRS: cfg.ProjectedCRS, Resolution: cfg.FineResolution})
	if err != nil {
		return batch.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return batch.Outcome{}, err
	}

	lc, err := p.Masks.Resolve(ctx, task.Site, acq.Year)
	if err != nil {
		return batch.Outcome{}, err
	}
	toMask, err := p.maskPoints(lc.CRS, fine.CRS)
	if err != nil {
		return batch.Outcome{}, err
	}
	matched, err := mask.Match(lc, fine.Geometry, fine.CRS, toMask)
	if err != nil {
		return batch.Outcome{}, err
	}

	var opts []grid.Option
	if g, ok := p.Extents[task.Site]; ok {
		opts = append(opts, grid.WithExtent(g))
	}
	m, err := grid.Align(fine.Geometry, grid.Spec{CellWidth: cfg.TargetResX, CellHeight: cfg.TargetResY}, p.Projection, opts...)
	if err != nil {
		return batch.Outcome{}, err
	}

	classes := cfg.Classes()
	results, err := aggregate.Aggregate(fine, matched, m, aggregate.Options{
		CoverageThreshold: cfg.CoverageThreshold,
		ForestClasses:     classes,
	})
	if errors.Is(err, aggregate.ErrEmptyOverlap) {
		log.Warn("raster does not overlap the site buffer")
		return batch.Outcome{Status: batch.StatusOK, Reason: ReasonNoOverlap, LowConfidence: true}, nil
	}
	if err != nil {
		return batch.Outcome{}, err
	}

	stats := aggregate.Summary(results)
	log.WithFields(logrus.Fields{
		"year":            acq.Year,
		"mask_year":       lc.Year,
		"valid_pixels":    fine.ValidCount(),
		"forest_fraction": matched.Coverage(raster.NewClassSet(classes...)),
		"cells":           stats.Cells,
		"accepted":        stats.Accepted,
	}).Debug("aggregated")

	o := batch.Outcome{
		Status:        batch.StatusOK,
		Records:       timeseries.Assemble(results, acq, out),
		LowConfidence: stats.Accepted == 0,
	}
	if cfg.WriteRasters {
		if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
			return batch.Outcome{}, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := p.WriteCoarse(out, m, results, cfg.ProjectedCRS); err != nil {
			return batch.Outcome{}, err
		}
		o.Output = out
	}
	return o, nil
}

// maskPoints maps fine raster coordinates into the mask's system. Masks are
// either in the processing system or geographic.
func (p *Pipeline) maskPoints(maskCRS, fineCRS string) (mask.PointFunc, error) {
	switch gdalio.Canonical(maskCRS) {
	case gdalio.Canonical(fineCRS), "":
		return mask.Identity, nil
	case gdalio.Geographic:
		// per task: the shared transformer serializes calls
		tr, err := projection.NewFromEPSG(p.Config.ProjectedCRS)
		if err != nil {
			return nil, err
		}
		return tr.ToGeographic, nil
	}
	return nil, fmt.Errorf("mask reference system %s is neither %s nor %s", maskCRS, fineCRS, gdalio.Geographic)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
