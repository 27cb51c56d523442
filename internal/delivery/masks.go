package delivery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/batch"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/mask"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/utils"
)

// PrepareMasks cuts every yearly mask of MaskDir down to each site's buffer
// and stores it as CutDir/<site>/<year>_coverage_<site>.tif. Years that
// already have a pre-cut file are skipped.
func (p *Pipeline) PrepareMasks(ctx context.Context) (batch.Summary, error) {
	started := time.Now()
	cfg := p.Config
	years, err := mask.Years(cfg.MaskDir)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("failed to list masks: %w", err)
	}
	if len(years) == 0 {
		return batch.Summary{}, fmt.Errorf("no masks found in %s", cfg.MaskDir)
	}

	var tasks []batch.Task
	for _, site := range cfg.Sites {
		if _, ok := p.Clips[site.Name]; !ok {
			p.Logger.WithField("site", site.Name).Warn("no buffer for site, masks not cut")
			continue
		}
		for _, year := range utils.SortedKeys(years) {
			tasks = append(tasks, batch.Task{
				Site:      site.Name,
				Variable:  "mask",
				Path:      years[year],
				OutputDir: filepath.Join(cfg.MaskCutDir, site.Name),
			})
		}
	}
	if len(tasks) == 0 {
		return batch.Summary{}, errors.New("no site has a buffer")
	}

	outcomes := batch.Run(ctx, tasks, p.cutMask, batch.Options{
		Workers:     p.Config.Workers,
		TaskTimeout: p.Config.TaskTimeout,
		Logger:      p.Logger,
	})
	return batch.NewSummary(started, outcomes), nil
}

func (p *Pipeline) cutMask(ctx context.Context, task batch.Task) (batch.Outcome, error) {
	year, ok := mask.ParseYear(task.Name())
	if !ok {
		return batch.Skip(ReasonNoDate), nil
	}
	existing, err := filepath.Glob(filepath.Join(task.OutputDir, mask.Pattern(year)))
	if err != nil {
		return batch.Outcome{}, err
	}
	if len(existing) > 0 {
		return batch.Skip(ReasonExists), nil
	}
	dst := filepath.Join(task.OutputDir, mask.CutName(year, task.Site))
	if err := p.ClipMask(task.Path, dst, p.Clips[task.Site]); err != nil {
		return batch.Outcome{}, err
	}
	return batch.Outcome{Status: batch.StatusOK, Output: dst}, nil
}
