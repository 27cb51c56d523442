package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/batch"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/cache"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/notification"
	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const ReasonCached = "cached"

type RunOptions struct {
	// Progress receives the progress bar. Nil hides it.
	Progress io.Writer
	// Status receives one coloured line per finished task. Nil hides them.
	Status   io.Writer
	Notifier *notification.Notifier
	// NoCache disables reuse of records from earlier runs.
	NoCache bool
}

type Report struct {
	Summary batch.Summary
	Tables  []Table
}

// Discover lists the fine rasters of every configured site and variable.
// Missing input folders are logged and skipped.
func (p *Pipeline) Discover() ([]batch.Task, error) {
	cfg := p.Config
	var tasks []batch.Task
	for _, site := range cfg.Sites {
		for _, variable := range cfg.Variables {
			folder := cfg.InputFolder(site.Name, variable)
			files, err := listRasters(folder)
			if os.IsNotExist(err) {
				p.Logger.WithFields(logrus.Fields{"site": site.Name, "variable": variable}).Warnf("input folder not found: %s", folder)
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				tasks = append(tasks, batch.Task{
					Site:      site.Name,
					Variable:  variable,
					Path:      f,
					OutputDir: cfg.OutputFolder(site.Name, variable),
				})
			}
		}
	}
	return tasks, nil
}

// RunBatch regrids every discovered raster and writes one table per site
// and variable. Task failures are reported in the summary, not returned.
func (p *Pipeline) RunBatch(ctx context.Context, opts RunOptions) (Report, error) {
	started := time.Now()
	tasks, err := p.Discover()
	if err != nil {
		return Report{}, err
	}
	p.Logger.WithField("tasks", len(tasks)).Info("starting regrid")

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(tasks),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("Regridding"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionClearOnFinish(),
		)
	}

	outcomes := batch.Run(ctx, tasks, p.taskFunc(opts.NoCache), batch.Options{
		Workers:     p.Config.Workers,
		TaskTimeout: p.Config.TaskTimeout,
		Progress:    bar,
		Logger:      p.Logger,
		OnOutcome:   statusPrinter(opts.Status),
	})
	summary := batch.NewSummary(started, outcomes)

	report := Report{Summary: summary}
	for _, site := range p.Config.Sites {
		for _, variable := range p.Config.Variables {
			t, err := p.writeTable(site.Name, variable, summary.Records(site.Name, variable))
			if err != nil {
				return report, err
			}
			if t.Rows > 0 {
				report.Tables = append(report.Tables, t)
			}
		}
	}
	report.Summary.Elapsed = time.Since(started)
	p.Logger.WithFields(logrus.Fields{
		"run_id":  summary.RunID,
		"ok":      summary.OK,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
		"tables":  len(report.Tables),
	}).Info("regrid finished")

	notify(ctx, opts.Notifier, report, p.Logger)
	return report, nil
}

// taskFunc wraps Regrid with the record cache. Rasters already written by an
// earlier run contribute their records through extraction.
func (p *Pipeline) taskFunc(noCache bool) batch.Func {
	records := cache.NewFileCache[[]timeseries.Record](p.Config.CacheDir, "tasks")
	return func(ctx context.Context, task batch.Task) (batch.Outcome, error) {
		key, keyed := p.cacheKey(records, task)
		if keyed && !noCache {
			if recs, ok := records.Get(key); ok {
				return batch.Outcome{Status: batch.StatusOK, Reason: ReasonCached, Records: recs}, nil
			}
		}

		o, err := p.Regrid(ctx, task)
		if err == nil && o.Status == batch.StatusSkip && o.Reason == ReasonExists {
			o.Records, err = p.ExtractFile(OutputPath(task))
			if err != nil {
				o, err = batch.Outcome{}, fmt.Errorf("existing output: %w", err)
			}
		}
		if keyed {
			p.storeRecords(records, key, o, err)
		}
		return o, err
	}
}

// storeRecords caches the records of a confident success. Any other result
// drops the entry, so a refreshed task never leaves older records behind.
func (p *Pipeline) storeRecords(fc cache.CacheService[[]timeseries.Record], key string, o batch.Outcome, err error) {
	if err == nil && o.Status == batch.StatusOK && !o.LowConfidence {
		if err := fc.Set(key, o.Records); err != nil {
			p.Logger.WithError(err).Warn("failed to cache task records")
		}
		return
	}
	if err := fc.Delete(key); err != nil {
		p.Logger.WithError(err).Warn("failed to drop cached task records")
	}
}

// cacheKey identifies a task by its input file and every setting that
// changes its records.
func (p *Pipeline) cacheKey(fc *cache.FileCache[[]timeseries.Record], task batch.Task) (string, bool) {
	fi, err := os.Stat(task.Path)
	if err != nil {
		return "", false
	}
	c := p.Config
	return fc.GenerateKey(task.Site, task.Variable, task.Path, fi.Size(), fi.ModTime().UnixNano(),
		c.TargetResX, c.TargetResY, c.FineResolution, c.CoverageThreshold, c.ForestClasses,
		c.MaskMinYear, c.MaskMaxYear, c.ProjectedCRS), true
}

func statusPrinter(w io.Writer) func(batch.Outcome) {
	if w == nil {
		return nil
	}
	var mu sync.Mutex
	ok := color.New(color.FgGreen)
	skip := color.New(color.FgYellow)
	fail := color.New(color.FgRed)
	return func(o batch.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o.Status {
		case batch.StatusOK:
			ok.Fprintln(w, o.String())
		case batch.StatusSkip:
			skip.Fprintln(w, o.String())
		default:
			fail.Fprintln(w, o.String())
		}
	}
}

func notify(ctx context.Context, n *notification.Notifier, report Report, log logrus.FieldLogger) {
	if !n.Enabled() {
		return
	}
	s := report.Summary
	var err error
	if s.Failed > 0 {
		lines := make([]string, 0, s.Failed)
		for _, o := range s.Failures() {
			lines = append(lines, o.String())
		}
		err = n.SendError(ctx, fmt.Sprintf("%s\n\n%s", s, strings.Join(lines, "\n")))
	} else {
		err = n.SendSuccess(ctx, fmt.Sprintf("%s\n\n%d tables written", s, len(report.Tables)))
	}
	if err != nil {
		log.WithError(err).Warn("failed to send notification")
	}
}
