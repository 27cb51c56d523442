package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLoad = errors.New("cannot decode raster")

func tasks(names ...string) []Task {
	out := make([]Task, 0, len(names))
	for _, n := range names {
		out = append(out, Task{Site: "ATTO", Variable: "LST", Path: "/in/" + n, OutputDir: "/out"})
	}
	return out
}

func quiet(n int) Options {
	logger, _ := test.NewNullLogger()
	return Options{Workers: 2, Logger: logger, Progress: progressbar.DefaultSilent(int64(n))}
}

func TestRunIsolatesLoadFailure(t *testing.T) {
	ts := tasks("doy2020001.tif", "doy2020017.tif", "doy2020033.tif")
	fn := func(_ context.Context, task Task) (Outcome, error) {
		if task.Name() == "doy2020017.tif" {
			return Outcome{}, fmt.Errorf("load %s: %w", task.Path, errLoad)
		}
		return Outcome{Records: []timeseries.Record{{PixelID: task.Name()}}, Output: "/out/Regrid_" + task.Name()}, nil
	}

	outcomes := Run(context.Background(), ts, fn, quiet(len(ts)))
	require.Len(t, outcomes, 3)

	assert.Equal(t, StatusOK, outcomes[0].Status)
	assert.Equal(t, StatusError, outcomes[1].Status)
	assert.Equal(t, StatusOK, outcomes[2].Status)
	assert.ErrorIs(t, outcomes[1].Err, errLoad)
	assert.Contains(t, outcomes[1].Reason, "cannot decode raster")
	assert.Equal(t, ts[1], outcomes[1].Task)

	s := NewSummary(time.Now(), outcomes)
	assert.Equal(t, 2, s.OK)
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.Failures(), 1)

	records := s.Records("ATTO", "LST")
	require.Len(t, records, 2)
	assert.Equal(t, "doy2020001.tif", records[0].PixelID)
	assert.Equal(t, "doy2020033.tif", records[1].PixelID)
	assert.Empty(t, s.Records("ATTO", "SM"))
}

func TestRunRecoversPanics(t *testing.T) {
	ts := tasks("a.tif", "b.tif")
	fn := func(_ context.Context, task Task) (Outcome, error) {
		if task.Name() == "a.tif" {
			var m map[string]int
			m["x"] = 1
		}
		return Outcome{}, nil
	}

	outcomes := Run(context.Background(), ts, fn, quiet(2))
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, ErrPanic)
	assert.Equal(t, ErrPanic.Error(), outcomes[0].Reason)
	assert.Equal(t, StatusOK, outcomes[1].Status)
}

func TestRunTimesOutStuckTask(t *testing.T) {
	ts := tasks("stuck.tif", "fast.tif")
	release := make(chan struct{})
	defer close(release)
	fn := func(ctx context.Context, task Task) (Outcome, error) {
		if task.Name() == "stuck.tif" {
			<-release
		}
		return Outcome{}, nil
	}
	opts := quiet(2)
	opts.TaskTimeout = 50 * time.Millisecond

	outcomes := Run(context.Background(), ts, fn, opts)
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.Contains(t, outcomes[0].Reason, "timed out")
	assert.Equal(t, StatusOK, outcomes[1].Status)
}

func TestRunKeepsSkipStatus(t *testing.T) {
	fn := func(context.Context, Task) (Outcome, error) {
		return Skip("already exists"), nil
	}
	outcomes := Run(context.Background(), tasks("a.tif"), fn, quiet(1))
	assert.Equal(t, StatusSkip, outcomes[0].Status)
	assert.Equal(t, "[SKIP] a.tif (already exists)", outcomes[0].String())
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	fn := func(context.Context, Task) (Outcome, error) {
		calls.Add(1)
		return Outcome{}, nil
	}
	outcomes := Run(ctx, tasks("a.tif", "b.tif"), fn, quiet(2))
	for _, o := range outcomes {
		assert.Equal(t, StatusError, o.Status)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
	assert.Zero(t, calls.Load())
}

func TestRunBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	fn := func(context.Context, Task) (Outcome, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Outcome{}, nil
	}
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("f%02d.tif", i)
	}
	opts := quiet(len(names))
	opts.Workers = 3

	var mu sync.Mutex
	var seen []string
	opts.OnOutcome = func(o Outcome) {
		mu.Lock()
		seen = append(seen, o.Task.Name())
		mu.Unlock()
	}

	outcomes := Run(context.Background(), tasks(names...), fn, opts)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Len(t, seen, 20)
	for i, o := range outcomes {
		assert.Equal(t, names[i], o.Task.Name())
	}
}

func TestOptimalWorkers(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, min(2*n, 16), OptimalWorkers(IOBound, 0))
	assert.Equal(t, max(1, n-1), OptimalWorkers(CPUBound, 1))
	assert.Equal(t, 1, OptimalWorkers(CPUBound, n+4))
}

func TestSummaryString(t *testing.T) {
	outcomes := []Outcome{
		{Status: StatusOK, LowConfidence: true},
		{Status: StatusSkip},
		{Status: StatusError},
	}
	s := NewSummary(time.Now().Add(-time.Second), outcomes)
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 1, s.LowConfidence)
	assert.Contains(t, s.String(), "ok: 1 (low confidence: 1), skipped: 1, failed: 1")
	assert.Equal(t, 3, s.Total())
}

func TestSummaryRecordsKeepSkippedOutputs(t *testing.T) {
	ts := tasks("doy2020001.tif", "doy2020017.tif", "doy2020033.tif")
	outcomes := []Outcome{
		{Task: ts[0], Status: StatusSkip, Reason: "output exists", Records: []timeseries.Record{{PixelID: "existing"}}},
		{Task: ts[1], Status: StatusError, Records: []timeseries.Record{{PixelID: "partial"}}},
		{Task: ts[2], Status: StatusOK, Records: []timeseries.Record{{PixelID: "fresh"}}},
	}
	records := NewSummary(time.Now(), outcomes).Records("ATTO", "LST")
	require.Len(t, records, 2)
	assert.Equal(t, "existing", records[0].PixelID)
	assert.Equal(t, "fresh", records[1].PixelID)
}
