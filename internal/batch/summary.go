package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/google/uuid"
)

// Summary is the status list of a finished batch.
type Summary struct {
	RunID         string
	Started       time.Time
	Elapsed       time.Duration
	OK            int
	Skipped       int
	Failed        int
	LowConfidence int
	Outcomes      []Outcome
}

func NewSummary(started time.Time, outcomes []Outcome) Summary {
	s := Summary{
		RunID:    uuid.NewString(),
		Started:  started,
		Elapsed:  time.Since(started),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case StatusOK:
			s.OK++
			if o.LowConfidence {
				s.LowConfidence++
			}
		case StatusSkip:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

func (s Summary) Total() int { return len(s.Outcomes) }

// Throughput is the number of processed tasks per second.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Total()) / s.Elapsed.Seconds()
}

// Failures returns the failed outcomes.
func (s Summary) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Status == StatusError {
			out = append(out, o)
		}
	}
	return out
}

// Records concatenates, in task order, the records of every outcome of one
// site and variable. Skipped tasks may carry records read back from an
// earlier output; failed tasks carry none.
func (s Summary) Records(site, variable string) []timeseries.Record {
	var batches [][]timeseries.Record
	for _, o := range s.Outcomes {
		if o.Status == StatusError || o.Task.Site != site || o.Task.Variable != variable {
			continue
		}
		batches = append(batches, o.Records)
	}
	return timeseries.Concat(batches...)
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d tasks in %s (%.2f tasks/s)\n", s.RunID, s.Total(), s.Elapsed.Round(time.Millisecond), s.Throughput())
	fmt.Fprintf(&b, "ok: %d (low confidence: %d), skipped: %d, failed: %d", s.OK, s.LowConfidence, s.Skipped, s.Failed)
	return b.String()
}
