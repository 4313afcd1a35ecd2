package pipeline

import (
	"time"

	"github.com/cratemap/cratemap/pkg/registry"
)

// JobResult is one job's final state for the run report.
type JobResult struct {
	Package  registry.PackageVersion
	State    State
	Reason   string
	Duration time.Duration
}

// Report summarizes a finished run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Jobs     []JobResult
}

func buildReport(runID string, started time.Time, jobs []*Job) *Report {
	report := &Report{
		RunID:    runID,
		Started:  started,
		Finished: time.Now(),
	}
	for _, j := range jobs {
		result := JobResult{
			Package:  j.Package,
			State:    j.State(),
			Duration: j.Duration(),
		}
		if reason := j.Reason(); reason != nil {
			result.Reason = reason.Error()
		}
		report.Jobs = append(report.Jobs, result)
	}
	return report
}

// Counts tallies terminal states across the run.
func (r *Report) Counts() (ingested, failed, skipped int) {
	for _, j := range r.Jobs {
		switch j.State {
		case StateIngested:
			ingested++
		case StateFailed:
			failed++
		case StateSkipped:
			skipped++
		}
	}
	return
}
