package pipeline

import (
	"sync"
	"time"

	"github.com/cratemap/cratemap/pkg/registry"
	"github.com/cratemap/cratemap/pkg/store"
)

// State is an analysis job's position in its lifecycle. Transitions are
// monotonic forward; only Fetching and Ingesting loop in place while a
// transient failure is retried.
type State int

const (
	StateQueued State = iota
	StateFetching
	StateExtracting
	StateLoading
	StateBuilding
	StateMerging
	StateIngesting
	StateIngested
	StateFailed
	StateSkipped
)

var stateNames = [...]string{
	"queued", "fetching", "extracting", "loading", "building",
	"merging", "ingesting", "ingested", "failed", "skipped",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateIngested || s == StateFailed || s == StateSkipped
}

// Job is the per-PackageVersion unit of work. The scheduler owns it for
// the duration of its run; once terminal it is immutable.
type Job struct {
	Package registry.PackageVersion

	// Dependencies are the resolved dependency edges, fixed at planning
	// time before the job starts.
	Dependencies []store.Dependency

	mu       sync.Mutex
	state    State
	reason   error
	started  time.Time
	finished time.Time
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Reason returns the error that moved the job to Failed or Skipped.
func (j *Job) Reason() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}

// advance moves the job forward. Backward transitions indicate a scheduler
// bug and are ignored; re-entering the same state is the retry loop.
func (j *Job) advance(to State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || to < j.state {
		return
	}
	if j.state == StateQueued && to != StateQueued {
		j.started = time.Now()
	}
	j.state = to
	if to.Terminal() {
		j.finished = time.Now()
	}
}

// fail moves the job to Failed with the given reason.
func (j *Job) fail(err error) { j.terminate(StateFailed, err) }

// skip moves the job to Skipped with the given reason.
func (j *Job) skip(err error) { j.terminate(StateSkipped, err) }

func (j *Job) terminate(to State, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = to
	j.reason = err
	j.finished = time.Now()
	if j.started.IsZero() {
		j.started = j.finished
	}
}

// Duration returns how long the job ran. Zero until the job is terminal.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished.IsZero() {
		return 0
	}
	return j.finished.Sub(j.started)
}
