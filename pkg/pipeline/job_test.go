package pipeline

import (
	"testing"

	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/registry"
)

func TestJob_TransitionsAreMonotonic(t *testing.T) {
	j := &Job{Package: registry.PackageVersion{Name: "serde", Version: "1.0.0"}}

	order := []State{
		StateFetching, StateExtracting, StateLoading,
		StateBuilding, StateMerging, StateIngesting, StateIngested,
	}
	for _, s := range order {
		j.advance(s)
		if got := j.State(); got != s {
			t.Fatalf("state = %v after advance to %v", got, s)
		}
	}

	// terminal states are immutable
	j.advance(StateFetching)
	if j.State() != StateIngested {
		t.Error("terminal job moved backward")
	}
	j.fail(errors.New(errors.ErrCodeInternal, "late failure"))
	if j.State() != StateIngested || j.Reason() != nil {
		t.Error("terminal job accepted a failure")
	}
}

func TestJob_RetryReentersSameState(t *testing.T) {
	j := &Job{}
	j.advance(StateFetching)
	j.advance(StateFetching)
	if j.State() != StateFetching {
		t.Errorf("state = %v, want fetching", j.State())
	}
	// a backward transition is ignored, not applied
	j.advance(StateQueued)
	if j.State() != StateFetching {
		t.Errorf("state = %v after backward transition, want fetching", j.State())
	}
}

func TestJob_SkipRecordsReason(t *testing.T) {
	j := &Job{}
	j.advance(StateLoading)
	j.skip(errors.New(errors.ErrCodeUnsupportedIR, "cmir version 9"))

	if j.State() != StateSkipped {
		t.Fatalf("state = %v, want skipped", j.State())
	}
	if !errors.Is(j.Reason(), errors.ErrCodeUnsupportedIR) {
		t.Errorf("reason = %v", j.Reason())
	}
	if j.Duration() < 0 {
		t.Error("negative duration")
	}
}

func TestState_String(t *testing.T) {
	if StateQueued.String() != "queued" || StateIngested.String() != "ingested" {
		t.Error("state names wrong")
	}
	if !StateFailed.Terminal() || StateMerging.Terminal() {
		t.Error("terminal classification wrong")
	}
}
