package media

import (
	"testing"

	"github.com/mstroecker/airpodsd/internal/model"
)

func TestShouldPauseOneOut(t *testing.T) {
	c := &Controller{policy: model.EarPauseOneOut}
	cases := []struct {
		left, right, want bool
	}{
		{true, true, false},
		{true, false, true},
		{false, true, true},
		{false, false, true},
	}
	for _, tc := range cases {
		if got := c.shouldPause(tc.left, tc.right); got != tc.want {
			t.Errorf("shouldPause(%v,%v) = %v, want %v", tc.left, tc.right, got, tc.want)
		}
	}
}

func TestShouldPauseBothOut(t *testing.T) {
	c := &Controller{policy: model.EarPauseBothOut}
	cases := []struct {
		left, right, want bool
	}{
		{true, true, false},
		{true, false, false},
		{false, true, false},
		{false, false, true},
	}
	for _, tc := range cases {
		if got := c.shouldPause(tc.left, tc.right); got != tc.want {
			t.Errorf("shouldPause(%v,%v) = %v, want %v", tc.left, tc.right, got, tc.want)
		}
	}
}

func TestShouldPauseDisabledNeverPauses(t *testing.T) {
	c := &Controller{policy: model.EarPauseDisabled}
	if c.shouldPause(false, false) {
		t.Error("disabled policy must never request a pause")
	}
}

// TestFirstReadingEstablishesBaselineOnly verifies that OnEarDetectionChanged
// does not treat the first reading after a policy change as an edge: it
// records state but does not invoke PauseAll, since there is no "previous"
// reading to compare against (spec.md section 4.7).
func TestFirstReadingEstablishesBaselineOnly(t *testing.T) {
	c := &Controller{policy: model.EarPauseOneOut, paused: make(map[string]bool)}
	c.OnEarDetectionChanged(false, false) // both out, but first ever reading
	if c.validPrev != true {
		t.Fatal("expected validPrev to become true after first reading")
	}
	if len(c.paused) != 0 {
		t.Error("first reading must not itself trigger a pause dispatch")
	}
}

func TestSetPolicyInvalidatesBaseline(t *testing.T) {
	c := &Controller{policy: model.EarPauseOneOut, paused: make(map[string]bool)}
	c.OnEarDetectionChanged(true, true)
	if !c.validPrev {
		t.Fatal("expected baseline to be established")
	}
	c.SetPolicy(model.EarPauseBothOut)
	if c.validPrev {
		t.Error("changing policy must invalidate the baseline")
	}
}
