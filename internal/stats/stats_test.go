package stats

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAddPhaseAccumulates(t *testing.T) {
	st := Start("generate", "a", "b")
	st.AddPhase("hash", 2*time.Second)
	st.AddPhase("hash", 500*time.Millisecond)
	st.AddPhase("save", time.Second)

	if got := st.PhaseSeconds["hash"]; got != 2.5 {
		t.Errorf("hash phase = %v, want 2.5", got)
	}
	if got := st.PhaseSeconds["save"]; got != 1.0 {
		t.Errorf("save phase = %v, want 1", got)
	}
}

func TestPhaseTimer(t *testing.T) {
	st := Start("copy")
	done := st.Phase("transfer")
	done()

	if _, ok := st.PhaseSeconds["transfer"]; !ok {
		t.Error("stopped phase was not recorded")
	}
}

func TestMarshalIncludesPhases(t *testing.T) {
	st := Start("check")
	st.AddPhase("compare", time.Second)
	data, err := st.Finish().MarshalIndentJSON(false)
	if err != nil {
		t.Fatalf("MarshalIndentJSON: %v", err)
	}
	if !strings.Contains(string(data), `"phase_seconds"`) {
		t.Errorf("report is missing phase timings: %s", data)
	}
	if !strings.Contains(string(data), `"compare"`) {
		t.Errorf("report is missing the compare phase: %s", data)
	}
}

func TestMarshalOmitsEmptyPhases(t *testing.T) {
	data, err := Start("check").Finish().MarshalIndentJSON(false)
	if err != nil {
		t.Fatalf("MarshalIndentJSON: %v", err)
	}
	if strings.Contains(string(data), "phase_seconds") {
		t.Errorf("report carries empty phase timings: %s", data)
	}
}

func TestCountersFromContext(t *testing.T) {
	var c Counters
	ctx := WithCounters(context.Background(), &c)
	CountersFrom(ctx).AddRetries(1)
	if c.Retries != 1 {
		t.Errorf("Retries = %d, want 1", c.Retries)
	}

	// Without attached counters updates go to a discard set.
	CountersFrom(context.Background()).AddRetries(1)
}
