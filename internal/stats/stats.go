// Package stats collects per-command operation statistics for JSON output.
package stats

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// Counters accumulate from concurrent workers, so updates go through atomics.
type Counters struct {
	BytesRead         int64 `json:"bytes_read"`
	BytesWritten      int64 `json:"bytes_written"`
	ChecksumsComputed int64 `json:"checksums_computed"`
	APICalls          int64 `json:"api_calls"`
	Retries           int64 `json:"retries"`
	TagFailures       int64 `json:"tag_failures"`
}

func (c *Counters) AddBytesRead(n int64)    { atomic.AddInt64(&c.BytesRead, n) }
func (c *Counters) AddBytesWritten(n int64) { atomic.AddInt64(&c.BytesWritten, n) }
func (c *Counters) AddChecksums(n int64)    { atomic.AddInt64(&c.ChecksumsComputed, n) }
func (c *Counters) AddAPICalls(n int64)     { atomic.AddInt64(&c.APICalls, n) }
func (c *Counters) AddRetries(n int64)      { atomic.AddInt64(&c.Retries, n) }
func (c *Counters) AddTagFailures(n int64)  { atomic.AddInt64(&c.TagFailures, n) }

type countersKey struct{}

// WithCounters attaches the operation's counters to a context so lower
// layers (the store retryer in particular) can report into them.
func WithCounters(ctx context.Context, c *Counters) context.Context {
	return context.WithValue(ctx, countersKey{}, c)
}

var discard Counters

// CountersFrom returns the counters attached to the context, or a discard
// set when none are.
func CountersFrom(ctx context.Context) *Counters {
	if c, ok := ctx.Value(countersKey{}).(*Counters); ok {
		return c
	}
	return &discard
}

// OperationStats describes one completed command invocation.
type OperationStats struct {
	Operation      string   `json:"operation"`
	Inputs         []string `json:"inputs,omitempty"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	// PhaseSeconds accumulates elapsed wall time per named phase, e.g.
	// load/hash/save for generate or plan/transfer/verify for copy.
	PhaseSeconds map[string]float64 `json:"phase_seconds,omitempty"`
	Counters     Counters           `json:"counters"`

	// Outcome is the command-specific result: an equality outcome for
	// check, a verification state for copy.
	Outcome string `json:"outcome,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`

	started time.Time
}

// Start begins a new stats collection for an operation.
func Start(operation string, inputs ...string) *OperationStats {
	return &OperationStats{
		Operation: operation,
		Inputs:    inputs,
		started:   time.Now(),
	}
}

// AddPhase accumulates d into the named phase. Phases are recorded from
// the orchestrating goroutine only.
func (s *OperationStats) AddPhase(name string, d time.Duration) {
	if s.PhaseSeconds == nil {
		s.PhaseSeconds = make(map[string]float64)
	}
	s.PhaseSeconds[name] += d.Seconds()
}

// Phase starts timing a named phase; the returned func stops it.
func (s *OperationStats) Phase(name string) func() {
	start := time.Now()
	return func() { s.AddPhase(name, time.Since(start)) }
}

// Finish freezes the elapsed time.
func (s *OperationStats) Finish() *OperationStats {
	s.ElapsedSeconds = time.Since(s.started).Seconds()
	return s
}

// MarshalIndentJSON renders the stats, optionally indented.
func (s *OperationStats) MarshalIndentJSON(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(s, "", "  ")
	}
	return json.Marshal(s)
}
