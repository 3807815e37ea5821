// Package pipeline sequences the four migration-planning stages
// according to their chain dependency, persists and restores pipeline
// position, and exposes cancel/rerun operations. It treats the stage
// output cache and the checkpoint service as external durable backing
// stores it reconciles against on start-up.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
)

// Input is what a stage executes against: the caller-supplied seed for
// the first stage, or the prior stage's cached output.
type Input struct {
	DatasetID dataset.ID

	// Seed is the caller-supplied input record. It reaches every
	// stage so a stripped prior collection can be re-derived.
	Seed map[string]any

	// Prior is the previous stage's output record, nil for the first
	// stage. A stripped prior carries "<field>Count" integers in place
	// of oversized collections; stages re-derive what they need from
	// the source of truth.
	Prior map[string]any
}

// Stage is the external collaborator contract. Each stage transforms a
// plain input record into a typed output; the machine converts outputs
// to plain records at this boundary so the core never branches on
// output shape.
type Stage interface {
	// ID identifies the stage ("discovery", "assessment", ...).
	ID() string

	// Required reports whether later stages may only run once this
	// stage has a valid cache entry. An optional stage is skipped
	// entirely when its prerequisite inputs are absent.
	Required() bool

	// Execute runs the stage. The returned value is converted to a
	// plain record via its JSON form.
	Execute(ctx context.Context, in Input) (any, error)
}

// ProgressReporter is optionally implemented by stages with a native
// progress feed. Stages without it get coarse interpolation instead.
type ProgressReporter interface {
	// OnProgress registers a callback receiving 0-100 updates for the
	// duration of the next Execute call.
	OnProgress(fn func(percent int))
}

// Descriptor describes one stage's position in the chain. The
// dependency graph is a simple chain: the prior stages of stage i are
// all required stages with a lower index.
type Descriptor struct {
	ID       string
	Index    int
	Required bool
}

// Describe returns descriptors for a stage list.
func Describe(stages []Stage) []Descriptor {
	out := make([]Descriptor, len(stages))
	for i, s := range stages {
		out[i] = Descriptor{ID: s.ID(), Index: i, Required: s.Required()}
	}
	return out
}

// ToRecord converts a typed stage output to a plain record through its
// JSON form. This is the single conversion boundary between rich stage
// types and the cached representation.
func ToRecord(v any) (map[string]any, error) {
	if v == nil {
		return nil, fmt.Errorf("stage returned no output")
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("stage output not convertible: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("stage output is not a record: %w", err)
	}
	return record, nil
}
