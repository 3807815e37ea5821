// Package stages implements the four deterministic migration-planning
// stages: discovery turns billing rows into a workload inventory,
// assessment scores each workload's cloud readiness, strategy assigns a
// disposition plan item per workload, and cost projects per-workload
// estimates. Stage outputs are typed; the pipeline converts them to
// plain records at its boundary.
//
// Each stage can rebuild its input from the seed when the prior cache
// entry was stripped down to counts.
package stages

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/asmeyatsky/infracc-sub002/internal/batch"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
)

const (
	StageDiscovery  = "discovery"
	StageAssessment = "assessment"
	StageStrategy   = "strategy"
	StageCost       = "cost"
)

// Config tunes batch traversal. Zero values fall back to the documented
// defaults.
type Config struct {
	// TransformChunkSize bounds concurrency for pure in-memory
	// transformations (discovery, assessment, strategy).
	TransformChunkSize int

	// ServiceChunkSize bounds concurrency for lookups against price
	// tables and other service-shaped dependencies (cost).
	ServiceChunkSize int
}

func (c Config) transformChunk() int {
	if c.TransformChunkSize > 0 {
		return c.TransformChunkSize
	}
	return 10000
}

func (c Config) serviceChunk() int {
	if c.ServiceChunkSize > 0 {
		return c.ServiceChunkSize
	}
	return 500
}

// Chain returns the stage sequence in dependency order.
func Chain(cfg Config) []pipeline.Stage {
	return []pipeline.Stage{
		NewDiscovery(cfg),
		NewAssessment(cfg),
		NewStrategy(cfg),
		NewCost(cfg),
	}
}

// reporter adapts batch progress callbacks to the pipeline's native
// progress feed.
type reporter struct {
	fn func(percent int)
}

func (r *reporter) OnProgress(fn func(percent int)) { r.fn = fn }

func (r *reporter) progress() batch.ProgressFunc {
	return func(processed, total int) {
		if r.fn == nil || total == 0 {
			return
		}
		r.fn(100 * processed / total)
	}
}

// seedRows extracts the parsed billing rows from the seed record.
func seedRows(seed map[string]any) ([]map[string]any, error) {
	if seed == nil {
		return nil, fmt.Errorf("no seed data")
	}
	raw, ok := seed["records"]
	if !ok {
		return nil, fmt.Errorf("seed has no records field")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("seed records is not a list")
	}
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// decodeList binds prior[key] to a typed slice via its JSON form.
// A missing or empty field yields (nil, nil): the caller decides
// whether to re-derive.
func decodeList[T any](prior map[string]any, key string) ([]T, error) {
	if prior == nil {
		return nil, nil
	}
	raw, ok := prior[key]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s for decoding: %w", key, err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return out, nil
}

// fieldString returns the first present non-empty string among the
// candidate keys. Dataset exports disagree on casing and separators.
func fieldString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func fieldNumber(row map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := row[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f
			}
		case string:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(n), "%f", &f); err == nil {
				return f
			}
		}
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
