package stages

import (
	"context"
	"fmt"

	"github.com/asmeyatsky/infracc-sub002/internal/batch"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
)

// Disposition names follow the usual 7R migration taxonomy.
const (
	DispositionRehost     = "rehost"
	DispositionReplatform = "replatform"
	DispositionRefactor   = "refactor"
	DispositionRepurchase = "repurchase"
	DispositionRetire     = "retire"
	DispositionRetain     = "retain"
)

// PlanItem is one workload's migration decision.
type PlanItem struct {
	WorkloadID  string  `json:"workloadId"`
	Name        string  `json:"name"`
	Disposition string  `json:"disposition"`
	Priority    int     `json:"priority"`
	MonthlyCost float64 `json:"monthlyCost"`
	Rationale   string  `json:"rationale"`
}

// StrategyOutput is the strategy stage result.
type StrategyOutput struct {
	PlanItems            []PlanItem     `json:"planItems"`
	PlanItemsCount       int            `json:"planItemsCount"`
	SkippedAssessments   int            `json:"skippedAssessments,omitempty"`
	DispositionBreakdown map[string]int `json:"dispositionBreakdown"`
}

// Strategy assigns a disposition to each assessed workload.
type Strategy struct {
	reporter
	chunkSize int
}

func NewStrategy(cfg Config) *Strategy {
	return &Strategy{chunkSize: cfg.transformChunk()}
}

func (s *Strategy) ID() string     { return StageStrategy }
func (s *Strategy) Required() bool { return true }

func (s *Strategy) Execute(ctx context.Context, in pipeline.Input) (any, error) {
	assessments, err := s.inputAssessments(ctx, in)
	if err != nil {
		return nil, err
	}

	result, err := batch.Process(ctx, assessments, s.chunkSize, func(_ context.Context, a Assessment) (PlanItem, error) {
		return plan(a), nil
	}, batch.WithProgress(s.progress()))
	if err != nil {
		return nil, err
	}

	out := StrategyOutput{
		PlanItems:            result.Successes,
		PlanItemsCount:       len(result.Successes),
		SkippedAssessments:   len(result.Failures),
		DispositionBreakdown: make(map[string]int),
	}
	for _, item := range out.PlanItems {
		out.DispositionBreakdown[item.Disposition]++
	}
	return out, nil
}

// inputAssessments reads the prior assessment records, re-deriving them
// from the seed when the cached entry was stripped.
func (s *Strategy) inputAssessments(ctx context.Context, in pipeline.Input) ([]Assessment, error) {
	assessments, err := decodeList[Assessment](in.Prior, "assessments")
	if err != nil {
		return nil, err
	}
	if assessments != nil {
		return assessments, nil
	}
	workloads, _, err := deriveWorkloads(ctx, in.Seed, s.chunkSize, nil)
	if err != nil {
		return nil, err
	}
	assessments = make([]Assessment, len(workloads))
	for i, w := range workloads {
		assessments[i] = assess(w)
	}
	return assessments, nil
}

// plan maps a readiness score to a disposition. Zero-spend workloads
// are retirement candidates regardless of score.
func plan(a Assessment) PlanItem {
	item := PlanItem{
		WorkloadID:  a.WorkloadID,
		Name:        a.Name,
		MonthlyCost: a.MonthlyCost,
	}

	switch {
	case a.MonthlyCost == 0:
		item.Disposition = DispositionRetire
		item.Rationale = "no spend recorded, likely dormant"
	case a.Score >= 85:
		item.Disposition = DispositionRehost
		item.Rationale = "high readiness, lift and shift"
	case a.Score >= 70:
		item.Disposition = DispositionReplatform
		item.Rationale = "minor changes unlock managed services"
	case a.Score >= 50:
		item.Disposition = DispositionRefactor
		item.Rationale = "needs rework before migration pays off"
	case a.Score >= 35:
		item.Disposition = DispositionRepurchase
		item.Rationale = fmt.Sprintf("low readiness for %s, evaluate SaaS replacement", a.Service)
	default:
		item.Disposition = DispositionRetain
		item.Rationale = "migration cost outweighs benefit for now"
	}

	// Spend drives priority: expensive workloads move first.
	switch {
	case a.MonthlyCost >= 10000:
		item.Priority = 1
	case a.MonthlyCost >= 1000:
		item.Priority = 2
	default:
		item.Priority = 3
	}
	return item
}
