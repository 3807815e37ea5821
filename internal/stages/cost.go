package stages

import (
	"context"
	"fmt"

	"github.com/asmeyatsky/infracc-sub002/internal/batch"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
)

// Estimate projects one plan item's post-migration spend.
type Estimate struct {
	WorkloadID       string  `json:"workloadId"`
	Disposition      string  `json:"disposition"`
	CurrentMonthly   float64 `json:"currentMonthly"`
	ProjectedMonthly float64 `json:"projectedMonthly"`
	MonthlySavings   float64 `json:"monthlySavings"`
}

// CostOutput is the cost stage result. The estimates threshold is
// higher than the other stages because estimate records are small.
type CostOutput struct {
	Estimates             []Estimate `json:"estimates"`
	EstimatesCount        int        `json:"estimatesCount"`
	FailedEstimates       int        `json:"failedEstimates,omitempty"`
	CurrentMonthlyTotal   float64    `json:"currentMonthlyTotal"`
	ProjectedMonthlyTotal float64    `json:"projectedMonthlyTotal"`
	MonthlySavingsTotal   float64    `json:"monthlySavingsTotal"`
}

// costFactor approximates post-migration spend per disposition, the
// kind of ratio a price table lookup would return.
var costFactor = map[string]float64{
	DispositionRehost:     0.85,
	DispositionReplatform: 0.70,
	DispositionRefactor:   0.55,
	DispositionRepurchase: 0.90,
	DispositionRetire:     0.0,
	DispositionRetain:     1.0,
}

// Cost projects estimates per plan item. The stage is optional: a plan
// with no items has nothing to estimate and the stage is skipped.
type Cost struct {
	reporter
	chunkSize int
}

func NewCost(cfg Config) *Cost {
	return &Cost{chunkSize: cfg.serviceChunk()}
}

func (c *Cost) ID() string     { return StageCost }
func (c *Cost) Required() bool { return false }

// Ready reports whether the strategy output carries any plan items,
// either the collection itself or the count a stripped entry keeps.
func (c *Cost) Ready(prior map[string]any) bool {
	if prior == nil {
		return false
	}
	if items, ok := prior["planItems"].([]any); ok && len(items) > 0 {
		return true
	}
	if n, ok := prior["planItemsCount"].(float64); ok && n > 0 {
		return true
	}
	return false
}

func (c *Cost) Execute(ctx context.Context, in pipeline.Input) (any, error) {
	items, err := c.inputPlanItems(ctx, in)
	if err != nil {
		return nil, err
	}

	result, err := batch.Process(ctx, items, c.chunkSize, estimate, batch.WithProgress(c.progress()))
	if err != nil {
		return nil, err
	}

	out := CostOutput{
		Estimates:       result.Successes,
		EstimatesCount:  len(result.Successes),
		FailedEstimates: len(result.Failures),
	}
	for _, e := range out.Estimates {
		out.CurrentMonthlyTotal += e.CurrentMonthly
		out.ProjectedMonthlyTotal += e.ProjectedMonthly
		out.MonthlySavingsTotal += e.MonthlySavings
	}
	out.CurrentMonthlyTotal = round2(out.CurrentMonthlyTotal)
	out.ProjectedMonthlyTotal = round2(out.ProjectedMonthlyTotal)
	out.MonthlySavingsTotal = round2(out.MonthlySavingsTotal)
	return out, nil
}

// inputPlanItems reads the prior plan, re-deriving the whole chain from
// the seed when the cached entry was stripped.
func (c *Cost) inputPlanItems(ctx context.Context, in pipeline.Input) ([]PlanItem, error) {
	items, err := decodeList[PlanItem](in.Prior, "planItems")
	if err != nil {
		return nil, err
	}
	if items != nil {
		return items, nil
	}
	workloads, _, err := deriveWorkloads(ctx, in.Seed, c.chunkSize, nil)
	if err != nil {
		return nil, err
	}
	items = make([]PlanItem, len(workloads))
	for i, w := range workloads {
		items[i] = plan(assess(w))
	}
	return items, nil
}

func estimate(_ context.Context, item PlanItem) (Estimate, error) {
	factor, ok := costFactor[item.Disposition]
	if !ok {
		return Estimate{}, fmt.Errorf("no cost factor for disposition %q", item.Disposition)
	}
	projected := round2(item.MonthlyCost * factor)
	return Estimate{
		WorkloadID:       item.WorkloadID,
		Disposition:      item.Disposition,
		CurrentMonthly:   round2(item.MonthlyCost),
		ProjectedMonthly: projected,
		MonthlySavings:   round2(item.MonthlyCost - projected),
	}, nil
}
