package stages

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/asmeyatsky/infracc-sub002/internal/batch"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
)

// Workload is one deployable unit recovered from billing rows. Rows for
// the same resource collapse into a single workload with summed cost.
type Workload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Service     string  `json:"service"`
	Region      string  `json:"region,omitempty"`
	MonthlyCost float64 `json:"monthlyCost"`
}

// DiscoveryOutput is the discovery stage result. The workloads field is
// subject to cache stripping; workloadsCount survives stripping.
type DiscoveryOutput struct {
	Workloads        []Workload     `json:"workloads"`
	WorkloadsCount   int            `json:"workloadsCount"`
	ServiceBreakdown map[string]int `json:"serviceBreakdown"`
	TotalMonthlyCost float64        `json:"totalMonthlyCost"`
	SkippedRows      int            `json:"skippedRows,omitempty"`
}

// workloadNamespace seeds deterministic workload ids: the same resource
// in the same dataset always maps to the same id.
var workloadNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Discovery turns parsed billing rows into a workload inventory.
type Discovery struct {
	reporter
	chunkSize int
}

func NewDiscovery(cfg Config) *Discovery {
	return &Discovery{chunkSize: cfg.transformChunk()}
}

func (d *Discovery) ID() string     { return StageDiscovery }
func (d *Discovery) Required() bool { return true }

func (d *Discovery) Execute(ctx context.Context, in pipeline.Input) (any, error) {
	workloads, skipped, err := deriveWorkloads(ctx, in.Seed, d.chunkSize, d.progress())
	if err != nil {
		return nil, err
	}

	out := DiscoveryOutput{
		Workloads:        workloads,
		WorkloadsCount:   len(workloads),
		ServiceBreakdown: make(map[string]int),
		SkippedRows:      skipped,
	}
	for _, w := range workloads {
		out.ServiceBreakdown[w.Service]++
		out.TotalMonthlyCost += w.MonthlyCost
	}
	out.TotalMonthlyCost = round2(out.TotalMonthlyCost)
	return out, nil
}

// parsedRow is the normalized form of one billing row.
type parsedRow struct {
	name    string
	service string
	region  string
	cost    float64
}

// deriveWorkloads parses billing rows in bounded-concurrency chunks and
// groups them by resource. Unparseable rows are counted and skipped,
// never fatal.
func deriveWorkloads(ctx context.Context, seed map[string]any, chunkSize int, progress batch.ProgressFunc) ([]Workload, int, error) {
	rows, err := seedRows(seed)
	if err != nil {
		return nil, 0, err
	}

	result, err := batch.Process(ctx, rows, chunkSize, parseBillingRow, batch.WithProgress(progress))
	if err != nil {
		return nil, 0, err
	}

	grouped := make(map[string]*Workload)
	for _, row := range result.Successes {
		id := uuid.NewSHA1(workloadNamespace, []byte(row.name+"|"+row.service+"|"+row.region)).String()
		if w, ok := grouped[id]; ok {
			w.MonthlyCost += row.cost
			continue
		}
		grouped[id] = &Workload{
			ID:          id,
			Name:        row.name,
			Service:     row.service,
			Region:      row.region,
			MonthlyCost: row.cost,
		}
	}

	workloads := make([]Workload, 0, len(grouped))
	for _, w := range grouped {
		w.MonthlyCost = round2(w.MonthlyCost)
		workloads = append(workloads, *w)
	}
	sort.Slice(workloads, func(i, j int) bool { return workloads[i].ID < workloads[j].ID })
	return workloads, len(result.Failures), nil
}

func parseBillingRow(_ context.Context, row map[string]any) (parsedRow, error) {
	name := fieldString(row, "resourceId", "resource_id", "resourceName", "resource_name", "name")
	if name == "" {
		return parsedRow{}, fmt.Errorf("row has no resource identifier")
	}
	service := fieldString(row, "service", "serviceName", "service_name", "product")
	if service == "" {
		service = "unknown"
	}
	return parsedRow{
		name:    name,
		service: service,
		region:  fieldString(row, "region", "location", "zone"),
		cost:    fieldNumber(row, "monthlyCost", "monthly_cost", "cost", "amount"),
	}, nil
}
