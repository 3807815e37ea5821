package stages

import (
	"context"
	"strings"

	"github.com/asmeyatsky/infracc-sub002/internal/batch"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
)

// Assessment scores one workload's cloud readiness. Service and cost
// are carried forward so strategy works from this record alone.
type Assessment struct {
	WorkloadID  string   `json:"workloadId"`
	Name        string   `json:"name"`
	Service     string   `json:"service"`
	MonthlyCost float64  `json:"monthlyCost"`
	Score       int      `json:"score"`
	Effort      string   `json:"effort"`
	Blockers    []string `json:"blockers,omitempty"`
}

// AssessmentOutput is the assessment stage result.
type AssessmentOutput struct {
	Assessments      []Assessment `json:"assessments"`
	AssessmentsCount int          `json:"assessmentsCount"`
	SkippedWorkloads int          `json:"skippedWorkloads,omitempty"`
	AverageScore     int          `json:"averageScore"`
}

// AssessmentStage scores every discovered workload with deterministic
// readiness rules.
type AssessmentStage struct {
	reporter
	chunkSize int
}

func NewAssessment(cfg Config) *AssessmentStage {
	return &AssessmentStage{chunkSize: cfg.transformChunk()}
}

func (a *AssessmentStage) ID() string     { return StageAssessment }
func (a *AssessmentStage) Required() bool { return true }

func (a *AssessmentStage) Execute(ctx context.Context, in pipeline.Input) (any, error) {
	workloads, err := decodeList[Workload](in.Prior, "workloads")
	if err != nil {
		return nil, err
	}
	if workloads == nil {
		// Stripped prior entry: rebuild the inventory from the seed.
		workloads, _, err = deriveWorkloads(ctx, in.Seed, a.chunkSize, nil)
		if err != nil {
			return nil, err
		}
	}

	result, err := batch.Process(ctx, workloads, a.chunkSize, func(_ context.Context, w Workload) (Assessment, error) {
		return assess(w), nil
	}, batch.WithProgress(a.progress()))
	if err != nil {
		return nil, err
	}

	out := AssessmentOutput{
		Assessments:      result.Successes,
		AssessmentsCount: len(result.Successes),
		SkippedWorkloads: len(result.Failures),
	}
	if len(out.Assessments) > 0 {
		total := 0
		for _, as := range out.Assessments {
			total += as.Score
		}
		out.AverageScore = total / len(out.Assessments)
	}
	return out, nil
}

// assess applies the readiness rules: a base score per service family,
// adjusted for spend, with blockers for the known hard cases.
func assess(w Workload) Assessment {
	score, blockers := serviceBaseline(w.Service)

	// Heavy spend usually means entanglement with other systems.
	if w.MonthlyCost > 5000 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	effort := "high"
	switch {
	case score >= 80:
		effort = "low"
	case score >= 50:
		effort = "medium"
	}

	return Assessment{
		WorkloadID:  w.ID,
		Name:        w.Name,
		Service:     w.Service,
		MonthlyCost: w.MonthlyCost,
		Score:       score,
		Effort:      effort,
		Blockers:    blockers,
	}
}

func serviceBaseline(service string) (int, []string) {
	s := strings.ToLower(service)
	switch {
	case strings.Contains(s, "mainframe"), strings.Contains(s, "as400"):
		return 25, []string{"legacy platform rewrite required"}
	case strings.Contains(s, "oracle"), strings.Contains(s, "licensed"):
		return 40, []string{"license portability review"}
	case strings.Contains(s, "database"), strings.Contains(s, "sql"), strings.Contains(s, "db"):
		return 60, []string{"data migration window"}
	case strings.Contains(s, "container"), strings.Contains(s, "kubernetes"), strings.Contains(s, "k8s"):
		return 92, nil
	case strings.Contains(s, "storage"), strings.Contains(s, "object"), strings.Contains(s, "s3"):
		return 85, nil
	case strings.Contains(s, "compute"), strings.Contains(s, "vm"), strings.Contains(s, "server"):
		return 78, nil
	case strings.Contains(s, "network"), strings.Contains(s, "dns"), strings.Contains(s, "lb"):
		return 70, nil
	default:
		return 65, nil
	}
}
