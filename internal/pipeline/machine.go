package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asmeyatsky/infracc-sub002/internal/cache"
	"github.com/asmeyatsky/infracc-sub002/internal/checkpoint"
	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/store"
)

// PrereqChecker is optionally implemented by stages whose prerequisite
// inputs may legitimately be absent. An optional stage that reports not
// ready is skipped entirely; the pipeline still completes.
type PrereqChecker interface {
	Ready(prior map[string]any) bool
}

// Options configures a Machine.
type Options struct {
	DatasetID dataset.ID
	Stages    []Stage

	// Seed is the caller-supplied source data record handed to every
	// stage alongside its prior output.
	Seed map[string]any

	Cache       *cache.Cache
	Checkpoints *checkpoint.Service

	// States is the store holding the pipeline position record.
	States store.RecordStore

	// Publisher receives status events; nil falls back to log output.
	Publisher StatusPublisher

	Logger *slog.Logger

	// CheckpointInterval is the periodic snapshot cadence while
	// running (default 5s).
	CheckpointInterval time.Duration
}

// Machine drives one dataset's pipeline run. It owns the in-memory
// State and reconciles it against the cache and checkpoints: the cache
// is the source of truth for which stages are complete, the state
// record only for where to resume.
type Machine struct {
	datasetID dataset.ID
	stages    []Stage
	seed      map[string]any

	cache     *cache.Cache
	ckpt      *checkpoint.Service
	states    store.RecordStore
	publisher StatusPublisher
	logger    *slog.Logger
	interval  time.Duration

	mu        sync.Mutex
	state     State
	runCancel context.CancelFunc
	cancelled bool
}

// Result is the final aggregate of all stage outputs, assembled when
// the pipeline completes.
type Result struct {
	DatasetID string                    `json:"dataset_id"`
	RunID     string                    `json:"run_id"`
	Stages    map[string]map[string]any `json:"stages"`
	Skipped   []string                  `json:"skipped,omitempty"`
}

// New creates a Machine, restoring any persisted pipeline state for the
// dataset. A state record persisted mid-run comes back as pending: the
// interrupted stage re-executes from scratch (stage calls are not
// internally resumable), while completed stages are recovered from the
// cache.
func New(ctx context.Context, opts Options) (*Machine, error) {
	if opts.DatasetID == "" {
		return nil, fmt.Errorf("machine requires a dataset id")
	}
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("machine requires at least one stage")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("machine requires a cache")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("machine requires a state store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = &LogPublisher{Logger: logger}
	}
	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	m := &Machine{
		datasetID: opts.DatasetID,
		stages:    opts.Stages,
		seed:      opts.Seed,
		cache:     opts.Cache,
		ckpt:      opts.Checkpoints,
		states:    opts.States,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
	}

	restored, err := loadState(ctx, opts.States, opts.DatasetID)
	if err != nil {
		return nil, err
	}
	if restored != nil {
		m.state = *restored
		if m.state.Status == StatusRunning {
			// Crashed or reloaded mid-stage.
			m.state.Status = StatusPending
			m.state.StageProgress = 0
		}
		if m.state.CurrentStageIndex > len(opts.Stages) {
			m.state.CurrentStageIndex = len(opts.Stages)
		}
	} else {
		m.state = State{
			DatasetID: string(opts.DatasetID),
			RunID:     uuid.New().String(),
			Status:    StatusPending,
		}
	}
	if err := m.persist(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// State returns a copy of the current pipeline state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Descriptors returns the stage chain description.
func (m *Machine) Descriptors() []Descriptor {
	return Describe(m.stages)
}

func (m *Machine) stageIDs() []string {
	ids := make([]string, len(m.stages))
	for i, s := range m.stages {
		ids[i] = s.ID()
	}
	return ids
}

// Cancel requests cooperative cancellation. It is honored at stage
// entry and at batch chunk boundaries; already-persisted stage outputs
// are not rolled back.
func (m *Machine) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	cancel := m.runCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Advance makes one unit of progress: it validates the resume point,
// skips stages already cached, and executes the first stage without a
// cache entry. It returns a non-nil Result only once the whole pipeline
// is complete.
func (m *Machine) Advance(ctx context.Context) (*Result, error) {
	if m.cancelRequested() {
		m.transition(ctx, func(st *State) { st.Status = StatusCancelled })
		return nil, ErrCancelled
	}
	if m.State().Status == StatusCompleted {
		return m.assemble(ctx)
	}

	ids := m.stageIDs()
	present, err := m.cache.PresentStages(ctx, m.datasetID, ids)
	if err != nil {
		return nil, err
	}
	presentSet := make(map[string]bool, len(present))
	for _, id := range present {
		presentSet[id] = true
	}

	idx := m.State().CurrentStageIndex

	// Self-healing: a resume point is only valid if every required
	// stage before it still has a cache entry. Persisted state can
	// disagree with the cache after a partial clear or a torn write.
	for i := 0; i < idx && i < len(m.stages); i++ {
		if m.stages[i].Required() && !presentSet[ids[i]] {
			m.logger.Warn("resume point invalid, resetting to first missing required stage",
				"dataset", m.datasetID.Short(), "was_index", idx, "reset_index", i, "missing_stage", ids[i])
			idx = i
			m.transition(ctx, func(st *State) {
				st.CurrentStageIndex = i
				st.StageProgress = 0
				st.Status = StatusPending
			})
			break
		}
	}

	// Cached stages are completed no-ops: jump to 100 and auto-advance.
	for idx < len(m.stages) && presentSet[ids[idx]] {
		m.logger.Info("stage output cached, skipping execution",
			"dataset", m.datasetID.Short(), "stage", ids[idx])
		idx++
		m.transition(ctx, func(st *State) {
			st.CurrentStageIndex = idx
			st.StageProgress = 0
		})
	}
	if idx >= len(m.stages) {
		return m.complete(ctx)
	}

	stage := m.stages[idx]

	// An optional stage whose prerequisite inputs are absent is skipped
	// entirely; the pipeline still reaches completed.
	if !stage.Required() {
		prior, err := m.priorOutput(ctx, idx)
		if err != nil {
			return nil, err
		}
		ready := true
		if pc, ok := stage.(PrereqChecker); ok {
			ready = pc.Ready(prior)
		} else if idx > 0 && prior == nil {
			ready = false
		}
		if !ready {
			m.logger.Info("optional stage skipped, prerequisite inputs absent",
				"dataset", m.datasetID.Short(), "stage", stage.ID())
			idx++
			m.transition(ctx, func(st *State) {
				st.CurrentStageIndex = idx
				st.StageProgress = 0
			})
			if idx >= len(m.stages) {
				return m.complete(ctx)
			}
			return nil, nil
		}
	}

	return nil, m.execute(ctx, idx, stage)
}

func (m *Machine) execute(ctx context.Context, idx int, stage Stage) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.runCancel = cancel
	m.mu.Unlock()

	m.transition(ctx, func(st *State) {
		st.Status = StatusRunning
		st.CurrentStageIndex = idx
		st.StageProgress = 0
	})
	m.checkpointNow(ctx, stage.ID())

	stopInterp := func() {}
	if pr, ok := stage.(ProgressReporter); ok {
		pr.OnProgress(func(percent int) { m.setStageProgress(percent) })
	} else {
		stopInterp = m.startInterpolation()
	}

	input, err := m.inputFor(ctx, idx)
	if err != nil {
		stopInterp()
		return m.fail(ctx, stage.ID(), err)
	}

	m.logger.Info("executing stage", "dataset", m.datasetID.Short(), "stage", stage.ID(), "index", idx)
	started := time.Now()
	out, execErr := stage.Execute(runCtx, input)
	stopInterp()

	if execErr != nil {
		if m.cancelRequested() && errors.Is(execErr, context.Canceled) {
			m.transition(ctx, func(st *State) { st.Status = StatusCancelled })
			m.checkpointNow(ctx, stage.ID())
			return ErrCancelled
		}
		return m.fail(ctx, stage.ID(), execErr)
	}

	record, err := ToRecord(out)
	if err != nil {
		return m.fail(ctx, stage.ID(), err)
	}
	if err := m.cache.Put(ctx, m.datasetID, stage.ID(), record); err != nil {
		return m.fail(ctx, stage.ID(), err)
	}

	m.logger.Info("stage completed",
		"dataset", m.datasetID.Short(), "stage", stage.ID(), "duration", time.Since(started))
	m.transition(ctx, func(st *State) {
		st.CurrentStageIndex = idx + 1
		st.StageProgress = 0
		st.Status = StatusPending
	})
	m.checkpointNow(ctx, stage.ID())
	return nil
}

// fail records a stage failure: status failed, checkpoint persisted at
// the failing index (not auto-advanced), no automatic retry.
func (m *Machine) fail(ctx context.Context, stageID string, cause error) error {
	m.transition(ctx, func(st *State) { st.Status = StatusFailed })
	m.checkpointNow(ctx, stageID)

	if IsResourceExhausted(cause) {
		// A retry at the same chunk size would hit the same wall.
		m.logger.Error("stage exhausted resources, rerun with a smaller chunk size",
			"dataset", m.datasetID.Short(), "stage", stageID, "error", cause)
	}

	var se *StageExecutionError
	if errors.As(cause, &se) {
		return cause
	}
	return &StageExecutionError{StageID: stageID, Err: cause}
}

// Run drives Advance until the pipeline completes or fails, writing
// periodic checkpoints while running.
func (m *Machine) Run(ctx context.Context) (*Result, error) {
	if m.ckpt != nil {
		snapCtx, stopSnaps := context.WithCancel(ctx)
		defer stopSnaps()
		go m.ckpt.RunPeriodic(snapCtx, m.interval, m.snapshot)
	}

	for {
		result, err := m.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
}

func (m *Machine) complete(ctx context.Context) (*Result, error) {
	m.transition(ctx, func(st *State) {
		st.Status = StatusCompleted
		st.CurrentStageIndex = len(m.stages)
		st.StageProgress = 0
	})
	if last := len(m.stages) - 1; last >= 0 {
		m.checkpointNow(ctx, m.stages[last].ID())
	}
	return m.assemble(ctx)
}

// assemble gathers every cached stage output into the final aggregate.
// Optional stages without entries are reported as skipped.
func (m *Machine) assemble(ctx context.Context) (*Result, error) {
	st := m.State()
	result := &Result{
		DatasetID: st.DatasetID,
		RunID:     st.RunID,
		Stages:    make(map[string]map[string]any, len(m.stages)),
	}
	for _, stage := range m.stages {
		out, err := m.cache.Get(ctx, m.datasetID, stage.ID(), cache.GetOptions{})
		if err != nil {
			return nil, err
		}
		if out == nil {
			result.Skipped = append(result.Skipped, stage.ID())
			continue
		}
		result.Stages[stage.ID()] = out
	}
	return result, nil
}

// Rerun removes the cache entry for stageID (and, with clearDependents,
// every later stage: in a chain, a greater index means dependent) and
// resets the pipeline to re-execute from that stage.
func (m *Machine) Rerun(ctx context.Context, stageID string, clearDependents bool) error {
	ids := m.stageIDs()
	idx := -1
	for i, id := range ids {
		if id == stageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrStageNotFound, stageID)
	}

	if err := m.cache.Remove(ctx, m.datasetID, stageID); err != nil {
		return err
	}
	if clearDependents {
		for i := idx + 1; i < len(ids); i++ {
			if err := m.cache.Remove(ctx, m.datasetID, ids[i]); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	m.cancelled = false
	m.mu.Unlock()
	m.transition(ctx, func(st *State) {
		st.CurrentStageIndex = idx
		st.StageProgress = 0
		st.Status = StatusPending
	})
	m.logger.Info("stage scheduled for rerun",
		"dataset", m.datasetID.Short(), "stage", stageID, "clear_dependents", clearDependents)
	return nil
}

// Reset clears everything for the dataset: stage outputs, pipeline
// state, and checkpoints. The next run starts from scratch with a new
// run id.
func (m *Machine) Reset(ctx context.Context) error {
	ids := m.stageIDs()
	for _, id := range ids {
		if err := m.cache.Remove(ctx, m.datasetID, id); err != nil {
			return err
		}
	}
	if err := clearState(ctx, m.states, m.datasetID); err != nil {
		return err
	}
	if m.ckpt != nil {
		if err := m.ckpt.Clear(ctx, m.datasetID, ids); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cancelled = false
	m.state = State{
		DatasetID: string(m.datasetID),
		RunID:     uuid.New().String(),
		Status:    StatusPending,
	}
	m.mu.Unlock()
	return m.persist(ctx)
}

// inputFor builds the Input for the stage at idx: the caller seed for
// the first stage, otherwise the nearest prior stage output (optional
// stages may have been skipped).
func (m *Machine) inputFor(ctx context.Context, idx int) (Input, error) {
	// The seed travels to every stage so one can re-derive a stripped
	// prior collection from the source data.
	in := Input{DatasetID: m.datasetID, Seed: m.seed}
	if idx == 0 {
		return in, nil
	}
	prior, err := m.priorOutput(ctx, idx)
	if err != nil {
		return in, err
	}
	in.Prior = prior
	return in, nil
}

func (m *Machine) priorOutput(ctx context.Context, idx int) (map[string]any, error) {
	ids := m.stageIDs()
	for j := idx - 1; j >= 0; j-- {
		out, err := m.cache.Get(ctx, m.datasetID, ids[j], cache.GetOptions{})
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Machine) cancelRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// transition mutates the state under lock, recomputes overall progress,
// persists the record, and publishes an event.
func (m *Machine) transition(ctx context.Context, mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	m.state.OverallProgress = overall(m.state.CurrentStageIndex, m.state.StageProgress, len(m.stages))
	if m.state.Status == StatusCompleted {
		m.state.OverallProgress = 100
	}
	m.state.UpdatedAt = time.Now().UTC()
	st := m.state
	m.mu.Unlock()

	if err := saveState(ctx, m.states, st); err != nil {
		m.logger.Warn("failed to persist pipeline state", "dataset", m.datasetID.Short(), "error", err)
	}
	m.publish(st)
}

// setStageProgress updates in-memory progress and publishes without
// persisting; the periodic checkpoint captures it durably.
func (m *Machine) setStageProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	m.mu.Lock()
	m.state.StageProgress = percent
	m.state.OverallProgress = overall(m.state.CurrentStageIndex, percent, len(m.stages))
	st := m.state
	m.mu.Unlock()
	m.publish(st)
}

// startInterpolation approximates progress for stages without a native
// feed: a poller walks stage progress toward 90 and holds there until
// the stage returns.
func (m *Machine) startInterpolation() (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		progress := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if progress < 90 {
					progress += 5
					m.setStageProgress(progress)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (m *Machine) publish(st State) {
	ev := Event{
		DatasetID:       st.DatasetID,
		RunID:           st.RunID,
		StageIndex:      st.CurrentStageIndex,
		StageProgress:   st.StageProgress,
		OverallProgress: st.OverallProgress,
		Status:          st.Status,
	}
	if st.CurrentStageIndex < len(m.stages) {
		ev.StageID = m.stages[st.CurrentStageIndex].ID()
	}
	m.publisher.Publish(ev)
}

func (m *Machine) persist(ctx context.Context) error {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	return saveState(ctx, m.states, st)
}

// snapshot feeds the periodic checkpoint writer.
func (m *Machine) snapshot() (checkpoint.Checkpoint, bool) {
	st := m.State()
	if st.Status != StatusRunning {
		return checkpoint.Checkpoint{}, false
	}
	cp := checkpoint.Checkpoint{
		DatasetID:  st.DatasetID,
		StageIndex: st.CurrentStageIndex,
		Progress:   st.StageProgress,
		Status:     string(st.Status),
	}
	if st.CurrentStageIndex < len(m.stages) {
		cp.StageID = m.stages[st.CurrentStageIndex].ID()
	}
	return cp, true
}

func (m *Machine) checkpointNow(ctx context.Context, stageID string) {
	if m.ckpt == nil {
		return
	}
	st := m.State()
	cp := checkpoint.Checkpoint{
		DatasetID:  st.DatasetID,
		StageID:    stageID,
		StageIndex: st.CurrentStageIndex,
		Progress:   st.StageProgress,
		Status:     string(st.Status),
	}
	if err := m.ckpt.Save(ctx, cp); err != nil {
		m.logger.Warn("checkpoint write failed", "dataset", m.datasetID.Short(), "error", err)
	}
}

// overall computes the documented progress model.
func overall(completedStages, stageProgress, totalStages int) int {
	if totalStages == 0 {
		return 0
	}
	v := 100 * (float64(completedStages) + float64(stageProgress)/100) / float64(totalStages)
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}
