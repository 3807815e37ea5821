package pipeline

import (
	"log/slog"
	"sync"
)

// Event is one status/progress update.
type Event struct {
	DatasetID       string
	RunID           string
	StageID         string
	StageIndex      int
	StageProgress   int
	OverallProgress int
	Status          Status
}

// StatusPublisher receives pipeline events. It is injected into the
// machine so tests substitute an in-memory stub instead of depending on
// ambient global state.
type StatusPublisher interface {
	Publish(ev Event)
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ev Event) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("pipeline status",
		"dataset", short(ev.DatasetID),
		"stage", ev.StageID,
		"stage_index", ev.StageIndex,
		"stage_progress", ev.StageProgress,
		"overall_progress", ev.OverallProgress,
		"status", ev.Status,
	)
}

func short(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// MemoryPublisher records events for test assertions.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Last returns the most recent event, or a zero Event.
func (p *MemoryPublisher) Last() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return Event{}
	}
	return p.events[len(p.events)-1]
}
