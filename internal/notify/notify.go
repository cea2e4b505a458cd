// Package notify holds the in-process NotificationSinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"
	"sdlc-wizard/internal/executor"
)

const DefaultLogSize = 200

// agentLabels maps executor names to the agent names shown in the log.
var agentLabels = map[string]string{
	executor.NameExtractRequirementText: "Extractor",
	executor.NameGenerateStories:        "BA",
	executor.NameCreateJiraTicket:       "JIRA",
	executor.NameGenerateCode:           "CodeGen",
}

// EventLog keeps the most recent events of each run and fans every event
// out to live subscribers. Slow subscribers miss events rather than block
// publishers.
type EventLog struct {
	mu     sync.RWMutex
	size   int
	byRun  map[string][]domain.Event
	subs   map[int]chan domain.Event
	nextID int
}

func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &EventLog{
		size:  size,
		byRun: make(map[string][]domain.Event),
		subs:  make(map[int]chan domain.Event),
	}
}

func (l *EventLog) Publish(ctx context.Context, runID string, event domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := append(l.byRun[runID], event)
	if len(events) > l.size {
		events = append([]domain.Event(nil), events[len(events)-l.size:]...)
	}
	l.byRun[runID] = events

	for _, ch := range l.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Events returns a copy of the retained events for runID, oldest first.
func (l *EventLog) Events(runID string) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Event(nil), l.byRun[runID]...)
}

// Lines renders the agent execution log for runID.
func (l *EventLog) Lines(runID string) []string {
	events := l.Events(runID)
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, FormatLine(e))
	}
	return lines
}

// Subscribe streams events of every run until ctx is done.
func (l *EventLog) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, 64)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()
	return ch, nil
}

// FormatLine renders "<Agent> Agent: <message>", truncating long messages
// to 60 characters.
func FormatLine(e domain.Event) string {
	agent, ok := agentLabels[e.Agent]
	if !ok {
		agent = e.Agent
	}
	if agent == "" {
		agent = "Wizard"
	}
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	if r := []rune(msg); len(r) > 60 {
		msg = string(r[:60]) + "..."
	}
	return fmt.Sprintf("%s Agent: %s", agent, msg)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Publish(ctx context.Context, runID string, event domain.Event) {
	level := slog.LevelInfo
	if event.Kind == domain.EventStageFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, string(event.Kind),
		"run_id", runID,
		"stage", event.Stage,
		"agent", event.Agent,
		"message", event.Message,
	)
}

// Fanout publishes to every sink in order.
type Fanout []ports.NotificationSink

func (f Fanout) Publish(ctx context.Context, runID string, event domain.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, runID, event)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, domain.Event) {}
