package agent

import (
	"sync"
	"time"
)

// Status is the agent's operating status.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusProcessing   Status = "processing"
	StatusWaiting      Status = "waiting"
	StatusError        Status = "error"
	StatusStopping     Status = "stopping"
)

// Bounds for the history lists. When a list passes listCap only the last
// listRetain entries are kept.
const (
	listCap    = 20
	listRetain = 10
)

// State is the single mutable record threaded through every graph node. The
// graph driver owns it; external observers read through Snapshot. The mutex
// guards the snapshot path — node bodies run strictly serially and mutate
// through the methods below.
type State struct {
	mu sync.Mutex

	AgentID      string
	Status       Status
	Iteration    int
	MonitorCount int

	CurrentEvent      *IncomingEvent
	PendingEvents     []*IncomingEvent
	ProcessedEventIDs []string
	Timers            []*Timer

	RecentDecisions     []*Decision
	PendingToolRequests []*ToolRequest
	PendingMessages     []*PendingMessage

	EventContexts map[string]*EventContext // event-id → cached context
	UserContexts  map[string]map[string]any

	ToolCalls []*ToolCall
	Errors    []string

	Config map[string]any
	Debug  bool
}

// NewState creates an initialising agent state.
func NewState(agentID string) *State {
	return &State{
		AgentID:       agentID,
		Status:        StatusInitializing,
		EventContexts: make(map[string]*EventContext),
		UserContexts:  make(map[string]map[string]any),
		Config:        make(map[string]any),
	}
}

// Lock acquires the state for an external multi-field read or mutation.
// Graph nodes use the typed methods instead.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// SetStatus transitions the operating status.
func (s *State) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// CurrentStatus reads the operating status.
func (s *State) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Stopping reports whether shutdown was requested.
func (s *State) Stopping() bool {
	return s.CurrentStatus() == StatusStopping
}

// EnqueueEvent appends a pending event for the monitor node.
func (s *State) EnqueueEvent(ev *IncomingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingEvents = append(s.PendingEvents, ev)
}

// DequeueEvent pops the next pending event, or nil.
func (s *State) DequeueEvent() *IncomingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PendingEvents) == 0 {
		return nil
	}
	ev := s.PendingEvents[0]
	s.PendingEvents = s.PendingEvents[1:]
	return ev
}

// PendingEventCount reports the backlog size.
func (s *State) PendingEventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PendingEvents)
}

// MarkProcessed records an event id as handled.
func (s *State) MarkProcessed(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessedEventIDs = append(s.ProcessedEventIDs, eventID)
	if len(s.ProcessedEventIDs) > 200 {
		s.ProcessedEventIDs = s.ProcessedEventIDs[len(s.ProcessedEventIDs)-100:]
	}
}

// AddTimer registers an active scheduled timer.
func (s *State) AddTimer(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timers = append(s.Timers, t)
}

// FireDueTimers deactivates and returns every timer due at now.
func (s *State) FireDueTimers(now time.Time) []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fired []*Timer
	for _, t := range s.Timers {
		if t.Due(now) {
			t.Active = false
			fired = append(fired, t)
		}
	}
	return fired
}

// ActiveTimers returns the timers still waiting to fire.
func (s *State) ActiveTimers() []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*Timer
	for _, t := range s.Timers {
		if t.Active {
			active = append(active, t)
		}
	}
	return active
}

// RecordDecision appends to the bounded decision history.
func (s *State) RecordDecision(d *Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecentDecisions = appendBounded(s.RecentDecisions, d)
}

// RecordToolCall appends to the bounded tool-call history.
func (s *State) RecordToolCall(c *ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolCalls = appendBounded(s.ToolCalls, c)
}

// RecordError appends to the bounded error history.
func (s *State) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = appendBounded(s.Errors, msg)
}

// QueueToolRequest appends a pending request for the executor node.
func (s *State) QueueToolRequest(r *ToolRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingToolRequests = append(s.PendingToolRequests, r)
}

// DrainToolRequests empties and returns the pending tool requests.
func (s *State) DrainToolRequests() []*ToolRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.PendingToolRequests
	s.PendingToolRequests = nil
	return drained
}

// QueueMessage appends an outbound message for the respond node.
func (s *State) QueueMessage(m *PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingMessages = append(s.PendingMessages, m)
}

// DrainMessages empties and returns the pending messages.
func (s *State) DrainMessages() []*PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.PendingMessages
	s.PendingMessages = nil
	return drained
}

// PendingMessageCount reports queued outbound messages.
func (s *State) PendingMessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PendingMessages)
}

// CacheEventContext stores fetched context for an event id.
func (s *State) CacheEventContext(ec *EventContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventContexts[ec.EventID] = ec
}

// CachedEventContext returns the cached context for an event id, or nil.
func (s *State) CachedEventContext(eventID string) *EventContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventContexts[eventID]
}

// LastDecisions returns up to n most recent decisions, oldest first.
func (s *State) LastDecisions(n int) []*Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.RecentDecisions, n)
}

// LastToolCalls returns up to n most recent tool calls, oldest first.
func (s *State) LastToolCalls(n int) []*ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.ToolCalls, n)
}

// appendBounded appends and trims to the retention window past the cap.
func appendBounded[T any](list []T, item T) []T {
	list = append(list, item)
	if len(list) > listCap {
		list = append([]T(nil), list[len(list)-listRetain:]...)
	}
	return list
}

func lastN[T any](list []T, n int) []T {
	if n <= 0 || len(list) == 0 {
		return nil
	}
	if len(list) < n {
		n = len(list)
	}
	out := make([]T, n)
	copy(out, list[len(list)-n:])
	return out
}
