package agent

import "time"

// StateSnapshot is the deep-copied observer view of the agent state. It is
// safe to serialise and hand to callers; nothing aliases driver-owned data.
type StateSnapshot struct {
	AgentID           string      `json:"agent_id"`
	Status            Status      `json:"status"`
	Iteration         int         `json:"iteration"`
	MonitorCount      int         `json:"monitor_count"`
	PendingEvents     int         `json:"pending_events"`
	ProcessedEvents   int         `json:"processed_events"`
	ActiveTimers      []Timer     `json:"active_timers"`
	RecentDecisions   []Decision  `json:"recent_decisions"`
	RecentToolCalls   []ToolCall  `json:"recent_tool_calls"`
	RecentErrors      []string    `json:"recent_errors"`
	PendingToolCalls  int         `json:"pending_tool_calls"`
	PendingMessages   int         `json:"pending_messages"`
	SnapshotTakenAt   time.Time   `json:"snapshot_taken_at"`
}

// Snapshot deep-copies the observable slice of the state.
func (s *State) Snapshot() *StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &StateSnapshot{
		AgentID:          s.AgentID,
		Status:           s.Status,
		Iteration:        s.Iteration,
		MonitorCount:     s.MonitorCount,
		PendingEvents:    len(s.PendingEvents),
		ProcessedEvents:  len(s.ProcessedEventIDs),
		PendingToolCalls: len(s.PendingToolRequests),
		PendingMessages:  len(s.PendingMessages),
		SnapshotTakenAt:  time.Now().UTC(),
	}
	for _, t := range s.Timers {
		if !t.Active {
			continue
		}
		cp := *t
		cp.Metadata = copyMap(t.Metadata)
		snap.ActiveTimers = append(snap.ActiveTimers, cp)
	}
	for _, d := range s.RecentDecisions {
		cp := *d
		cp.ToolArgs = copyMap(d.ToolArgs)
		cp.Metadata = copyMap(d.Metadata)
		snap.RecentDecisions = append(snap.RecentDecisions, cp)
	}
	for _, c := range s.ToolCalls {
		cp := *c
		cp.Arguments = copyMap(c.Arguments)
		cp.Result = copyMap(c.Result)
		snap.RecentToolCalls = append(snap.RecentToolCalls, cp)
	}
	snap.RecentErrors = append(snap.RecentErrors, s.Errors...)
	return snap
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
