// Package lifecycle tracks every Agent Task from receipt to a final status.
// Each task owns one Lifecycle: an ordered list of status entries appended by
// the components that touch the task. Once a lifecycle is finalised no
// further entries are accepted.
package lifecycle

import (
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// EntryStatus is one step in a task's path through the pipeline.
type EntryStatus string

const (
	StatusReceived    EntryStatus = "received"
	StatusQueued      EntryStatus = "queued"
	StatusProcessing  EntryStatus = "processing"
	StatusInMonitor   EntryStatus = "in-monitor"
	StatusInReasoning EntryStatus = "in-reasoning"
	StatusInExecutor  EntryStatus = "in-executor"
	StatusInRespond   EntryStatus = "in-respond"
	StatusCompleted   EntryStatus = "completed"
	StatusAbandoned   EntryStatus = "abandoned"
	StatusError       EntryStatus = "error"
)

// IsFinal reports whether the status terminates a lifecycle.
func (s EntryStatus) IsFinal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusError
}

// Entry records one status transition.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    EntryStatus    `json:"status"`
	Node      string         `json:"node,omitempty"` // graph node that appended the entry
	Details   string         `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Lifecycle is the ordered transition record for a single task.
type Lifecycle struct {
	TaskID      string         `json:"task_id"`
	EventID     string         `json:"event_id"`
	Trigger     events.Trigger `json:"trigger"`
	EventType   events.Type    `json:"event_type"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	FinalStatus EntryStatus    `json:"final_status,omitempty"`
	Entries     []Entry        `json:"entries"`
}

// Final reports whether the lifecycle has reached a terminal status.
func (l *Lifecycle) Final() bool {
	return l.FinalStatus.IsFinal()
}

// NodesVisited returns the distinct node names that appended entries,
// in first-visit order.
func (l *Lifecycle) NodesVisited() []string {
	seen := make(map[string]struct{}, len(l.Entries))
	var nodes []string
	for _, e := range l.Entries {
		if e.Node == "" {
			continue
		}
		if _, ok := seen[e.Node]; ok {
			continue
		}
		seen[e.Node] = struct{}{}
		nodes = append(nodes, e.Node)
	}
	return nodes
}

// clone deep-copies the lifecycle so observers never alias tracker state.
func (l *Lifecycle) clone() *Lifecycle {
	cp := *l
	cp.Entries = make([]Entry, len(l.Entries))
	for i, e := range l.Entries {
		cp.Entries[i] = e
		if e.Metadata != nil {
			md := make(map[string]any, len(e.Metadata))
			for k, v := range e.Metadata {
				md[k] = v
			}
			cp.Entries[i].Metadata = md
		}
	}
	return &cp
}
