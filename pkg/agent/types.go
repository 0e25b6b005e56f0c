// Package agent defines the shared Agent State threaded through the state
// graph, plus the record types the nodes exchange: incoming events,
// decisions, tool requests, pending messages, timers, and tool-call history.
package agent

import (
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// IncomingEvent is one unit of pending work for the graph. CloudEvent-backed
// events carry the full envelope; timer firings carry only a payload.
type IncomingEvent struct {
	ID        string
	TaskID    string
	Trigger   events.Trigger
	Priority  events.Priority
	Envelope  *events.Envelope
	Payload   map[string]any
	CreatedAt time.Time

	// Enrichment extracted by the monitor node; nil when unavailable.
	ChatContext  *ChatContext
	EventContext *EventContext
}

// ChatContext locates the chat interaction that produced an event.
type ChatContext struct {
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string
	MessageID string
	ThreadID  string
}

// EventContext carries what the agent knows about the guild event an
// incoming event refers to.
type EventContext struct {
	EventID   string
	GuildID   string
	Title     string
	CreatedBy string
	Fetched   time.Time
}

// PendingMessage is an outbound chat message queued for the respond node.
type PendingMessage struct {
	ID        string
	GuildID   string
	ChannelID string
	UserID    string // set for DM notifications
	Content   string
	CreatedAt time.Time
}

// Timer is a scheduled follow-up. The monitor node fires timers whose
// scheduled time has passed and deactivates them.
type Timer struct {
	ID          string
	EventID     string
	GuildID     string
	ChannelID   string
	TimerType   string
	ScheduledAt time.Time
	Priority    events.Priority
	Active      bool
	Metadata    map[string]any
}

// Due reports whether the timer should fire at now.
func (t *Timer) Due(now time.Time) bool {
	return t.Active && !t.ScheduledAt.After(now)
}

// ToolRequest is a use-tool decision shaped for the executor: the logical
// service tag, the backend action, and the forwarded arguments. Metadata
// carries the owning task id so the executor can close its lifecycle.
type ToolRequest struct {
	Service   string
	Action    string
	Arguments map[string]any
	Priority  events.Priority
	EventID   string
	Metadata  map[string]any
}

// TaskID returns the owning task id recorded in metadata, if any.
func (r *ToolRequest) TaskID() string {
	if r.Metadata == nil {
		return ""
	}
	id, _ := r.Metadata["task_id"].(string)
	return id
}

// ToolCall is one executed gateway invocation recorded in history.
type ToolCall struct {
	Tool      string
	Service   string
	Arguments map[string]any
	Success   bool
	Error     string
	Result    map[string]any
	TaskID    string
	Timestamp time.Time
}
