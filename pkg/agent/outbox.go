package agent

import (
	"sync"
	"time"
)

// OutboundMessage is a channel message waiting for the chat adapter.
type OutboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EventUpdate asks the chat adapter to refresh an event announcement embed.
type EventUpdate struct {
	ID        string         `json:"id"`
	EventID   string         `json:"event_id"`
	ChannelID string         `json:"channel_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// UserNotification is a direct message waiting for the chat adapter.
type UserNotification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GuildActions is one guild's slice of the agent-state snapshot, consumed by
// the chat adapter's poll loop.
type GuildActions struct {
	PendingMessages   []OutboundMessage  `json:"pending_messages"`
	EventUpdates      []EventUpdate      `json:"event_updates"`
	UserNotifications []UserNotification `json:"user_notifications"`
}

// Outbox buffers chat-facing actions per guild between the respond node
// (producer) and the snapshot endpoint (consumer). Reads drain: the chat
// adapter dedupes by action id, so redelivery after a failed poll is safe
// but not required.
type Outbox struct {
	mu     sync.Mutex
	guilds map[string]*GuildActions
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{guilds: make(map[string]*GuildActions)}
}

func (o *Outbox) guild(guildID string) *GuildActions {
	ga, ok := o.guilds[guildID]
	if !ok {
		ga = &GuildActions{}
		o.guilds[guildID] = ga
	}
	return ga
}

// PutMessage queues a channel message for a guild.
func (o *Outbox) PutMessage(guildID string, m OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ga := o.guild(guildID)
	ga.PendingMessages = append(ga.PendingMessages, m)
}

// PutEventUpdate queues an embed refresh for a guild.
func (o *Outbox) PutEventUpdate(guildID string, u EventUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ga := o.guild(guildID)
	ga.EventUpdates = append(ga.EventUpdates, u)
}

// PutNotification queues a user DM for a guild.
func (o *Outbox) PutNotification(guildID string, n UserNotification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ga := o.guild(guildID)
	ga.UserNotifications = append(ga.UserNotifications, n)
}

// Drain returns and clears every guild's pending actions. Guilds with no
// actions are omitted.
func (o *Outbox) Drain() map[string]*GuildActions {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*GuildActions, len(o.guilds))
	for guildID, ga := range o.guilds {
		if len(ga.PendingMessages) == 0 && len(ga.EventUpdates) == 0 && len(ga.UserNotifications) == 0 {
			continue
		}
		out[guildID] = ga
	}
	o.guilds = make(map[string]*GuildActions)
	return out
}
