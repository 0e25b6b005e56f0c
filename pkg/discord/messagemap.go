package discord

import (
	"context"
	"log/slog"
	"sync"

	"github.com/davidmiura/tlt-sub000/pkg/gateway"
)

// ToolCaller is the slice of the gateway client the rebuild path needs.
type ToolCaller interface {
	Call(ctx context.Context, tool string, args map[string]any) (*gateway.Envelope, error)
}

// MessageMap tracks which announcement posts and threads belong to guild
// events, so reactions and thread messages resolve to their parent event.
// Authoritative only for the live session; Rebuild reconstructs it from
// event metadata after a restart.
type MessageMap struct {
	mu      sync.RWMutex
	threads map[string]string // message-id → thread-id
	events  map[string]string // thread-id → event-id
	logger  *slog.Logger
}

// NewMessageMap creates an empty map.
func NewMessageMap() *MessageMap {
	return &MessageMap{
		threads: make(map[string]string),
		events:  make(map[string]string),
		logger:  slog.Default().With("component", "discord-messagemap"),
	}
}

// Track records an event announcement post and its RSVP thread.
func (m *MessageMap) Track(messageID, threadID, eventID string) {
	if messageID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[messageID] = threadID
	if threadID != "" {
		m.events[threadID] = eventID
	}
}

// Forget drops a tracked post, typically after event deletion.
func (m *MessageMap) Forget(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threadID, ok := m.threads[messageID]; ok {
		delete(m.events, threadID)
	}
	delete(m.threads, messageID)
}

// IsEventPost reports whether messageID is a tracked announcement post.
func (m *MessageMap) IsEventPost(messageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.threads[messageID]
	return ok
}

// ThreadFor returns the RSVP thread of an announcement post.
func (m *MessageMap) ThreadFor(messageID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	threadID, ok := m.threads[messageID]
	return threadID, ok
}

// IsEventThread reports whether threadID belongs to a tracked event.
func (m *MessageMap) IsEventThread(threadID string) bool {
	if threadID == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[threadID]
	return ok
}

// EventForThread returns the event id a thread belongs to, or empty.
func (m *MessageMap) EventForThread(threadID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[threadID]
}

// Len reports the number of tracked posts.
func (m *MessageMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// Rebuild repopulates the map from event metadata for the given guilds.
// Existing live entries survive; per-guild failures are logged and skipped.
func (m *MessageMap) Rebuild(ctx context.Context, caller ToolCaller, guildIDs []string) {
	for _, guildID := range guildIDs {
		env, err := caller.Call(ctx, "list_all_events", map[string]any{"guild_id": guildID})
		if err != nil || !env.Success {
			m.logger.Warn("Message map rebuild skipped guild", "guild_id", guildID, "error", err)
			continue
		}
		rawEvents, _ := env.Result["events"].([]any)
		for _, raw := range rawEvents {
			record, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			messageID, _ := record["message_id"].(string)
			threadID, _ := record["thread_id"].(string)
			eventID, _ := record["event_id"].(string)
			if messageID == "" {
				messageID = eventID
			}
			m.Track(messageID, threadID, eventID)
		}
	}
	m.logger.Info("Message map rebuilt", "tracked_posts", m.Len())
}
