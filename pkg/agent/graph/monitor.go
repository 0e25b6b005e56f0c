package graph

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/events"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
)

// runMonitor fires due timers, enriches pending CloudEvents, and routes to
// reasoning when work exists. An empty backlog ends the run.
func (d *Driver) runMonitor() node {
	if d.state.Stopping() {
		return nodeTerminal
	}

	d.state.Lock()
	d.state.MonitorCount++
	if d.state.MonitorCount < 1 {
		d.state.MonitorCount = 1
	}
	d.state.Iteration++
	d.state.Unlock()

	for _, timer := range d.state.FireDueTimers(d.now().UTC()) {
		d.state.EnqueueEvent(timerEvent(timer, d.now().UTC()))
		d.logger.Info("Timer fired", "timer_id", timer.ID, "event_id", timer.EventID, "timer_type", timer.TimerType)
	}

	d.enrichPending()

	if d.state.PendingEventCount() > 0 {
		return nodeReason
	}
	return nodeTerminal
}

// enrichPending classifies each CloudEvent-backed pending event: trigger
// from the envelope type, priority from the policy, chat context from the
// payload, event context from the cache. Enrichment failures keep the
// original event; non-CloudEvent items pass through untouched.
func (d *Driver) enrichPending() {
	d.state.Lock()
	pending := append([]*agent.IncomingEvent(nil), d.state.PendingEvents...)
	d.state.Unlock()

	for _, ev := range pending {
		if ev.TaskID != "" {
			d.tracker.Append(ev.TaskID, lifecycle.StatusInMonitor, string(nodeMonitor), "", nil)
		}
		if ev.Envelope == nil {
			continue
		}
		ev.Trigger = events.TriggerOf(ev.Envelope.Type)
		ev.Priority = events.DefaultPriority(ev.Envelope.Type)
		if ev.ChatContext == nil {
			ev.ChatContext = extractChatContext(ev.Envelope, ev.Payload)
		}
		if ev.EventContext == nil {
			if eventID := payloadEventID(ev.Payload); eventID != "" {
				if ec, ok := d.contexts.Get(eventID); ok {
					ev.EventContext = ec
				}
			}
		}
	}
}

// extractChatContext pulls interaction fields out of the envelope source
// and payload. Best effort; a partial context is still useful.
func extractChatContext(env *events.Envelope, payload map[string]any) *agent.ChatContext {
	ctx := &agent.ChatContext{
		GuildID:   env.GuildID(),
		ChannelID: env.ChannelID(),
	}
	interaction, _ := payload["interaction_data"].(map[string]any)
	if interaction == nil {
		interaction = payload
	}
	ctx.UserID = stringField(interaction, "user_id")
	ctx.UserName = stringField(interaction, "user_name")
	ctx.MessageID = stringField(interaction, "message_id")
	ctx.ThreadID = stringField(interaction, "thread_id")
	if guildID := stringField(interaction, "guild_id"); guildID != "" {
		ctx.GuildID = guildID
	}
	if channelID := stringField(interaction, "channel_id"); channelID != "" {
		ctx.ChannelID = channelID
	}
	return ctx
}

// payloadEventID finds the event identifier in a payload, checking the
// flat key then the nested event_data block.
func payloadEventID(payload map[string]any) string {
	if id := stringField(payload, "event_id"); id != "" {
		return id
	}
	if data, ok := payload["event_data"].(map[string]any); ok {
		if id := stringField(data, "event_id"); id != "" {
			return id
		}
		return stringField(data, "message_id")
	}
	return ""
}

// timerEvent converts a fired timer into a pending timer-trigger event.
// Timer firings carry no task until the manager synthesises one, so the
// graph processes them inline.
func timerEvent(t *agent.Timer, now time.Time) *agent.IncomingEvent {
	return &agent.IncomingEvent{
		ID:       uuid.NewString(),
		Trigger:  events.TriggerTimer,
		Priority: t.Priority,
		ChatContext: &agent.ChatContext{
			GuildID:   t.GuildID,
			ChannelID: t.ChannelID,
		},
		Payload: map[string]any{
			"timer_id":   t.ID,
			"event_id":   t.EventID,
			"guild_id":   t.GuildID,
			"channel_id": t.ChannelID,
			"timer_type": t.TimerType,
			"metadata":   t.Metadata,
		},
		CreatedAt: now,
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
