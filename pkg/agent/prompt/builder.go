// Package prompt composes the reasoning node's model prompts. The system
// message is fixed; the user message is a JSON-safe projection of the
// current event and recent agent activity.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
	"github.com/davidmiura/tlt-sub000/pkg/events"
)

const (
	recentDecisionCount = 5
	recentToolCallCount = 3
)

// systemPrompt enumerates the allowed decision types and requestable
// services. The model must answer through the bound decision schema, so the
// prose here steers rather than parses.
const systemPrompt = `You are the coordination agent for a chat-guild event platform. For each incoming event you make exactly one decision.

Allowed decision types:
- send-message: reply in a channel (set message_content and target_channel)
- schedule-timer: schedule a follow-up (set timer_type and delay_minutes)
- use-tool: invoke a backing service (set tool_name and tool_args)
- no-action: observe and do nothing
- update-event: correct a stored event record (set tool_name and tool_args)
- create-reminder: queue a reminder message for event participants

Services available through use-tool:
- event-manager: create, update, delete, list, and save guild events
- rsvp: process and query RSVP reactions
- guild-manager: register and deregister guilds
- photo-vibe-check: photo submissions and promotional references
- vibe-canvas: shared canvas placements

Prefer the recommended tool for the event type when one is given. Keep
reasoning short and concrete. Confidence reflects how certain you are that
the decision matches the event.`

// triggerGuidance is the per-trigger steering line included in the user
// message. Types without a line get generic guidance.
var triggerGuidance = map[events.Type]string{
	events.TypeCreateEvent:     "Recommended: use-tool with tool_name event-manager to create the event.",
	events.TypeUpdateEvent:     "Recommended: use-tool with tool_name event-manager to update the event.",
	events.TypeDeleteEvent:     "Recommended: use-tool with tool_name event-manager to delete the event.",
	events.TypeListEvents:      "Recommended: use-tool with tool_name event-manager to list events.",
	events.TypeEventInfo:       "Informational query: reply with send-message, no backend call is needed.",
	events.TypeRSVPEvent:       "Recommended: use-tool with tool_name rsvp to process the reaction.",
	events.TypeRegisterGuild:   "Recommended: use-tool with tool_name guild-manager to register the guild.",
	events.TypeDeregisterGuild: "Recommended: use-tool with tool_name guild-manager to deregister the guild.",
	events.TypePhotoVibeCheck:  "Recommended: use-tool with tool_name photo-vibe-check to score the photo.",
	events.TypePromotionImage:  "Recommended: use-tool with tool_name photo-vibe-check to store the reference.",
	events.TypeVibeAction:      "Recommended: use-tool routed by the action field (canvas actions go to vibe-canvas).",
	events.TypeSaveEvent:       "Recommended: use-tool with tool_name event-manager to persist the event record.",
	events.TypeTimerTrigger:    "A scheduled timer fired: usually create-reminder or send-message for the event participants.",
	events.TypeMessage:         "A thread message: usually no-action unless a reply is clearly useful.",
}

// System returns the fixed system message.
func System() string {
	return systemPrompt
}

// User composes the user message for one reasoning pass over ev.
func User(state *agent.State, ev *agent.IncomingEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current event: trigger=%s priority=%s\n", ev.Trigger, ev.Priority)
	if ev.Envelope != nil {
		fmt.Fprintf(&b, "CloudEvent: type=%s source=%s id=%s subject=%s\n",
			ev.Envelope.Type, ev.Envelope.Source, ev.Envelope.ID, ev.Envelope.Subject)
		if guidance, ok := triggerGuidance[ev.Envelope.Type]; ok {
			b.WriteString("Guidance: " + guidance + "\n")
		}
	} else {
		b.WriteString("Guidance: internal event without an envelope; decide from the payload alone.\n")
	}

	if ev.ChatContext != nil {
		fmt.Fprintf(&b, "Chat context: guild=%s channel=%s user=%s\n",
			ev.ChatContext.GuildID, ev.ChatContext.ChannelID, ev.ChatContext.UserID)
	}
	if ev.EventContext != nil {
		fmt.Fprintf(&b, "Event context: event=%s title=%q created_by=%s\n",
			ev.EventContext.EventID, ev.EventContext.Title, ev.EventContext.CreatedBy)
	}

	b.WriteString(recentActivity(state))

	if len(ev.Payload) > 0 {
		b.WriteString("Event payload:\n")
		b.WriteString(jsonBlock(ev.Payload))
	}

	b.WriteString("Decide now using the AgentReasoningDecision schema.")
	return b.String()
}

// recentActivity summarises the last few decisions and tool calls so the
// model sees what it already did for this guild.
func recentActivity(state *agent.State) string {
	var b strings.Builder

	decisions := state.LastDecisions(recentDecisionCount)
	if len(decisions) > 0 {
		b.WriteString("Recent decisions:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s (confidence %.2f): %s\n", d.Type, d.Confidence, truncate(d.Reasoning, 120))
		}
	}

	calls := state.LastToolCalls(recentToolCallCount)
	if len(calls) > 0 {
		b.WriteString("Recent tool calls:\n")
		for _, c := range calls {
			outcome := "ok"
			if !c.Success {
				outcome = "failed: " + truncate(c.Error, 80)
			}
			fmt.Fprintf(&b, "- %s.%s %s\n", c.Service, c.Tool, outcome)
		}
	}
	return b.String()
}

// jsonBlock renders v as indented JSON; marshal failures degrade to %v so
// the prompt never aborts the reasoning pass.
func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v\n", v)
	}
	return string(data) + "\n"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
