package agent

import (
	"strings"

	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// Recommendation is the analysis-table output for one CloudEvent: the
// backing service, the action to invoke on it, the forwarded arguments, and
// a default confidence. LogOnly marks types the agent observes without
// calling a tool.
type Recommendation struct {
	Service    string
	Action     string
	Arguments  map[string]any
	Confidence float64
	LogOnly    bool
}

// Service tags recognised by the executor and the gateway registry.
const (
	ServiceEventManager   = "event-manager"
	ServiceRSVP           = "rsvp"
	ServiceGuildManager   = "guild-manager"
	ServicePhotoVibeCheck = "photo-vibe-check"
	ServiceVibeCanvas     = "vibe-canvas"
)

// Analyze maps a CloudEvent type and payload to its tool recommendation.
// The table is fixed: for a given (type, payload) the returned triple is
// deterministic. Unknown types come back LogOnly.
func Analyze(t events.Type, payload map[string]any) Recommendation {
	switch t {
	case events.TypeCreateEvent:
		return Recommendation{
			Service:    ServiceEventManager,
			Action:     "create_event",
			Arguments:  pick(payload, "event_data", "interaction_data", "guild_id", "event_id"),
			Confidence: 0.9,
		}
	case events.TypeUpdateEvent:
		return Recommendation{
			Service:    ServiceEventManager,
			Action:     "update_event",
			Arguments:  pick(payload, "event_data", "interaction_data", "guild_id", "event_id"),
			Confidence: 0.9,
		}
	case events.TypeDeleteEvent:
		return Recommendation{
			Service:    ServiceEventManager,
			Action:     "delete_event",
			Arguments:  pick(payload, "event_id", "interaction_data", "guild_id"),
			Confidence: 0.9,
		}
	case events.TypeListEvents:
		return Recommendation{
			Service:    ServiceEventManager,
			Action:     "list_all_events",
			Arguments:  pick(payload, "guild_id", "interaction_data"),
			Confidence: 0.9,
		}
	case events.TypeEventInfo:
		// Informational only: the reasoning node logs and replies without a
		// backend call.
		return Recommendation{LogOnly: true, Confidence: 0.5}
	case events.TypeRSVPEvent:
		return Recommendation{
			Service:    ServiceRSVP,
			Action:     "process_rsvp",
			Arguments:  pick(payload, "guild_id", "event_id", "user_id", "rsvp_type", "emoji", "metadata"),
			Confidence: 0.9,
		}
	case events.TypeRegisterGuild:
		return Recommendation{
			Service:    ServiceGuildManager,
			Action:     "register_guild",
			Arguments:  pick(payload, "guild_id", "guild_name", "user_id", "channel_id"),
			Confidence: 0.9,
		}
	case events.TypeDeregisterGuild:
		return Recommendation{
			Service:    ServiceGuildManager,
			Action:     "deregister_guild",
			Arguments:  pick(payload, "guild_id", "guild_name", "user_id", "channel_id"),
			Confidence: 0.9,
		}
	case events.TypePhotoVibeCheck:
		return Recommendation{
			Service:    ServicePhotoVibeCheck,
			Action:     "submit_photo_dm",
			Arguments:  pick(payload, "guild_id", "event_id", "user_id", "photo_url", "local_path", "metadata"),
			Confidence: 0.9,
		}
	case events.TypePromotionImage:
		return Recommendation{
			Service:    ServicePhotoVibeCheck,
			Action:     "add_pre_event_photos",
			Arguments:  pick(payload, "guild_id", "event_id", "user_id", "photo_url", "local_path"),
			Confidence: 0.9,
		}
	case events.TypeVibeAction:
		return analyzeVibeAction(payload)
	case events.TypeSaveEvent:
		return Recommendation{
			Service:    ServiceEventManager,
			Action:     "save_event_to_guild_data",
			Arguments:  pick(payload, "guild_id", "event_id", "created_by", "event_data"),
			Confidence: 0.9,
		}
	default:
		// timer-trigger and message have no table row: the reasoning node
		// decides freely (reminders, replies) without a recommended tool.
		return Recommendation{LogOnly: true, Confidence: 0.5}
	}
}

// analyzeVibeAction routes by the action field: canvas_* actions belong to
// the vibe-canvas service, everything else to photo-vibe-check.
func analyzeVibeAction(payload map[string]any) Recommendation {
	action, _ := payload["action"].(string)
	if action == "" {
		return Recommendation{LogOnly: true, Confidence: 0.5}
	}
	service := ServicePhotoVibeCheck
	if strings.HasPrefix(action, "canvas_") {
		service = ServiceVibeCanvas
	}
	args := pick(payload, "guild_id", "event_id", "user_id")
	if extra, ok := payload["args"].(map[string]any); ok {
		for k, v := range extra {
			args[k] = v
		}
	}
	return Recommendation{
		Service:    service,
		Action:     action,
		Arguments:  args,
		Confidence: 0.8,
	}
}

// pick copies the named keys from payload when present.
func pick(payload map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}
