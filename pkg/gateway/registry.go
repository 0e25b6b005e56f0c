// Package gateway is the single authenticated MCP front-end. It exposes
// every backend service's tools as its own, authorises each invocation
// against the role policy, forwards over a pooled client, and wraps every
// outcome in a uniform result envelope. Unreachable backends degrade to a
// structured service-unavailable failure instead of a transport error.
package gateway

// ServiceTools is the static backend registry: service name → the flat
// list of tools it exposes. The gateway registers these at start; it does
// not depend on the backends being reachable at boot.
var ServiceTools = map[string][]string{
	"event-manager": {
		"create_event",
		"update_event",
		"delete_event",
		"list_all_events",
		"get_event_info",
		"save_event_to_guild_data",
		"get_event_record",
		"search_events",
		"get_upcoming_events",
		"set_event_reminder",
		"get_event_analytics",
	},
	"rsvp": {
		"process_rsvp",
		"get_rsvp_status",
		"update_rsvp",
		"remove_rsvp",
		"list_rsvps",
		"get_user_rsvps",
		"get_rsvp_analytics",
		"set_rsvp_emoji_mapping",
		"get_emoji_mapping",
		"clear_event_rsvps",
		"export_rsvps",
		"get_attendance_summary",
	},
	"guild-manager": {
		"register_guild",
		"deregister_guild",
		"list_guilds",
		"get_guild_info",
		"update_guild_settings",
		"get_guild_status",
	},
	"photo-vibe-check": {
		"submit_photo_dm",
		"add_pre_event_photos",
		"get_photo_status",
		"activate_photo_collection",
		"deactivate_photo_collection",
		"get_vibe_checks",
		"remove_photo",
		"list_promotion_images",
		"generate_photo_slideshow",
	},
	"vibe-canvas": {
		"canvas_place_bit",
		"canvas_remove_bit",
		"canvas_get",
		"canvas_snapshot",
		"canvas_clear",
		"canvas_get_user_bits",
		"canvas_set_size",
		"canvas_get_palette",
		"canvas_set_palette",
		"canvas_export_image",
		"canvas_get_history",
		"canvas_lock",
		"canvas_unlock",
	},
}

// serviceForTool resolves a tool name to its owning service.
func serviceForTool(tool string) (string, bool) {
	for service, tools := range ServiceTools {
		for _, t := range tools {
			if t == tool {
				return service, true
			}
		}
	}
	return "", false
}
