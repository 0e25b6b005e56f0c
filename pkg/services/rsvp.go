package services

import (
	"context"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
)

// RSVPName is the service name in the gateway registry.
const RSVPName = "rsvp"

// RSVPService tracks attendance as entries in each event record's
// processed_rsvps array. One entry per (user, emoji); re-adding the same
// pair replaces the old entry.
type RSVPService struct {
	store  *guilddata.Store
	events *guilddata.EventStore
	now    func() time.Time
}

// NewRSVPService builds the rsvp backend.
func NewRSVPService(store *guilddata.Store) *Backend {
	s := &RSVPService{
		store:  store,
		events: guilddata.NewEventStore(store),
		now:    time.Now,
	}
	return newBackend(RSVPName, []toolDef{
		{"process_rsvp", "Record an RSVP add or remove", s.processRSVP},
		{"get_rsvp_status", "Report one user's RSVPs for an event", s.getRSVPStatus},
		{"update_rsvp", "Replace a user's RSVP emoji", s.updateRSVP},
		{"remove_rsvp", "Remove a user's RSVPs for an event", s.removeRSVP},
		{"list_rsvps", "List every RSVP on an event", s.listRSVPs},
		{"get_user_rsvps", "List a user's RSVPs across a guild", s.getUserRSVPs},
		{"get_rsvp_analytics", "Summarise RSVPs per emoji", s.getRSVPAnalytics},
		{"set_rsvp_emoji_mapping", "Set the emoji to response mapping", s.setEmojiMapping},
		{"get_emoji_mapping", "Fetch the emoji to response mapping", s.getEmojiMapping},
		{"clear_event_rsvps", "Delete every RSVP on an event", s.clearEventRSVPs},
		{"export_rsvps", "Export the raw RSVP entries", s.exportRSVPs},
		{"get_attendance_summary", "Summarise who is attending", s.getAttendanceSummary},
	})
}

func (s *RSVPService) processRSVP(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id", "emoji"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	userID := stringArg(args, "user_id")
	emoji := stringArg(args, "emoji")
	rsvpType := stringArg(args, "rsvp_type")
	if rsvpType == "" {
		rsvpType = "add"
	}

	switch rsvpType {
	case "add":
		entry := map[string]any{
			"user_id":   userID,
			"emoji":     emoji,
			"rsvp_type": "add",
			"timestamp": s.now().UTC().Format(time.RFC3339),
		}
		err := s.events.ReplaceInArray(guildID, eventID, "processed_rsvps",
			func(obj map[string]any) bool {
				return obj["user_id"] == userID && obj["emoji"] == emoji
			}, entry)
		if err != nil {
			return nil, err
		}
		return map[string]any{"event_id": eventID, "user_id": userID, "emoji": emoji, "rsvp_type": "add"}, nil

	case "remove":
		removed, err := s.events.RemoveFromArray(guildID, eventID, "processed_rsvps",
			func(obj map[string]any) bool {
				return obj["user_id"] == userID && obj["emoji"] == emoji
			})
		if err != nil {
			return nil, err
		}
		return map[string]any{"event_id": eventID, "user_id": userID, "emoji": emoji, "rsvp_type": "remove", "removed": removed}, nil

	default:
		return nil, errs.Validation("rsvp_type", "must be add or remove")
	}
}

func (s *RSVPService) getRSVPStatus(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id"); err != nil {
		return nil, err
	}
	userID := stringArg(args, "user_id")
	entries, err := s.loadRSVPs(args)
	if err != nil {
		return nil, err
	}
	mine := []any{}
	for _, e := range entries {
		if obj, ok := e.(map[string]any); ok && obj["user_id"] == userID {
			mine = append(mine, obj)
		}
	}
	return map[string]any{"user_id": userID, "rsvps": mine, "attending": len(mine) > 0}, nil
}

func (s *RSVPService) updateRSVP(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id", "emoji"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	userID := stringArg(args, "user_id")
	entry := map[string]any{
		"user_id":   userID,
		"emoji":     stringArg(args, "emoji"),
		"rsvp_type": "add",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	err := s.events.ReplaceInArray(guildID, eventID, "processed_rsvps",
		func(obj map[string]any) bool { return obj["user_id"] == userID }, entry)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "user_id": userID, "emoji": entry["emoji"], "updated": true}, nil
}

func (s *RSVPService) removeRSVP(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	userID := stringArg(args, "user_id")
	removed, err := s.events.RemoveFromArray(guildID, eventID, "processed_rsvps",
		func(obj map[string]any) bool { return obj["user_id"] == userID })
	if err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "user_id": userID, "removed": removed}, nil
}

func (s *RSVPService) listRSVPs(_ context.Context, args map[string]any) (map[string]any, error) {
	entries, err := s.loadRSVPs(args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event_id": stringArg(args, "event_id"), "rsvps": entries, "count": len(entries)}, nil
}

func (s *RSVPService) getUserRSVPs(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "user_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	userID := stringArg(args, "user_id")

	byEvent := map[string]any{}
	eventIDs, err := listEventDirs(s.store, guildID)
	if err != nil {
		return nil, err
	}
	for _, eventID := range eventIDs {
		record, err := s.events.Load(guildID, eventID)
		if err != nil {
			continue
		}
		entries, _ := record["processed_rsvps"].([]any)
		mine := []any{}
		for _, e := range entries {
			if obj, ok := e.(map[string]any); ok && obj["user_id"] == userID {
				mine = append(mine, obj)
			}
		}
		if len(mine) > 0 {
			byEvent[eventID] = mine
		}
	}
	return map[string]any{"guild_id": guildID, "user_id": userID, "rsvps_by_event": byEvent}, nil
}

func (s *RSVPService) getRSVPAnalytics(_ context.Context, args map[string]any) (map[string]any, error) {
	entries, err := s.loadRSVPs(args)
	if err != nil {
		return nil, err
	}
	perEmoji := map[string]int{}
	users := map[string]bool{}
	for _, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		perEmoji[stringArg(obj, "emoji")]++
		users[stringArg(obj, "user_id")] = true
	}
	byEmoji := make(map[string]any, len(perEmoji))
	for emoji, n := range perEmoji {
		byEmoji[emoji] = n
	}
	return map[string]any{
		"event_id":     stringArg(args, "event_id"),
		"total":        len(entries),
		"unique_users": len(users),
		"by_emoji":     byEmoji,
	}, nil
}

func (s *RSVPService) setEmojiMapping(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	mapping := mapArg(args, "mapping")
	if len(mapping) == 0 {
		return nil, errs.Validation("mapping", "must be a non-empty object")
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	if err := s.events.SetNestedField(guildID, eventID, "rsvp_settings.emoji_mapping", mapping); err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "mapping": mapping}, nil
}

func (s *RSVPService) getEmojiMapping(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	record, err := s.events.Load(stringArg(args, "guild_id"), stringArg(args, "event_id"))
	if err != nil {
		return nil, err
	}
	settings := mapArg(record, "rsvp_settings")
	return map[string]any{"event_id": stringArg(args, "event_id"), "mapping": mapArg(settings, "emoji_mapping")}, nil
}

func (s *RSVPService) clearEventRSVPs(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	if err := s.events.SetField(guildID, eventID, "processed_rsvps", []any{}); err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "cleared": true}, nil
}

func (s *RSVPService) exportRSVPs(_ context.Context, args map[string]any) (map[string]any, error) {
	entries, err := s.loadRSVPs(args)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"event_id":    stringArg(args, "event_id"),
		"exported_at": s.now().UTC().Format(time.RFC3339),
		"rsvps":       entries,
	}, nil
}

func (s *RSVPService) getAttendanceSummary(_ context.Context, args map[string]any) (map[string]any, error) {
	entries, err := s.loadRSVPs(args)
	if err != nil {
		return nil, err
	}
	attending := []any{}
	seen := map[string]bool{}
	for _, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		userID := stringArg(obj, "user_id")
		if userID != "" && !seen[userID] {
			seen[userID] = true
			attending = append(attending, userID)
		}
	}
	return map[string]any{
		"event_id":  stringArg(args, "event_id"),
		"attending": attending,
		"count":     len(attending),
	}, nil
}

func (s *RSVPService) loadRSVPs(args map[string]any) ([]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	record, err := s.events.Load(stringArg(args, "guild_id"), stringArg(args, "event_id"))
	if err != nil {
		return nil, err
	}
	entries, _ := record["processed_rsvps"].([]any)
	return entries, nil
}
