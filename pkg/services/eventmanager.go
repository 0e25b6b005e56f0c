package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
)

// EventManagerName is the service name in the gateway registry.
const EventManagerName = "event-manager"

// EventManager owns the canonical event records. Tool results that act on
// behalf of a user are also appended to that user's state file.
type EventManager struct {
	store  *guilddata.Store
	events *guilddata.EventStore
	users  *guilddata.UserStore
	now    func() time.Time
}

// NewEventManager builds the event-manager backend.
func NewEventManager(store *guilddata.Store) *Backend {
	m := &EventManager{
		store:  store,
		events: guilddata.NewEventStore(store),
		users:  guilddata.NewUserStore(store),
		now:    time.Now,
	}
	return newBackend(EventManagerName, []toolDef{
		{"create_event", "Create an event record for a guild", m.createEvent},
		{"update_event", "Update fields on an existing event", m.updateEvent},
		{"delete_event", "Mark an event deleted", m.deleteEvent},
		{"list_all_events", "List every event in a guild", m.listAllEvents},
		{"get_event_info", "Fetch an event's public fields", m.getEventInfo},
		{"save_event_to_guild_data", "Merge a full event payload into guild data", m.saveEventToGuildData},
		{"get_event_record", "Fetch the raw event record", m.getEventRecord},
		{"search_events", "Search events by text query", m.searchEvents},
		{"get_upcoming_events", "List events starting after now", m.getUpcomingEvents},
		{"set_event_reminder", "Attach a reminder to an event", m.setEventReminder},
		{"get_event_analytics", "Summarise RSVP and vibe-check activity", m.getEventAnalytics},
	})
}

// eventID resolves the record identifier: explicit argument first, then the
// originating message id, then a fresh UUID.
func (m *EventManager) eventID(args map[string]any) string {
	if id := stringArg(args, "event_id"); id != "" {
		return id
	}
	meta := mapArg(args, "metadata")
	if id := stringArg(meta, "message_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (m *EventManager) createEvent(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "title"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := m.eventID(args)
	createdBy := stringArg(args, "created_by")

	fields := map[string]any{
		"title":      stringArg(args, "title"),
		"created_by": createdBy,
	}
	for _, key := range []string{"description", "location", "start_time"} {
		if v := stringArg(args, key); v != "" {
			fields[key] = v
		}
	}
	if meta := mapArg(args, "metadata"); len(meta) > 0 {
		fields["metadata"] = meta
	}

	if err := m.events.SetField(guildID, eventID, "event_id", eventID); err != nil {
		return nil, err
	}
	if err := m.events.SetField(guildID, eventID, "guild_id", guildID); err != nil {
		return nil, err
	}
	if err := m.events.SetField(guildID, eventID, "status", "active"); err != nil {
		return nil, err
	}
	if err := m.events.SetField(guildID, eventID, "created_at", m.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if err := m.events.SetNestedField(guildID, eventID, "event_manager_data", fields); err != nil {
		return nil, err
	}

	result := map[string]any{
		"event_id": eventID,
		"guild_id": guildID,
		"title":    fields["title"],
		"status":   "created",
	}
	m.appendUserState(guildID, eventID, createdBy, "create_event", result)
	return result, nil
}

func (m *EventManager) updateEvent(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	if !m.events.Exists(guildID, eventID) {
		return nil, errs.NotFound("event " + eventID + " in guild " + guildID)
	}

	updated := []string{}
	for _, key := range []string{"title", "description", "location", "start_time"} {
		if v := stringArg(args, key); v != "" {
			if err := m.events.SetNestedField(guildID, eventID, "event_manager_data."+key, v); err != nil {
				return nil, err
			}
			updated = append(updated, key)
		}
	}
	if err := m.events.SetField(guildID, eventID, "updated_at", m.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	result := map[string]any{"event_id": eventID, "updated_fields": updated}
	m.appendUserState(guildID, eventID, stringArg(args, "user_id"), "update_event", result)
	return result, nil
}

func (m *EventManager) deleteEvent(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	if !m.events.Exists(guildID, eventID) {
		return nil, errs.NotFound("event " + eventID + " in guild " + guildID)
	}
	if err := m.events.SetField(guildID, eventID, "status", "deleted"); err != nil {
		return nil, err
	}
	if err := m.events.SetField(guildID, eventID, "deleted_at", m.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "status": "deleted"}, nil
}

func (m *EventManager) listAllEvents(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")

	records, err := m.loadGuildEvents(guildID)
	if err != nil {
		return nil, err
	}
	events := make([]any, 0, len(records))
	for _, record := range records {
		events = append(events, eventSummary(record))
	}
	return map[string]any{"guild_id": guildID, "events": events, "count": len(events)}, nil
}

func (m *EventManager) getEventInfo(_ context.Context, args map[string]any) (map[string]any, error) {
	record, err := m.loadExisting(args)
	if err != nil {
		return nil, err
	}
	return eventSummary(record), nil
}

func (m *EventManager) getEventRecord(_ context.Context, args map[string]any) (map[string]any, error) {
	return m.loadExisting(args)
}

func (m *EventManager) saveEventToGuildData(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")

	payload := map[string]any{}
	for k, v := range args {
		if k == "guild_id" || k == "event_id" {
			continue
		}
		payload[k] = v
	}

	record, err := m.events.Load(guildID, eventID)
	if err != nil {
		return nil, err
	}
	existing, _ := record["event_manager_data"].(map[string]any)
	if existing == nil {
		existing = map[string]any{}
	}
	if err := mergo.Merge(&existing, payload, mergo.WithOverride); err != nil {
		return nil, errs.Internal("merge event payload", err)
	}
	if err := m.events.SetNestedField(guildID, eventID, "event_manager_data", existing); err != nil {
		return nil, err
	}

	return map[string]any{
		"event_id": eventID,
		"guild_id": guildID,
		"saved":    true,
		"path":     m.store.EventFile(guildID, eventID),
	}, nil
}

func (m *EventManager) searchEvents(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "query"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	query := strings.ToLower(stringArg(args, "query"))

	records, err := m.loadGuildEvents(guildID)
	if err != nil {
		return nil, err
	}
	matches := []any{}
	for _, record := range records {
		data, _ := record["event_manager_data"].(map[string]any)
		haystack := strings.ToLower(strings.Join([]string{
			stringArg(data, "title"), stringArg(data, "description"), stringArg(data, "location"),
		}, " "))
		if strings.Contains(haystack, query) {
			matches = append(matches, eventSummary(record))
		}
	}
	return map[string]any{"query": query, "events": matches, "count": len(matches)}, nil
}

func (m *EventManager) getUpcomingEvents(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")

	records, err := m.loadGuildEvents(guildID)
	if err != nil {
		return nil, err
	}
	type upcoming struct {
		start   time.Time
		summary map[string]any
	}
	now := m.now().UTC()
	var list []upcoming
	for _, record := range records {
		if status, _ := record["status"].(string); status == "deleted" {
			continue
		}
		data, _ := record["event_manager_data"].(map[string]any)
		start, err := time.Parse(time.RFC3339, stringArg(data, "start_time"))
		if err != nil || start.Before(now) {
			continue
		}
		list = append(list, upcoming{start: start, summary: eventSummary(record)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].start.Before(list[j].start) })

	events := make([]any, 0, len(list))
	for _, u := range list {
		events = append(events, u.summary)
	}
	return map[string]any{"guild_id": guildID, "events": events, "count": len(events)}, nil
}

func (m *EventManager) setEventReminder(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "remind_at"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	remindAt := stringArg(args, "remind_at")
	if _, err := time.Parse(time.RFC3339, remindAt); err != nil {
		return nil, errs.Validation("remind_at", "must be an RFC3339 timestamp")
	}

	reminder := map[string]any{
		"remind_at":  remindAt,
		"channel_id": stringArg(args, "channel_id"),
		"created_by": stringArg(args, "user_id"),
		"created_at": m.now().UTC().Format(time.RFC3339),
	}
	if err := m.events.AppendToArray(guildID, eventID, "reminders", reminder); err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "reminder": reminder}, nil
}

func (m *EventManager) getEventAnalytics(_ context.Context, args map[string]any) (map[string]any, error) {
	record, err := m.loadExisting(args)
	if err != nil {
		return nil, err
	}
	rsvps, _ := record["processed_rsvps"].([]any)
	checks, _ := record["vibe_checks"].([]any)
	reminders, _ := record["reminders"].([]any)
	return map[string]any{
		"event_id":         record["event_id"],
		"status":           record["status"],
		"rsvp_count":       len(rsvps),
		"vibe_check_count": len(checks),
		"reminder_count":   len(reminders),
	}, nil
}

// loadExisting loads the record behind guild_id/event_id args, rejecting
// missing events.
func (m *EventManager) loadExisting(args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	record, err := m.events.Load(guildID, eventID)
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, errs.NotFound("event " + eventID + " in guild " + guildID)
	}
	return record, nil
}

// loadGuildEvents loads every event record in a guild directory. A missing
// guild directory means no events.
func (m *EventManager) loadGuildEvents(guildID string) ([]map[string]any, error) {
	eventIDs, err := listEventDirs(m.store, guildID)
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	for _, eventID := range eventIDs {
		record, err := m.events.Load(guildID, eventID)
		if err != nil || len(record) == 0 {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// eventSummary projects the public fields of a record.
func eventSummary(record map[string]any) map[string]any {
	data, _ := record["event_manager_data"].(map[string]any)
	summary := map[string]any{
		"event_id": record["event_id"],
		"guild_id": record["guild_id"],
		"status":   record["status"],
	}
	for _, key := range []string{"title", "description", "location", "start_time", "created_by"} {
		if v := stringArg(data, key); v != "" {
			summary[key] = v
		}
	}
	if meta := mapArg(data, "metadata"); len(meta) > 0 {
		if id := stringArg(meta, "message_id"); id != "" {
			summary["message_id"] = id
		}
		if id := stringArg(meta, "thread_id"); id != "" {
			summary["thread_id"] = id
		}
	}
	return summary
}

func (m *EventManager) appendUserState(guildID, eventID, userID, tool string, result map[string]any) {
	if userID == "" {
		return
	}
	record := map[string]any{
		"tool":      tool,
		"result":    result,
		"timestamp": m.now().UTC().Format(time.RFC3339),
	}
	if err := m.users.Append(guildID, eventID, userID, record); err != nil {
		// User state is a journal; failures must not fail the tool.
		slog.Warn("User state append failed", "guild_id", guildID, "event_id", eventID, "user_id", userID, "error", err)
	}
}
