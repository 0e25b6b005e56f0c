package events

// EventData carries the user-supplied description of a guild event. The
// message_id of the announcement post doubles as the event identifier once
// the event is persisted.
type EventData struct {
	Topic     string `json:"topic,omitempty"`      // event title
	Location  string `json:"location,omitempty"`   // free-text venue
	Time      string `json:"time,omitempty"`       // ISO-8601 when parseable, else free text
	MessageID string `json:"message_id,omitempty"` // announcement post id
	EventID   string `json:"event_id,omitempty"`   // set on update/delete paths
}

// InteractionData identifies who triggered a chat interaction and where.
type InteractionData struct {
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// CreateEventPayload is the data block for com.tlt.chat.create-event.
type CreateEventPayload struct {
	EventData       EventData       `json:"event_data"`
	InteractionData InteractionData `json:"interaction_data"`
}

// UpdateEventPayload is the data block for com.tlt.chat.update-event.
// EventData.EventID selects the record; the remaining fields overwrite.
type UpdateEventPayload struct {
	EventData       EventData       `json:"event_data"`
	InteractionData InteractionData `json:"interaction_data"`
}

// DeleteEventPayload is the data block for com.tlt.chat.delete-event.
type DeleteEventPayload struct {
	EventID         string          `json:"event_id"`
	InteractionData InteractionData `json:"interaction_data"`
}

// ListEventsPayload is the data block for com.tlt.chat.list-events.
type ListEventsPayload struct {
	GuildID         string          `json:"guild_id"`
	InteractionData InteractionData `json:"interaction_data"`
}

// EventInfoPayload is the data block for com.tlt.chat.event-info.
type EventInfoPayload struct {
	EventID         string          `json:"event_id"`
	InteractionData InteractionData `json:"interaction_data"`
}

// RSVPPayload is the data block for com.tlt.chat.rsvp-event. RSVPType is
// "add" or "remove", mirroring the reaction transition that produced it.
type RSVPPayload struct {
	GuildID  string         `json:"guild_id"`
	EventID  string         `json:"event_id"`
	UserID   string         `json:"user_id"`
	RSVPType string         `json:"rsvp_type"`
	Emoji    string         `json:"emoji"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RegisterGuildPayload is the data block for com.tlt.chat.register-guild
// and com.tlt.chat.deregister-guild.
type RegisterGuildPayload struct {
	GuildID   string `json:"guild_id"`
	GuildName string `json:"guild_name,omitempty"`
	UserID    string `json:"user_id"` // admin issuing the command
	ChannelID string `json:"channel_id,omitempty"`
}

// PhotoPayload is the data block for com.tlt.chat.photo-vibe-check and
// com.tlt.chat.promotion-image. PhotoURL is the chat-platform download URL;
// LocalPath is where the adapter already stored the binary.
type PhotoPayload struct {
	GuildID     string         `json:"guild_id,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	UserID      string         `json:"user_id"`
	PhotoURL    string         `json:"photo_url"`
	LocalPath   string         `json:"local_path,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// VibeActionPayload is the data block for com.tlt.chat.vibe-action. Action
// selects the backend operation: canvas_* actions route to vibe-canvas,
// photo_* actions to photo-vibe-check.
type VibeActionPayload struct {
	GuildID string         `json:"guild_id"`
	EventID string         `json:"event_id,omitempty"`
	UserID  string         `json:"user_id"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args,omitempty"`
}

// SaveEventPayload is the data block for com.tlt.chat.save-event-to-guild-data:
// the full merged event record destined for the per-event store.
type SaveEventPayload struct {
	GuildID   string         `json:"guild_id"`
	EventID   string         `json:"event_id"`
	CreatedBy string         `json:"created_by,omitempty"`
	EventData map[string]any `json:"event_data,omitempty"`
}

// TimerPayload is the data block for com.tlt.chat.timer-trigger, synthesised
// when a scheduled timer fires.
type TimerPayload struct {
	TimerID       string         `json:"timer_id"`
	EventID       string         `json:"event_id"`
	TimerType     string         `json:"timer_type,omitempty"` // e.g. reminder, event-start
	ScheduledTime Timestamp      `json:"scheduled_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// MessagePayload is the data block for com.tlt.chat.message: plain text in an
// event thread that passed moderation.
type MessagePayload struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}
