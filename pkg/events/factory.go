package events

import (
	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// Factories build one envelope per event type. Each validates the fields its
// payload contract requires, then stamps id/time/content-type defaults. The
// subject is the most semantically useful identifier for the type.

// NewCreateEvent builds a com.tlt.chat.create-event envelope.
func NewCreateEvent(event EventData, interaction InteractionData) (*Envelope, error) {
	if event.Topic == "" {
		return nil, errs.Validation("event_data.topic", "is required")
	}
	if err := requireInteraction(interaction); err != nil {
		return nil, err
	}
	payload := CreateEventPayload{EventData: event, InteractionData: interaction}
	return newEnvelope(TypeCreateEvent, interaction.GuildID, interaction.ChannelID, event.Topic, payload)
}

// NewUpdateEvent builds a com.tlt.chat.update-event envelope.
func NewUpdateEvent(event EventData, interaction InteractionData) (*Envelope, error) {
	if event.EventID == "" && event.MessageID == "" {
		return nil, errs.Validation("event_data.event_id", "is required")
	}
	if err := requireInteraction(interaction); err != nil {
		return nil, err
	}
	subject := event.EventID
	if subject == "" {
		subject = event.MessageID
	}
	payload := UpdateEventPayload{EventData: event, InteractionData: interaction}
	return newEnvelope(TypeUpdateEvent, interaction.GuildID, interaction.ChannelID, subject, payload)
}

// NewDeleteEvent builds a com.tlt.chat.delete-event envelope.
func NewDeleteEvent(eventID string, interaction InteractionData) (*Envelope, error) {
	if eventID == "" {
		return nil, errs.Validation("event_id", "is required")
	}
	if err := requireInteraction(interaction); err != nil {
		return nil, err
	}
	payload := DeleteEventPayload{EventID: eventID, InteractionData: interaction}
	return newEnvelope(TypeDeleteEvent, interaction.GuildID, interaction.ChannelID, eventID, payload)
}

// NewListEvents builds a com.tlt.chat.list-events envelope.
func NewListEvents(interaction InteractionData) (*Envelope, error) {
	if err := requireInteraction(interaction); err != nil {
		return nil, err
	}
	payload := ListEventsPayload{GuildID: interaction.GuildID, InteractionData: interaction}
	return newEnvelope(TypeListEvents, interaction.GuildID, interaction.ChannelID, interaction.GuildID, payload)
}

// NewEventInfo builds a com.tlt.chat.event-info envelope.
func NewEventInfo(eventID string, interaction InteractionData) (*Envelope, error) {
	if eventID == "" {
		return nil, errs.Validation("event_id", "is required")
	}
	if err := requireInteraction(interaction); err != nil {
		return nil, err
	}
	payload := EventInfoPayload{EventID: eventID, InteractionData: interaction}
	return newEnvelope(TypeEventInfo, interaction.GuildID, interaction.ChannelID, eventID, payload)
}

// NewRSVPEvent builds a com.tlt.chat.rsvp-event envelope. rsvpType must be
// "add" or "remove".
func NewRSVPEvent(payload RSVPPayload, channelID string) (*Envelope, error) {
	if payload.GuildID == "" {
		return nil, errs.Validation("guild_id", "is required")
	}
	if payload.EventID == "" {
		return nil, errs.Validation("event_id", "is required")
	}
	if payload.UserID == "" {
		return nil, errs.Validation("user_id", "is required")
	}
	if payload.RSVPType != "add" && payload.RSVPType != "remove" {
		return nil, errs.Validation("rsvp_type", "must be add or remove")
	}
	if payload.Emoji == "" {
		return nil, errs.Validation("emoji", "is required")
	}
	return newEnvelope(TypeRSVPEvent, payload.GuildID, channelID, payload.EventID, payload)
}

// NewRegisterGuild builds a com.tlt.chat.register-guild envelope.
func NewRegisterGuild(payload RegisterGuildPayload) (*Envelope, error) {
	if err := requireGuildAdmin(payload); err != nil {
		return nil, err
	}
	return newEnvelope(TypeRegisterGuild, payload.GuildID, orDefault(payload.ChannelID, "admin"), payload.GuildID, payload)
}

// NewDeregisterGuild builds a com.tlt.chat.deregister-guild envelope.
func NewDeregisterGuild(payload RegisterGuildPayload) (*Envelope, error) {
	if err := requireGuildAdmin(payload); err != nil {
		return nil, err
	}
	return newEnvelope(TypeDeregisterGuild, payload.GuildID, orDefault(payload.ChannelID, "admin"), payload.GuildID, payload)
}

// NewPhotoVibeCheck builds a com.tlt.chat.photo-vibe-check envelope.
// channelID is the DM channel the photo arrived on.
func NewPhotoVibeCheck(payload PhotoPayload, channelID string) (*Envelope, error) {
	if payload.UserID == "" {
		return nil, errs.Validation("user_id", "is required")
	}
	if payload.PhotoURL == "" {
		return nil, errs.Validation("photo_url", "is required")
	}
	guildID := orDefault(payload.GuildID, "dm")
	return newEnvelope(TypePhotoVibeCheck, guildID, orDefault(channelID, "dm"), payload.UserID, payload)
}

// NewPromotionImage builds a com.tlt.chat.promotion-image envelope.
func NewPromotionImage(payload PhotoPayload, channelID string) (*Envelope, error) {
	if payload.GuildID == "" {
		return nil, errs.Validation("guild_id", "is required")
	}
	if payload.EventID == "" {
		return nil, errs.Validation("event_id", "is required")
	}
	if payload.UserID == "" {
		return nil, errs.Validation("user_id", "is required")
	}
	if payload.PhotoURL == "" {
		return nil, errs.Validation("photo_url", "is required")
	}
	return newEnvelope(TypePromotionImage, payload.GuildID, orDefault(channelID, "dm"), payload.EventID, payload)
}

// NewVibeAction builds a com.tlt.chat.vibe-action envelope.
func NewVibeAction(payload VibeActionPayload, channelID string) (*Envelope, error) {
	if payload.GuildID == "" {
		return nil, errs.Validation("guild_id", "is required")
	}
	if payload.UserID == "" {
		return nil, errs.Validation("user_id", "is required")
	}
	if payload.Action == "" {
		return nil, errs.Validation("action", "is required")
	}
	return newEnvelope(TypeVibeAction, payload.GuildID, orDefault(channelID, "canvas"), payload.Action, payload)
}

// NewSaveEvent builds a com.tlt.chat.save-event-to-guild-data envelope.
func NewSaveEvent(payload SaveEventPayload, channelID string) (*Envelope, error) {
	if payload.GuildID == "" {
		return nil, errs.Validation("guild_id", "is required")
	}
	if payload.EventID == "" {
		return nil, errs.Validation("event_id", "is required")
	}
	return newEnvelope(TypeSaveEvent, payload.GuildID, orDefault(channelID, "system"), payload.EventID, payload)
}

// NewTimerTrigger builds a com.tlt.chat.timer-trigger envelope. guildID and
// channelID locate the event the timer belongs to.
func NewTimerTrigger(payload TimerPayload, guildID, channelID string) (*Envelope, error) {
	if payload.TimerID == "" {
		return nil, errs.Validation("timer_id", "is required")
	}
	if payload.EventID == "" {
		return nil, errs.Validation("event_id", "is required")
	}
	if guildID == "" {
		return nil, errs.Validation("guild_id", "is required")
	}
	return newEnvelope(TypeTimerTrigger, guildID, orDefault(channelID, "timer"), payload.EventID, payload)
}

// NewMessage builds a com.tlt.chat.message envelope.
func NewMessage(payload MessagePayload) (*Envelope, error) {
	if payload.GuildID == "" {
		return nil, errs.Validation("guild_id", "is required")
	}
	if payload.ChannelID == "" {
		return nil, errs.Validation("channel_id", "is required")
	}
	if payload.UserID == "" {
		return nil, errs.Validation("user_id", "is required")
	}
	if payload.Content == "" {
		return nil, errs.Validation("content", "is required")
	}
	return newEnvelope(TypeMessage, payload.GuildID, payload.ChannelID, payload.MessageID, payload)
}

func requireInteraction(interaction InteractionData) error {
	if interaction.GuildID == "" {
		return errs.Validation("interaction_data.guild_id", "is required")
	}
	if interaction.ChannelID == "" {
		return errs.Validation("interaction_data.channel_id", "is required")
	}
	if interaction.UserID == "" {
		return errs.Validation("interaction_data.user_id", "is required")
	}
	return nil
}

func requireGuildAdmin(payload RegisterGuildPayload) error {
	if payload.GuildID == "" {
		return errs.Validation("guild_id", "is required")
	}
	if payload.UserID == "" {
		return errs.Validation("user_id", "is required")
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
