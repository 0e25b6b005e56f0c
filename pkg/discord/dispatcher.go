// Package discord is the chat adapter: it classifies platform activity into
// CloudEvents, posts them to the Task Manager ingress, enforces the RSVP
// thread moderation rule, downloads photo uploads, and polls the agent-state
// snapshot to deliver outbound actions.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/events"
)

// Interaction is a slash-command or modal submission in neutral form.
type Interaction struct {
	Command   string // create-event, update-event, delete-event, list-events, event-info, register-guild, deregister-guild
	GuildID   string
	GuildName string
	ChannelID string
	UserID    string
	UserName  string
	MessageID string
	ThreadID  string
	Fields    map[string]string // modal inputs: topic, location, time, event_id
}

// Reaction is an emoji add or remove on a message.
type Reaction struct {
	GuildID   string
	ChannelID string
	UserID    string
	MessageID string
	Emoji     string
	Added     bool
}

// Attachment is one uploaded file.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// Message is a plain chat message in neutral form.
type Message struct {
	GuildID     string
	ChannelID   string
	UserID      string
	UserName    string
	MessageID   string
	ThreadID    string
	Content     string
	DM          bool
	Attachments []Attachment
}

// promotionMarker in a message body routes attachments to the promotion
// upload path regardless of channel.
const promotionMarker = "!promotion-upload"

// ChatPort is the outbound half of the chat platform: everything the
// dispatcher and poller send back. Implemented by *Service.
type ChatPort interface {
	Reply(ctx context.Context, channelID, content string) error
	Notify(ctx context.Context, userID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	UpdateEmbed(ctx context.Context, channelID, messageID string, fields map[string]any) error
}

// Dispatcher turns classified chat activity into submitted Agent Tasks.
type Dispatcher struct {
	ingressURL string
	httpClient *http.Client
	port       ChatPort
	messages   *MessageMap
	downloads  *Downloader
	logger     *slog.Logger
}

// NewDispatcher wires the dispatcher against the Task Manager ingress.
func NewDispatcher(ingressURL string, port ChatPort, messages *MessageMap, downloads *Downloader) *Dispatcher {
	return &Dispatcher{
		ingressURL: strings.TrimRight(ingressURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		port:       port,
		messages:   messages,
		downloads:  downloads,
		logger:     slog.Default().With("component", "discord-dispatcher"),
	}
}

// HandleInteraction builds and submits the CloudEvent for a slash command.
// The user gets the task id on success and an apology on failure.
func (d *Dispatcher) HandleInteraction(ctx context.Context, in Interaction) {
	env, err := d.interactionEnvelope(in)
	if err != nil {
		d.apologise(ctx, in.ChannelID, err)
		return
	}
	if env == nil {
		return // unrecognised command, no-op
	}

	taskID, err := d.submit(ctx, env)
	if err != nil {
		d.apologise(ctx, in.ChannelID, err)
		return
	}
	d.reply(ctx, in.ChannelID, "Got it! Tracking this as task "+taskID+".")
}

func (d *Dispatcher) interactionEnvelope(in Interaction) (*events.Envelope, error) {
	interaction := events.InteractionData{
		UserID:    in.UserID,
		UserName:  in.UserName,
		GuildID:   in.GuildID,
		ChannelID: in.ChannelID,
		MessageID: in.MessageID,
		ThreadID:  in.ThreadID,
	}
	field := func(k string) string { return in.Fields[k] }

	switch in.Command {
	case "create-event":
		return events.NewCreateEvent(events.EventData{
			Topic:     field("topic"),
			Location:  field("location"),
			Time:      field("time"),
			MessageID: in.MessageID,
		}, interaction)
	case "update-event":
		return events.NewUpdateEvent(events.EventData{
			Topic:    field("topic"),
			Location: field("location"),
			Time:     field("time"),
			EventID:  field("event_id"),
		}, interaction)
	case "delete-event":
		return events.NewDeleteEvent(field("event_id"), interaction)
	case "list-events":
		return events.NewListEvents(interaction)
	case "event-info":
		return events.NewEventInfo(field("event_id"), interaction)
	case "register-guild":
		return events.NewRegisterGuild(events.RegisterGuildPayload{
			GuildID: in.GuildID, GuildName: in.GuildName, UserID: in.UserID, ChannelID: in.ChannelID,
		})
	case "deregister-guild":
		return events.NewDeregisterGuild(events.RegisterGuildPayload{
			GuildID: in.GuildID, GuildName: in.GuildName, UserID: in.UserID, ChannelID: in.ChannelID,
		})
	default:
		return nil, nil
	}
}

// HandleReaction submits an RSVP for reactions on tracked event posts.
// Reactions elsewhere are ignored.
func (d *Dispatcher) HandleReaction(ctx context.Context, r Reaction) {
	if !d.messages.IsEventPost(r.MessageID) {
		return
	}
	rsvpType := "remove"
	if r.Added {
		rsvpType = "add"
	}
	env, err := events.NewRSVPEvent(events.RSVPPayload{
		GuildID:  r.GuildID,
		EventID:  r.MessageID,
		UserID:   r.UserID,
		RSVPType: rsvpType,
		Emoji:    r.Emoji,
	}, r.ChannelID)
	if err != nil {
		d.logger.Warn("RSVP envelope rejected", "error", err)
		return
	}
	if _, err := d.submit(ctx, env); err != nil {
		d.logger.Warn("RSVP submission failed", "message_id", r.MessageID, "error", err)
	}
}

// HandleMessage classifies a plain message: DM photos, promotion uploads,
// and event-thread chatter. Anything else is a no-op.
func (d *Dispatcher) HandleMessage(ctx context.Context, m Message) {
	switch {
	case m.DM && hasImage(m.Attachments):
		d.handlePhotoUpload(ctx, m, false)
	case hasImage(m.Attachments) && (strings.Contains(m.Content, promotionMarker) || d.messages.IsEventThread(m.ThreadID)):
		d.handlePhotoUpload(ctx, m, true)
	case m.ThreadID != "" && d.messages.IsEventThread(m.ThreadID):
		if d.Moderate(ctx, m) {
			return // message removed by moderation
		}
		d.handleThreadMessage(ctx, m)
	}
}

func (d *Dispatcher) handleThreadMessage(ctx context.Context, m Message) {
	env, err := events.NewMessage(events.MessagePayload{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.UserID,
		Content:   m.Content,
		MessageID: m.MessageID,
		ThreadID:  m.ThreadID,
		EventID:   d.messages.EventForThread(m.ThreadID),
	})
	if err != nil {
		return
	}
	if _, err := d.submit(ctx, env); err != nil {
		d.logger.Warn("Thread message submission failed", "error", err)
	}
}

// handlePhotoUpload downloads each image attachment, then emits one
// CloudEvent per download carrying both the source URL and the local path.
func (d *Dispatcher) handlePhotoUpload(ctx context.Context, m Message, promotion bool) {
	eventID := d.messages.EventForThread(m.ThreadID)
	for _, att := range m.Attachments {
		if !isImage(att) {
			continue
		}
		localPath, err := d.downloads.Save(ctx, m.GuildID, eventID, m.UserID, promotion, att)
		if err != nil {
			d.logger.Warn("Photo download failed", "url", att.URL, "error", err)
			d.notify(ctx, m.UserID, "I couldn't download that photo, please try sending it again.")
			continue
		}

		payload := events.PhotoPayload{
			GuildID:     m.GuildID,
			EventID:     eventID,
			UserID:      m.UserID,
			PhotoURL:    att.URL,
			LocalPath:   localPath,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		}
		var env *events.Envelope
		if promotion {
			env, err = events.NewPromotionImage(payload, m.ChannelID)
		} else {
			env, err = events.NewPhotoVibeCheck(payload, m.ChannelID)
		}
		if err != nil {
			d.logger.Warn("Photo envelope rejected", "error", err)
			continue
		}
		if _, err := d.submit(ctx, env); err != nil {
			d.apologise(ctx, m.ChannelID, err)
		}
	}
}

// submit posts the envelope to the ingress and returns the assigned task id.
func (d *Dispatcher) submit(ctx context.Context, env *events.Envelope) (string, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", errs.Internal("encode cloudevent", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ingressURL+"/cloudevents", bytes.NewReader(body))
	if err != nil {
		return "", errs.Internal("build ingress request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", errs.ServiceUnavailable("task manager unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.IO("read ingress response", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Kind != "" {
			return "", errs.New(errs.Kind(apiErr.Kind), apiErr.Error)
		}
		return "", errs.Upstream("ingress rejected the event", nil)
	}

	var accepted struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &accepted); err != nil {
		return "", errs.Parse("ingress response is not JSON", err)
	}
	return accepted.TaskID, nil
}

// apologise maps an error kind to user-facing prose. Internal details never
// reach the channel.
func (d *Dispatcher) apologise(ctx context.Context, channelID string, err error) {
	d.logger.Warn("Dispatch failed", "channel_id", channelID, "error", err)
	d.reply(ctx, channelID, apologyFor(err))
}

func apologyFor(err error) string {
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindParse:
		return "Sorry, I didn't understand that."
	case errs.KindRateLimited:
		return "I'm getting a lot of requests right now, please try again later."
	case errs.KindServiceUnavailable, errs.KindUpstreamTimeout:
		return "I can't reach that service right now, please try again in a bit."
	case errs.KindAccessDenied:
		return "Sorry, you don't have permission to do that."
	default:
		return "Something went wrong on my end, sorry about that."
	}
}

func (d *Dispatcher) reply(ctx context.Context, channelID, content string) {
	if d.port == nil || channelID == "" {
		return
	}
	if err := d.port.Reply(ctx, channelID, content); err != nil {
		d.logger.Warn("Reply failed", "channel_id", channelID, "error", err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, userID, content string) {
	if d.port == nil || userID == "" {
		return
	}
	if err := d.port.Notify(ctx, userID, content); err != nil {
		d.logger.Warn("Notify failed", "user_id", userID, "error", err)
	}
}

func hasImage(atts []Attachment) bool {
	for _, a := range atts {
		if isImage(a) {
			return true
		}
	}
	return false
}

func isImage(a Attachment) bool {
	if strings.HasPrefix(a.ContentType, "image/") {
		return true
	}
	name := strings.ToLower(a.Filename)
	for _, suffix := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
