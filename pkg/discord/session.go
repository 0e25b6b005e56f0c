package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// Service binds the discordgo session to the dispatcher: SDK callbacks are
// translated into the neutral structs on the way in, and it implements
// ChatPort on the way out.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	session    *discordgo.Session
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewService creates the Discord binding. Returns nil when token is empty,
// which disables the chat surface without disabling the pipeline.
func NewService(token string) (*Service, error) {
	if token == "" {
		return nil, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errs.Internal("create discord session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &Service{
		session: session,
		logger:  slog.Default().With("component", "discord-service"),
	}, nil
}

// Bind attaches the dispatcher and registers the SDK handlers. Separate from
// construction because the dispatcher needs the service as its ChatPort.
func (s *Service) Bind(dispatcher *Dispatcher) {
	if s == nil {
		return
	}
	s.dispatcher = dispatcher
	s.session.AddHandler(s.onMessageCreate)
	s.session.AddHandler(s.onReactionAdd)
	s.session.AddHandler(s.onReactionRemove)
	s.session.AddHandler(s.onInteractionCreate)
}

// Open connects the websocket session.
func (s *Service) Open() error {
	if s == nil {
		return nil
	}
	if err := s.session.Open(); err != nil {
		return errs.ServiceUnavailable("open discord session", err)
	}
	s.logger.Info("Discord session open")
	return nil
}

// Close tears the session down.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.session.Close()
}

func (s *Service) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	msg := Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		MessageID: m.ID,
		Content:   m.Content,
		DM:        m.GuildID == "",
	}
	if !msg.DM {
		// Thread messages arrive on the thread's channel id.
		msg.ThreadID = m.ChannelID
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}
	s.dispatcher.HandleMessage(context.Background(), msg)
}

func (s *Service) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	s.handleReaction(r.MessageReaction, true)
}

func (s *Service) onReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	s.handleReaction(r.MessageReaction, false)
}

func (s *Service) handleReaction(r *discordgo.MessageReaction, added bool) {
	s.dispatcher.HandleReaction(context.Background(), Reaction{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
		Added:     added,
	})
}

func (s *Service) onInteractionCreate(sess *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	in := Interaction{
		Command:   data.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Fields:    make(map[string]string, len(data.Options)),
	}
	if i.Member != nil && i.Member.User != nil {
		in.UserID = i.Member.User.ID
		in.UserName = i.Member.User.Username
	} else if i.User != nil {
		in.UserID = i.User.ID
		in.UserName = i.User.Username
	}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			in.Fields[opt.Name] = opt.StringValue()
		}
	}

	// Ack immediately; the outcome arrives as a channel reply.
	err := sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: "On it!"},
	})
	if err != nil {
		s.logger.Warn("Interaction ack failed", "command", data.Name, "error", err)
	}

	go s.dispatcher.HandleInteraction(context.Background(), in)
}

// Reply sends a channel message.
func (s *Service) Reply(_ context.Context, channelID, content string) error {
	if s == nil {
		return nil
	}
	_, err := s.session.ChannelMessageSend(channelID, content)
	return err
}

// Notify opens (or reuses) the user's DM channel and sends the notice.
func (s *Service) Notify(_ context.Context, userID, content string) error {
	if s == nil {
		return nil
	}
	channel, err := s.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = s.session.ChannelMessageSend(channel.ID, content)
	return err
}

// DeleteMessage removes a message, for the moderation rule.
func (s *Service) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if s == nil {
		return nil
	}
	return s.session.ChannelMessageDelete(channelID, messageID)
}

// React adds an emoji reaction, used to acknowledge accepted submissions.
func (s *Service) React(_ context.Context, channelID, messageID, emoji string) error {
	if s == nil {
		return nil
	}
	return s.session.MessageReactionAdd(channelID, messageID, emoji)
}

// UpdateEmbed refreshes an event announcement embed with current fields.
func (s *Service) UpdateEmbed(_ context.Context, channelID, messageID string, fields map[string]any) error {
	if s == nil {
		return nil
	}
	embed := &discordgo.MessageEmbed{Title: "Event update"}
	if title, ok := fields["title"].(string); ok && title != "" {
		embed.Title = title
	}
	for _, key := range []string{"location", "start_time", "description", "rsvp_count"} {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   key,
			Value:  stringify(value),
			Inline: true,
		})
	}
	_, err := s.session.ChannelMessageEditEmbed(channelID, messageID, embed)
	return err
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
