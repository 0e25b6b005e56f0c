package discord

import (
	"context"
	"regexp"
	"unicode"
)

// customEmojiPattern matches platform custom emoji of the form
// <:name:123456> and animated <a:name:123456>.
var customEmojiPattern = regexp.MustCompile(`<a?:\w+:\d+>`)

// emojiOnly reports whether content consists solely of emoji (unicode or
// custom), joiners, and whitespace. Empty content does not qualify.
func emojiOnly(content string) bool {
	stripped := customEmojiPattern.ReplaceAllString(content, "")
	hadCustom := len(stripped) != len(content)
	seen := false
	for _, r := range stripped {
		switch {
		case unicode.IsSpace(r):
		case isEmojiRune(r):
			seen = true
		default:
			return false
		}
	}
	return seen || hadCustom
}

// isEmojiRune accepts the unicode ranges emoji occupy plus their combining
// machinery: joiners, variation selectors, skin tones, and keycap marks.
func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, transport, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows and stars
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	case r == 0x200D || r == 0xFE0F || r == 0xFE0E: // ZWJ, variation selectors
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x20E3: // keycap
		return true
	case r >= 0x2190 && r <= 0x21FF: // arrows
		return true
	case r == 0x2139 || (r >= 0x2194 && r <= 0x2199):
		return true
	default:
		return false
	}
}

// Moderate enforces the RSVP-thread rule: non-emoji messages in an event
// thread are deleted and the author gets a private notice. Returns true when
// the message was removed. Both the delete and the notice are best-effort.
func (d *Dispatcher) Moderate(ctx context.Context, m Message) bool {
	if d.port == nil || !d.messages.IsEventThread(m.ThreadID) {
		return false
	}
	if emojiOnly(m.Content) {
		return false
	}

	if err := d.port.DeleteMessage(ctx, m.ChannelID, m.MessageID); err != nil {
		d.logger.Warn("Moderation delete failed", "message_id", m.MessageID, "error", err)
		return false
	}
	d.notify(ctx, m.UserID, "RSVP threads are emoji-only, so I removed your message. React on the event post instead!")
	return true
}
