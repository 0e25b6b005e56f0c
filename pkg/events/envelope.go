package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// Timestamp serialises as RFC 3339 in UTC at second resolution. CloudEvent
// round-trips must preserve the instant exactly, so sub-second precision is
// dropped at construction time rather than at encode time.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC time truncated to whole seconds.
func Now() Timestamp {
	return Timestamp{time.Now().UTC().Truncate(time.Second)}
}

// At wraps an arbitrary instant, normalising to UTC seconds.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Truncate(time.Second).Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errs.Parse("event time is not a JSON string", err)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return errs.Parse("event time is not RFC 3339", err)
	}
	t.Time = parsed.UTC().Truncate(time.Second)
	return nil
}

// Envelope is the CloudEvents v1.0 envelope used on every hop of the
// pipeline. Field order is the canonical JSON key order; do not reorder.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	Type            Type            `json:"type"`
	Source          string          `json:"source"`
	ID              string          `json:"id"`
	Time            Timestamp       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Subject         string          `json:"subject,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// ChatSource composes the source URI for a guild/channel pair.
func ChatSource(guildID, channelID string) string {
	return "/chat/" + guildID + "/" + channelID
}

// ParseSource splits a /chat/<guild>/<channel> source URI.
func ParseSource(source string) (guildID, channelID string, err error) {
	parts := strings.Split(source, "/")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "chat" || parts[2] == "" || parts[3] == "" {
		return "", "", errs.Validation("source", "must be of the form /chat/<guild>/<channel>")
	}
	return parts[2], parts[3], nil
}

// Normalize fills generated envelope fields: spec version, identifier,
// timestamp, and content type. Inbound envelopes pass through here before
// validation so partial senders still produce complete events.
func (e *Envelope) Normalize() {
	if e.SpecVersion == "" {
		e.SpecVersion = SpecVersion
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = Now()
	}
	if e.DataContentType == "" {
		e.DataContentType = ContentTypeJSON
	}
}

// Validate enforces the envelope invariants: spec version 1.0, a type from
// the closed set, a /chat/<guild>/<channel> source, and the generated fields
// present.
func (e *Envelope) Validate() error {
	if e.SpecVersion != SpecVersion {
		return errs.Validation("specversion", "must be "+SpecVersion)
	}
	if e.Type == "" {
		return errs.Validation("type", "is required")
	}
	if !Known(e.Type) {
		return errs.Validation("type", "unknown event type "+string(e.Type))
	}
	if e.Source == "" {
		return errs.Validation("source", "is required")
	}
	if _, _, err := ParseSource(e.Source); err != nil {
		return err
	}
	if e.ID == "" {
		return errs.Validation("id", "is required")
	}
	if e.Time.IsZero() {
		return errs.Validation("time", "is required")
	}
	return nil
}

// GuildID extracts the guild component of the source URI. Empty when the
// source does not parse.
func (e *Envelope) GuildID() string {
	guildID, _, err := ParseSource(e.Source)
	if err != nil {
		return ""
	}
	return guildID
}

// ChannelID extracts the channel component of the source URI.
func (e *Envelope) ChannelID() string {
	_, channelID, err := ParseSource(e.Source)
	if err != nil {
		return ""
	}
	return channelID
}

// DecodeData unmarshals the data payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errs.Validation("data", "is required")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errs.Parse("event data does not match the payload contract for "+string(e.Type), err)
	}
	return nil
}

// DataMap returns the data payload as a generic map, for components that
// shape arguments without a typed payload.
func (e *Envelope) DataMap() (map[string]any, error) {
	if len(e.Data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, errs.Parse("event data is not a JSON object", err)
	}
	return m, nil
}

// newEnvelope assembles and validates an envelope around an encoded payload.
// Factories funnel through here so defaults and invariants live in one place.
func newEnvelope(t Type, guildID, channelID, subject string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Internal("encode event payload", err)
	}
	env := &Envelope{
		SpecVersion:     SpecVersion,
		Type:            t,
		Source:          ChatSource(guildID, channelID),
		DataContentType: ContentTypeJSON,
		Subject:         subject,
		Data:            data,
	}
	env.Normalize()
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
