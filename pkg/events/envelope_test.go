package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

func sampleEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := NewCreateEvent(
		EventData{Topic: "Launch", Location: "HQ", Time: "2030-01-01T18:00:00Z", MessageID: "42"},
		InteractionData{UserID: "7", UserName: "Ada", GuildID: "100", ChannelID: "200"},
	)
	require.NoError(t, err)
	return env
}

func TestCanonicalKeyOrder(t *testing.T) {
	env := sampleEnvelope(t)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	// Key order is part of the wire contract.
	keys := []string{"specversion", "type", "source", "id", "time", "datacontenttype", "subject", "data"}
	prev := -1
	for _, key := range keys {
		idx := strings.Index(string(raw), `"`+key+`"`)
		require.GreaterOrEqual(t, idx, 0, "key %q missing from %s", key, raw)
		assert.Greater(t, idx, prev, "key %q out of order in %s", key, raw)
		prev = idx
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	env := sampleEnvelope(t)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, env.Type, decoded.Type)
	assert.Equal(t, env.Source, decoded.Source)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Subject, decoded.Subject)
	assert.True(t, env.Time.Equal(decoded.Time.Time), "time drifted: %v vs %v", env.Time, decoded.Time)
	assert.JSONEq(t, string(env.Data), string(decoded.Data))
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode/decode preserves significant fields at second resolution", prop.ForAll(
		func(guildID, channelID, subject string, unix int64) bool {
			env := &Envelope{
				SpecVersion:     SpecVersion,
				Type:            TypeMessage,
				Source:          ChatSource(guildID, channelID),
				Time:            At(time.Unix(unix, 123456789)),
				DataContentType: ContentTypeJSON,
				Subject:         subject,
				Data:            json.RawMessage(`{"content":"hi"}`),
			}
			env.Normalize()

			raw, err := json.Marshal(env)
			if err != nil {
				return false
			}
			var decoded Envelope
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return false
			}
			return decoded.Type == env.Type &&
				decoded.Source == env.Source &&
				decoded.ID == env.ID &&
				decoded.Subject == env.Subject &&
				decoded.Time.Equal(env.Time.Time)
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
		gen.Int64Range(0, 4102444800), // through 2100
	))

	properties.TestingRun(t)
}

func TestTimestampSecondResolution(t *testing.T) {
	ts := At(time.Date(2030, 1, 1, 18, 0, 0, 999999999, time.UTC))
	raw, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2030-01-01T18:00:00Z"`, string(raw))
}

func TestValidate(t *testing.T) {
	valid := func() *Envelope {
		env := sampleEnvelope(t)
		return env
	}

	tests := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{
			name:   "wrong specversion",
			mutate: func(e *Envelope) { e.SpecVersion = "0.3" },
			field:  "specversion",
		},
		{
			name:   "unknown type",
			mutate: func(e *Envelope) { e.Type = "com.tlt.chat.does-not-exist" },
			field:  "type",
		},
		{
			name:   "missing source",
			mutate: func(e *Envelope) { e.Source = "" },
			field:  "source",
		},
		{
			name:   "malformed source",
			mutate: func(e *Envelope) { e.Source = "/guild/100" },
			field:  "source",
		},
		{
			name:   "missing id",
			mutate: func(e *Envelope) { e.ID = "" },
			field:  "id",
		},
		{
			name:   "zero time",
			mutate: func(e *Envelope) { e.Time = Timestamp{} },
			field:  "time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(env)
			err := env.Validate()
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("valid envelope passes", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})
}

func TestParseSource(t *testing.T) {
	guildID, channelID, err := ParseSource("/chat/100/200")
	require.NoError(t, err)
	assert.Equal(t, "100", guildID)
	assert.Equal(t, "200", channelID)

	for _, bad := range []string{"", "/chat/100", "/chat//200", "chat/100/200", "/chat/100/200/extra"} {
		_, _, err := ParseSource(bad)
		assert.Error(t, err, "source %q should not parse", bad)
	}
}

func TestNormalizeFillsGeneratedFields(t *testing.T) {
	env := &Envelope{
		Type:   TypeListEvents,
		Source: ChatSource("100", "200"),
	}
	env.Normalize()

	assert.Equal(t, SpecVersion, env.SpecVersion)
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Time.IsZero())
	assert.Equal(t, ContentTypeJSON, env.DataContentType)
}

func TestDecodeData(t *testing.T) {
	env := sampleEnvelope(t)

	var payload CreateEventPayload
	require.NoError(t, env.DecodeData(&payload))
	assert.Equal(t, "Launch", payload.EventData.Topic)
	assert.Equal(t, "Ada", payload.InteractionData.UserName)

	m, err := env.DataMap()
	require.NoError(t, err)
	assert.Contains(t, m, "event_data")
	assert.Contains(t, m, "interaction_data")
}
