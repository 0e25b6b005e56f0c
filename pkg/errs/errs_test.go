package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "direct validation error",
			err:      Validation("guild_id", "is required"),
			expected: KindValidation,
		},
		{
			name:     "wrapped rate limit error",
			err:      fmt.Errorf("submit: %w", RateLimited("30 events per 60s exceeded")),
			expected: KindRateLimited,
		},
		{
			name:     "doubly wrapped service unavailable",
			err:      fmt.Errorf("gateway: %w", fmt.Errorf("call: %w", ServiceUnavailable("rsvp backend", errors.New("dial tcp: refused")))),
			expected: KindServiceUnavailable,
		},
		{
			name:     "unclassified error",
			err:      errors.New("something broke"),
			expected: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestValidationCarriesField(t *testing.T) {
	err := Validation("event_id", "must be a UUID")
	require.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "event_id")
	assert.Contains(t, err.Error(), "must be a UUID")

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "event_id", e.Field)
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := UpstreamTimeout("event-manager call", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindUpstreamTimeout, KindOf(err))
}

func TestIsMatchesOnlyOwnKind(t *testing.T) {
	err := AccessDenied("role user may not invoke delete_event")
	assert.True(t, Is(err, KindAccessDenied))
	assert.False(t, Is(err, KindValidation))
	assert.False(t, IsValidation(err))
}
