package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TLT_TEST_TOKEN", "abc123")
	t.Setenv("TLT_TEST_HOST", "example.test")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single variable",
			input:    "token: {{.TLT_TEST_TOKEN}}",
			expected: "token: abc123",
		},
		{
			name:     "multiple variables in one value",
			input:    "url: http://{{.TLT_TEST_HOST}}/{{.TLT_TEST_TOKEN}}",
			expected: "url: http://example.test/abc123",
		},
		{
			name:     "missing variable expands empty",
			input:    "token: '{{.TLT_TEST_DOES_NOT_EXIST}}'",
			expected: "token: ''",
		},
		{
			name:     "dollar signs pass through untouched",
			input:    "pattern: ^secret.*$ and p@ss$word",
			expected: "pattern: ^secret.*$ and p@ss$word",
		},
		{
			name:     "no template syntax",
			input:    "plain: value",
			expected: "plain: value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvMalformedTemplatePassesThrough(t *testing.T) {
	input := "broken: {{.UNCLOSED"
	assert.Equal(t, input, string(ExpandEnv([]byte(input))))
}
