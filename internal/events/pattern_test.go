package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		match   bool
	}{
		{"servers.s1", "servers.s1", true},
		{"servers.s1", "servers.s2", false},
		{"servers.*", "servers.s1", true},
		{"servers.*", "servers", false},
		{"servers.*", "servers.s1.extra", false},
		{"servers.>", "servers.s1", true},
		{"servers.>", "servers.s1.extra", true},
		{"servers.>", "servers", false},
		{">", "anything.at.all", true},
		{"*.s1", "executions.s1", true},
		{"system", "system", true},
	}

	for _, tt := range tests {
		p, err := compilePattern(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.match, p.match(tt.topic), "%s vs %s", tt.pattern, tt.topic)
	}
}

func TestPattern_Invalid(t *testing.T) {
	for _, raw := range []string{"", "  ", "a..b", ">.a", "servers.>.x"} {
		_, err := compilePattern(raw)
		assert.Error(t, err, raw)
	}
}
