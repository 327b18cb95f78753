package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/safeline/internal/text"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"collapses whitespace", "  hello \t  world  ", "hello world"},
		{"normalizes line endings", "a\r\nb\rc", "a\nb\nc"},
		{"limits blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"strips invisible and control characters", "zero‍width\x00end", "zerowidth end"},
		{"keeps non-latin scripts", "मदद   करो", "मदद करो"},
		{"only whitespace", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, text.Clean(tt.input))
		})
	}
}

func TestPlain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bold", "**Call 112** now", "Call 112 now"},
		{"headers and bullets", "## Stay safe\n* Call 112\n* Move to a crowded place", "Stay safe\n- Call 112\n- Move to a crowded place"},
		{"links keep the target", "See [helpline](https://ncw.nic.in)", "See helpline (https://ncw.nic.in)"},
		{"italic and code", "Stay *calm* and `breathe`", "Stay calm and breathe"},
		{"arithmetic untouched", "2*3*4 = 24", "2*3*4 = 24"},
		{"quotes and rules", "> quoted\n---\nafter", "quoted\n\nafter"},
		{"strikethrough", "a ~~b~~ c", "a b c"},
		{"plain text unchanged", "You are not alone.", "You are not alone."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, text.Plain(tt.input))
		})
	}
}
