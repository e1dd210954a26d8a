package testutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter_Defaults(t *testing.T) {
	ta := NewTextAsserter(t)
	assert.True(t, ta.options.TrimTrailingSpace)
	assert.False(t, ta.options.IgnoreEmptyLines)
	assert.False(t, ta.options.EnableColors)
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical",
			actual:   "ADDRESS  NAME\n",
			expected: "ADDRESS  NAME\n",
			match:    true,
		},
		{
			name:     "trailing padding ignored by default",
			actual:   "ADDRESS  NAME   \nAA  x  \n",
			expected: "ADDRESS  NAME\nAA  x\n",
			match:    true,
		},
		{
			name:     "trailing padding significant when disabled",
			opts:     []TextOption{WithTrimTrailingSpace(false)},
			actual:   "ADDRESS  \n",
			expected: "ADDRESS\n",
		},
		{
			name:     "empty lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\nb\n",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "different rows",
			actual:   "a\nb\n",
			expected: "a\nc\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
				assert.Contains(t, diff, "--- expected")
				assert.Contains(t, diff, "+++ actual")
			}
		})
	}
}

func TestTextAsserter_DiffLines(t *testing.T) {
	diff := NewTextAsserter(t).Diff("one\ntwo\n", "one\nthree\n")
	assert.Contains(t, diff, "-three")
	assert.Contains(t, diff, "+two")
}

func TestTextAsserter_Colors(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b\n", "a\n")
	assert.Contains(t, diff, "\x1b[")
	assert.True(t, strings.Contains(diff, "a·b"), "whitespace MUST be visible in colored diffs")
}
