package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "nil", input: nil, want: ""},
		{name: "plain string", input: "hello", want: "hello"},
		{name: "bytes", input: []byte("raw"), want: "raw"},
		{name: "text key wins", input: map[string]any{"text": "t", "content": "c", "message": "m"}, want: "t"},
		{name: "content key second", input: map[string]any{"content": "c", "message": "m"}, want: "c"},
		{name: "message key third", input: map[string]any{"message": "m", "other": "x"}, want: "m"},
		{name: "empty text falls through to content", input: map[string]any{"text": "", "content": "c"}, want: "c"},
		{name: "no known key stringifies", input: map[string]any{"foo": "bar"}, want: `{"foo":"bar"}`},
		{name: "nested text", input: map[string]any{"content": map[string]any{"text": "deep"}}, want: "deep"},
		{name: "array joins parts", input: []any{"a", "b"}, want: "a\nb"},
		{name: "array skips empties", input: []any{"a", "", "b"}, want: "a\nb"},
		{name: "number stringifies", input: 42, want: "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContent(tt.input))
		})
	}
}

func TestNormalizeContentIdempotent(t *testing.T) {
	inputs := []any{
		map[string]any{"text": "t"},
		[]any{"a", map[string]any{"content": "c"}},
		map[string]any{"foo": "bar"},
	}
	for _, in := range inputs {
		once := NormalizeContent(in)
		assert.Equal(t, once, NormalizeContent(once))
	}
}
