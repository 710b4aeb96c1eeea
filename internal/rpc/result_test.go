package rpc

import (
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultUnwrap(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "wrapper with json text yields the decoded text",
			raw:      `{"content":[{"type":"text","text":"{\"id\":\"m1\",\"outcome\":\"created\"}"}]}`,
			expected: `{"id":"m1","outcome":"created"}`,
		},
		{
			name:     "wrapper with plain text falls back to a json string",
			raw:      `{"content":[{"type":"text","text":"Macro updated"}]}`,
			expected: `"Macro updated"`,
		},
		{
			name:     "first text item wins over earlier non-text items",
			raw:      `{"content":[{"type":"image","text":""},{"type":"text","text":"[1,2]"},{"type":"text","text":"3"}]}`,
			expected: `[1,2]`,
		},
		{
			name:     "wrapper without text items is returned unchanged",
			raw:      `{"content":[]}`,
			expected: `{"content":[]}`,
		},
		{
			name:     "plain object is returned unchanged",
			raw:      `{"removed":3}`,
			expected: `{"removed":3}`,
		},
		{
			name:     "scalar is returned unchanged",
			raw:      ` 42 `,
			expected: `42`,
		},
		{
			name:     "invalid json is returned unchanged",
			raw:      `{"content":`,
			expected: `{"content":`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, string(Result(tc.raw).Unwrap()))
		})
	}
}

func TestResultDecode(t *testing.T) {
	t.Run("should decode through the content wrapper", func(t *testing.T) {
		env, err := WrapText(map[string]int{"removed": 2, "remaining": 5})
		require.NoError(t, err)
		require.Len(t, env.Content, 1)
		assert.Equal(t, "text", env.Content[0].Type)

		raw, err := json.Marshal(env)
		require.NoError(t, err)

		var out struct {
			Removed   int `json:"removed"`
			Remaining int `json:"remaining"`
		}
		require.NoError(t, Result(raw).Decode(&out))
		assert.Equal(t, 2, out.Removed)
		assert.Equal(t, 5, out.Remaining)
	})

	t.Run("should report a decode error for mismatched shapes", func(t *testing.T) {
		var out []int
		err := Result(`{"a":1}`).Decode(&out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode result")
	})
}
