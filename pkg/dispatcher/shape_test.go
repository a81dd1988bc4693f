package dispatcher

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
)

func shapeRaw(t *testing.T, raw string) (string, []string) {
	t.Helper()
	return Shape(jsonrpc.DecodePayload(json.RawMessage(raw)))
}

func TestShape_Documents(t *testing.T) {
	t.Run("small result lists every document", func(t *testing.T) {
		summary, entries := shapeRaw(t, `{"documents":[{"_id":"doc-1"},{"_id":"doc-2"}]}`)
		assert.Equal(t, "Found 2 document(s)", summary)
		require.Len(t, entries, 2)
		assert.Contains(t, entries[0], "doc-1")
	})

	t.Run("large result is capped", func(t *testing.T) {
		summary, entries := shapeRaw(t,
			`{"documents":[{"n":1},{"n":2},{"n":3},{"n":4},{"n":5}]}`)
		assert.Equal(t, "Found 5 document(s), showing first 3", summary)
		assert.Len(t, entries, 3)
	})

	t.Run("oversized fields are truncated", func(t *testing.T) {
		long := strings.Repeat("x", 1000)
		summary, entries := shapeRaw(t, `{"documents":[{"text":"`+long+`"}]}`)
		assert.Equal(t, "Found 1 document(s)", summary)
		require.Len(t, entries, 1)
		assert.LessOrEqual(t, len(entries[0]), 300+len("…"))
		assert.True(t, strings.HasSuffix(entries[0], "…"))
	})
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	// "→" is 3 bytes; the 2-byte prefix shifts every rune off a multiple of
	// 3, so the 300-byte cut point lands mid-rune.
	s := "ab" + strings.Repeat("→", 150)
	require.Greater(t, len(s), maxFieldLen)

	got := truncate(s)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, len(got), maxFieldLen+len("…"))
}

func TestShape_Count(t *testing.T) {
	summary, entries := shapeRaw(t, `{"count":42}`)
	assert.Equal(t, "Count: 42", summary)
	assert.Empty(t, entries)
}

func TestShape_Names(t *testing.T) {
	t.Run("few names listed in full", func(t *testing.T) {
		summary, entries := shapeRaw(t, `{"collections":["documents","patients"]}`)
		assert.Equal(t, "2 name(s)", summary)
		assert.Equal(t, []string{"documents", "patients"}, entries)
	})

	t.Run("many names elided", func(t *testing.T) {
		summary, entries := shapeRaw(t, `{"names":["a","b","c","d","e"]}`)
		assert.Equal(t, "5 name(s)", summary)
		assert.Equal(t, []string{"a", "b", "c", "…"}, entries)
	})
}

func TestShape_Text(t *testing.T) {
	t.Run("single short line is the summary", func(t *testing.T) {
		summary, entries := shapeRaw(t, `"operation complete"`)
		assert.Equal(t, "operation complete", summary)
		assert.Empty(t, entries)
	})

	t.Run("multi-line text keeps the full body as an entry", func(t *testing.T) {
		summary, entries := shapeRaw(t, `"first line\nsecond line"`)
		assert.Equal(t, "first line", summary)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0], "second line")
	})

	t.Run("blank text still produces a summary", func(t *testing.T) {
		summary, entries := shapeRaw(t, `"   "`)
		assert.Equal(t, "Tool completed", summary)
		assert.Empty(t, entries)
	})
}

func TestShape_Generic(t *testing.T) {
	t.Run("unknown object rendered compactly", func(t *testing.T) {
		summary, entries := shapeRaw(t, `{"acknowledged": true, "shards": 3}`)
		assert.Equal(t, "Tool returned a result", summary)
		require.Len(t, entries, 1)
		assert.JSONEq(t, `{"acknowledged":true,"shards":3}`, entries[0])
	})

	t.Run("empty payload", func(t *testing.T) {
		summary, entries := Shape(jsonrpc.DecodePayload(nil))
		assert.Equal(t, "Tool completed", summary)
		assert.Empty(t, entries)
	})
}
