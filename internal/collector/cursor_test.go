package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ser, err := serializeCursor("meta-cursor-abc", "chat-cursor-xyz")
	require.NoError(t, err)

	meta, chat, err := parseCursor(&ser)
	require.NoError(t, err)
	assert.Equal(t, "meta-cursor-abc", meta)
	assert.Equal(t, "chat-cursor-xyz", chat)
}

func TestParseCursorNilStartsFresh(t *testing.T) {
	meta, chat, err := parseCursor(nil)
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Empty(t, chat)

	empty := ""
	meta, chat, err = parseCursor(&empty)
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Empty(t, chat)
}

func TestParseCursorVersionMismatchStartsFresh(t *testing.T) {
	stale := `{"v":0,"metadata":"old","chat":"old"}`
	meta, chat, err := parseCursor(&stale)
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Empty(t, chat)
}

func TestParseCursorGarbage(t *testing.T) {
	garbage := "not json at all"
	_, _, err := parseCursor(&garbage)
	assert.Error(t, err)
}

func TestCursorEmptyFieldsOmitted(t *testing.T) {
	ser, err := serializeCursor("", "chat-only")
	require.NoError(t, err)
	assert.NotContains(t, ser, "metadata")

	meta, chat, err := parseCursor(&ser)
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Equal(t, "chat-only", chat)
}
