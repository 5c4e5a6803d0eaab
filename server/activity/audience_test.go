package activity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudience_Forms(t *testing.T) {
	var note Note
	err := json.Unmarshal([]byte(`{
		"type": "Note",
		"to": "as:Public",
		"cc": ["https://example.com/u/alice/followers", {"id": "https://example.com/u/bob", "type": "Person"}]
	}`), &note)
	require.NoError(t, err)

	assert.Equal(t, Audience{PublicActor}, note.To)
	assert.True(t, note.IsPublic())
	assert.True(t, note.To[0].IsPublic())
	assert.Equal(t, Audience{"https://example.com/u/alice/followers", "https://example.com/u/bob"}, note.CC)
	assert.True(t, note.CC.Contains("https://example.com/u/bob"))
}

func TestAudience_NotPublicInCC(t *testing.T) {
	var note Note
	require.NoError(t, json.Unmarshal([]byte(`{"cc": ["Public"], "to": ["https://example.com/u/bob"]}`), &note))
	assert.False(t, note.IsPublic())
	assert.True(t, note.CC.Contains(PublicActor))
}

func TestURLs(t *testing.T) {
	var note Note
	require.NoError(t, json.Unmarshal([]byte(`{"url": "https://example.com/a"}`), &note))
	assert.Equal(t, URLs{"https://example.com/a"}, note.URL)

	require.NoError(t, json.Unmarshal([]byte(`{"url": [{"type": "Link", "href": "https://example.com/b"}, "https://example.com/c"]}`), &note))
	assert.Equal(t, URLs{"https://example.com/b", "https://example.com/c"}, note.URL)
}

func TestIRI(t *testing.T) {
	var note Note
	require.NoError(t, json.Unmarshal([]byte(`{"inReplyTo": {"id": "https://example.com/n/1", "type": "Note"}}`), &note))
	assert.Equal(t, IRI("https://example.com/n/1"), note.InReplyTo)
}
