package activity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReference_States(t *testing.T) {
	ref := NewLink[*Note]("https://example.com/notes/1")
	assert.True(t, ref.IsLink())
	assert.False(t, ref.IsEmpty())
	assert.Nil(t, ref.Object())
	assert.Equal(t, "https://example.com/notes/1", ref.Link())

	note := &Note{ObjectBase: ObjectBase{ID: "https://example.com/notes/2"}}
	ref.SetObject(note)
	assert.False(t, ref.IsLink())
	assert.Same(t, note, ref.Object())
	// a resolved reference reports the object's own id
	assert.Equal(t, "https://example.com/notes/2", ref.Link())

	ref.SetLink("https://example.com/notes/3")
	assert.True(t, ref.IsLink())
	assert.Nil(t, ref.Object())
	assert.Equal(t, "https://example.com/notes/3", ref.Link())

	ref.SetObject(nil)
	assert.True(t, ref.IsLink())

	var empty Reference[Actor]
	assert.True(t, empty.IsEmpty())
	assert.True(t, empty.IsLink())
	assert.Equal(t, "", empty.Link())
}

func TestReference_NilInterface(t *testing.T) {
	var actor *Person
	ref := NewReference[Actor](actor)
	assert.True(t, ref.IsLink())
	assert.Nil(t, ref.Object())
}

func TestReference_JSON(t *testing.T) {
	type holder struct {
		Actor  Reference[Actor]  `json:"actor"`
		Object Reference[Object] `json:"object"`
	}

	var h holder
	err := json.Unmarshal([]byte(`{
		"actor": "https://example.com/u/alice",
		"object": {"id": "https://example.com/notes/1", "type": "Note", "content": "hi"}
	}`), &h)
	require.NoError(t, err)

	assert.True(t, h.Actor.IsLink())
	assert.Equal(t, "https://example.com/u/alice", h.Actor.Link())

	require.False(t, h.Object.IsLink())
	note, ok := h.Object.Object().(*Note)
	require.True(t, ok)
	assert.Equal(t, "hi", note.Content)

	b, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"actor": "https://example.com/u/alice",
		"object": {"id": "https://example.com/notes/1", "type": "Note", "content": "hi"}
	}`, string(b))
}

func TestReference_WrongVariant(t *testing.T) {
	// an embedded object of another variant degrades to its id
	var withID Reference[Actor]
	err := json.Unmarshal([]byte(`{"id": "https://example.com/notes/1", "type": "Note"}`), &withID)
	require.NoError(t, err)
	assert.True(t, withID.IsLink())
	assert.Equal(t, "https://example.com/notes/1", withID.Link())

	// without an id there is nothing to point at
	var noID Reference[Actor]
	err = json.Unmarshal([]byte(`{"type": "Note", "content": "x"}`), &noID)
	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "Actor", mismatch.Expected)
	assert.Equal(t, "Note", mismatch.Actual)
	assert.True(t, noID.IsEmpty())
}

func TestReferences_OneOrMany(t *testing.T) {
	var single References[Actor]
	require.NoError(t, json.Unmarshal([]byte(`"https://example.com/u/alice"`), &single))
	assert.Equal(t, []string{"https://example.com/u/alice"}, single.Links())

	var many References[Actor]
	require.NoError(t, json.Unmarshal([]byte(`["https://example.com/u/alice", null, {"id": "https://example.com/u/bob", "type": "Person"}]`), &many))
	assert.Equal(t, []string{"https://example.com/u/alice", "https://example.com/u/bob"}, many.Links())
	assert.True(t, many[0].IsLink())
	assert.False(t, many[1].IsLink())
}
