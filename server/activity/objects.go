package activity

import (
	"time"
)

type Note struct {
	ObjectBase
}

func (*Note) Type() string { return NoteType }

func (n Note) MarshalJSON() ([]byte, error) {
	type alias Note
	return marshalTyped(NoteType, alias(n))
}

func (n *Note) UnmarshalJSON(b []byte) error {
	type alias Note
	return unmarshalTyped(b, NoteType, (*alias)(n))
}

type Article struct {
	ObjectBase
}

func (*Article) Type() string { return ArticleType }

func (a Article) MarshalJSON() ([]byte, error) {
	type alias Article
	return marshalTyped(ArticleType, alias(a))
}

func (a *Article) UnmarshalJSON(b []byte) error {
	type alias Article
	return unmarshalTyped(b, ArticleType, (*alias)(a))
}

type Document struct {
	ObjectBase
	MediaType string `json:"mediaType,omitempty"`
}

func (*Document) Type() string { return DocumentType }

func (d Document) MarshalJSON() ([]byte, error) {
	type alias Document
	return marshalTyped(DocumentType, alias(d))
}

func (d *Document) UnmarshalJSON(b []byte) error {
	type alias Document
	return unmarshalTyped(b, DocumentType, (*alias)(d))
}

type Page struct {
	ObjectBase
}

func (*Page) Type() string { return PageType }

func (p Page) MarshalJSON() ([]byte, error) {
	type alias Page
	return marshalTyped(PageType, alias(p))
}

func (p *Page) UnmarshalJSON(b []byte) error {
	type alias Page
	return unmarshalTyped(b, PageType, (*alias)(p))
}

type Image struct {
	ObjectBase
	MediaType string `json:"mediaType,omitempty"`
}

func (*Image) Type() string { return ImageType }

func (i Image) MarshalJSON() ([]byte, error) {
	type alias Image
	return marshalTyped(ImageType, alias(i))
}

func (i *Image) UnmarshalJSON(b []byte) error {
	type alias Image
	return unmarshalTyped(b, ImageType, (*alias)(i))
}

// Tombstone replaces a deleted object.
type Tombstone struct {
	ObjectBase
	FormerType string     `json:"formerType,omitempty"`
	Deleted    *time.Time `json:"deleted,omitempty"`
}

func (*Tombstone) Type() string { return TombstoneType }

func (t Tombstone) MarshalJSON() ([]byte, error) {
	type alias Tombstone
	return marshalTyped(TombstoneType, alias(t))
}

func (t *Tombstone) UnmarshalJSON(b []byte) error {
	type alias Tombstone
	return unmarshalTyped(b, TombstoneType, (*alias)(t))
}

// NewTombstone returns the tombstone left behind when obj is deleted.
func NewTombstone(obj Object) *Tombstone {
	return &Tombstone{
		ObjectBase: ObjectBase{ID: ID(obj)},
		FormerType: obj.Type(),
		Deleted:    TimePtr(time.Now()),
	}
}

// NewNote returns a public note attributed to actor.
func NewNote(id string, actor Actor, content string) *Note {
	return &Note{ObjectBase: ObjectBase{
		ID:           id,
		Content:      content,
		Published:    TimePtr(time.Now()),
		AttributedTo: References[Actor]{NewLink[Actor](ID(actor))},
		To:           Audience{PublicActor},
	}}
}
