package activity

import (
	"reflect"
	"time"
)

// Object is any ActivityStreams entity. The set of implementations is closed:
// every variant lives in this package and is listed in the type registry.
// Type is derived from the variant and is never stored.
type Object interface {
	Type() string
	Base() *ObjectBase
}

// ObjectBase holds the properties shared by every entity.
type ObjectBase struct {
	ID           string             `json:"id,omitempty"`
	Name         string             `json:"name,omitempty"`
	Published    *time.Time         `json:"published,omitempty"`
	Summary      string             `json:"summary,omitempty"`
	Content      string             `json:"content,omitempty"`
	To           Audience           `json:"to,omitempty"`
	CC           Audience           `json:"cc,omitempty"`
	AttributedTo References[Actor]  `json:"attributedTo,omitempty"`
	URL          URLs               `json:"url,omitempty"`
	InReplyTo    IRI                `json:"inReplyTo,omitempty"`
	Tag          References[Object] `json:"tag,omitempty"`

	// Shares is a collection of Announce activities, Likes a collection of Like activities.
	Shares Reference[*OrderedCollection] `json:"shares"`
	Likes  Reference[*OrderedCollection] `json:"likes"`

	// ComputedTargets is filled in at delivery time with the concrete recipients.
	ComputedTargets []Actor `json:"-"`
	// LastUpdated is local bookkeeping and never sent to peers.
	LastUpdated time.Time `json:"-"`
}

func (o *ObjectBase) Base() *ObjectBase {
	return o
}

// IsPublic reports whether the public collection is one of the primary recipients.
func (o *ObjectBase) IsPublic() bool {
	return o.To.Contains(PublicActor)
}

// Timestamp returns the published time, or the zero time if there is none.
func (o *ObjectBase) Timestamp() time.Time {
	if o.Published == nil {
		return time.Time{}
	}
	return *o.Published
}

// ID returns the id of any object, tolerating nil.
func ID(o Object) string {
	if isNil(o) {
		return ""
	}
	return o.Base().ID
}

// TimePtr returns t truncated to seconds in UTC, as a pointer for the Published field.
func TimePtr(t time.Time) *time.Time {
	t = t.UTC().Truncate(time.Second)
	return &t
}

// isNil catches both nil interfaces and interfaces holding a nil pointer.
func isNil(o Object) bool {
	if o == nil {
		return true
	}
	v := reflect.ValueOf(o)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
