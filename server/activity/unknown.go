package activity

import (
	"encoding/json"
)

// Unknown holds an entity whose type is not in the registry.
// Every raw property is kept so the entity re-encodes unchanged.
type Unknown struct {
	ObjectBase
	declared string
	raw      map[string]json.RawMessage
}

// Type returns the type the payload declared, which may be empty.
func (u *Unknown) Type() string { return u.declared }

// Property returns the raw JSON of a property, or nil.
func (u *Unknown) Property(name string) json.RawMessage {
	return u.raw[name]
}

func (u Unknown) MarshalJSON() ([]byte, error) {
	if u.raw != nil {
		return json.Marshal(u.raw)
	}
	return marshalTyped(u.declared, u.ObjectBase)
}

func (u *Unknown) UnmarshalJSON(b []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	u.raw = raw
	if types := typeNames(raw[TypeProperty]); len(types) > 0 {
		u.declared = types[0]
	}
	// Shared properties are best effort; an odd shape must not lose the entity.
	var base ObjectBase
	if err := json.Unmarshal(b, &base); err == nil {
		u.ObjectBase = base
	} else {
		var id struct {
			ID IRI `json:"id"`
		}
		_ = json.Unmarshal(b, &id)
		u.ObjectBase = ObjectBase{ID: string(id.ID)}
	}
	return nil
}
