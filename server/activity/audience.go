package activity

import (
	"encoding/json"
	"fmt"
)

// ProxyActor is an audience entry: the URI of an actor, a collection of actors,
// or the public collection.
type ProxyActor string

// PublicActor addresses everyone.
const PublicActor ProxyActor = "https://www.w3.org/ns/activitystreams#Public"

// IsPublic reports whether p is the public collection.
func (p ProxyActor) IsPublic() bool {
	return p == PublicActor
}

// Reference returns an unresolved reference to whatever p points at.
func (p ProxyActor) Reference() Reference[Object] {
	return NewLink[Object](string(p))
}

func (p *ProxyActor) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	id := parseID(v)
	switch id {
	case "as:Public", "Public":
		// compacted forms of the public collection seen in the wild
		*p = PublicActor
	default:
		*p = ProxyActor(id)
	}
	return nil
}

// Audience is an ordered list of recipients (to, cc).
type Audience []ProxyActor

func (a *Audience) UnmarshalJSON(b []byte) error {
	items, err := oneOrMany(b)
	if err != nil {
		return err
	}
	out := make(Audience, 0, len(items))
	for _, item := range items {
		var p ProxyActor
		if err := p.UnmarshalJSON(item); err != nil {
			return err
		}
		if p != "" {
			out = append(out, p)
		}
	}
	*a = out
	return nil
}

func (a Audience) Contains(p ProxyActor) bool {
	for _, entry := range a {
		if entry == p {
			return true
		}
	}
	return false
}

// IRI is a URI that may arrive on the wire either as a string or as an object with an id.
type IRI string

func (i *IRI) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*i = IRI(parseID(v))
	return nil
}

// URLs is a list of URLs that accepts a single string, Link objects, or arrays of either.
type URLs []string

func (u *URLs) UnmarshalJSON(b []byte) error {
	items, err := oneOrMany(b)
	if err != nil {
		return err
	}
	out := make(URLs, 0, len(items))
	for _, item := range items {
		var v interface{}
		if err := json.Unmarshal(item, &v); err != nil {
			return err
		}
		if m, ok := v.(map[string]interface{}); ok {
			if href, ok := m["href"].(string); ok {
				out = append(out, href)
			}
			continue
		}
		if s := parseID(v); s != "" {
			out = append(out, s)
		}
	}
	*u = out
	return nil
}

func parseID(v interface{}) (val string) {
	// JSON-LD properties can be a simple string or an expanded map,
	// so be prepared to handle either situation without a full JSON-LD processor.
	switch t := v.(type) {
	case string:
		// e.g. { "actor": "https://id" }
		val = t
	case map[string]interface{}:
		// e.g. { "actor": { "name": "Alice", "id": "https://id" } }
		switch s := t[IDProperty].(type) {
		case string:
			val = s
		case fmt.Stringer:
			val = s.String()
		}
	}
	return val
}
