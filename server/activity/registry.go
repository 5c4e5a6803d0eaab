package activity

import (
	"sort"
	"strings"
)

// constructors lists every known variant. Decoding never reflects over names.
var constructors = []func() Object{
	func() Object { return &Note{} },
	func() Object { return &Article{} },
	func() Object { return &Document{} },
	func() Object { return &Page{} },
	func() Object { return &Image{} },
	func() Object { return &Tombstone{} },
	func() Object { return &Collection{} },
	func() Object { return &OrderedCollection{} },
	func() Object { return &OrderedCollectionPage{} },
	func() Object { return &Person{} },
	func() Object { return &Service{} },
	func() Object { return &Application{} },
	func() Object { return &Group{} },
	func() Object { return &Organization{} },
	func() Object { return &Create{} },
	func() Object { return &Update{} },
	func() Object { return &Delete{} },
	func() Object { return &Follow{} },
	func() Object { return &Accept{} },
	func() Object { return &Reject{} },
	func() Object { return &Undo{} },
	func() Object { return &Like{} },
	func() Object { return &Announce{} },
}

var registry = func() map[string]func() Object {
	m := make(map[string]func() Object, len(constructors))
	for _, ctor := range constructors {
		m[strings.ToLower(ctor().Type())] = ctor
	}
	return m
}()

// Lookup returns the constructor for a type name, ignoring case.
func Lookup(typ string) (func() Object, bool) {
	ctor, ok := registry[strings.ToLower(typ)]
	return ctor, ok
}

// Types returns the registered type names, sorted.
func Types() []string {
	names := make([]string, 0, len(constructors))
	for _, ctor := range constructors {
		names = append(names, ctor().Type())
	}
	sort.Strings(names)
	return names
}

// IsActorType reports whether typ names one of the actor variants.
func IsActorType(typ string) bool {
	ctor, ok := Lookup(typ)
	if !ok {
		return false
	}
	_, isActor := ctor().(Actor)
	return isActor
}
