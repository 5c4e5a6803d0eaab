package activity

// Actor is an entity that can send and receive activities.
type Actor interface {
	Object
	ActorFields() *ActorBase
}

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// ActorBase holds the properties shared by every actor type.
type ActorBase struct {
	ObjectBase
	PreferredUsername         string                        `json:"preferredUsername,omitempty"`
	Inbox                     string                        `json:"inbox,omitempty"`
	Outbox                    string                        `json:"outbox,omitempty"`
	Followers                 Reference[*OrderedCollection] `json:"followers"`
	Following                 Reference[*OrderedCollection] `json:"following"`
	ManuallyApprovesFollowers bool                          `json:"manuallyApprovesFollowers,omitempty"`
	PublicKey                 *PublicKey                    `json:"publicKey,omitempty"`
}

func (a *ActorBase) ActorFields() *ActorBase {
	return a
}

type Person struct {
	ActorBase
}

func (*Person) Type() string { return PersonType }

func (p Person) MarshalJSON() ([]byte, error) {
	type alias Person
	return marshalTyped(PersonType, alias(p))
}

func (p *Person) UnmarshalJSON(b []byte) error {
	type alias Person
	return unmarshalTyped(b, PersonType, (*alias)(p))
}

type Service struct {
	ActorBase
}

func (*Service) Type() string { return ServiceType }

func (s Service) MarshalJSON() ([]byte, error) {
	type alias Service
	return marshalTyped(ServiceType, alias(s))
}

func (s *Service) UnmarshalJSON(b []byte) error {
	type alias Service
	return unmarshalTyped(b, ServiceType, (*alias)(s))
}

type Application struct {
	ActorBase
}

func (*Application) Type() string { return ApplicationType }

func (a Application) MarshalJSON() ([]byte, error) {
	type alias Application
	return marshalTyped(ApplicationType, alias(a))
}

func (a *Application) UnmarshalJSON(b []byte) error {
	type alias Application
	return unmarshalTyped(b, ApplicationType, (*alias)(a))
}

type Group struct {
	ActorBase
}

func (*Group) Type() string { return GroupType }

func (g Group) MarshalJSON() ([]byte, error) {
	type alias Group
	return marshalTyped(GroupType, alias(g))
}

func (g *Group) UnmarshalJSON(b []byte) error {
	type alias Group
	return unmarshalTyped(b, GroupType, (*alias)(g))
}

type Organization struct {
	ActorBase
}

func (*Organization) Type() string { return OrganizationType }

func (o Organization) MarshalJSON() ([]byte, error) {
	type alias Organization
	return marshalTyped(OrganizationType, alias(o))
}

func (o *Organization) UnmarshalJSON(b []byte) error {
	type alias Organization
	return unmarshalTyped(b, OrganizationType, (*alias)(o))
}

// NewActor builds a local actor of the given type with the conventional
// inbox, outbox and relationship collection URIs under id.
func NewActor(actorType, id, username string) (Actor, error) {
	ctor, ok := Lookup(actorType)
	if !ok {
		return nil, &TypeMismatchError{Expected: "actor", Actual: actorType}
	}
	actor, ok := ctor().(Actor)
	if !ok {
		return nil, &TypeMismatchError{Expected: "actor", Actual: actorType}
	}
	fields := actor.ActorFields()
	fields.ID = id
	fields.PreferredUsername = username
	fields.Inbox = id + "/inbox"
	fields.Outbox = id + "/outbox"
	fields.Followers = NewLink[*OrderedCollection](id + "/followers")
	fields.Following = NewLink[*OrderedCollection](id + "/following")
	return actor, nil
}
