package activity

import (
	"time"
)

// Activity is an action performed by an actor on an object.
type Activity interface {
	Object
	ActivityFields() *ActivityBase
}

// ActivityBase holds the properties shared by every activity type.
type ActivityBase struct {
	ObjectBase
	Actor  Reference[Actor]  `json:"actor"`
	Object Reference[Object] `json:"object"`
}

func (a *ActivityBase) ActivityFields() *ActivityBase {
	return a
}

// FollowState is the position of a Follow in its lifecycle.
type FollowState string

const (
	FollowPending  FollowState = "pending"
	FollowAccepted FollowState = "accepted"
	FollowRejected FollowState = "rejected"
)

type Follow struct {
	ActivityBase
	Accepted bool `json:"accepted,omitempty"`
	Rejected bool `json:"rejected,omitempty"`
}

func (*Follow) Type() string { return FollowType }

func (f Follow) MarshalJSON() ([]byte, error) {
	type alias Follow
	return marshalTyped(FollowType, alias(f))
}

func (f *Follow) UnmarshalJSON(b []byte) error {
	type alias Follow
	return unmarshalTyped(b, FollowType, (*alias)(f))
}

// State reports where the follow is in its lifecycle.
// Accepted and rejected are terminal.
func (f *Follow) State() FollowState {
	switch {
	case f.Accepted:
		return FollowAccepted
	case f.Rejected:
		return FollowRejected
	default:
		return FollowPending
	}
}

type Accept struct {
	ActivityBase
}

func (*Accept) Type() string { return AcceptType }

func (a Accept) MarshalJSON() ([]byte, error) {
	type alias Accept
	return marshalTyped(AcceptType, alias(a))
}

func (a *Accept) UnmarshalJSON(b []byte) error {
	type alias Accept
	return unmarshalTyped(b, AcceptType, (*alias)(a))
}

type Reject struct {
	ActivityBase
}

func (*Reject) Type() string { return RejectType }

func (r Reject) MarshalJSON() ([]byte, error) {
	type alias Reject
	return marshalTyped(RejectType, alias(r))
}

func (r *Reject) UnmarshalJSON(b []byte) error {
	type alias Reject
	return unmarshalTyped(b, RejectType, (*alias)(r))
}

type Undo struct {
	ActivityBase
}

func (*Undo) Type() string { return UndoType }

func (u Undo) MarshalJSON() ([]byte, error) {
	type alias Undo
	return marshalTyped(UndoType, alias(u))
}

func (u *Undo) UnmarshalJSON(b []byte) error {
	type alias Undo
	return unmarshalTyped(b, UndoType, (*alias)(u))
}

type Create struct {
	ActivityBase
}

func (*Create) Type() string { return CreateType }

func (c Create) MarshalJSON() ([]byte, error) {
	type alias Create
	return marshalTyped(CreateType, alias(c))
}

func (c *Create) UnmarshalJSON(b []byte) error {
	type alias Create
	return unmarshalTyped(b, CreateType, (*alias)(c))
}

type Update struct {
	ActivityBase
}

func (*Update) Type() string { return UpdateType }

func (u Update) MarshalJSON() ([]byte, error) {
	type alias Update
	return marshalTyped(UpdateType, alias(u))
}

func (u *Update) UnmarshalJSON(b []byte) error {
	type alias Update
	return unmarshalTyped(b, UpdateType, (*alias)(u))
}

type Delete struct {
	ActivityBase
}

func (*Delete) Type() string { return DeleteType }

func (d Delete) MarshalJSON() ([]byte, error) {
	type alias Delete
	return marshalTyped(DeleteType, alias(d))
}

func (d *Delete) UnmarshalJSON(b []byte) error {
	type alias Delete
	return unmarshalTyped(b, DeleteType, (*alias)(d))
}

type Like struct {
	ActivityBase
}

func (*Like) Type() string { return LikeType }

func (l Like) MarshalJSON() ([]byte, error) {
	type alias Like
	return marshalTyped(LikeType, alias(l))
}

func (l *Like) UnmarshalJSON(b []byte) error {
	type alias Like
	return unmarshalTyped(b, LikeType, (*alias)(l))
}

type Announce struct {
	ActivityBase
}

func (*Announce) Type() string { return AnnounceType }

func (a Announce) MarshalJSON() ([]byte, error) {
	type alias Announce
	return marshalTyped(AnnounceType, alias(a))
}

func (a *Announce) UnmarshalJSON(b []byte) error {
	type alias Announce
	return unmarshalTyped(b, AnnounceType, (*alias)(a))
}

func newActivityBase(id string, actor Actor, object Object) ActivityBase {
	base := ActivityBase{
		ObjectBase: ObjectBase{
			ID:        id,
			Published: TimePtr(time.Now()),
		},
		Actor: NewReference(actor),
	}
	base.Object.SetObject(object)
	return base
}

// NewFollow returns a pending follow of followee by follower.
func NewFollow(id string, follower Actor, followee string) *Follow {
	f := &Follow{ActivityBase: newActivityBase(id, follower, nil)}
	f.Object.SetLink(followee)
	f.To = Audience{ProxyActor(followee)}
	return f
}

// NewAccept returns an Accept of act by actor, addressed to act's actor.
func NewAccept(id string, actor Actor, act Activity) *Accept {
	a := &Accept{ActivityBase: newActivityBase(id, actor, act)}
	a.To = Audience{ProxyActor(act.ActivityFields().Actor.Link())}
	return a
}

// NewReject returns a Reject of act by actor, addressed to act's actor.
func NewReject(id string, actor Actor, act Activity) *Reject {
	r := &Reject{ActivityBase: newActivityBase(id, actor, act)}
	r.To = Audience{ProxyActor(act.ActivityFields().Actor.Link())}
	return r
}

// NewCreate wraps obj in a Create by actor with the same audience as obj.
func NewCreate(id string, actor Actor, obj Object) *Create {
	c := &Create{ActivityBase: newActivityBase(id, actor, obj)}
	c.To = append(Audience(nil), obj.Base().To...)
	c.CC = append(Audience(nil), obj.Base().CC...)
	return c
}
