package dispatch

import (
	"context"
	"slices"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
)

type createHandler struct {
	env *Env
}

// HandleOutbox stores a new object by a local actor. The object gets an id, a
// published time and the actor as author, and shares its audience with the Create.
func (h *createHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	fields := act.ActivityFields()
	if fields.Object.IsLink() {
		return nil, invalid(act.Type(), "the created object must be embedded")
	}
	obj := fields.Object.Object()
	if _, isActivity := obj.(activity.Activity); isActivity {
		return nil, unsupported(act.Type(), "activities cannot be created")
	}
	base := obj.Base()
	h.env.prepare(obj)
	if len(base.AttributedTo) == 0 {
		base.AttributedTo = activity.References[activity.Actor]{activity.NewLink[activity.Actor](activity.ID(req.Actor))}
	}
	if len(fields.To) == 0 && len(fields.CC) == 0 {
		fields.To = append(activity.Audience(nil), base.To...)
		fields.CC = append(activity.Audience(nil), base.CC...)
	} else if len(base.To) == 0 && len(base.CC) == 0 {
		base.To = append(activity.Audience(nil), fields.To...)
		base.CC = append(activity.Audience(nil), fields.CC...)
	}
	if err := h.env.store(ctx, obj); err != nil {
		return nil, err
	}
	return act, h.env.storeOwn(ctx, act)
}

// HandleInbox keeps an object created elsewhere and sent to a local actor.
// Only content authored by the sending actor on its own server is kept.
func (h *createHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	if err := h.env.checkRemote(act); err != nil {
		return nil, err
	}
	fields := act.ActivityFields()
	obj, err := resolve.Resolve(ctx, h.env.Resolver, &fields.Object)
	if err != nil {
		return nil, err
	}
	if activity.ID(obj) == "" {
		return nil, invalid(act.Type(), "created object has no id")
	}
	switch obj.(type) {
	case activity.Actor, activity.Activity, *activity.Collection, *activity.OrderedCollection, *activity.OrderedCollectionPage:
		return nil, invalid(act.Type(), "%s objects cannot be created remotely", obj.Type())
	}
	if err := h.env.checkOrigin(act, activity.ID(obj)); err != nil {
		return nil, err
	}
	if !slices.Contains(obj.Base().AttributedTo.Links(), fields.Actor.Link()) {
		return nil, invalid(act.Type(), "%s is not attributed to %s", activity.ID(obj), fields.Actor.Link())
	}
	if err := h.env.store(ctx, obj); err != nil {
		return nil, err
	}
	return act, h.env.storeRemote(ctx, act)
}

type updateHandler struct {
	env *Env
}

// HandleOutbox replaces a stored object of the local actor with the embedded one.
func (h *updateHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	fields := act.ActivityFields()
	if fields.Object.IsLink() {
		return nil, invalid(act.Type(), "the updated object must be embedded")
	}
	obj := fields.Object.Object()
	if err := checkOwned(ctx, h.env, act, req.Actor, activity.ID(obj)); err != nil {
		return nil, err
	}
	if err := h.env.store(ctx, obj); err != nil {
		return nil, err
	}
	return act, h.env.storeOwn(ctx, act)
}

func (h *updateHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	return nil, notImplemented(req.Activity.Type())
}

// checkOwned makes sure id names a stored object attributed to actor.
func checkOwned(ctx context.Context, env *Env, act activity.Activity, actor activity.Actor, id string) error {
	if id == "" {
		return invalid(act.Type(), "object has no id")
	}
	stored, err := env.Storage.Load(ctx, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return invalid(act.Type(), "unknown object %s", id)
	}
	authors := stored.Base().AttributedTo.Links()
	for _, author := range authors {
		if author == activity.ID(actor) {
			return nil
		}
	}
	return invalid(act.Type(), "%s is not attributed to %s", id, activity.ID(actor))
}

type deleteHandler struct {
	env *Env
}

// HandleOutbox replaces a local object with a Tombstone.
func (h *deleteHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	fields := act.ActivityFields()
	id := fields.Object.Link()
	if err := checkOwned(ctx, h.env, act, req.Actor, id); err != nil {
		return nil, err
	}
	stored, err := h.env.Storage.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	tombstone := activity.NewTombstone(stored)
	if err := h.env.store(ctx, tombstone); err != nil {
		return nil, err
	}
	fields.Object.SetObject(tombstone)
	return act, h.env.storeOwn(ctx, act)
}

func (h *deleteHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	return nil, notImplemented(req.Activity.Type())
}

// reactionCollection picks the collection of an object a reaction is recorded in.
type reactionCollection func(obj activity.Object) *activity.Reference[*activity.OrderedCollection]

func likesCollection(obj activity.Object) *activity.Reference[*activity.OrderedCollection] {
	return &obj.Base().Likes
}

func sharesCollection(obj activity.Object) *activity.Reference[*activity.OrderedCollection] {
	return &obj.Base().Shares
}

// reactionHandler handles Like and Announce, which differ only in the
// collection of the target object they are recorded in.
type reactionHandler struct {
	env        *Env
	collection reactionCollection
	suffix     string // appended to the target id to name a new collection
}

// HandleOutbox stores the reaction, and when the target is stored locally,
// appends the reaction to the target's likes or shares.
func (h *reactionHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	target := act.ActivityFields().Object.Link()
	if target == "" {
		return nil, invalid(act.Type(), "no object")
	}
	if err := h.env.storeOwn(ctx, act); err != nil {
		return nil, err
	}

	h.env.relationships.Lock()
	defer h.env.relationships.Unlock()
	obj, err := h.env.Storage.Load(ctx, target)
	if err != nil || obj == nil {
		return act, err
	}
	ref := h.collection(obj)
	if ref.Link() == "" {
		ref.SetLink(target + "/" + h.suffix)
		if err := h.env.store(ctx, obj); err != nil {
			return nil, err
		}
	}
	if err := h.env.addToCollection(ctx, ref.Link(), activity.ID(act)); err != nil {
		return nil, err
	}
	return act, nil
}

func (h *reactionHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	return nil, notImplemented(req.Activity.Type())
}
