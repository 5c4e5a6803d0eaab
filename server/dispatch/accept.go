package dispatch

import (
	"context"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// resolveFollow resolves the object of an Accept or Reject posted by a local
// actor, which must be a Follow. The stored copy of the Follow is preferred so
// its state is current.
func (e *Env) resolveFollow(ctx context.Context, act activity.Activity, verb string) (*activity.Follow, error) {
	fields := act.ActivityFields()
	obj, err := resolve.Resolve(ctx, e.Resolver, &fields.Object)
	if err != nil {
		return nil, err
	}
	follow, ok := obj.(*activity.Follow)
	if !ok {
		return nil, unsupported(act.Type(), "only follow activities can be %s in the current implementation", verb)
	}
	if id := activity.ID(follow); id != "" {
		stored, err := e.Storage.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if storedFollow, ok := stored.(*activity.Follow); ok {
			return storedFollow, nil
		}
	}
	return follow, nil
}

// sentFollow finds the Follow an incoming Accept or Reject answers. It must be
// one a local actor sent, so only the stored copy counts, and only the followee
// may answer it.
func (e *Env) sentFollow(ctx context.Context, req Request, verb string) (*activity.Follow, error) {
	act := req.Activity
	if err := e.checkRemote(act); err != nil {
		return nil, err
	}
	fields := act.ActivityFields()
	id := fields.Object.Link()
	if id == "" {
		return nil, invalid(act.Type(), "no object")
	}
	stored, err := e.Storage.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, invalid(act.Type(), "%s was not sent from here", id)
	}
	follow, ok := stored.(*activity.Follow)
	if !ok {
		return nil, unsupported(act.Type(), "only follow activities can be %s in the current implementation", verb)
	}
	if follow.Actor.Link() != activity.ID(req.Actor) {
		return nil, invalid(act.Type(), "%s follow was not sent by %s", verb, activity.ID(req.Actor))
	}
	if follow.Object.Link() != fields.Actor.Link() {
		return nil, invalid(act.Type(), "%s cannot answer a follow of %s", fields.Actor.Link(), follow.Object.Link())
	}
	return follow, nil
}

// accept applies an Accept of follow: each side is added to the other's
// relationship collection and the Follow becomes accepted.
func (e *Env) accept(ctx context.Context, follow *activity.Follow) error {
	if follow.State() != activity.FollowPending {
		telemetry.Trace("follow %s is already %s", activity.ID(follow), follow.State())
		return nil
	}
	follower, err := resolve.Resolve(ctx, e.Resolver, &follow.Actor)
	if err != nil {
		return err
	}
	followee, err := e.resolveActor(ctx, follow.Object.Link())
	if err != nil {
		return err
	}
	if err := e.follow(ctx, follower, followee); err != nil {
		return err
	}
	follow.Accepted = true
	if activity.ID(follow) != "" {
		return e.store(ctx, follow)
	}
	return nil
}

// reject marks follow rejected. Relationships do not change.
func (e *Env) reject(ctx context.Context, follow *activity.Follow) error {
	if follow.State() != activity.FollowPending {
		telemetry.Trace("follow %s is already %s", activity.ID(follow), follow.State())
		return nil
	}
	follow.Rejected = true
	if activity.ID(follow) != "" {
		return e.store(ctx, follow)
	}
	return nil
}

type acceptHandler struct {
	env *Env
}

// HandleOutbox is a local actor accepting a Follow of themselves.
func (h *acceptHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	follow, err := h.env.resolveFollow(ctx, act, "accepted")
	if err != nil {
		return nil, err
	}
	if follow.Object.Link() != activity.ID(req.Actor) {
		return nil, invalid(act.Type(), "%s cannot accept a follow of %s", activity.ID(req.Actor), follow.Object.Link())
	}
	if err := h.env.accept(ctx, follow); err != nil {
		return nil, err
	}
	return act, h.env.storeOwn(ctx, act)
}

// HandleInbox is a remote actor accepting a Follow sent by a local actor.
func (h *acceptHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	follow, err := h.env.sentFollow(ctx, req, "accepted")
	if err != nil {
		return nil, err
	}
	if err := h.env.accept(ctx, follow); err != nil {
		return nil, err
	}
	return act, h.env.storeRemote(ctx, act)
}

type rejectHandler struct {
	env *Env
}

func (h *rejectHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	follow, err := h.env.resolveFollow(ctx, act, "rejected")
	if err != nil {
		return nil, err
	}
	if follow.Object.Link() != activity.ID(req.Actor) {
		return nil, invalid(act.Type(), "%s cannot reject a follow of %s", activity.ID(req.Actor), follow.Object.Link())
	}
	if err := h.env.reject(ctx, follow); err != nil {
		return nil, err
	}
	return act, h.env.storeOwn(ctx, act)
}

func (h *rejectHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	act := req.Activity
	follow, err := h.env.sentFollow(ctx, req, "rejected")
	if err != nil {
		return nil, err
	}
	if err := h.env.reject(ctx, follow); err != nil {
		return nil, err
	}
	return act, h.env.storeRemote(ctx, act)
}
