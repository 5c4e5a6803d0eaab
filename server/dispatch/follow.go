package dispatch

import (
	"context"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

type followHandler struct {
	env *Env
}

// HandleOutbox stores a pending Follow sent by a local actor.
func (h *followHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	follow := req.Activity.(*activity.Follow)
	if follow.Object.Link() == "" {
		return nil, invalid(follow.Type(), "nothing to follow")
	}
	if len(follow.To) == 0 {
		follow.To = activity.Audience{activity.ProxyActor(follow.Object.Link())}
	}
	follow.Accepted, follow.Rejected = false, false
	return follow, h.env.storeOwn(ctx, follow)
}

// HandleInbox stores a pending Follow of a local actor. Unless the actor
// approves followers manually it is answered right away with an Accept, or a
// Reject when the actor already has the maximum number of followers.
func (h *followHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	follow := req.Activity.(*activity.Follow)
	ownerID := activity.ID(req.Actor)
	if follow.Object.Link() != ownerID {
		// There is no guidance on following someone through another actor's inbox.
		return nil, invalid(follow.Type(), "follow of %s delivered to the inbox of %s", follow.Object.Link(), ownerID)
	}
	if activity.ID(follow) == "" {
		// The id is what the Accept refers to, so the remote server knows what was accepted.
		return nil, invalid(follow.Type(), "no id")
	}
	if err := h.env.checkRemote(follow); err != nil {
		return nil, err
	}

	if stored, err := h.env.Storage.Load(ctx, activity.ID(follow)); err != nil {
		return nil, err
	} else if storedFollow, ok := stored.(*activity.Follow); ok && storedFollow.State() != activity.FollowPending {
		telemetry.Trace("follow %s was already %s", activity.ID(follow), storedFollow.State())
		return storedFollow, nil
	}

	follow.Accepted, follow.Rejected = false, false
	if err := h.env.storeRemote(ctx, follow); err != nil {
		return nil, err
	}
	if req.Actor.ActorFields().ManuallyApprovesFollowers {
		telemetry.Log("follow %s of %s awaits approval", activity.ID(follow), ownerID)
		return follow, nil
	}

	if h.env.MaxFollowers > 0 {
		count, err := h.env.countFollowers(ctx, req.Actor)
		if err != nil {
			return nil, err
		}
		if count >= h.env.MaxFollowers {
			telemetry.Log("rejecting follow %s, %s has %d followers", activity.ID(follow), ownerID, count)
			reject := activity.NewReject(h.env.NewID(), req.Actor, follow)
			if err := h.env.reject(ctx, follow); err != nil {
				return nil, err
			}
			if err := h.env.storeOwn(ctx, reject); err != nil {
				return nil, err
			}
			h.env.send(reject, req.Actor)
			return reject, nil
		}
	}

	accept := activity.NewAccept(h.env.NewID(), req.Actor, follow)
	if err := h.env.accept(ctx, follow); err != nil {
		return nil, err
	}
	if err := h.env.storeOwn(ctx, accept); err != nil {
		return nil, err
	}
	h.env.send(accept, req.Actor)
	return accept, nil
}

type undoHandler struct {
	env *Env
}

// undoFollow reverses the relationship created by an accepted Follow.
func (h *undoHandler) undoFollow(ctx context.Context, undo activity.Activity) error {
	fields := undo.ActivityFields()
	obj, err := resolve.Resolve(ctx, h.env.Resolver, &fields.Object)
	if err != nil {
		return err
	}
	follow, ok := obj.(*activity.Follow)
	if !ok {
		return unsupported(undo.Type(), "only follow activities can be undone in the current implementation")
	}
	if follow.Actor.Link() != fields.Actor.Link() {
		return invalid(undo.Type(), "%s cannot undo a follow by %s", fields.Actor.Link(), follow.Actor.Link())
	}
	follower, err := resolve.Resolve(ctx, h.env.Resolver, &follow.Actor)
	if err != nil {
		return err
	}
	followee, err := h.env.resolveActor(ctx, follow.Object.Link())
	if err != nil {
		return err
	}
	if err := h.env.unfollow(ctx, follower, followee); err != nil {
		return err
	}
	return h.env.resetFollow(ctx, follow)
}

// resetFollow returns the stored copy of an undone Follow to pending, so the
// same Follow sent again is answered like a new one.
func (e *Env) resetFollow(ctx context.Context, undone *activity.Follow) error {
	if activity.ID(undone) == "" {
		return nil
	}
	stored, err := e.Storage.Load(ctx, activity.ID(undone))
	if err != nil {
		return err
	}
	follow, ok := stored.(*activity.Follow)
	if !ok || follow.State() == activity.FollowPending || follow.Actor.Link() != undone.Actor.Link() {
		return nil
	}
	follow.Accepted, follow.Rejected = false, false
	return e.store(ctx, follow)
}

// HandleOutbox is a local actor unfollowing someone.
func (h *undoHandler) HandleOutbox(ctx context.Context, req Request) (activity.Activity, error) {
	if err := h.undoFollow(ctx, req.Activity); err != nil {
		return nil, err
	}
	return req.Activity, h.env.storeOwn(ctx, req.Activity)
}

// HandleInbox is a remote actor unfollowing a local one.
func (h *undoHandler) HandleInbox(ctx context.Context, req Request) (activity.Activity, error) {
	if err := h.env.checkRemote(req.Activity); err != nil {
		return nil, err
	}
	if err := h.undoFollow(ctx, req.Activity); err != nil {
		return nil, err
	}
	return req.Activity, h.env.storeRemote(ctx, req.Activity)
}
