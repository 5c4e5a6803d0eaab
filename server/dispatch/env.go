package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Queue sends an activity to its recipients after the current request is done.
type Queue interface {
	Queue(act activity.Activity, sender activity.Actor)
}

// Env is what the handlers share.
type Env struct {
	Storage  storage.Storage
	Resolver *resolve.Resolver
	// Outgoing receives activities the server produces on its own, such as the
	// Accept for an automatically approved Follow. Nil drops them.
	Outgoing Queue
	// BaseURL prefixes the ids of new local entities.
	BaseURL string
	// MaxFollowers makes automatic follow approval reject followers past this count. Zero is unlimited.
	MaxFollowers int

	// relationships serializes updates to followers and following collections
	relationships sync.Mutex
}

// NewID returns a new id for a local entity.
func (e *Env) NewID() string {
	return fmt.Sprintf("%s/o/%s", strings.TrimSuffix(e.BaseURL, "/"), uuid.NewString())
}

// prepare gives a new local entity an id and a published time if it has none.
func (e *Env) prepare(obj activity.Object) {
	base := obj.Base()
	if base.ID == "" {
		base.ID = e.NewID()
	}
	if base.Published == nil {
		base.Published = activity.TimePtr(time.Now())
	}
}

func (e *Env) store(ctx context.Context, obj activity.Object) error {
	if err := e.Storage.Store(ctx, obj); err != nil {
		return err
	}
	e.Resolver.Invalidate(activity.ID(obj))
	return nil
}

// storeOwn stores an activity performed by a local actor.
func (e *Env) storeOwn(ctx context.Context, act activity.Activity) error {
	e.prepare(act)
	return e.store(ctx, act)
}

// storeRemote stores an activity received from another server. Activities
// without an id cannot be referred to later and are not kept.
func (e *Env) storeRemote(ctx context.Context, act activity.Activity) error {
	if activity.ID(act) == "" {
		return nil
	}
	return e.store(ctx, act)
}

// host returns the lower case host of an id, or "" when it has none.
func host(id string) string {
	u, err := url.Parse(id)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// isLocal reports whether id names an entity of this server.
func (e *Env) isLocal(id string) bool {
	local := host(e.BaseURL)
	return local != "" && host(id) == local
}

// checkOrigin refuses an id received from another server unless it lives on
// the server of the actor that sent it. Local ids are never accepted from outside.
func (e *Env) checkOrigin(act activity.Activity, id string) error {
	actorID := act.ActivityFields().Actor.Link()
	if e.isLocal(id) {
		return invalid(act.Type(), "%s sent by %s names a local entity", id, actorID)
	}
	if h := host(id); h == "" || h != host(actorID) {
		return invalid(act.Type(), "%s does not belong to the server of %s", id, actorID)
	}
	return nil
}

// checkRemote applies checkOrigin to the id of a received activity. Activities
// without an id are not stored and pass.
func (e *Env) checkRemote(act activity.Activity) error {
	if activity.ID(act) == "" {
		return nil
	}
	return e.checkOrigin(act, activity.ID(act))
}

func (e *Env) send(act activity.Activity, sender activity.Actor) {
	if e.Outgoing != nil {
		e.Outgoing.Queue(act, sender)
	}
}

// resolveActor resolves a link that must name an actor.
func (e *Env) resolveActor(ctx context.Context, link string) (activity.Actor, error) {
	ref := activity.NewLink[activity.Actor](link)
	return resolve.Resolve(ctx, e.Resolver, &ref)
}

// collectionID returns the id of an actor's followers or following collection.
func collectionID(ref activity.Reference[*activity.OrderedCollection], actorID, suffix string) string {
	if link := ref.Link(); link != "" {
		return link
	}
	return actorID + "/" + suffix
}

func FollowersID(actor activity.Actor) string {
	return collectionID(actor.ActorFields().Followers, activity.ID(actor), "followers")
}

func FollowingID(actor activity.Actor) string {
	return collectionID(actor.ActorFields().Following, activity.ID(actor), "following")
}

// Collection loads a stored collection, or returns a new empty one with the
// given id. It reads storage directly so the result is never a shared cached value.
func (e *Env) Collection(ctx context.Context, id string) (*activity.OrderedCollection, error) {
	obj, err := e.Storage.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c, ok := obj.(*activity.OrderedCollection); ok {
		return c, nil
	}
	return activity.NewOrderedCollection(id), nil
}

// addToCollection adds item to a collection. Callers hold e.relationships.
func (e *Env) addToCollection(ctx context.Context, id, item string) error {
	c, err := e.Collection(ctx, id)
	if err != nil {
		return err
	}
	if !c.Add(activity.NewLink[activity.Object](item)) {
		return nil
	}
	return e.store(ctx, c)
}

// removeFromCollection removes item from a collection. Callers hold e.relationships.
func (e *Env) removeFromCollection(ctx context.Context, id, item string) error {
	c, err := e.Collection(ctx, id)
	if err != nil {
		return err
	}
	if !c.Remove(item) {
		return nil
	}
	return e.store(ctx, c)
}

// follow records that follower follows followee. Repeating it changes nothing.
func (e *Env) follow(ctx context.Context, follower, followee activity.Actor) error {
	e.relationships.Lock()
	defer e.relationships.Unlock()
	if err := e.addToCollection(ctx, FollowersID(followee), activity.ID(follower)); err != nil {
		return err
	}
	if err := e.addToCollection(ctx, FollowingID(follower), activity.ID(followee)); err != nil {
		return err
	}
	telemetry.Log("%s now follows %s", activity.ID(follower), activity.ID(followee))
	return nil
}

// unfollow removes the relationship recorded by follow.
func (e *Env) unfollow(ctx context.Context, follower, followee activity.Actor) error {
	e.relationships.Lock()
	defer e.relationships.Unlock()
	if err := e.removeFromCollection(ctx, FollowersID(followee), activity.ID(follower)); err != nil {
		return err
	}
	if err := e.removeFromCollection(ctx, FollowingID(follower), activity.ID(followee)); err != nil {
		return err
	}
	telemetry.Log("%s no longer follows %s", activity.ID(follower), activity.ID(followee))
	return nil
}

// countFollowers returns the size of an actor's followers collection.
func (e *Env) countFollowers(ctx context.Context, actor activity.Actor) (int, error) {
	c, err := e.Collection(ctx, FollowersID(actor))
	if err != nil {
		return 0, err
	}
	return len(c.OrderedItems), nil
}
