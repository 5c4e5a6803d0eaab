// Package dispatch routes activities arriving at an inbox or outbox to the
// handler for their type.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Request is an activity received by a local actor.
type Request struct {
	// Actor is the local actor that owns the inbox or outbox.
	Actor    activity.Actor
	Activity activity.Activity
}

// Handler processes one activity type. Both methods return the activity that
// resulted from the request, usually the request's own activity once stored.
type Handler interface {
	HandleInbox(ctx context.Context, req Request) (activity.Activity, error)
	HandleOutbox(ctx context.Context, req Request) (activity.Activity, error)
}

// UnsupportedOperationError is returned for activities, or combinations of
// activity and object, that are not implemented. It maps to 501.
type UnsupportedOperationError struct {
	Type   string
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return e.Reason
}

func unsupported(typ string, format string, args ...any) error {
	return &UnsupportedOperationError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

// notImplemented is the answer for server to server traffic a handler only supports client side.
func notImplemented(typ string) error {
	return unsupported(typ, "only client to server %s activities are currently implemented", typ)
}

// InvalidActivityError is returned for activities that cannot be processed as
// sent, for example a Follow of someone other than the inbox owner. It maps to 400.
type InvalidActivityError struct {
	Type   string
	Reason string
}

func (e *InvalidActivityError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Type, e.Reason)
}

func invalid(typ string, format string, args ...any) error {
	return &InvalidActivityError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

// Dispatcher holds the handler for each activity type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register sets the handler for an activity type, replacing any previous one.
func (d *Dispatcher) Register(typ string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = h
}

func (d *Dispatcher) handler(act activity.Activity) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[act.Type()]
	if !ok {
		return nil, unsupported(act.Type(), "%s activities are not supported", act.Type())
	}
	return h, nil
}

// Inbox handles an activity delivered to req.Actor by another server.
func (d *Dispatcher) Inbox(ctx context.Context, req Request) (activity.Activity, error) {
	h, err := d.handler(req.Activity)
	if err != nil {
		return nil, err
	}
	if req.Activity.ActivityFields().Actor.IsEmpty() {
		return nil, invalid(req.Activity.Type(), "no actor")
	}
	telemetry.Increment("inbox_"+strings.ToLower(req.Activity.Type()), 1)
	telemetry.Trace("inbox %s %s for %s", req.Activity.Type(), activity.ID(req.Activity), activity.ID(req.Actor))
	return h.HandleInbox(ctx, req)
}

// Outbox handles an activity posted by req.Actor. An activity without an
// actor is attributed to req.Actor; one naming another actor is refused.
func (d *Dispatcher) Outbox(ctx context.Context, req Request) (activity.Activity, error) {
	h, err := d.handler(req.Activity)
	if err != nil {
		return nil, err
	}
	fields := req.Activity.ActivityFields()
	if fields.Actor.IsEmpty() {
		fields.Actor = activity.NewReference(req.Actor)
	} else if fields.Actor.Link() != activity.ID(req.Actor) {
		return nil, invalid(req.Activity.Type(), "posted to the outbox of %s by %s", activity.ID(req.Actor), fields.Actor.Link())
	}
	telemetry.Increment("outbox_"+strings.ToLower(req.Activity.Type()), 1)
	telemetry.Trace("outbox %s %s by %s", req.Activity.Type(), activity.ID(req.Activity), activity.ID(req.Actor))
	return h.HandleOutbox(ctx, req)
}

// RegisterDefaults registers the handlers for every supported activity type.
func RegisterDefaults(d *Dispatcher, env *Env) {
	d.Register(activity.AcceptType, &acceptHandler{env})
	d.Register(activity.RejectType, &rejectHandler{env})
	d.Register(activity.FollowType, &followHandler{env})
	d.Register(activity.UndoType, &undoHandler{env})
	d.Register(activity.CreateType, &createHandler{env})
	d.Register(activity.UpdateType, &updateHandler{env})
	d.Register(activity.DeleteType, &deleteHandler{env})
	d.Register(activity.LikeType, &reactionHandler{env: env, collection: likesCollection, suffix: "likes"})
	d.Register(activity.AnnounceType, &reactionHandler{env: env, collection: sharesCollection, suffix: "shares"})
}
