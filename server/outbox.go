package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/dispatch"
	"github.com/tkrehbiel/activitycore/server/rss"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// outboxPageSize is how many activities GET on the outbox shows
const outboxPageSize = 20

type ActivityOutbox struct {
	service *ActivityService
	id      string
	owner   activity.Actor
	token   string // bearer token required to post, posting is disabled without one
	rssURL  string
}

// authorized checks the bearer token of a client posting to the outbox.
func (ao *ActivityOutbox) authorized(r *http.Request) bool {
	if ao.token == "" {
		return false
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return found && subtle.ConstantTimeCompare([]byte(token), []byte(ao.token)) == 1
}

// PostHTTP handles a local client publishing an activity. A bare object is
// wrapped in a Create. The stored activity is returned and delivered to its
// audience after the response.
func (ao *ActivityOutbox) PostHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Increment("outbox_posts", 1)
	if !ao.authorized(r) {
		telemetry.Warn("unauthorized post to outbox [%s]", ao.id)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		telemetry.Error(err, "reading body bytes")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	obj, err := activity.Decode(body)
	if err != nil {
		writeError(w, err)
		return
	}
	act, ok := obj.(activity.Activity)
	switch {
	case ok:
	case isUnknown(obj):
		writeError(w, &dispatch.UnsupportedOperationError{Type: obj.Type(), Reason: fmt.Sprintf("%s activities are not supported", obj.Type())})
		return
	default:
		act = activity.NewCreate("", ao.owner, obj)
	}

	result, err := ao.publish(r.Context(), act)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", activity.ID(result))
	writeActivityJSON(w, http.StatusOK, result)
}

func isUnknown(obj activity.Object) bool {
	_, ok := obj.(*activity.Unknown)
	return ok
}

// publish runs act through the outbox handlers and queues it for delivery.
func (ao *ActivityOutbox) publish(ctx context.Context, act activity.Activity) (activity.Activity, error) {
	result, err := ao.service.dispatcher.Outbox(ctx, dispatch.Request{Actor: ao.owner, Activity: act})
	if err != nil {
		return nil, err
	}
	ao.service.pipeline.Queue(result, ao.owner)
	return result, nil
}

// GetHTTP shows the latest activities of the owner the requester may see.
func (ao *ActivityOutbox) GetHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "ActivityOutbox.GetHTTP %s", ao.id)
	telemetry.Increment("get_requests", 1)

	activities, err := ao.service.store.Query(r.Context(), "", storage.Filter{Actor: activity.ID(ao.owner)}, outboxPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	visible := ao.service.Visible
	if visible == nil {
		visible = PublicOnly
	}
	collection := activity.NewOrderedCollection(ao.id)
	for _, act := range activities {
		if visible(r, act) {
			collection.Add(activity.NewReference(act))
		}
	}
	writeActivityJSON(w, http.StatusOK, collection)
}

// NewItem is called when a new RSS item is detected by the watcher.
// The item is published as a public Note addressed to the owner's followers.
func (ao *ActivityOutbox) NewItem(ctx context.Context, item rss.Item) {
	telemetry.Trace("new item [%s]", item.Title)
	telemetry.Increment("rss_newitems", 1)

	note := &activity.Note{ObjectBase: activity.ObjectBase{
		Name:    item.Title,
		Content: fmt.Sprintf(`<p><a href="%s">%s</a></p>`, html.EscapeString(item.URL), html.EscapeString(item.Title)),
		URL:     activity.URLs{item.URL},
		To:      activity.Audience{activity.PublicActor},
		CC:      activity.Audience{activity.ProxyActor(dispatch.FollowersID(ao.owner))},
	}}
	if !item.Published.IsZero() {
		note.Published = activity.TimePtr(item.Published)
	}
	if _, err := ao.publish(ctx, activity.NewCreate("", ao.owner, note)); err != nil {
		telemetry.Error(err, "publishing %s", item.URL)
	}
}

// StatusCode is called by the RSS watcher to report the latest fetch status code
func (ao *ActivityOutbox) StatusCode(code int) {
	telemetry.Trace("rss feed return code [%d]", code)
	telemetry.Increment("rss_fetches", 1)
}

// knownItems returns the feed items that were already published as notes.
func (ao *ActivityOutbox) knownItems(ctx context.Context) ([]rss.Item, error) {
	notes, err := ao.service.store.Query(ctx, activity.NoteType, storage.Filter{AttributedTo: activity.ID(ao.owner)}, 0)
	if err != nil {
		return nil, err
	}
	items := make([]rss.Item, 0, len(notes))
	for _, note := range notes {
		base := note.Base()
		if len(base.URL) == 0 {
			continue
		}
		items = append(items, rss.Item{
			ID:        base.URL[0],
			Title:     base.Name,
			Published: base.Timestamp(),
			Updated:   base.Timestamp(),
			URL:       base.URL[0],
		})
	}
	return items, nil
}

// WatchRSS watches an RSS feed for new items and publishes them
func (ao *ActivityOutbox) WatchRSS(ctx context.Context) {
	watcher := rss.NewFeedWatcher(ao.rssURL, ao)

	// Items published before a restart are not published again
	known, err := ao.knownItems(ctx)
	if err != nil {
		telemetry.Error(err, "loading published items of %s", activity.ID(ao.owner))
	}
	for _, item := range known {
		watcher.AddKnown(item)
	}

	telemetry.Log("watching %s", ao.rssURL)
	watcher.Watch(ctx, 5*time.Minute)
}
