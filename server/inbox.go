package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/dispatch"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

const maxBodySize = 1 << 20

type ActivityInbox struct {
	service *ActivityService
	id      string
	owner   activity.Actor // the local actor the inbox belongs to
}

// GetHTTP handles GET requests to the inbox, which is never shown
func (ai *ActivityInbox) GetHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "ActivityInbox.GetHTTP [%s]", ai.id)
	telemetry.Increment("get_requests", 1)
	writeActivityJSON(w, http.StatusOK, activity.NewOrderedCollection(ai.id))
}

// PostHTTP handles POST requests to the inbox.
// This is where the bulk of handling communications from remote federated servers happens.
// e.g. Follow requests will come in through here.
func (ai *ActivityInbox) PostHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Increment("post_requests", 1)

	var signer activity.Actor
	if !ai.service.Config.Server.ReceiveUnsigned {
		var err error
		if signer, err = ai.service.signer.Verify(r.Context(), r); err != nil {
			telemetry.Error(err, "signature unverified for %s %s", r.Method, r.URL.Path)
			writeError(w, err)
			return
		}
		telemetry.Trace("signature verified for %s %s", r.Method, r.URL.Path)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		telemetry.Error(err, "reading body bytes")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	act, err := decodeActivity(body)
	if err != nil {
		telemetry.Trace("undecodable activity [%s]", string(body))
		writeError(w, err)
		return
	}

	if signer != nil && act.ActivityFields().Actor.Link() != activity.ID(signer) {
		// Only the actor itself may deliver its activities.
		telemetry.Warn("%s %s by %s was signed by %s", act.Type(), activity.ID(act), act.ActivityFields().Actor.Link(), activity.ID(signer))
		http.Error(w, "activity actor does not match the signature", http.StatusUnauthorized)
		return
	}

	result, err := ai.service.dispatcher.Inbox(r.Context(), dispatch.Request{Actor: ai.owner, Activity: act})
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.Log("POST %s %s by %s at inbox [%s] - success", act.Type(), activity.ID(act), act.ActivityFields().Actor.Link(), ai.id)
	writeActivityJSON(w, http.StatusOK, result)
}

// decodeActivity decodes a request body that must hold an activity. Unknown
// types are unsupported rather than malformed.
func decodeActivity(body []byte) (activity.Activity, error) {
	obj, err := activity.Decode(body)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case activity.Activity:
		return v, nil
	case *activity.Unknown:
		return nil, &dispatch.UnsupportedOperationError{Type: v.Type(), Reason: fmt.Sprintf("%s activities are not supported", v.Type())}
	default:
		return nil, &dispatch.InvalidActivityError{Type: obj.Type(), Reason: "not an activity"}
	}
}
