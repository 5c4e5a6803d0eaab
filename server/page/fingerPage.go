package page

import (
	"net/http"
	"regexp"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// MultiStaticPage can render one of many different StaticPages depending on a request param.
type MultiStaticPage struct {
	StaticPage
	HostName string
	Pages    map[string]StaticPageHandler // by user name
	actors   map[string]string           // actor URL to user name
}

var WellKnownWebFinger = MultiStaticPage{
	StaticPage: StaticPage{
		Path:        "/.well-known/webfinger",
		Accept:      "*/*",
		ContentType: "application/jrd+json",
	},
}

var WebFingerAccount = StaticPage{
	ContentType: "application/jrd+json",
	Template: `
{
	"subject": "{{ .WebFingerAccount .UserName }}",
	"aliases": [
		"{{ .UserID }}"
	],
	"links": [
		{
			"rel": "self",
			"type": "application/activity+json",
			"href": "{{ .UserID }}"
		},
		{
			"rel": "http://webfinger.net/rel/profile-page",
			"type": "text/html",
			"href": "{{ .UserID }}"
		}
	]
}`,
}

var acctRegex = regexp.MustCompile(`^acct:([^@]+)@(.+)$`)

// Add a user resource to be served
func (s *MultiStaticPage) Add(username string, meta MetaData) {
	s.HostName = meta.HostName
	// the maps may be shared with the template this page was copied from
	pages := make(map[string]StaticPageHandler, len(s.Pages)+1)
	actors := make(map[string]string, len(s.actors)+1)
	for k, v := range s.Pages {
		pages[k] = v
	}
	for k, v := range s.actors {
		actors[k] = v
	}
	s.Pages, s.actors = pages, actors

	userMeta := meta.NewUserMetaData(username)
	userPage := NewStaticPage(WebFingerAccount) // copy
	if err := userPage.Init(userMeta); err != nil {
		telemetry.Error(err, "rendering webfinger for %s", username)
		return
	}
	s.Pages[username] = userPage
	s.actors[userMeta.UserID] = username
}

// user finds the local user a resource names, either as acct:user@host or by actor URL.
func (s MultiStaticPage) user(resource string) (string, bool) {
	if name, ok := s.actors[resource]; ok {
		return name, true
	}
	matches := acctRegex.FindStringSubmatch(resource)
	if matches == nil {
		telemetry.Warn("malformed webfinger resource request [%s]", resource)
		telemetry.Increment("webfinger_malformed", 1)
		return "", false
	}
	if matches[2] != s.HostName || s.Pages[matches[1]] == nil {
		telemetry.Warn("unrecognized webfinger resource request for [%s]", resource)
		telemetry.Increment("webfinger_unrecognized", 1)
		return "", false
	}
	return matches[1], true
}

func (s MultiStaticPage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// This one specifically uses the resource query parameter to lookup webfinger resources.
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		telemetry.Warn("webfinger request without resource param")
		telemetry.Increment("webfinger_missing", 1)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	name, ok := s.user(resource)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	telemetry.Increment("webfinger_requests", 1)
	s.Pages[name].ServeHTTP(w, r)
}

func (s MultiStaticPage) Path() string {
	return s.StaticPage.Path
}

func (s MultiStaticPage) Accept() string {
	return s.StaticPage.Accept
}

func (s MultiStaticPage) Init(meta any) error {
	return nil // no template here, only user templates
}
