package page

import (
	"fmt"
	"net/url"
	"strings"
)

// SubPath is the first path segment of every local actor URL
const SubPath = "a"

// MetaData contains server information typically used in templates
type MetaData struct {
	URL       string // full server URL with scheme, host, port
	Scheme    string // http or https
	HostName  string // server hostname
	UserCount int    // number of local actors, for nodeinfo
}

// These functions set the base paths for endpoints

// WebFingerAccount gets a webfinger user account name
func (m MetaData) WebFingerAccount(name string) string {
	return fmt.Sprintf("acct:%s@%s", name, m.HostName)
}

// ActorURL gets an ActivtyPub Actor ID and endpoint URL
func (m MetaData) ActorURL(name string) string {
	s, _ := url.JoinPath(m.URL, SubPath, name)
	return s
}

// BaseURL is URL without a trailing slash, for joining in templates
func (m MetaData) BaseURL() string {
	return strings.TrimSuffix(m.URL, "/")
}

// WebFingerTemplate is the lrdd URI template host-meta advertises
func (m MetaData) WebFingerTemplate() string {
	return m.BaseURL() + "/.well-known/webfinger?resource={uri}"
}

func (m MetaData) NewUserMetaData(name string) UserMetaData {
	return UserMetaData{
		MetaData: m,
		UserName: name,
		UserID:   m.ActorURL(name),
	}
}

func NewMetaData(u *url.URL) MetaData {
	return MetaData{
		URL:      u.String(),
		Scheme:   u.Scheme,
		HostName: u.Hostname(),
	}
}

// UserMetaData contains user information typically used in templates
type UserMetaData struct {
	MetaData
	UserName string // Plain undecorated username
	UserID   string // ActivityPub user ID (an URL for application/json+activity)
}
