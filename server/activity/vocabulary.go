package activity

// ActivityPub and ActivityStreams vocabulary

const (
	IDProperty        = "id"
	TypeProperty      = "type"
	ContextProperty   = "@context"
	PublishedProperty = "published"
)

const (
	Context         = "https://www.w3.org/ns/activitystreams"
	SecurityContext = "https://w3id.org/security/v1"
	ContentType     = `application/activity+json; profile="https://www.w3.org/ns/activitystreams"`
	ContentTypeLD   = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	// AcceptHeader is sent when dereferencing remote objects
	AcceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// ActivityPub object types
const (
	NoteType                  = "Note"
	ArticleType               = "Article"
	DocumentType              = "Document"
	PageType                  = "Page"
	ImageType                 = "Image"
	TombstoneType             = "Tombstone"
	CollectionType            = "Collection"
	OrderedCollectionType     = "OrderedCollection"
	OrderedCollectionPageType = "OrderedCollectionPage"
)

// ActivityPub actor types
const (
	PersonType       = "Person"
	ServiceType      = "Service"
	ApplicationType  = "Application"
	GroupType        = "Group"
	OrganizationType = "Organization"
)

// ActivityPub activity types
const (
	CreateType   = "Create"
	UpdateType   = "Update"
	DeleteType   = "Delete"
	FollowType   = "Follow"
	AcceptType   = "Accept"
	RejectType   = "Reject"
	UndoType     = "Undo"
	LikeType     = "Like"
	AnnounceType = "Announce"
)

const (
	// ActivityPub time format string
	TimeFormat = "2006-01-02T15:04:05Z"
)
