package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/resolve"
	"github.com/tkrehbiel/activitycore/server/signing"
	"github.com/tkrehbiel/activitycore/server/storage"
)

const senderID = "https://example.com/u/sender"

// inboxServer accepts signed posts on /{name}/inbox and fails every post to /fail/inbox
type inboxServer struct {
	*httptest.Server
	signer *signing.Signer
	delay  time.Duration

	mu       sync.Mutex
	received map[string]int
	signers  map[string]int

	active    int32
	maxActive int32
}

func (s *inboxServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, n) {
			break
		}
	}

	s.mu.Lock()
	s.received[r.URL.Path]++
	s.mu.Unlock()
	if strings.HasPrefix(r.URL.Path, "/fail/") {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	actor, err := s.signer.Verify(r.Context(), r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	s.signers[activity.ID(actor)]++
	s.mu.Unlock()
	time.Sleep(s.delay)
	w.WriteHeader(http.StatusAccepted)
}

func (s *inboxServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[path]
}

func (s *inboxServer) signedBy(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signers[id]
}

type fixture struct {
	db       storage.Database
	resolver *resolve.Resolver
	signer   *signing.Signer
	server   *inboxServer
	sender   activity.Actor
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	db := storage.NewDatabase(storage.MemoryConnection(t.Name()), storage.DriverPure)
	require.NoError(t, db.Open())
	t.Cleanup(db.Close)
	resolver := resolve.New(db, resolve.Options{})
	t.Cleanup(resolver.Stop)
	signer := signing.NewSigner(db, resolver)

	sender, err := activity.NewActor(activity.PersonType, senderID, "sender")
	require.NoError(t, err)
	publicKey, err := signer.InitKey(ctx, senderID)
	require.NoError(t, err)
	pem, err := signing.PublicKeyPEM(publicKey)
	require.NoError(t, err)
	sender.ActorFields().PublicKey = &activity.PublicKey{ID: senderID + "#main-key", Owner: senderID, PublicKeyPem: pem}
	require.NoError(t, db.Store(ctx, sender))

	server := &inboxServer{signer: signer, received: map[string]int{}, signers: map[string]int{}}
	server.Server = httptest.NewServer(server)
	t.Cleanup(server.Close)

	return &fixture{db: db, resolver: resolver, signer: signer, server: server, sender: sender}
}

// remoteActor stores an actor whose inbox is on the test server.
func (f *fixture) remoteActor(t *testing.T, name string) activity.Actor {
	actor, err := activity.NewActor(activity.PersonType, f.server.URL+"/"+name, name)
	require.NoError(t, err)
	require.NoError(t, f.db.Store(context.Background(), actor))
	return actor
}

func (f *fixture) collection(t *testing.T, id string, members ...activity.Actor) {
	c := activity.NewOrderedCollection(id)
	for _, m := range members {
		c.Add(activity.NewLink[activity.Object](activity.ID(m)))
	}
	require.NoError(t, f.db.Store(context.Background(), c))
}

func ids(actors []activity.Actor) []string {
	out := make([]string, 0, len(actors))
	for _, a := range actors {
		out = append(out, activity.ID(a))
	}
	sort.Strings(out)
	return out
}

func newNoteCreate(to, cc activity.Audience) *activity.Create {
	note := &activity.Note{ObjectBase: activity.ObjectBase{ID: "https://example.com/o/note", Content: "hi", To: to, CC: cc}}
	create := activity.NewCreate("https://example.com/o/create", nil, note)
	create.Actor.SetLink(senderID)
	return create
}

func TestRecipients_Deduplicated(t *testing.T) {
	f := newFixture(t)
	x := f.remoteActor(t, "x")
	y := f.remoteActor(t, "y")
	z := f.remoteActor(t, "z")
	f.collection(t, "https://example.com/u/a/followers", x, y, f.sender)
	f.collection(t, "https://example.com/u/b/followers", x, z)

	create := newNoteCreate(
		activity.Audience{activity.PublicActor, "https://example.com/u/a/followers"},
		activity.Audience{"https://example.com/u/b/followers", activity.ProxyActor(activity.ID(y))},
	)
	engine := New(f.resolver, f.signer, Options{})
	recipients, err := engine.Recipients(context.Background(), create, f.sender)
	require.NoError(t, err)

	expected := []string{activity.ID(x), activity.ID(y), activity.ID(z)}
	sort.Strings(expected)
	assert.Equal(t, expected, ids(recipients))
	assert.Equal(t, recipients, create.ComputedTargets)
}

func TestRecipients_PagedCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.remoteActor(t, "x")
	y := f.remoteActor(t, "y")

	second := &activity.OrderedCollectionPage{ObjectBase: activity.ObjectBase{ID: "https://remote.example/followers?page=2"}}
	second.OrderedItems = activity.References[activity.Object]{activity.NewLink[activity.Object](activity.ID(y))}
	require.NoError(t, f.db.Store(ctx, second))

	first := &activity.OrderedCollectionPage{ObjectBase: activity.ObjectBase{ID: "https://remote.example/followers?page=1"}}
	first.OrderedItems = activity.References[activity.Object]{activity.NewReference[activity.Object](x)}
	first.Next.SetLink(second.ID)

	paged := &activity.OrderedCollection{ObjectBase: activity.ObjectBase{ID: "https://remote.example/followers"}}
	paged.First.SetObject(first)
	require.NoError(t, f.db.Store(ctx, paged))

	engine := New(f.resolver, f.signer, Options{})
	recipients, err := engine.Recipients(ctx, newNoteCreate(activity.Audience{"https://remote.example/followers"}, nil), f.sender)
	require.NoError(t, err)
	assert.Equal(t, []string{activity.ID(x), activity.ID(y)}, ids(recipients))
}

func TestRecipients_UnresolvableEntry(t *testing.T) {
	f := newFixture(t)
	x := f.remoteActor(t, "x")
	engine := New(f.resolver, f.signer, Options{})

	create := newNoteCreate(activity.Audience{activity.ProxyActor(activity.ID(x)), "urn:nobody"}, nil)
	recipients, err := engine.Recipients(context.Background(), create, f.sender)
	assert.Equal(t, []string{activity.ID(x)}, ids(recipients))
	var resErr *resolve.ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "urn:nobody", resErr.ID)
}

func TestDeliver_PartialFailure(t *testing.T) {
	f := newFixture(t)
	x := f.remoteActor(t, "x")
	broken := f.remoteActor(t, "fail")
	z := f.remoteActor(t, "z")
	f.collection(t, "https://example.com/u/sender/followers", x, broken, z)

	engine := New(f.resolver, f.signer, Options{Workers: 2})
	create := newNoteCreate(
		activity.Audience{activity.PublicActor},
		activity.Audience{"https://example.com/u/sender/followers", activity.ProxyActor(activity.ID(x))},
	)
	report := engine.Deliver(context.Background(), create, f.sender)

	sort.Strings(report.Delivered)
	assert.Equal(t, []string{activity.ID(x), activity.ID(z)}, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, activity.ID(broken), report.Failed[0].Recipient)
	assert.Equal(t, http.StatusInternalServerError, report.Failed[0].Status)

	var deliveryErr *DeliveryError
	assert.True(t, errors.As(report.Err(), &deliveryErr))

	assert.Equal(t, 1, f.server.count("/x/inbox"))
	assert.Equal(t, 1, f.server.count("/z/inbox"))
	assert.Equal(t, 1, f.server.count("/fail/inbox"))
	assert.Equal(t, 2, f.server.signedBy(senderID))
}

func TestDeliver_NoInbox(t *testing.T) {
	f := newFixture(t)
	actor, err := activity.NewActor(activity.ServiceType, "https://remote.example/svc", "svc")
	require.NoError(t, err)
	actor.ActorFields().Inbox = ""

	report := New(f.resolver, f.signer, Options{}).DeliverTo(context.Background(), newNoteCreate(nil, nil), f.sender, []activity.Actor{actor})
	require.Len(t, report.Failed, 1)
	assert.Empty(t, report.Delivered)
}

func TestDeliver_BoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	f.server.delay = 50 * time.Millisecond
	var recipients []activity.Actor
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		recipients = append(recipients, f.remoteActor(t, name))
	}

	report := New(f.resolver, f.signer, Options{Workers: 2}).DeliverTo(context.Background(), newNoteCreate(nil, nil), f.sender, recipients)
	assert.NoError(t, report.Err())
	assert.Len(t, report.Delivered, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.server.maxActive), int32(2))
}

func TestDeliver_Cancelled(t *testing.T) {
	f := newFixture(t)
	x := f.remoteActor(t, "x")
	y := f.remoteActor(t, "y")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := New(f.resolver, f.signer, Options{}).DeliverTo(ctx, newNoteCreate(nil, nil), f.sender, []activity.Actor{x, y})

	assert.Empty(t, report.Delivered)
	require.Len(t, report.Failed, 2)
	for _, failure := range report.Failed {
		assert.ErrorIs(t, failure, context.Canceled)
	}
	assert.Zero(t, f.server.count("/x/inbox"))
	assert.Zero(t, f.server.count("/y/inbox"))
}
