package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/delivery"
	"github.com/tkrehbiel/activitycore/server/dispatch"
	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/resolve"
	"github.com/tkrehbiel/activitycore/server/signing"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// activityAccept matches the Accept headers of ActivityPub clients.
const activityAccept = `application/(activity|ld)\+json`

// VisibilityOracle decides whether the requester of r may see obj.
type VisibilityOracle func(r *http.Request, obj activity.Object) bool

// PublicOnly shows public objects and collections to everyone and hides the rest.
func PublicOnly(r *http.Request, obj activity.Object) bool {
	switch obj.(type) {
	case *activity.OrderedCollection, *activity.Collection, *activity.Tombstone:
		return true
	}
	return obj.Base().IsPublic()
}

type ActivityService struct {
	Config Config
	Server http.Server
	// Visible guards GET requests for stored objects. Defaults to PublicOnly.
	Visible VisibilityOracle

	router     *mux.Router
	meta       page.MetaData
	users      []*ActivityUser
	store      storage.Database
	resolver   *resolve.Resolver
	signer     *signing.Signer
	dispatcher *dispatch.Dispatcher
	env        *dispatch.Env
	pipeline   *delivery.Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ActivityUser struct {
	name   string
	token  string
	actor  activity.Actor
	outbox ActivityOutbox
	inbox  ActivityInbox
}

// unsigned leaves outgoing requests unsigned, for testing against permissive servers
type unsigned struct{}

func (unsigned) Sign(context.Context, *http.Request, activity.Actor, []byte) error { return nil }

func (s *ActivityService) addHandlers() {
	s.router.HandleFunc("/", homeHandler).Methods("GET")

	s.addPageHandler(page.NewStaticPage(page.WellKnownHostMeta), s.meta)
	s.addPageHandler(page.NewStaticPage(page.WellKnownHostMetaJSON), s.meta)
	s.addPageHandler(page.NewStaticPage(page.WellKnownNodeInfo), s.meta)
	s.addPageHandler(page.NewStaticPage(page.NodeInfo), s.meta)

	webfinger := page.WellKnownWebFinger // copy
	for _, user := range s.users {
		webfinger.Add(user.name, s.meta)
	}
	s.addPageHandler(&webfinger, s.meta)

	for _, user := range s.users {
		user := user
		actorPath := fmt.Sprintf("/%s/%s", page.SubPath, user.name)
		route := s.router.HandleFunc(actorPath, user.serveActor).Methods("GET")
		if !s.Config.Server.AcceptAll {
			route.HeadersRegexp("Accept", activityAccept)
		}

		s.router.HandleFunc(actorPath+"/outbox", user.outbox.GetHTTP).Methods("GET")
		s.router.HandleFunc(actorPath+"/outbox", RequestLogger{Handler: user.outbox.PostHTTP}.ServeHTTP).Methods("POST")
		s.router.HandleFunc(actorPath+"/inbox", user.inbox.GetHTTP).Methods("GET")
		s.router.HandleFunc(actorPath+"/inbox", RequestLogger{Handler: user.inbox.PostHTTP}.ServeHTTP).Methods("POST")
		s.router.HandleFunc(actorPath+"/followers", s.collectionHandler(dispatch.FollowersID(user.actor))).Methods("GET")
		s.router.HandleFunc(actorPath+"/following", s.collectionHandler(dispatch.FollowingID(user.actor))).Methods("GET")
	}

	s.router.HandleFunc("/o/{id:.+}", s.objectHandler).Methods("GET")
}

func (s *ActivityService) addPageHandler(pg page.StaticPageHandler, meta any) {
	if err := pg.Init(meta); err != nil {
		telemetry.Error(err, "rendering %s", pg.Path())
	}
	router := s.router.HandleFunc(pg.Path(), pg.ServeHTTP).Methods("GET")
	if !s.Config.Server.AcceptAll && pg.Accept() != "" && pg.Accept() != "*/*" {
		router.Headers("Accept", pg.Accept())
	}
}

func (u *ActivityUser) serveActor(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "actor %s", u.name)
	telemetry.Increment("actor_requests", 1)
	writeActivityJSON(w, http.StatusOK, u.actor)
}

// collectionHandler serves a relationship collection of a local actor.
func (s *ActivityService) collectionHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		telemetry.Request(r, "collection %s", id)
		c, err := s.env.Collection(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeActivityJSON(w, http.StatusOK, c)
	}
}

// objectHandler serves stored objects by their full id. Objects the requester
// may not see are reported as missing.
func (s *ActivityService) objectHandler(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "object")
	telemetry.Increment("object_requests", 1)
	id := strings.TrimSuffix(s.Config.URL, "/") + r.URL.Path
	obj, err := s.store.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	visible := s.Visible
	if visible == nil {
		visible = PublicOnly
	}
	if obj == nil || !visible(r, obj) {
		http.NotFound(w, r)
		return
	}
	status := http.StatusOK
	if _, ok := obj.(*activity.Tombstone); ok {
		status = http.StatusGone
	}
	writeActivityJSON(w, status, obj)
}

// Start opens the listener and the background workers: delivery and feed watchers.
func (s *ActivityService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pipeline.Run(ctx)
	}()
	for _, user := range s.users {
		if user.outbox.rssURL == "" {
			continue
		}
		user := user
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			user.outbox.WatchRSS(ctx)
		}()
	}

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetry.Error(err, "listener stopped")
		}
	}()
}

func (s *ActivityService) ListenAndServe() error {
	if s.Config.Server.useTLS() {
		telemetry.Log("tls listener starting on port %d", s.Config.Server.Port)
		return s.Server.ListenAndServeTLS(s.Config.Server.Certificate, s.Config.Server.PrivateKey)
	}
	telemetry.Log("http listener starting on port %d", s.Config.Server.Port)
	return s.Server.ListenAndServe()
}

// Stop shuts down the listener, gives queued deliveries until ctx ends to
// finish, then stops the background workers.
func (s *ActivityService) Stop(ctx context.Context) {
	if err := s.Server.Shutdown(ctx); err != nil {
		telemetry.Error(err, "shutting down listener")
	}
	if err := s.pipeline.Flush(ctx); err != nil {
		telemetry.Warn("deliveries still queued at shutdown: %v", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Close()
}

// Close anything related to the service before exiting
func (s *ActivityService) Close() {
	s.resolver.Stop()
	s.store.Close()
	telemetry.LogCounters()
}

// Handler returns the router, for serving without the built-in listener.
func (s *ActivityService) Handler() http.Handler {
	return s.router
}

// NewService creates an http service to listen for ActivityPub requests.
// Local actors are stored with their keys before it returns.
func NewService(ctx context.Context, cfg Config) (*ActivityService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	svc := &ActivityService{
		Config: cfg,
		router: mux.NewRouter(),
		meta:   page.NewMetaData(u),
	}
	svc.meta.UserCount = len(cfg.Users)
	if svc.store, err = OpenStorage(cfg); err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Server.timeout()}
	svc.resolver = resolve.New(svc.store, resolve.Options{
		Client:    client,
		Timeout:   cfg.Server.timeout(),
		CacheSize: cfg.Server.CacheSize,
	})
	svc.signer = signing.NewSigner(svc.store, svc.resolver)
	var signer delivery.Signer = svc.signer
	if cfg.Server.SendUnsigned {
		signer = unsigned{}
	}
	engine := delivery.New(svc.resolver, signer, delivery.Options{
		Client:  client,
		Workers: cfg.Server.DeliveryWorkers,
		Timeout: cfg.Server.timeout(),
	})
	svc.pipeline = delivery.NewPipeline(engine, 100)

	svc.env = &dispatch.Env{
		Storage:      svc.store,
		Resolver:     svc.resolver,
		Outgoing:     svc.pipeline,
		BaseURL:      cfg.URL,
		MaxFollowers: cfg.Server.MaxFollowers,
	}
	svc.dispatcher = dispatch.New()
	dispatch.RegisterDefaults(svc.dispatcher, svc.env)

	for _, usercfg := range cfg.Users {
		user, err := svc.newUser(ctx, usercfg)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("setting up user %s: %w", usercfg.Name, err)
		}
		svc.users = append(svc.users, user)
	}

	// configure web handlers
	svc.addHandlers()

	svc.Server = http.Server{
		Handler:      svc.router,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}
	return svc, nil
}

// OpenStorage opens the configured database.
func OpenStorage(cfg Config) (storage.Database, error) {
	db := storage.NewDatabase(cfg.Server.database(), cfg.Server.DatabaseDriver)
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Server.database(), err)
	}
	return db, nil
}

// newUser builds and stores the actor for a configured user, creating its
// signing key and empty relationship collections the first time.
func (s *ActivityService) newUser(ctx context.Context, cfg userConfig) (*ActivityUser, error) {
	actorType := cfg.Type
	if actorType == "" {
		actorType = activity.PersonType
	}
	id := s.meta.ActorURL(cfg.Name)
	actor, err := activity.NewActor(actorType, id, cfg.Name)
	if err != nil {
		return nil, err
	}
	fields := actor.ActorFields()
	fields.Name = cfg.DisplayName
	fields.Summary = cfg.Summary
	fields.URL = activity.URLs{id}
	fields.ManuallyApprovesFollowers = cfg.ManualApprove

	publicKey, err := s.signer.InitKey(ctx, id)
	if err != nil {
		return nil, err
	}
	pem, err := signing.PublicKeyPEM(publicKey)
	if err != nil {
		return nil, err
	}
	fields.PublicKey = &activity.PublicKey{ID: id + "#main-key", Owner: id, PublicKeyPem: pem}
	if err := s.store.Store(ctx, actor); err != nil {
		return nil, err
	}
	for _, collectionID := range []string{dispatch.FollowersID(actor), dispatch.FollowingID(actor)} {
		c, err := s.env.Collection(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		if err := s.store.Store(ctx, c); err != nil {
			return nil, err
		}
	}
	s.resolver.Invalidate(id)

	user := &ActivityUser{name: cfg.Name, token: cfg.Token, actor: actor}
	user.inbox = ActivityInbox{
		service: s,
		id:      fields.Inbox,
		owner:   actor,
	}
	user.outbox = ActivityOutbox{
		service: s,
		id:      fields.Outbox,
		owner:   actor,
		token:   cfg.Token,
		rssURL:  cfg.SourceURL,
	}
	telemetry.Log("serving %s %s", actorType, id)
	return user, nil
}

// statusFor maps a processing error to the response status.
func statusFor(err error) int {
	var (
		unsupported *dispatch.UnsupportedOperationError
		invalid     *dispatch.InvalidActivityError
		decodeErr   *activity.DecodeError
		mismatch    *activity.TypeMismatchError
		resErr      *resolve.ResolutionError
		verifyErr   *signing.VerificationError
	)
	switch {
	case errors.As(err, &unsupported):
		return http.StatusNotImplemented
	case errors.As(err, &verifyErr):
		return http.StatusUnauthorized
	case errors.As(err, &decodeErr), errors.As(err, &mismatch), errors.As(err, &resErr), errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		// storage faults
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		telemetry.Error(err, "processing request")
	} else {
		telemetry.Trace("request failed with %d: %v", status, err)
	}
	http.Error(w, err.Error(), status)
}

func writeActivityJSON(w http.ResponseWriter, status int, obj activity.Object) {
	b, err := activity.Encode(obj)
	if err != nil {
		telemetry.Error(err, "encoding %s", activity.ID(obj))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", activity.ContentType)
	w.WriteHeader(status)
	w.Write(b)
}

type RequestLogger struct {
	Handler http.HandlerFunc
}

func (rl RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	headers := make([]string, 0)
	for k, v := range r.Header {
		s := fmt.Sprintf("%s: %s", k, strings.Join(v, ", "))
		headers = append(headers, s)
	}
	telemetry.Trace(strings.Join(headers, " | "))

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		telemetry.Error(err, "error reading body")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(buf) > 0 {
		telemetry.Trace(string(buf))
	}
	r.Body = io.NopCloser(bytes.NewBuffer(buf))
	rl.Handler(w, r)
}

func homeHandler(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "homeHandler")
	telemetry.Increment("home_requests", 1)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<html><title>activitycore</title>
<body>
<p>This is an ActivityPub server. There's nothing to see here.</p>
</body>
</html>`)
}
