// Package resolve turns entity links into entities, looking in local storage
// first and then fetching from the network.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"
	"go.uber.org/multierr"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Kind classifies a resolution failure.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindNotFound  Kind = "not-found"
	KindStatus    Kind = "status"
	KindMalformed Kind = "malformed"
	KindWrongType Kind = "wrong-type"
	KindTimeout   Kind = "timeout"
)

// ResolutionError reports why a link could not be turned into an entity.
type ResolutionError struct {
	ID     string
	Kind   Kind
	Status int // http status for KindStatus and KindNotFound from the network
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s (%s): %v", e.ID, e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

const (
	defaultTimeout   = 10 * time.Second
	defaultCacheSize = 1000
	defaultTTL       = 10 * time.Minute
	maxBodySize      = 1 << 20
)

// Loader is the local storage consulted before the network.
type Loader interface {
	Load(ctx context.Context, id string) (activity.Object, error)
}

type Options struct {
	Client    *http.Client
	Timeout   time.Duration // per fetch
	CacheSize int64
	TTL       time.Duration
}

// Resolver dereferences links. It is safe for concurrent use.
type Resolver struct {
	loader  Loader
	client  *http.Client
	cache   *ccache.Cache[activity.Object]
	timeout time.Duration
	ttl     time.Duration
}

func New(loader Loader, opts Options) *Resolver {
	r := &Resolver{
		loader:  loader,
		client:  opts.Client,
		timeout: opts.Timeout,
		ttl:     opts.TTL,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	r.cache = ccache.New(ccache.Configure[activity.Object]().MaxSize(size))
	return r
}

// Stop releases the cache's background worker.
func (r *Resolver) Stop() {
	r.cache.Stop()
}

// Resolve returns the entity ref points at. A resolved reference is returned
// as is without any lookup. On success the reference is updated to hold the
// entity; on failure it is left untouched.
func Resolve[T activity.Object](ctx context.Context, r *Resolver, ref *activity.Reference[T]) (T, error) {
	var zero T
	if !ref.IsLink() {
		return ref.Object(), nil
	}
	if ref.IsEmpty() {
		return zero, &ResolutionError{Kind: KindNotFound, Err: errors.New("empty reference")}
	}
	obj, err := r.ResolveID(ctx, ref.Link())
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, &ResolutionError{
			ID:   ref.Link(),
			Kind: KindWrongType,
			Err:  &activity.TypeMismatchError{Expected: activity.TypeName[T](), Actual: obj.Type()},
		}
	}
	ref.SetObject(typed)
	return typed, nil
}

// ResolveID returns the entity with the given id from the cache, local
// storage or the network, in that order.
func (r *Resolver) ResolveID(ctx context.Context, id string) (activity.Object, error) {
	if id == "" {
		return nil, &ResolutionError{Kind: KindNotFound, Err: errors.New("empty id")}
	}
	if item := r.cache.Get(id); item != nil && !item.Expired() {
		telemetry.Increment("resolve_cache_hits", 1)
		return item.Value(), nil
	}

	if r.loader != nil {
		obj, err := r.loader.Load(ctx, id)
		if err != nil {
			telemetry.Error(err, "loading %s from storage", id)
		} else if obj != nil {
			r.cache.Set(id, obj, r.ttl)
			return obj, nil
		}
	}

	obj, err := r.fetch(ctx, id)
	if err != nil {
		telemetry.Increment("resolve_failures", 1)
		return nil, err
	}
	// writes for the same id race harmlessly, the fetched entity is assumed stable
	r.cache.Set(id, obj, r.ttl)
	return obj, nil
}

func (r *Resolver) fetch(ctx context.Context, id string) (activity.Object, error) {
	if !strings.HasPrefix(id, "https://") && !strings.HasPrefix(id, "http://") {
		return nil, &ResolutionError{ID: id, Kind: KindNotFound, Err: errors.New("not a dereferenceable URI")}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, &ResolutionError{ID: id, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", activity.AcceptHeader)

	telemetry.Trace("fetching %s", id)
	telemetry.Increment("resolve_fetches", 1)
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ResolutionError{ID: id, Kind: KindTimeout, Err: err}
		}
		return nil, &ResolutionError{ID: id, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &ResolutionError{ID: id, Kind: KindNotFound, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &ResolutionError{ID: id, Kind: KindStatus, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ResolutionError{ID: id, Kind: KindTimeout, Err: err}
		}
		return nil, &ResolutionError{ID: id, Kind: KindNetwork, Err: err}
	}
	obj, err := activity.Decode(body)
	if err != nil {
		return nil, &ResolutionError{ID: id, Kind: KindMalformed, Err: err}
	}
	return obj, nil
}

// ResolveDeduped resolves every reference, skipping repeated ids, and returns
// the distinct actors. Failures are collected into the returned error and do
// not stop the remaining references from resolving.
func (r *Resolver) ResolveDeduped(ctx context.Context, refs []activity.Reference[activity.Actor]) ([]activity.Actor, error) {
	seen := make(map[string]bool, len(refs))
	actors := make([]activity.Actor, 0, len(refs))
	var errs error
	for i := range refs {
		link := refs[i].Link()
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		actor, err := Resolve(ctx, r, &refs[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		id := activity.ID(actor)
		if id != link {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		actors = append(actors, actor)
	}
	return actors, errs
}

// Remember caches a locally known entity.
func (r *Resolver) Remember(obj activity.Object) {
	if id := activity.ID(obj); id != "" {
		r.cache.Set(id, obj, r.ttl)
	}
}

// Invalidate drops a cached entity so the next resolution reloads it.
func (r *Resolver) Invalidate(id string) {
	r.cache.Delete(id)
}
